package handler

import (
	"io"
	"mime/multipart"
	"strconv"

	"github.com/xxxsen/ragkb/internal/service"
)

func formatUploadLimit(bytes int64) string {
	const mb = 1024 * 1024
	if bytes <= 0 {
		return "0MB"
	}
	value := bytes / mb
	if value <= 0 {
		value = 1
	}
	return strconv.FormatInt(value, 10) + "MB"
}

// readUpload loads a multipart file, reading at most maxSize+1 bytes so an
// oversized body is detected without buffering all of it.
func readUpload(header *multipart.FileHeader, maxSize int64) (*service.UploadFile, bool, error) {
	if maxSize > 0 && header.Size > maxSize {
		return nil, false, nil
	}
	f, err := header.Open()
	if err != nil {
		return nil, false, err
	}
	defer f.Close()
	reader := io.Reader(f)
	if maxSize > 0 {
		reader = io.LimitReader(f, maxSize+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, false, err
	}
	if maxSize > 0 && int64(len(data)) > maxSize {
		return nil, false, nil
	}
	return &service.UploadFile{
		Name:     header.Filename,
		MimeType: header.Header.Get("Content-Type"),
		Data:     data,
	}, true, nil
}
