package handler

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/ragkb/internal/model"
	"github.com/xxxsen/ragkb/internal/pkg/errcode"
	"github.com/xxxsen/ragkb/internal/pkg/response"
	"github.com/xxxsen/ragkb/internal/service"
)

type DocumentHandler struct {
	documents *service.DocumentService
	ingest    *service.IngestService
}

func NewDocumentHandler(documents *service.DocumentService, ingest *service.IngestService) *DocumentHandler {
	return &DocumentHandler{documents: documents, ingest: ingest}
}

type createDocumentRequest struct {
	Content       string            `json:"content"`
	Title         string            `json:"title"`
	Category      string            `json:"category"`
	EmergencyType string            `json:"emergency_type"`
	Tags          []string          `json:"tags"`
	Metadata      map[string]string `json:"metadata"`
}

type updateDocumentRequest struct {
	Title         *string           `json:"title"`
	Content       *string           `json:"content"`
	Category      *string           `json:"category"`
	EmergencyType *string           `json:"emergency_type"`
	Tags          *[]string         `json:"tags"`
	Metadata      map[string]string `json:"metadata"`
}

type idsResponse struct {
	IDs []string `json:"ids"`
}

type listResponse struct {
	Items []*model.Document `json:"items"`
	Total int64             `json:"total"`
}

func (h *DocumentHandler) Create(c *gin.Context) {
	var req createDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, errcode.ErrInvalid, "invalid request")
		return
	}
	ids, err := h.ingest.ProcessDocument(c.Request.Context(), req.Content, service.IngestMeta{
		Title:         req.Title,
		Category:      req.Category,
		EmergencyType: req.EmergencyType,
		Tags:          req.Tags,
		Metadata:      req.Metadata,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, idsResponse{IDs: ids})
}

func (h *DocumentHandler) Upload(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		badRequest(c, errcode.ErrInvalidFile, "file is required")
		return
	}
	maxSize := h.ingest.MaxFileSize()
	file, ok, err := readUpload(header, maxSize)
	if err != nil {
		badRequest(c, errcode.ErrInvalidFile, "failed to read file")
		return
	}
	if !ok {
		badRequest(c, errcode.ErrFileTooLarge, "file too large (max "+formatUploadLimit(maxSize)+")")
		return
	}
	meta, err := formMeta(c)
	if err != nil {
		badRequest(c, errcode.ErrInvalid, err.Error())
		return
	}
	if check := h.ingest.ValidateFile(file.Name, file.MimeType, int64(len(file.Data))); !check.Valid {
		badRequest(c, errcode.ErrUnsupportedFileType, check.Error)
		return
	}
	ids, err := h.ingest.ProcessFile(c.Request.Context(), file, meta)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, idsResponse{IDs: ids})
}

func (h *DocumentHandler) Validate(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		badRequest(c, errcode.ErrInvalidFile, "file is required")
		return
	}
	response.Success(c, h.ingest.ValidateFile(header.Filename, header.Header.Get("Content-Type"), header.Size))
}

// formMeta reads ingestion metadata from multipart fields. tags may repeat or
// be comma separated; metadata is a JSON object of strings.
func formMeta(c *gin.Context) (service.IngestMeta, error) {
	meta := service.IngestMeta{
		Title:         strings.TrimSpace(c.PostForm("title")),
		Category:      strings.TrimSpace(c.PostForm("category")),
		EmergencyType: strings.TrimSpace(c.PostForm("emergency_type")),
	}
	for _, raw := range c.PostFormArray("tags") {
		for _, tag := range strings.Split(raw, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				meta.Tags = append(meta.Tags, tag)
			}
		}
	}
	if raw := strings.TrimSpace(c.PostForm("metadata")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta.Metadata); err != nil {
			return meta, err
		}
	}
	return meta, nil
}

func (h *DocumentHandler) List(c *gin.Context) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		badRequest(c, errcode.ErrInvalid, "invalid limit")
		return
	}
	offset, ok := queryInt(c, "offset")
	if !ok {
		badRequest(c, errcode.ErrInvalid, "invalid offset")
		return
	}
	docs, total, err := h.documents.List(c.Request.Context(), &model.ListQuery{
		Limit:  limit,
		Offset: offset,
		Search: c.Query("search"),
		Filter: model.Filter{
			Category:      c.Query("category"),
			EmergencyType: c.Query("emergency_type"),
		},
	})
	if err != nil {
		handleError(c, err)
		return
	}
	if docs == nil {
		docs = []*model.Document{}
	}
	response.Success(c, listResponse{Items: docs, Total: total})
}

func queryInt(c *gin.Context, key string) (int, bool) {
	value := c.Query(key)
	if value == "" {
		return 0, true
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return 0, false
	}
	return parsed, true
}

func (h *DocumentHandler) Get(c *gin.Context) {
	doc, err := h.documents.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, doc)
}

func (h *DocumentHandler) Update(c *gin.Context) {
	var req updateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, errcode.ErrInvalid, "invalid request")
		return
	}
	doc, err := h.documents.Update(c.Request.Context(), c.Param("id"), &model.DocumentPatch{
		Title:         req.Title,
		Content:       req.Content,
		Category:      req.Category,
		EmergencyType: req.EmergencyType,
		Tags:          req.Tags,
		Metadata:      req.Metadata,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, doc)
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	res, err := h.documents.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, res)
}
