package extract

import (
	"bytes"
	"context"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func init() {
	Register(KindText, plainText)
	Register(KindDoc, legacyDocText)
}

func plainText(_ context.Context, data []byte) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return string(bytes.ToValidUTF8(data, nil)), nil
	}
	return string(data), nil
}

// legacyDocText pulls printable runs out of a binary Word 97-2003 file. The
// format has no open schema; runs shorter than minRun are treated as noise.
func legacyDocText(_ context.Context, data []byte) (string, error) {
	const minRun = 4
	var out, run bytes.Buffer
	flush := func() {
		if run.Len() >= minRun {
			if out.Len() > 0 {
				out.WriteByte('\n')
			}
			out.Write(run.Bytes())
		}
		run.Reset()
	}
	for i := 0; i < len(data); i++ {
		b := data[i]
		// text streams are usually UTF-16LE: printable byte followed by NUL
		if i+1 < len(data) && data[i+1] == 0 && isPrintable(b) {
			run.WriteByte(b)
			i++
			continue
		}
		if isPrintable(b) {
			run.WriteByte(b)
			continue
		}
		if b == '\r' || b == '\n' {
			flush()
			continue
		}
		flush()
	}
	flush()
	return out.String(), nil
}

func isPrintable(b byte) bool {
	return b == '\t' || (b >= 0x20 && b < 0x7f)
}
