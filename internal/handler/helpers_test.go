package handler

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/ragkb/internal/pkg/errcode"
	appErr "github.com/xxxsen/ragkb/internal/pkg/errors"
)

func TestErrorCode(t *testing.T) {
	upstream := appErr.Embedding("embed query", errors.New("status 401"))
	tests := []struct {
		name   string
		err    error
		code   int
		status int
	}{
		{name: "invalid", err: appErr.Invalid("query is required"), code: errcode.ErrInvalid, status: http.StatusBadRequest},
		{name: "not found", err: appErr.ErrNotFound, code: errcode.ErrNotFound, status: http.StatusNotFound},
		{name: "unavailable", err: appErr.Embedding("embed", appErr.ErrUnavailable), code: errcode.ErrAIUnavailable, status: http.StatusServiceUnavailable},
		{name: "query wraps upstream", err: appErr.Query(upstream), code: errcode.ErrQueryFailed, status: http.StatusBadGateway},
		{name: "generation", err: appErr.Generation("generate", errors.New("quota")), code: errcode.ErrGenerationFailed, status: http.StatusBadGateway},
		{name: "store", err: appErr.Store("get document", "id-1", errors.New("conn reset")), code: errcode.ErrStoreFailed, status: http.StatusInternalServerError},
		{name: "unclassified", err: errors.New("boom"), code: errcode.ErrInternal, status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.code, errorCode(tt.err))
			require.Equal(t, tt.status, appErr.StatusClass(tt.err))
		})
	}
}

func TestErrorMessage(t *testing.T) {
	require.Equal(t, "query is required", errorMessage(appErr.Invalid("query is required"), http.StatusBadRequest))
	require.Equal(t, "not found", errorMessage(appErr.ErrNotFound, http.StatusNotFound))
	require.Equal(t, "internal error", errorMessage(errors.New("dsn leaked"), http.StatusInternalServerError))
	msg := errorMessage(appErr.Query(appErr.Generation("generate", errors.New("quota exceeded"))), http.StatusBadGateway)
	require.Contains(t, msg, "quota exceeded")
}

func TestFormatUploadLimit(t *testing.T) {
	require.Equal(t, "10MB", formatUploadLimit(10*1024*1024))
	require.Equal(t, "1MB", formatUploadLimit(100))
	require.Equal(t, "0MB", formatUploadLimit(0))
}
