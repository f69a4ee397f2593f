package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ragkb/internal/middleware"
	"github.com/xxxsen/ragkb/internal/pkg/errcode"
	appErr "github.com/xxxsen/ragkb/internal/pkg/errors"
	"github.com/xxxsen/ragkb/internal/pkg/response"
)

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	status := appErr.StatusClass(err)
	logger := logutil.GetLogger(c.Request.Context()).With(
		zap.String("request_id", middleware.GetRequestID(c)),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", status),
		zap.Error(err),
	)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed")
	} else {
		logger.Warn("request rejected")
	}
	response.Error(c, status, errorCode(err), errorMessage(err, status))
}

func errorCode(err error) int {
	switch {
	case errors.Is(err, appErr.ErrInvalid):
		return errcode.ErrInvalid
	case errors.Is(err, appErr.ErrNotFound):
		return errcode.ErrNotFound
	case errors.Is(err, appErr.ErrTooMany):
		return errcode.ErrTooMany
	case errors.Is(err, appErr.ErrUnavailable):
		return errcode.ErrAIUnavailable
	case errors.Is(err, appErr.ErrQuery):
		return errcode.ErrQueryFailed
	case errors.Is(err, appErr.ErrEmbedding):
		return errcode.ErrEmbeddingFailed
	case errors.Is(err, appErr.ErrGeneration):
		return errcode.ErrGenerationFailed
	case errors.Is(err, appErr.ErrStore):
		return errcode.ErrStoreFailed
	default:
		return errcode.ErrInternal
	}
}

func errorMessage(err error, status int) string {
	var classified *appErr.Error
	if !errors.As(err, &classified) {
		if status == http.StatusNotFound {
			return "not found"
		}
		if status < http.StatusInternalServerError {
			return err.Error()
		}
		return "internal error"
	}
	if status < http.StatusInternalServerError {
		return classified.Message()
	}
	return classified.Error()
}

func badRequest(c *gin.Context, code int, message string) {
	response.Error(c, http.StatusBadRequest, code, message)
}
