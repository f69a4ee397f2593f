package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/ragkb/internal/pkg/response"
)

type HealthHandler struct {
	store     string
	retrieval string
}

func NewHealthHandler(store, retrieval string) *HealthHandler {
	return &HealthHandler{store: store, retrieval: retrieval}
}

func (h *HealthHandler) Health(c *gin.Context) {
	response.Success(c, gin.H{
		"status":    "ok",
		"store":     h.store,
		"retrieval": h.retrieval,
	})
}
