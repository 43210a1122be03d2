package handler

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/evermind-ai/evermind/internal/pkg/errcode"
	"github.com/evermind-ai/evermind/internal/pkg/response"
	"github.com/evermind-ai/evermind/internal/service"
)

type KnowledgeHandler struct {
	knowledge *service.KnowledgeService
}

func NewKnowledgeHandler(knowledge *service.KnowledgeService) *KnowledgeHandler {
	return &KnowledgeHandler{knowledge: knowledge}
}

type knowledgeSearchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

func (h *KnowledgeHandler) Search(c *gin.Context) {
	var req knowledgeSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		response.Error(c, errcode.ErrInvalid, "query is required")
		return
	}
	results, err := h.knowledge.Search(c.Request.Context(), req.Query, req.TopK)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, results)
}
