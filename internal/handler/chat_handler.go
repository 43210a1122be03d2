package handler

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/evermind-ai/evermind/internal/model"
	"github.com/evermind-ai/evermind/internal/pkg/errcode"
	"github.com/evermind-ai/evermind/internal/pkg/response"
	"github.com/evermind-ai/evermind/internal/service"
)

type ChatHandler struct {
	rag *service.RagService
}

func NewChatHandler(rag *service.RagService) *ChatHandler {
	return &ChatHandler{rag: rag}
}

type contextRequest struct {
	Message string       `json:"message"`
	History []model.Turn `json:"history"`
}

// Context assembles the retrieval context block for one chat turn. It is
// best-effort by contract: retrieval trouble shows up as an empty context,
// not as an error response.
func (h *ChatHandler) Context(c *gin.Context) {
	var req contextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		response.Error(c, errcode.ErrInvalid, "message is required")
		return
	}
	result := h.rag.GetContext(c.Request.Context(), getUserID(c), req.Message, req.History)
	response.Success(c, result)
}

type recordTurnRequest struct {
	SessionID string            `json:"session_id"`
	Role      string            `json:"role"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata"`
}

func (h *ChatHandler) RecordTurn(c *gin.Context) {
	var req recordTurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		response.Error(c, errcode.ErrInvalid, "content is required")
		return
	}
	if req.Role != model.RoleUser && req.Role != model.RoleAssistant {
		response.Error(c, errcode.ErrInvalid, "role must be user or assistant")
		return
	}
	id, err := h.rag.RecordTurn(c.Request.Context(), getUserID(c), req.SessionID, req.Role, req.Content, req.Metadata)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"id": id})
}
