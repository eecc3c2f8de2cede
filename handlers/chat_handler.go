package handlers

import (
	"errors"
	"net/http"

	"lawsim-backend/service"

	"github.com/gin-gonic/gin"
)

// ChatHandler handles HTTP requests for free-text legal questions
type ChatHandler struct {
	chatService *service.ChatService
	ttsService  *service.TTSService
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chatService *service.ChatService, ttsService *service.TTSService) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		ttsService:  ttsService,
	}
}

// ChatRequest represents the request body for a chat turn
type ChatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message" binding:"required"`
}

// Chat handles POST /api/chat
func (h *ChatHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	resp, err := h.chatService.Answer(c.Request.Context(), req.SessionID, req.Message)
	if err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			errorJSON(c, http.StatusBadRequest, "INVALID_REQUEST", "message is required")
			return
		}
		errorJSON(c, http.StatusInternalServerError, "CHAT_FAILED", err.Error())
		return
	}

	if h.ttsService != nil {
		resp.AudioURL = h.ttsService.Speak(c.Request.Context(), resp.Text)
	}

	setMetricMeta(c, map[string]any{
		"evidence":           len(resp.Citations),
		"citations":          len(resp.Citations),
		"answer_emotion":     string(resp.Emotion),
		"no_evidence_reject": resp.NoEvidenceReject,
	})

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    resp,
	})
}
