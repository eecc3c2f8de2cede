package handlers

import (
	"context"
	"errors"
	"net/http"

	"lawsim-backend/models"
	"lawsim-backend/service"

	"github.com/gin-gonic/gin"
)

// SessionDeleter removes a persisted session. Deleting an unknown id is
// a no-op.
type SessionDeleter interface {
	Delete(ctx context.Context, sessionID string) error
}

// CaseHandler handles HTTP requests for the case simulation
type CaseHandler struct {
	caseService *service.CaseService
	ttsService  *service.TTSService
	sessions    SessionDeleter
}

// NewCaseHandler creates a new case handler
func NewCaseHandler(caseService *service.CaseService, ttsService *service.TTSService, sessions SessionDeleter) *CaseHandler {
	return &CaseHandler{
		caseService: caseService,
		ttsService:  ttsService,
		sessions:    sessions,
	}
}

// StartCaseRequest represents the request body for starting a simulation
type StartCaseRequest struct {
	CaseID    string `json:"case_id" binding:"required"`
	SessionID string `json:"session_id"`
}

// StartCase handles POST /api/case/start
func (h *CaseHandler) StartCase(c *gin.Context) {
	var req StartCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	resp, err := h.caseService.Start(c.Request.Context(), req.CaseID, req.SessionID)
	if err != nil {
		if errors.Is(err, service.ErrCaseNotFound) {
			errorJSON(c, http.StatusNotFound, "CASE_NOT_FOUND", "Unknown case_id: "+req.CaseID)
			return
		}
		errorJSON(c, http.StatusInternalServerError, "CASE_START_FAILED", err.Error())
		return
	}

	h.finishCaseTurn(c, resp)
}

// StepCaseRequest represents the request body for one simulation turn
type StepCaseRequest struct {
	SessionID  string `json:"session_id" binding:"required"`
	UserInput  string `json:"user_input"`
	UserChoice string `json:"user_choice"`
}

// StepCase handles POST /api/case/step
func (h *CaseHandler) StepCase(c *gin.Context) {
	var req StepCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	resp, err := h.caseService.Step(c.Request.Context(), req.SessionID, req.UserInput, req.UserChoice)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidInput):
			errorJSON(c, http.StatusBadRequest, "INVALID_REQUEST", "user_input or user_choice is required")
		case errors.Is(err, service.ErrCaseSessionNotFound):
			errorJSON(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Unknown session_id: "+req.SessionID)
		case errors.Is(err, service.ErrCaseNotFound):
			errorJSON(c, http.StatusNotFound, "CASE_NOT_FOUND", "Session references an unknown case")
		default:
			errorJSON(c, http.StatusInternalServerError, "CASE_STEP_FAILED", err.Error())
		}
		return
	}

	h.finishCaseTurn(c, resp)
}

// DeleteSession handles DELETE /api/sessions/:id
func (h *CaseHandler) DeleteSession(c *gin.Context) {
	sessionID := c.Param("id")
	if sessionID == "" {
		errorJSON(c, http.StatusBadRequest, "INVALID_ID", "Session id is required")
		return
	}

	if err := h.sessions.Delete(c.Request.Context(), sessionID); err != nil {
		errorJSON(c, http.StatusInternalServerError, "DELETE_FAILED", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"session_id": sessionID, "deleted": true},
	})
}

// finishCaseTurn attaches optional audio, records grounding metadata and
// writes the success envelope.
func (h *CaseHandler) finishCaseTurn(c *gin.Context, resp *models.CaseResponse) {
	if h.ttsService != nil {
		resp.AudioURL = h.ttsService.Speak(c.Request.Context(), resp.Text)
	}

	setMetricMeta(c, map[string]any{
		"case_id":            resp.CaseID,
		"state":              string(resp.State),
		"citations":          len(resp.Citations),
		"answer_emotion":     string(resp.Emotion),
		"no_evidence_reject": resp.NoEvidenceReject,
	})

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    resp,
	})
}
