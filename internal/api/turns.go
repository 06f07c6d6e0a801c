package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"clinical-copilot/backend/internal/session"
	apperrors "clinical-copilot/backend/pkg/errors"
)

// TurnController exposes the two halves of a turn to the agent runtime:
// the inbound user message and the reply callback.
type TurnController struct {
	manager *session.Manager
}

// NewTurnController creates a turn controller
func NewTurnController(manager *session.Manager) *TurnController {
	return &TurnController{manager: manager}
}

// RegisterRoutes registers the turn endpoints
func (t *TurnController) RegisterRoutes(group *gin.RouterGroup) {
	turns := group.Group("/turns")
	{
		turns.POST("", t.ProcessTurn)
		turns.POST("/:turnID/reply", t.Reply)
		turns.POST("/:turnID/cancel", t.Cancel)
	}
}

type turnRequest struct {
	SessionID  string `json:"session_id"`
	NewSession bool   `json:"new_session"`
	Text       string `json:"text" binding:"required"`
}

// ProcessTurn runs the INPUT half of a turn. The response tells the
// agent runtime which session id to generate the reply for; after a
// security reset that differs from the requested one.
func (t *TurnController) ProcessTurn(c *gin.Context) {
	var req turnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewBadRequestError("INVALID_REQUEST", "text is required"))
		return
	}

	result, err := t.manager.ProcessTurn(c.Request.Context(), session.TurnInput{
		SessionID:  req.SessionID,
		NewSession: req.NewSession,
		Text:       req.Text,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, result)
}

type replyRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Text      string `json:"text" binding:"required"`
}

// Reply runs the OUTPUT half: the agent runtime posts the generated
// assistant reply for the session id it was given by ProcessTurn.
func (t *TurnController) Reply(c *gin.Context) {
	turnID := c.Param("turnID")
	if turnID == "" {
		c.Error(apperrors.NewBadRequestError(apperrors.CodeTurnNotFound, "turn id is required"))
		return
	}

	var req replyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewBadRequestError("INVALID_REQUEST", "session_id and text are required"))
		return
	}

	result, err := t.manager.CompleteTurn(c.Request.Context(), req.SessionID, turnID, req.Text)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, result)
}

type cancelRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

// Cancel abandons an in-flight turn, freeing the session for the next
// one without waiting for the lock TTL.
func (t *TurnController) Cancel(c *gin.Context) {
	turnID := c.Param("turnID")

	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewBadRequestError("INVALID_REQUEST", "session_id is required"))
		return
	}

	t.manager.CancelTurn(c.Request.Context(), req.SessionID, turnID)
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}
