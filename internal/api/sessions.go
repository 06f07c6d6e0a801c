package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"clinical-copilot/backend/internal/session"
)

// defaultPageSize bounds unpaginated history reads
const defaultPageSize = 50

// SessionController exposes read access to session metadata, message
// history and the intervention audit trail.
type SessionController struct {
	manager *session.Manager
}

// NewSessionController creates a session read controller
func NewSessionController(manager *session.Manager) *SessionController {
	return &SessionController{manager: manager}
}

// RegisterRoutes registers the session read endpoints
func (s *SessionController) RegisterRoutes(group *gin.RouterGroup) {
	sessions := group.Group("/sessions")
	{
		sessions.GET("/:sessionID", s.GetSession)
		sessions.GET("/:sessionID/messages", s.GetMessages)
		sessions.GET("/:sessionID/interventions", s.GetInterventions)
	}
}

// GetSession returns session metadata
func (s *SessionController) GetSession(c *gin.Context) {
	sess, err := s.manager.Session(c.Request.Context(), c.Param("sessionID"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// GetMessages returns a page of session history
func (s *SessionController) GetMessages(c *gin.Context) {
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	if err != nil || limit < 1 {
		limit = defaultPageSize
	}
	if offset < 0 {
		offset = 0
	}

	messages, total, err := s.manager.Messages(c.Request.Context(), c.Param("sessionID"), offset, limit)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": c.Param("sessionID"),
		"messages":   messages,
		"count":      len(messages),
		"total":      total,
		"offset":     offset,
	})
}

// GetInterventions returns the accumulated audit trail for a session
func (s *SessionController) GetInterventions(c *gin.Context) {
	interventions, err := s.manager.Interventions(c.Request.Context(), c.Param("sessionID"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id":    c.Param("sessionID"),
		"interventions": interventions,
		"count":         len(interventions),
	})
}
