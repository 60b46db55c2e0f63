package apiv1

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ariavoice/aria/chat"
)

// ConversationPayload is the wire shape of a conversation.
type ConversationPayload struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedTs int64  `json:"createdTs"`
}

// MessagePayload is the wire shape of one stored turn. Roles travel
// lowercase on the wire.
type MessagePayload struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedTs int64  `json:"createdTs"`
}

// ContextPayload is the wire shape of a context snapshot.
type ContextPayload struct {
	Summary               string `json:"summary"`
	TurnsSinceLastSummary int    `json:"turnsSinceLastSummary"`
	TotalTurnsProcessed   int    `json:"totalTurnsProcessed"`
}

type createConversationRequest struct {
	Title string `json:"title"`
}

type appendMessagesRequest struct {
	Messages []MessagePayload `json:"messages"`
}

func (s *APIV1Service) listConversations(c echo.Context) error {
	refs, err := s.chatStore(c).ListConversations(c.Request().Context())
	if err != nil {
		s.logger.Error("failed to list conversations", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list conversations")
	}
	payload := make([]ConversationPayload, 0, len(refs))
	for _, ref := range refs {
		payload = append(payload, ConversationPayload{
			ID:        ref.ID,
			Title:     ref.Title,
			CreatedTs: ref.CreatedAt.Unix(),
		})
	}
	return c.JSON(http.StatusOK, payload)
}

func (s *APIV1Service) createConversation(c echo.Context) error {
	var req createConversationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if strings.TrimSpace(req.Title) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "title is required")
	}

	ref, err := s.chatStore(c).CreateConversation(c.Request().Context(), req.Title)
	if err != nil {
		s.logger.Error("failed to create conversation", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create conversation")
	}
	return c.JSON(http.StatusOK, ConversationPayload{
		ID:        ref.ID,
		Title:     ref.Title,
		CreatedTs: ref.CreatedAt.Unix(),
	})
}

func (s *APIV1Service) deleteConversation(c echo.Context) error {
	if err := s.chatStore(c).DeleteConversation(c.Request().Context(), c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *APIV1Service) listMessages(c echo.Context) error {
	turns, err := s.chatStore(c).GetMessages(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}
	payload := make([]MessagePayload, 0, len(turns))
	for _, t := range turns {
		payload = append(payload, MessagePayload{
			Role:      strings.ToLower(string(t.Role)),
			Content:   t.Content,
			CreatedTs: t.CreatedAt.Unix(),
		})
	}
	return c.JSON(http.StatusOK, payload)
}

func (s *APIV1Service) appendMessages(c echo.Context) error {
	var req appendMessagesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	turns := make([]chat.Turn, 0, len(req.Messages))
	for _, m := range req.Messages {
		role, ok := parseRole(m.Role)
		if !ok || m.Content == "" {
			// Malformed entries are skipped, not fatal.
			continue
		}
		createdAt := time.Unix(m.CreatedTs, 0)
		if m.CreatedTs == 0 {
			createdAt = time.Now()
		}
		turns = append(turns, chat.Turn{Role: role, Content: m.Content, CreatedAt: createdAt})
	}
	if err := s.chatStore(c).AppendMessages(c.Request().Context(), c.Param("id"), turns); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *APIV1Service) getContext(c echo.Context) error {
	snapshot, err := s.chatStore(c).GetContext(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}
	if snapshot == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no context stored")
	}
	return c.JSON(http.StatusOK, ContextPayload{
		Summary:               snapshot.Summary,
		TurnsSinceLastSummary: snapshot.TurnsSinceLastSummary,
		TotalTurnsProcessed:   snapshot.TotalTurnsProcessed,
	})
}

func (s *APIV1Service) putContext(c echo.Context) error {
	var req ContextPayload
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	err := s.chatStore(c).PutContext(c.Request().Context(), c.Param("id"), chat.Snapshot{
		Summary:               req.Summary,
		TurnsSinceLastSummary: req.TurnsSinceLastSummary,
		TotalTurnsProcessed:   req.TotalTurnsProcessed,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func parseRole(role string) (chat.Role, bool) {
	switch strings.ToLower(role) {
	case "user":
		return chat.RoleUser, true
	case "assistant":
		return chat.RoleAssistant, true
	case "system":
		return chat.RoleSystem, true
	default:
		return "", false
	}
}
