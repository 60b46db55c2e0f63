package apiv1

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ariavoice/aria/internal/profile"
	"github.com/ariavoice/aria/plugin/ai"
	"github.com/ariavoice/aria/server/auth"
	"github.com/ariavoice/aria/server/middleware"
	"github.com/ariavoice/aria/store"
)

// APIV1Service serves the conversation persistence API and the streaming
// chat endpoint consumed by remote assistant clients.
type APIV1Service struct {
	Secret  string
	Profile *profile.Profile
	Store   *store.Store
	LLM     ai.LLMService

	chatModel string
	limiter   *middleware.RateLimiter
	logger    *slog.Logger
}

// NewAPIV1Service creates the API service. LLM may be nil, in which case
// the chat endpoint reports the backend as unavailable.
func NewAPIV1Service(p *profile.Profile, st *store.Store, llm ai.LLMService, logger *slog.Logger) *APIV1Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIV1Service{
		Secret:    p.Secret,
		Profile:   p,
		Store:     st,
		LLM:       llm,
		chatModel: ai.NewConfigFromProfile(p).LLM.ChatModel,
		limiter:   middleware.NewRateLimiter(time.Second/10, 20),
		logger:    logger,
	}
}

// Register mounts all v1 routes on the Echo instance.
func (s *APIV1Service) Register(e *echo.Echo) {
	g := e.Group("/api/v1", s.authMiddleware)

	g.GET("/conversations", s.listConversations)
	g.POST("/conversations", s.createConversation)
	g.DELETE("/conversations/:id", s.deleteConversation)
	g.GET("/conversations/:id/messages", s.listMessages)
	g.POST("/conversations/:id/messages", s.appendMessages)
	g.GET("/conversations/:id/context", s.getContext)
	g.PUT("/conversations/:id/context", s.putContext)
	g.POST("/chat/stream", s.streamChat)
}

const userIDContextKey = "aria-user-id"

// authMiddleware validates the bearer token and stashes the user id in the
// request context.
func (s *APIV1Service) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.Authenticate(s.Secret, c.Request().Header.Get("Authorization"))
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
		}
		c.Set(userIDContextKey, userID)
		return next(c)
	}
}

func (s *APIV1Service) userID(c echo.Context) int32 {
	userID, _ := c.Get(userIDContextKey).(int32)
	return userID
}

func (s *APIV1Service) chatStore(c echo.Context) *store.ChatStore {
	return store.NewChatStore(s.Store, s.userID(c))
}
