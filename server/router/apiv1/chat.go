package apiv1

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ariavoice/aria/internal/observability"
	"github.com/ariavoice/aria/plugin/ai"
)

type chatStreamRequest struct {
	Messages []MessagePayload `json:"messages"`
}

// StreamChunkPayload is one NDJSON line of a streamed chat response.
// Exactly one field is set per line.
type StreamChunkPayload struct {
	Delta string `json:"delta,omitempty"`
	Error string `json:"error,omitempty"`
}

// streamChat relays a chat completion as NDJSON. The request carries the
// full outbound context; the server holds no conversation state here, so
// the endpoint stays stateless and restart-safe.
func (s *APIV1Service) streamChat(c echo.Context) error {
	rc := observability.NewRequestContext(s.logger, "")

	if s.LLM == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "model backend is not configured")
	}
	if !s.limiter.Allow(fmt.Sprintf("chat:%d", s.userID(c))) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
	}

	var req chatStreamRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if len(req.Messages) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "messages are required")
	}

	messages := make([]ai.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if _, ok := parseRole(m.Role); !ok || m.Content == "" {
			continue
		}
		messages = append(messages, ai.Message{Role: m.Role, Content: m.Content})
	}
	rc.Info("chat stream started", slog.Int("messages", len(messages)))

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "application/x-ndjson")
	resp.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(resp)
	send := func(chunk StreamChunkPayload) error {
		if err := enc.Encode(chunk); err != nil {
			return err
		}
		resp.Flush()
		return nil
	}

	ctx := c.Request().Context()
	contentChan, errChan := s.LLM.ChatStream(ctx, s.chatModel, messages)

	var total int
	for {
		select {
		case content, ok := <-contentChan:
			if !ok {
				contentChan = nil
				if errChan == nil {
					rc.Info("chat stream finished", slog.Int("chars", total), slog.Int64(observability.LogFieldDuration, rc.DurationMs()))
					return nil
				}
				continue
			}
			total += len(content)
			if err := send(StreamChunkPayload{Delta: content}); err != nil {
				return err
			}

		case err, ok := <-errChan:
			if !ok {
				errChan = nil
				if contentChan == nil {
					rc.Info("chat stream finished", slog.Int("chars", total), slog.Int64(observability.LogFieldDuration, rc.DurationMs()))
					return nil
				}
				continue
			}
			if err != nil {
				// The stream already started; the error travels in-band
				// as a marker chunk.
				rc.Error("model stream failed", err)
				return send(StreamChunkPayload{Error: err.Error()})
			}

		case <-ctx.Done():
			rc.Warn("chat stream cancelled by client")
			return ctx.Err()
		}
	}
}
