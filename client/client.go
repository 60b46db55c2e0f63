package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/ariavoice/aria/chat"
	ariaerrors "github.com/ariavoice/aria/internal/errors"
)

// Client talks to a remote assistant server. It implements both the
// persistence contract and the model streaming contract of the chat
// orchestrator, so a session can run fully against a remote backend.
type Client struct {
	baseURL string
	token   string
	http    *http.Client

	// onAuthFailure fires once per rejected call; the UI layer uses it to
	// redirect to login. The call itself still fails with an auth error.
	onAuthFailure func()
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithAuthFailureHandler registers the redirect side effect invoked on
// 401/403 responses.
func WithAuthFailureHandler(fn func()) Option {
	return func(c *Client) { c.onAuthFailure = fn }
}

// NewClient creates a client for the given server.
func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type conversationPayload struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedTs int64  `json:"createdTs"`
}

type messagePayload struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedTs int64  `json:"createdTs"`
}

type contextPayload struct {
	Summary               string `json:"summary"`
	TurnsSinceLastSummary int    `json:"turnsSinceLastSummary"`
	TotalTurnsProcessed   int    `json:"totalTurnsProcessed"`
}

func (c *Client) ListConversations(ctx context.Context) ([]chat.ConversationRef, error) {
	var payload []conversationPayload
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/conversations", nil, &payload); err != nil {
		return nil, err
	}
	refs := make([]chat.ConversationRef, 0, len(payload))
	for _, p := range payload {
		refs = append(refs, chat.ConversationRef{
			ID:        p.ID,
			Title:     p.Title,
			CreatedAt: time.Unix(p.CreatedTs, 0),
		})
	}
	return refs, nil
}

func (c *Client) CreateConversation(ctx context.Context, title string) (chat.ConversationRef, error) {
	var payload conversationPayload
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/conversations", map[string]string{"title": title}, &payload); err != nil {
		return chat.ConversationRef{}, err
	}
	return chat.ConversationRef{
		ID:        payload.ID,
		Title:     payload.Title,
		CreatedAt: time.Unix(payload.CreatedTs, 0),
	}, nil
}

func (c *Client) GetMessages(ctx context.Context, id string) ([]chat.Turn, error) {
	var payload []messagePayload
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/conversations/"+url.PathEscape(id)+"/messages", nil, &payload); err != nil {
		return nil, err
	}
	turns := make([]chat.Turn, 0, len(payload))
	for _, m := range payload {
		role, ok := parseRole(m.Role)
		if !ok {
			continue
		}
		turns = append(turns, chat.Turn{
			Role:      role,
			Content:   m.Content,
			CreatedAt: time.Unix(m.CreatedTs, 0),
		})
	}
	return turns, nil
}

func (c *Client) AppendMessages(ctx context.Context, id string, turns []chat.Turn) error {
	messages := make([]messagePayload, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case chat.RoleUser, chat.RoleAssistant:
			messages = append(messages, messagePayload{
				Role:      strings.ToLower(string(t.Role)),
				Content:   t.Content,
				CreatedTs: t.CreatedAt.Unix(),
			})
		}
	}
	return c.doJSON(ctx, http.MethodPost, "/api/v1/conversations/"+url.PathEscape(id)+"/messages", map[string]any{"messages": messages}, nil)
}

func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/v1/conversations/"+url.PathEscape(id), nil, nil)
}

func (c *Client) GetContext(ctx context.Context, id string) (*chat.Snapshot, error) {
	var payload contextPayload
	err := c.doJSON(ctx, http.MethodGet, "/api/v1/conversations/"+url.PathEscape(id)+"/context", nil, &payload)
	if err != nil {
		// A missing snapshot is a normal state, not a failure.
		if ariaerrors.IsCode(err, ariaerrors.ErrCodeNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &chat.Snapshot{
		Summary:               payload.Summary,
		TurnsSinceLastSummary: payload.TurnsSinceLastSummary,
		TotalTurnsProcessed:   payload.TotalTurnsProcessed,
	}, nil
}

func (c *Client) PutContext(ctx context.Context, id string, snapshot chat.Snapshot) error {
	return c.doJSON(ctx, http.MethodPut, "/api/v1/conversations/"+url.PathEscape(id)+"/context", contextPayload{
		Summary:               snapshot.Summary,
		TurnsSinceLastSummary: snapshot.TurnsSinceLastSummary,
		TotalTurnsProcessed:   snapshot.TotalTurnsProcessed,
	}, nil)
}

// StreamChat starts a streamed completion on the server and returns the
// NDJSON chunk stream.
func (c *Client) StreamChat(ctx context.Context, turns []chat.Turn) (chat.ChunkStream, error) {
	messages := make([]messagePayload, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case chat.RoleUser, chat.RoleAssistant, chat.RoleSystem:
			messages = append(messages, messagePayload{
				Role:    strings.ToLower(string(t.Role)),
				Content: t.Content,
			})
		}
	}

	resp, err := c.doRaw(ctx, http.MethodPost, "/api/v1/chat/stream", map[string]any{"messages": messages})
	if err != nil {
		return nil, err
	}
	return newNDJSONStream(resp.Body), nil
}

// doJSON performs a request and decodes the JSON response into out if
// provided.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.doRaw(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return ariaerrors.Wrap(err, ariaerrors.ErrCodeTransport, "failed to decode response")
	}
	return nil
}

func (c *Client) doRaw(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode request body")
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, ariaerrors.Wrap(err, ariaerrors.ErrCodeTransport, "request failed")
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		if c.onAuthFailure != nil {
			c.onAuthFailure()
		}
		return nil, ariaerrors.Auth("authentication failed")
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, ariaerrors.NotFound(fmt.Sprintf("%s %s returned 404", method, path))
	case resp.StatusCode == http.StatusTooManyRequests:
		resp.Body.Close()
		return nil, ariaerrors.RateLimitExceeded("rate limit exceeded")
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, ariaerrors.Transport(fmt.Sprintf("%s %s returned %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg))), nil)
	}
	return resp, nil
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
