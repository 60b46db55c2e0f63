package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ariavoice/aria/chat"
	ariaerrors "github.com/ariavoice/aria/internal/errors"
)

func TestClientSendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok-123")
	_, err := c.ListConversations(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Bearer tok-123", gotAuth)
}

func TestClientAuthFailureTriggersRedirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	var redirected bool
	c := NewClient(srv.URL, "expired", WithAuthFailureHandler(func() { redirected = true }))

	_, err := c.ListConversations(context.Background())
	require.True(t, ariaerrors.IsCode(err, ariaerrors.ErrCodeAuth))
	require.True(t, redirected)
}

func TestClientConversationRoundTrip(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/conversations", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "c-1", "title": req["title"], "createdTs": 100})
	})
	mux.HandleFunc("GET /api/v1/conversations/c-1/messages", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"role": "user", "content": "hello", "createdTs": 100},
			{"role": "assistant", "content": "hi", "createdTs": 101},
			{"role": "weird", "content": "dropped", "createdTs": 102},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL, "t")

	ref, err := c.CreateConversation(context.Background(), "My chat")
	require.NoError(t, err)
	require.Equal(t, "c-1", ref.ID)
	require.Equal(t, "My chat", ref.Title)

	turns, err := c.GetMessages(context.Background(), "c-1")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	require.Equal(t, chat.RoleUser, turns[0].Role)
	require.Equal(t, "hi", turns[1].Content)
}

func TestClientGetContextAbsent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"message":"no context stored"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "t")
	snapshot, err := c.GetContext(context.Background(), "c-1")
	require.NoError(t, err)
	require.Nil(t, snapshot)
}

func TestClientPutContext(t *testing.T) {
	var got contextPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "t")
	err := c.PutContext(context.Background(), "c-1", chat.Snapshot{Summary: "s", TurnsSinceLastSummary: 1, TotalTurnsProcessed: 9})
	require.NoError(t, err)
	require.Equal(t, "s", got.Summary)
	require.Equal(t, 9, got.TotalTurnsProcessed)
}

func TestClientAppendSkipsNonTranscriptTurns(t *testing.T) {
	var got struct {
		Messages []messagePayload `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "t")
	err := c.AppendMessages(context.Background(), "c-1", []chat.Turn{
		chat.NewTurn(chat.RoleUser, "hello"),
		chat.NewTurn(chat.RoleError, "boom"),
		chat.NewTurn(chat.RoleAssistant, "hi"),
	})
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
}

func TestClientStreamChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = w.Write([]byte(`{"delta":"Hel"}` + "\n"))
		_, _ = w.Write([]byte("this is not json\n"))
		_, _ = w.Write([]byte(`{"delta":"lo"}` + "\n"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "t")
	stream, err := c.StreamChat(context.Background(), []chat.Turn{chat.NewTurn(chat.RoleUser, "hi")})
	require.NoError(t, err)

	var got []string
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, chunk.DeltaText)
	}
	// The malformed line is skipped, not fatal.
	require.Equal(t, []string{"Hel", "lo"}, got)
}

func TestClientStreamChatErrorMarker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"delta":"Par"}` + "\n"))
		_, _ = w.Write([]byte(`{"error":"model overloaded"}` + "\n"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "t")
	stream, err := c.StreamChat(context.Background(), []chat.Turn{chat.NewTurn(chat.RoleUser, "hi")})
	require.NoError(t, err)

	chunk, err := stream.Recv()
	require.NoError(t, err)
	require.Equal(t, "Par", chunk.DeltaText)

	chunk, err = stream.Recv()
	require.NoError(t, err)
	require.Equal(t, "model overloaded", chunk.Err)
}

func TestClientRateLimitSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "t")
	_, err := c.ListConversations(context.Background())
	require.True(t, ariaerrors.IsCode(err, ariaerrors.ErrCodeRateLimitExceeded))
}
