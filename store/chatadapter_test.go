package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ariavoice/aria/chat"
	"github.com/ariavoice/aria/internal/profile"
	"github.com/ariavoice/aria/store"
	"github.com/ariavoice/aria/store/db/sqlite"
)

func newChatStore(t *testing.T) *store.ChatStore {
	t.Helper()
	p := &profile.Profile{Mode: "dev", Driver: "sqlite", DSN: ":memory:"}
	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	t.Cleanup(func() { _ = driver.Close() })
	require.NoError(t, driver.Migrate(context.Background()))
	return store.NewChatStore(store.New(driver, p), 1)
}

func TestChatStoreConversationLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newChatStore(t)

	ref, err := s.CreateConversation(ctx, "Morning chat")
	require.NoError(t, err)
	require.NotEmpty(t, ref.ID)
	require.Equal(t, "Morning chat", ref.Title)

	list, err := s.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, ref.ID, list[0].ID)

	require.NoError(t, s.DeleteConversation(ctx, ref.ID))
	list, err = s.ListConversations(ctx)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestChatStoreAppendAndGetMessages(t *testing.T) {
	ctx := context.Background()
	s := newChatStore(t)

	ref, err := s.CreateConversation(ctx, "chat")
	require.NoError(t, err)

	require.NoError(t, s.AppendMessages(ctx, ref.ID, []chat.Turn{
		chat.NewTurn(chat.RoleUser, "hello"),
		chat.NewTurn(chat.RoleAssistant, "hi there"),
		chat.NewTurn(chat.RoleError, "should not be stored"),
	}))

	turns, err := s.GetMessages(ctx, ref.ID)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	require.Equal(t, chat.RoleUser, turns[0].Role)
	require.Equal(t, "hello", turns[0].Content)
	require.Equal(t, chat.RoleAssistant, turns[1].Role)
}

func TestChatStoreContextSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newChatStore(t)

	ref, err := s.CreateConversation(ctx, "chat")
	require.NoError(t, err)

	snapshot, err := s.GetContext(ctx, ref.ID)
	require.NoError(t, err)
	require.Nil(t, snapshot)

	want := chat.Snapshot{Summary: "they discussed the weather", TurnsSinceLastSummary: 3, TotalTurnsProcessed: 21}
	require.NoError(t, s.PutContext(ctx, ref.ID, want))

	snapshot, err = s.GetContext(ctx, ref.ID)
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	require.Equal(t, want, *snapshot)
}

func TestChatStoreUnknownConversation(t *testing.T) {
	ctx := context.Background()
	s := newChatStore(t)

	_, err := s.GetMessages(ctx, "missing")
	require.Error(t, err)
}

func TestChatStoreScopedToUser(t *testing.T) {
	ctx := context.Background()
	p := &profile.Profile{Mode: "dev", Driver: "sqlite", DSN: ":memory:"}
	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	t.Cleanup(func() { _ = driver.Close() })
	require.NoError(t, driver.Migrate(ctx))
	base := store.New(driver, p)

	alice := store.NewChatStore(base, 1)
	bob := store.NewChatStore(base, 2)

	ref, err := alice.CreateConversation(ctx, "private")
	require.NoError(t, err)

	list, err := bob.ListConversations(ctx)
	require.NoError(t, err)
	require.Empty(t, list)

	_, err = bob.GetMessages(ctx, ref.ID)
	require.Error(t, err)
}
