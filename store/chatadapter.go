package store

import (
	"context"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/ariavoice/aria/chat"
)

// ChatStore adapts the database store to the persistence contract consumed
// by the chat orchestrator. Conversations are addressed by their opaque UID
// so callers never see row identifiers.
type ChatStore struct {
	store  *Store
	userID int32
}

// NewChatStore scopes chat persistence to one user.
func NewChatStore(store *Store, userID int32) *ChatStore {
	return &ChatStore{store: store, userID: userID}
}

func (s *ChatStore) ListConversations(ctx context.Context) ([]chat.ConversationRef, error) {
	list, err := s.store.ListConversations(ctx, &FindConversation{CreatorID: &s.userID})
	if err != nil {
		return nil, err
	}
	refs := make([]chat.ConversationRef, 0, len(list))
	for _, c := range list {
		refs = append(refs, chat.ConversationRef{
			ID:        c.UID,
			Title:     c.Title,
			CreatedAt: time.Unix(c.CreatedTs, 0),
		})
	}
	return refs, nil
}

func (s *ChatStore) CreateConversation(ctx context.Context, title string) (chat.ConversationRef, error) {
	now := time.Now().Unix()
	created, err := s.store.CreateConversation(ctx, &Conversation{
		UID:       shortuuid.New(),
		CreatorID: s.userID,
		Title:     title,
		CreatedTs: now,
		UpdatedTs: now,
	})
	if err != nil {
		return chat.ConversationRef{}, err
	}
	return chat.ConversationRef{
		ID:        created.UID,
		Title:     created.Title,
		CreatedAt: time.Unix(created.CreatedTs, 0),
	}, nil
}

func (s *ChatStore) GetMessages(ctx context.Context, id string) ([]chat.Turn, error) {
	conversation, err := s.conversationByUID(ctx, id)
	if err != nil {
		return nil, err
	}
	messages, err := s.store.ListMessages(ctx, &FindMessage{ConversationID: &conversation.ID})
	if err != nil {
		return nil, err
	}
	turns := make([]chat.Turn, 0, len(messages))
	for _, m := range messages {
		role, ok := toChatRole(m.Role)
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

func (s *ChatStore) AppendMessages(ctx context.Context, id string, turns []chat.Turn) error {
	conversation, err := s.conversationByUID(ctx, id)
	if err != nil {
		return err
	}
	for _, t := range turns {
		role, ok := toStoreRole(t.Role)
		if !ok {
			// Error and system turns are display or payload artifacts,
			// not transcript.
			continue
		}
		senderID := s.userID
		if role == MessageRoleAssistant {
			senderID = AssistantSenderID
		}
		createdTs := t.CreatedAt.Unix()
		if t.CreatedAt.IsZero() {
			createdTs = time.Now().Unix()
		}
		if _, err := s.store.CreateMessage(ctx, &Message{
			UID:            shortuuid.New(),
			ConversationID: conversation.ID,
			Role:           role,
			SenderID:       senderID,
			Content:        t.Content,
			CreatedTs:      createdTs,
		}); err != nil {
			return err
		}
	}
	now := time.Now().Unix()
	if _, err := s.store.UpdateConversation(ctx, &UpdateConversation{ID: conversation.ID, UpdatedTs: &now}); err != nil {
		return err
	}
	return nil
}

func (s *ChatStore) DeleteConversation(ctx context.Context, id string) error {
	conversation, err := s.conversationByUID(ctx, id)
	if err != nil {
		return err
	}
	return s.store.DeleteConversation(ctx, &DeleteConversation{ID: conversation.ID})
}

func (s *ChatStore) GetContext(ctx context.Context, id string) (*chat.Snapshot, error) {
	conversation, err := s.conversationByUID(ctx, id)
	if err != nil {
		return nil, err
	}
	snapshot, err := s.store.GetContextSnapshot(ctx, &FindContextSnapshot{ConversationID: conversation.ID})
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return nil, nil
	}
	return &chat.Snapshot{
		Summary:               snapshot.Summary,
		TurnsSinceLastSummary: snapshot.TurnsSinceLastSummary,
		TotalTurnsProcessed:   snapshot.TotalTurnsProcessed,
	}, nil
}

func (s *ChatStore) PutContext(ctx context.Context, id string, snapshot chat.Snapshot) error {
	conversation, err := s.conversationByUID(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.store.UpsertContextSnapshot(ctx, &ContextSnapshot{
		ConversationID:        conversation.ID,
		Summary:               snapshot.Summary,
		TurnsSinceLastSummary: snapshot.TurnsSinceLastSummary,
		TotalTurnsProcessed:   snapshot.TotalTurnsProcessed,
		UpdatedTs:             time.Now().Unix(),
	})
	return err
}

func (s *ChatStore) conversationByUID(ctx context.Context, uid string) (*Conversation, error) {
	conversation, err := s.store.GetConversation(ctx, &FindConversation{UID: &uid, CreatorID: &s.userID})
	if err != nil {
		return nil, err
	}
	if conversation == nil {
		return nil, errors.Errorf("conversation %s not found", uid)
	}
	return conversation, nil
}

func toChatRole(role MessageRole) (chat.Role, bool) {
	switch role {
	case MessageRoleUser:
		return chat.RoleUser, true
	case MessageRoleAssistant:
		return chat.RoleAssistant, true
	case MessageRoleSystem:
		return chat.RoleSystem, true
	default:
		return "", false
	}
}

func toStoreRole(role chat.Role) (MessageRole, bool) {
	switch role {
	case chat.RoleUser:
		return MessageRoleUser, true
	case chat.RoleAssistant:
		return MessageRoleAssistant, true
	default:
		return "", false
	}
}
