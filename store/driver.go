package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	// Migrate applies the schema for a fresh or existing database.
	Migrate(ctx context.Context) error

	// Conversation model related methods.
	CreateConversation(ctx context.Context, create *Conversation) (*Conversation, error)
	ListConversations(ctx context.Context, find *FindConversation) ([]*Conversation, error)
	UpdateConversation(ctx context.Context, update *UpdateConversation) (*Conversation, error)
	DeleteConversation(ctx context.Context, delete *DeleteConversation) error

	// Message model related methods.
	CreateMessage(ctx context.Context, create *Message) (*Message, error)
	ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error)
	DeleteMessage(ctx context.Context, delete *DeleteMessage) error

	// ContextSnapshot model related methods.
	UpsertContextSnapshot(ctx context.Context, upsert *ContextSnapshot) (*ContextSnapshot, error)
	GetContextSnapshot(ctx context.Context, find *FindContextSnapshot) (*ContextSnapshot, error)
	DeleteContextSnapshot(ctx context.Context, conversationID int32) error
}
