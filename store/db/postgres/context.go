package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ariavoice/aria/store"
)

func (d *DB) UpsertContextSnapshot(ctx context.Context, upsert *store.ContextSnapshot) (*store.ContextSnapshot, error) {
	stmt := `INSERT INTO conversation_context (conversation_id, summary, turns_since_last_summary, total_turns_processed, updated_ts)
		VALUES (` + placeholders(5) + `)
		ON CONFLICT (conversation_id) DO UPDATE SET
			summary = EXCLUDED.summary,
			turns_since_last_summary = EXCLUDED.turns_since_last_summary,
			total_turns_processed = EXCLUDED.total_turns_processed,
			updated_ts = EXCLUDED.updated_ts`
	if _, err := d.db.ExecContext(ctx, stmt,
		upsert.ConversationID, upsert.Summary, upsert.TurnsSinceLastSummary, upsert.TotalTurnsProcessed, upsert.UpdatedTs,
	); err != nil {
		return nil, fmt.Errorf("failed to upsert conversation context: %w", err)
	}

	return upsert, nil
}

func (d *DB) GetContextSnapshot(ctx context.Context, find *store.FindContextSnapshot) (*store.ContextSnapshot, error) {
	query := `SELECT conversation_id, summary, turns_since_last_summary, total_turns_processed, updated_ts
		FROM conversation_context WHERE conversation_id = ` + placeholder(1)
	snapshot := &store.ContextSnapshot{}
	err := d.db.QueryRowContext(ctx, query, find.ConversationID).Scan(
		&snapshot.ConversationID, &snapshot.Summary, &snapshot.TurnsSinceLastSummary, &snapshot.TotalTurnsProcessed, &snapshot.UpdatedTs,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			// Absent is a normal state for fresh conversations.
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get conversation context: %w", err)
	}

	return snapshot, nil
}

func (d *DB) DeleteContextSnapshot(ctx context.Context, conversationID int32) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM conversation_context WHERE conversation_id = `+placeholder(1), conversationID); err != nil {
		return fmt.Errorf("failed to delete conversation context: %w", err)
	}
	return nil
}
