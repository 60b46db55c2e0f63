package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/ariavoice/aria/internal/profile"
	"github.com/ariavoice/aria/store"
)

// PostgreSQL backs shared deployments where several clients talk to the same
// assistant server. Schema and queries are kept deliberately symmetric with
// the SQLite driver.

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}

	db, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		log.Printf("Failed to open database: %s", err)
		return nil, errors.Wrapf(err, "failed to open database: %s", profile.DSN)
	}

	// Conversation traffic is bursty but light. Keep the pool small and a
	// couple of idle connections warm so streaming requests start fast.
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(2 * time.Hour)
	db.SetConnMaxIdleTime(15 * time.Minute)

	if err := db.Ping(); err != nil {
		log.Printf("Failed to ping database: %s", err)
		return nil, errors.Wrap(err, "failed to ping database")
	}

	var driver store.Driver = &DB{
		db:      db,
		profile: profile,
	}
	return driver, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS conversation (
	id SERIAL PRIMARY KEY,
	uid TEXT NOT NULL UNIQUE,
	creator_id INTEGER NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	created_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS message (
	id SERIAL PRIMARY KEY,
	uid TEXT NOT NULL UNIQUE,
	conversation_id INTEGER NOT NULL,
	role TEXT NOT NULL,
	sender_id INTEGER NOT NULL DEFAULT 0,
	content TEXT NOT NULL DEFAULT '',
	created_ts BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_message_conversation_id ON message (conversation_id);

CREATE TABLE IF NOT EXISTS conversation_context (
	conversation_id INTEGER PRIMARY KEY,
	summary TEXT NOT NULL DEFAULT '',
	turns_since_last_summary INTEGER NOT NULL DEFAULT 0,
	total_turns_processed INTEGER NOT NULL DEFAULT 0,
	updated_ts BIGINT NOT NULL
);
`

func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to apply schema")
	}
	return nil
}

// placeholder returns the n-th placeholder for PostgreSQL ($1, $2, ...).
func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

// placeholders returns n placeholders for PostgreSQL.
func placeholders(n int) string {
	list := []string{}
	for i := 0; i < n; i++ {
		list = append(list, placeholder(i+1))
	}
	return strings.Join(list, ", ")
}
