package sqlite

import (
	"context"
	"database/sql"
	"log"
	"strings"

	// Import the pure-Go SQLite driver.
	_ "modernc.org/sqlite"
	"github.com/pkg/errors"

	"github.com/ariavoice/aria/internal/profile"
	"github.com/ariavoice/aria/store"
)

// SQLite is the default engine for single-user installs. The schema is small
// enough that migrations are idempotent CREATE statements; there is no
// versioned migration history.

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}

	// Open the SQLite connection with WAL and a busy timeout so concurrent
	// readers do not fail while a summarization write is in flight.
	dsn := profile.DSN
	if !strings.Contains(dsn, "?") && !strings.Contains(dsn, ":memory:") {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Printf("Failed to open database: %s", err)
		return nil, errors.Wrapf(err, "failed to open database: %s", profile.DSN)
	}

	// modernc.org/sqlite serializes writes internally; a single connection
	// avoids SQLITE_BUSY on in-memory databases used by tests.
	db.SetMaxOpenConns(1)

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
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	uid TEXT NOT NULL UNIQUE,
	creator_id INTEGER NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	created_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS message (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
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

// placeholder returns a placeholder for SQLite (uses ?).
func placeholder(int) string {
	return "?"
}

// placeholders returns n placeholders for SQLite.
func placeholders(n int) string {
	list := []string{}
	for i := 0; i < n; i++ {
		list = append(list, placeholder(i+1))
	}
	return strings.Join(list, ", ")
}
