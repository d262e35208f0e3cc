package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/hrygo/mygpt/internal/profile"
	"github.com/hrygo/mygpt/store"
)

//go:embed schema.sql
var schemaSQL string

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens the embedded sqlite database for the given profile.
//
// Connection settings:
// - No foreign key constraints: explicit to prevent surprises on upgrades.
// - busy_timeout guards against transient lock contention.
// - WAL journal mode is the recommended mode for local applications.
//
// Note: when using the `modernc.org/sqlite` driver, each pragma must be
// prefixed with `_pragma=`.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DBPath == "" {
		return nil, errors.New("database path required")
	}
	if err := os.MkdirAll(filepath.Dir(profile.DBPath), 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create database directory for %s", profile.DBPath)
	}

	dsn := profile.DBPath + "?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)"
	sqliteDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db at %s", profile.DBPath)
	}

	// Single connection is optimal for sqlite with WAL; it also makes the
	// store the serialization point across requests.
	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)
	sqliteDB.SetConnMaxLifetime(0)
	sqliteDB.SetConnMaxIdleTime(0)

	driver := DB{db: sqliteDB, profile: profile}
	return &driver, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Migrate applies the idempotent schema and seeds the default conversation.
// If no conversation exists, one titled "Legacy" is created; any messages
// without a conversation membership are back-filled into the oldest one.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schemaSQL); err != nil {
		return errors.Wrap(err, "failed to apply schema")
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin seed transaction")
	}
	defer func() { _ = tx.Rollback() }()

	var conversationID int64
	err = tx.QueryRowContext(ctx, "SELECT id FROM conversations ORDER BY id LIMIT 1").Scan(&conversationID)
	if err == sql.ErrNoRows {
		result, insertErr := tx.ExecContext(ctx, "INSERT INTO conversations (title) VALUES (?)", "Legacy")
		if insertErr != nil {
			return errors.Wrap(insertErr, "failed to create default conversation")
		}
		conversationID, insertErr = result.LastInsertId()
		if insertErr != nil {
			return errors.Wrap(insertErr, "failed to get default conversation id")
		}
	} else if err != nil {
		return errors.Wrap(err, "failed to look up oldest conversation")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO conversation_messages (conversation_id, message_id)
		SELECT ?, m.id
		FROM messages m
		LEFT JOIN conversation_messages cm ON cm.message_id = m.id
		WHERE cm.message_id IS NULL
	`, conversationID)
	if err != nil {
		return errors.Wrap(err, "failed to back-fill orphan messages")
	}

	return errors.Wrap(tx.Commit(), "failed to commit seed transaction")
}
