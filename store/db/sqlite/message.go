package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/hrygo/mygpt/store"
)

// CreateMessage inserts the message row and its conversation membership in
// one transaction. The membership insert is idempotent.
func (d *DB) CreateMessage(ctx context.Context, create *store.CreateMessage) (*store.Message, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	stmt := `
		INSERT INTO messages (content, role, corrects_message_id)
		VALUES (?, ?, ?)
		RETURNING id, content, role, timestamp, corrects_message_id
	`
	var message store.Message
	var corrects sql.NullInt64
	err = tx.QueryRowContext(ctx, stmt, create.Content, create.Role, create.CorrectsMessageID).Scan(
		&message.ID,
		&message.Content,
		&message.Role,
		&message.Timestamp,
		&corrects,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to insert message")
	}
	if corrects.Valid {
		message.CorrectsMessageID = &corrects.Int64
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO conversation_messages (conversation_id, message_id)
		VALUES (?, ?)
	`, create.ConversationID, message.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to attach message to conversation")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit message")
	}
	return &message, nil
}

func (d *DB) GetMessage(ctx context.Context, id int64) (*store.Message, error) {
	stmt := `
		SELECT id, content, role, timestamp, corrects_message_id
		FROM messages
		WHERE id = ?
	`
	var message store.Message
	var corrects sql.NullInt64
	err := d.db.QueryRowContext(ctx, stmt, id).Scan(
		&message.ID,
		&message.Content,
		&message.Role,
		&message.Timestamp,
		&corrects,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get message")
	}
	if corrects.Valid {
		message.CorrectsMessageID = &corrects.Int64
	}
	return &message, nil
}

// ListMessages returns the conversation history ordered by id ascending.
// Message ids are the canonical ordering; timestamps are informational.
func (d *DB) ListMessages(ctx context.Context, conversationID int64) ([]*store.Message, error) {
	stmt := `
		SELECT m.id, m.content, m.role, m.timestamp, m.corrects_message_id
		FROM messages m
		JOIN conversation_messages cm ON cm.message_id = m.id
		WHERE cm.conversation_id = ?
		ORDER BY m.id
	`
	rows, err := d.db.QueryContext(ctx, stmt, conversationID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list messages")
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		var message store.Message
		var corrects sql.NullInt64
		if err := rows.Scan(
			&message.ID,
			&message.Content,
			&message.Role,
			&message.Timestamp,
			&corrects,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan message")
		}
		if corrects.Valid {
			message.CorrectsMessageID = &corrects.Int64
		}
		messages = append(messages, &message)
	}
	return messages, rows.Err()
}

func (d *DB) LastMessageRole(ctx context.Context, conversationID int64) (*store.Role, error) {
	stmt := `
		SELECT m.role
		FROM messages m
		JOIN conversation_messages cm ON cm.message_id = m.id
		WHERE cm.conversation_id = ?
		ORDER BY m.id DESC
		LIMIT 1
	`
	var role store.Role
	err := d.db.QueryRowContext(ctx, stmt, conversationID).Scan(&role)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get last message role")
	}
	return &role, nil
}

func (d *DB) GetConversationIDForMessage(ctx context.Context, messageID int64) (*int64, error) {
	stmt := `
		SELECT conversation_id
		FROM conversation_messages
		WHERE message_id = ?
		ORDER BY conversation_id
		LIMIT 1
	`
	var conversationID int64
	err := d.db.QueryRowContext(ctx, stmt, messageID).Scan(&conversationID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get conversation for message")
	}
	return &conversationID, nil
}
