package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/hrygo/mygpt/store"
)

func (d *DB) CreateConversation(ctx context.Context, create *store.Conversation) (*store.Conversation, error) {
	stmt := `
		INSERT INTO conversations (title)
		VALUES (?)
		RETURNING id, title, created_at
	`
	var conversation store.Conversation
	var title sql.NullString
	err := d.db.QueryRowContext(ctx, stmt, create.Title).Scan(
		&conversation.ID,
		&title,
		&conversation.CreatedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create conversation")
	}
	if title.Valid {
		conversation.Title = &title.String
	}
	return &conversation, nil
}

func (d *DB) GetConversation(ctx context.Context, id int64) (*store.Conversation, error) {
	stmt := `SELECT id, title, created_at FROM conversations WHERE id = ?`
	var conversation store.Conversation
	var title sql.NullString
	err := d.db.QueryRowContext(ctx, stmt, id).Scan(
		&conversation.ID,
		&title,
		&conversation.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get conversation")
	}
	if title.Valid {
		conversation.Title = &title.String
	}
	return &conversation, nil
}

func (d *DB) GetLatestConversation(ctx context.Context) (*store.Conversation, error) {
	stmt := `SELECT id, title, created_at FROM conversations ORDER BY id DESC LIMIT 1`
	var conversation store.Conversation
	var title sql.NullString
	err := d.db.QueryRowContext(ctx, stmt).Scan(
		&conversation.ID,
		&title,
		&conversation.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get latest conversation")
	}
	if title.Valid {
		conversation.Title = &title.String
	}
	return &conversation, nil
}

func (d *DB) ListConversations(ctx context.Context) ([]*store.Conversation, error) {
	stmt := `
		SELECT
			c.id,
			c.title,
			c.created_at,
			COUNT(cm.message_id) AS message_count
		FROM conversations c
		LEFT JOIN conversation_messages cm ON cm.conversation_id = c.id
		GROUP BY c.id
		ORDER BY c.id DESC
	`
	rows, err := d.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list conversations")
	}
	defer rows.Close()

	var conversations []*store.Conversation
	for rows.Next() {
		var conversation store.Conversation
		var title sql.NullString
		if err := rows.Scan(
			&conversation.ID,
			&title,
			&conversation.CreatedAt,
			&conversation.MessageCount,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan conversation")
		}
		if title.Valid {
			conversation.Title = &title.String
		}
		conversations = append(conversations, &conversation)
	}
	return conversations, rows.Err()
}
