package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/mygpt/store"
)

func (d *DB) CreateEvent(ctx context.Context, create *store.Event) (*store.Event, error) {
	payload := create.Payload
	if payload == "" {
		payload = "{}"
	}
	stmt := `
		INSERT INTO events (type, payload_json, conversation_id, causality_message_id)
		VALUES (?, ?, ?, ?)
		RETURNING id, type, payload_json, conversation_id, causality_message_id, created_at
	`
	return scanEvent(d.db.QueryRowContext(ctx, stmt,
		create.Type,
		payload,
		create.ConversationID,
		create.CausalityMessageID,
	))
}

// insertEventTx inserts an event inside an open transaction.
func insertEventTx(ctx context.Context, tx *sql.Tx, create *store.Event) (int64, error) {
	payload := create.Payload
	if payload == "" {
		payload = "{}"
	}
	result, err := tx.ExecContext(ctx, `
		INSERT INTO events (type, payload_json, conversation_id, causality_message_id)
		VALUES (?, ?, ?, ?)
	`, create.Type, payload, create.ConversationID, create.CausalityMessageID)
	if err != nil {
		return 0, errors.Wrap(err, "failed to insert event")
	}
	return result.LastInsertId()
}

// ListEvents returns events filtered by type and conversation. With a limit,
// the newest N matching events are returned in ascending id order.
func (d *DB) ListEvents(ctx context.Context, find *store.FindEvent) ([]*store.Event, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find.Type != nil {
		where, args = append(where, "type = ?"), append(args, *find.Type)
	}
	if find.ConversationID != nil {
		where, args = append(where, "conversation_id = ?"), append(args, *find.ConversationID)
	}

	query := `
		SELECT id, type, payload_json, conversation_id, causality_message_id, created_at
		FROM events
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY id`
	if find.Limit != nil {
		query = `SELECT * FROM (` + query + ` DESC LIMIT ?) ORDER BY id`
		args = append(args, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list events")
	}
	defer rows.Close()

	var events []*store.Event
	for rows.Next() {
		var event store.Event
		var conversationID, causalityID sql.NullInt64
		if err := rows.Scan(
			&event.ID,
			&event.Type,
			&event.Payload,
			&conversationID,
			&causalityID,
			&event.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan event")
		}
		if conversationID.Valid {
			event.ConversationID = &conversationID.Int64
		}
		if causalityID.Valid {
			event.CausalityMessageID = &causalityID.Int64
		}
		events = append(events, &event)
	}
	return events, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*store.Event, error) {
	var event store.Event
	var conversationID, causalityID sql.NullInt64
	err := row.Scan(
		&event.ID,
		&event.Type,
		&event.Payload,
		&conversationID,
		&causalityID,
		&event.CreatedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan event")
	}
	if conversationID.Valid {
		event.ConversationID = &conversationID.Int64
	}
	if causalityID.Valid {
		event.CausalityMessageID = &causalityID.Int64
	}
	return &event, nil
}
