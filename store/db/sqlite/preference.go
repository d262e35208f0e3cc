package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/hrygo/mygpt/store"
)

func (d *DB) CreatePreference(ctx context.Context, create *store.Preference) (*store.Preference, error) {
	scope := create.Scope
	if scope == "" {
		scope = store.DefaultScope
	}
	stmt := `
		INSERT INTO preferences (key, value, scope, approved_event_id, source_proposal_id)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id, key, value, scope, created_at, approved_event_id, source_proposal_id
	`
	return scanPreference(d.db.QueryRowContext(ctx, stmt,
		create.Key,
		create.Value,
		scope,
		create.ApprovedEventID,
		create.SourceProposalID,
	))
}

func (d *DB) ListPreferences(ctx context.Context, scope string) ([]*store.Preference, error) {
	return d.listPreferences(ctx, scope, nil)
}

// ListPreferencesSince returns preferences in the scope created strictly
// after the given cutoff, in id order. A nil cutoff means no filter.
func (d *DB) ListPreferencesSince(ctx context.Context, scope string, since *string) ([]*store.Preference, error) {
	return d.listPreferences(ctx, scope, since)
}

func (d *DB) listPreferences(ctx context.Context, scope string, since *string) ([]*store.Preference, error) {
	query := `
		SELECT id, key, value, scope, created_at, approved_event_id, source_proposal_id
		FROM preferences
		WHERE scope = ?`
	args := []any{scope}
	if since != nil {
		query += " AND created_at > ?"
		args = append(args, *since)
	}
	query += " ORDER BY id"

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list preferences")
	}
	defer rows.Close()

	var preferences []*store.Preference
	for rows.Next() {
		preference, err := scanPreference(rows)
		if err != nil {
			return nil, err
		}
		preferences = append(preferences, preference)
	}
	return preferences, rows.Err()
}

func (d *DB) CreatePreferenceReset(ctx context.Context, create *store.PreferenceReset) (*store.PreferenceReset, error) {
	scope := create.Scope
	if scope == "" {
		scope = store.DefaultScope
	}
	stmt := `
		INSERT INTO preference_resets (scope, reset_event_id)
		VALUES (?, ?)
		RETURNING id, scope, created_at, reset_event_id
	`
	return scanPreferenceReset(d.db.QueryRowContext(ctx, stmt, scope, create.ResetEventID))
}

func (d *DB) LatestPreferenceReset(ctx context.Context, scope string) (*store.PreferenceReset, error) {
	stmt := `
		SELECT id, scope, created_at, reset_event_id
		FROM preference_resets
		WHERE scope = ?
		ORDER BY id DESC
		LIMIT 1
	`
	reset, err := scanPreferenceReset(d.db.QueryRowContext(ctx, stmt, scope))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return reset, err
}

func (d *DB) CreateProposal(ctx context.Context, create *store.PreferenceProposal) (*store.PreferenceProposal, error) {
	status := create.Status
	if status == "" {
		status = store.ProposalPending
	}
	stmt := `
		INSERT INTO preference_proposals (
			conversation_id, key, value, proposal_text, rationale,
			status, causality_message_id, assistant_message_id
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id, conversation_id, key, value, proposal_text, rationale,
			status, created_at, decided_at, causality_message_id, assistant_message_id
	`
	return scanProposal(d.db.QueryRowContext(ctx, stmt,
		create.ConversationID,
		create.Key,
		create.Value,
		create.ProposalText,
		create.Rationale,
		status,
		create.CausalityMessageID,
		create.AssistantMessageID,
	))
}

func (d *DB) GetProposal(ctx context.Context, id int64) (*store.PreferenceProposal, error) {
	stmt := proposalSelect + ` WHERE id = ?`
	proposal, err := scanProposal(d.db.QueryRowContext(ctx, stmt, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return proposal, err
}

func (d *DB) GetPendingProposal(ctx context.Context, conversationID int64) (*store.PreferenceProposal, error) {
	stmt := proposalSelect + `
		WHERE conversation_id = ? AND status = 'pending'
		ORDER BY id DESC
		LIMIT 1
	`
	proposal, err := scanProposal(d.db.QueryRowContext(ctx, stmt, conversationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return proposal, err
}

func (d *DB) ListProposals(ctx context.Context, find *store.FindProposal) ([]*store.PreferenceProposal, error) {
	query := proposalSelect + ` WHERE 1 = 1`
	args := []any{}
	if find.ConversationID != nil {
		query += " AND conversation_id = ?"
		args = append(args, *find.ConversationID)
	}
	if find.Status != nil {
		query += " AND status = ?"
		args = append(args, *find.Status)
	}
	query += " ORDER BY id DESC"

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list proposals")
	}
	defer rows.Close()

	var proposals []*store.PreferenceProposal
	for rows.Next() {
		proposal, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, proposal)
	}
	return proposals, rows.Err()
}

func (d *DB) UpdateProposalStatus(ctx context.Context, id int64, status store.ProposalStatus) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE preference_proposals
		SET status = ?, decided_at = strftime('%Y-%m-%d %H:%M:%f', 'now')
		WHERE id = ?
	`, status, id)
	return errors.Wrap(err, "failed to update proposal status")
}

// ApproveProposal inserts the approval event, the new preference row and the
// status change in one transaction.
func (d *DB) ApproveProposal(ctx context.Context, approve *store.DecideProposal) (*store.ProposalDecision, error) {
	proposal, err := d.GetProposal(ctx, approve.ProposalID)
	if err != nil {
		return nil, err
	}
	if proposal == nil {
		return nil, errors.New("proposal not found")
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	eventID, err := insertEventTx(ctx, tx, &store.Event{
		Type:               store.EventPreferenceApproved,
		Payload:            approve.EventPayload,
		ConversationID:     &proposal.ConversationID,
		CausalityMessageID: proposal.CausalityMessageID,
	})
	if err != nil {
		return nil, err
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO preferences (key, value, scope, approved_event_id, source_proposal_id)
		VALUES (?, ?, 'global', ?, ?)
	`, proposal.Key, proposal.Value, eventID, proposal.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to insert preference")
	}
	preferenceID, err := result.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get preference id")
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE preference_proposals
		SET status = 'approved', decided_at = strftime('%Y-%m-%d %H:%M:%f', 'now')
		WHERE id = ?
	`, proposal.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to update proposal status")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit approval")
	}
	return &store.ProposalDecision{EventID: eventID, PreferenceID: &preferenceID}, nil
}

// RejectProposal inserts the rejection event and the status change in one
// transaction. No preference row is created.
func (d *DB) RejectProposal(ctx context.Context, reject *store.DecideProposal) (*store.ProposalDecision, error) {
	proposal, err := d.GetProposal(ctx, reject.ProposalID)
	if err != nil {
		return nil, err
	}
	if proposal == nil {
		return nil, errors.New("proposal not found")
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	eventID, err := insertEventTx(ctx, tx, &store.Event{
		Type:               store.EventPreferenceRejected,
		Payload:            reject.EventPayload,
		ConversationID:     &proposal.ConversationID,
		CausalityMessageID: proposal.CausalityMessageID,
	})
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE preference_proposals
		SET status = 'rejected', decided_at = strftime('%Y-%m-%d %H:%M:%f', 'now')
		WHERE id = ?
	`, proposal.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to update proposal status")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit rejection")
	}
	return &store.ProposalDecision{EventID: eventID}, nil
}

// ResetPreferences inserts the reset event and the reset row in one
// transaction.
func (d *DB) ResetPreferences(ctx context.Context, reset *store.ResetPreferences) (*store.PreferenceReset, int64, error) {
	scope := reset.Scope
	if scope == "" {
		scope = store.DefaultScope
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	eventID, err := insertEventTx(ctx, tx, &store.Event{
		Type:               store.EventPreferencesReset,
		Payload:            reset.EventPayload,
		ConversationID:     reset.ConversationID,
		CausalityMessageID: reset.CausalityMessageID,
	})
	if err != nil {
		return nil, 0, err
	}

	row := tx.QueryRowContext(ctx, `
		INSERT INTO preference_resets (scope, reset_event_id)
		VALUES (?, ?)
		RETURNING id, scope, created_at, reset_event_id
	`, scope, eventID)
	resetRow, err := scanPreferenceReset(row)
	if err != nil {
		return nil, 0, err
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, errors.Wrap(err, "failed to commit reset")
	}
	return resetRow, eventID, nil
}

const proposalSelect = `
	SELECT id, conversation_id, key, value, proposal_text, rationale,
		status, created_at, decided_at, causality_message_id, assistant_message_id
	FROM preference_proposals`

func scanPreference(row rowScanner) (*store.Preference, error) {
	var preference store.Preference
	var approvedEventID, sourceProposalID sql.NullInt64
	err := row.Scan(
		&preference.ID,
		&preference.Key,
		&preference.Value,
		&preference.Scope,
		&preference.CreatedAt,
		&approvedEventID,
		&sourceProposalID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to scan preference")
	}
	if approvedEventID.Valid {
		preference.ApprovedEventID = &approvedEventID.Int64
	}
	if sourceProposalID.Valid {
		preference.SourceProposalID = &sourceProposalID.Int64
	}
	return &preference, nil
}

func scanPreferenceReset(row rowScanner) (*store.PreferenceReset, error) {
	var reset store.PreferenceReset
	var resetEventID sql.NullInt64
	err := row.Scan(
		&reset.ID,
		&reset.Scope,
		&reset.CreatedAt,
		&resetEventID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to scan preference reset")
	}
	if resetEventID.Valid {
		reset.ResetEventID = &resetEventID.Int64
	}
	return &reset, nil
}

func scanProposal(row rowScanner) (*store.PreferenceProposal, error) {
	var proposal store.PreferenceProposal
	var rationale sql.NullString
	var decidedAt sql.NullString
	var causalityID, assistantID sql.NullInt64
	err := row.Scan(
		&proposal.ID,
		&proposal.ConversationID,
		&proposal.Key,
		&proposal.Value,
		&proposal.ProposalText,
		&rationale,
		&proposal.Status,
		&proposal.CreatedAt,
		&decidedAt,
		&causalityID,
		&assistantID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to scan proposal")
	}
	if rationale.Valid {
		proposal.Rationale = &rationale.String
	}
	if decidedAt.Valid {
		proposal.DecidedAt = &decidedAt.String
	}
	if causalityID.Valid {
		proposal.CausalityMessageID = &causalityID.Int64
	}
	if assistantID.Valid {
		proposal.AssistantMessageID = &assistantID.Int64
	}
	return &proposal, nil
}
