package repository

import (
	"context"
	"errors"

	"github.com/vibast-solutions/ms-go-chainpay/app/entity"
)

var ErrEventAlreadyApplied = errors.New("event already applied")

const appliedEventColumns = `
	id, subject_type, subject_id, event_type, tx_id, block_height,
	amount_sats, confirmed, notified, created_at
`

// AppliedEventRepository records idempotency keys and the confirmation
// staging state for every applied domain event.
type AppliedEventRepository struct {
	db DBTX
}

func NewAppliedEventRepository(db DBTX) *AppliedEventRepository {
	return &AppliedEventRepository{db: db}
}

func (r *AppliedEventRepository) WithTx(tx DBTX) *AppliedEventRepository {
	return &AppliedEventRepository{db: tx}
}

func (r *AppliedEventRepository) Create(ctx context.Context, event *entity.AppliedEvent) error {
	query := `
		INSERT INTO applied_events (
			subject_type, subject_id, event_type, tx_id, block_height,
			amount_sats, confirmed, notified, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		event.SubjectType,
		event.SubjectID,
		event.EventType,
		event.TxID,
		event.BlockHeight,
		event.AmountSats,
		event.Confirmed,
		event.Notified,
		event.CreatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrEventAlreadyApplied
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	event.ID = uint64(id)

	return nil
}

// Exists reports whether the (subjectID, eventType, txID) idempotency key has
// already been recorded.
func (r *AppliedEventRepository) Exists(ctx context.Context, subjectID, eventType, txID string) (bool, error) {
	query := `
		SELECT COUNT(1)
		FROM applied_events
		WHERE subject_id = ? AND event_type = ? AND tx_id = ?
	`

	var count int64
	if err := r.db.QueryRowContext(ctx, query, subjectID, eventType, txID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// HasStagedAtOrAbove reports whether the subject has a still-unconfirmed
// applied event at or above the given height. The reconciliation engine uses
// it to let reorg replays of the provisional window through the watermark.
func (r *AppliedEventRepository) HasStagedAtOrAbove(ctx context.Context, subjectID string, height uint64) (bool, error) {
	query := `
		SELECT COUNT(1)
		FROM applied_events
		WHERE subject_id = ? AND confirmed = FALSE AND block_height >= ?
	`

	var count int64
	if err := r.db.QueryRowContext(ctx, query, subjectID, height).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListConfirmable returns unnotified events buried at or below maxHeight,
// oldest first. Rows are locked until the transaction commits so concurrent
// confirmation passes cannot claim the same event.
func (r *AppliedEventRepository) ListConfirmable(ctx context.Context, maxHeight uint64, limit int32) ([]*entity.AppliedEvent, error) {
	query := `
		SELECT ` + appliedEventColumns + `
		FROM applied_events
		WHERE notified = FALSE AND block_height <= ?
		ORDER BY block_height ASC, id ASC
		LIMIT ?
		FOR UPDATE
	`
	return r.list(ctx, query, maxHeight, limit)
}

// ListUnconfirmedAbove returns still-provisional events strictly above the
// given height, newest first, locked for the caller's transaction. The order
// lets the engine unwind them in reverse application order.
func (r *AppliedEventRepository) ListUnconfirmedAbove(ctx context.Context, height uint64) ([]*entity.AppliedEvent, error) {
	query := `
		SELECT ` + appliedEventColumns + `
		FROM applied_events
		WHERE confirmed = FALSE AND block_height > ?
		ORDER BY block_height DESC, id DESC
		FOR UPDATE
	`
	return r.list(ctx, query, height)
}

func (r *AppliedEventRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.AppliedEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]*entity.AppliedEvent, 0)
	for rows.Next() {
		item := &entity.AppliedEvent{}
		err := rows.Scan(
			&item.ID,
			&item.SubjectType,
			&item.SubjectID,
			&item.EventType,
			&item.TxID,
			&item.BlockHeight,
			&item.AmountSats,
			&item.Confirmed,
			&item.Notified,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		events = append(events, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}

func (r *AppliedEventRepository) MarkConfirmedAndNotified(ctx context.Context, id uint64) error {
	query := `UPDATE applied_events SET confirmed = TRUE, notified = TRUE WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

// Delete removes an orphaned event so the canonical fork can re-report the
// same (subject, event, tx) tuple at its new position.
func (r *AppliedEventRepository) Delete(ctx context.Context, id uint64) error {
	query := `DELETE FROM applied_events WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}
