package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/vibast-solutions/ms-go-chainpay/app/entity"
)

var ErrWebhookDeliveryNotFound = errors.New("webhook delivery not found")

const webhookDeliveryColumns = `
	id, store_id, invoice_id, subscription_id, event_type, payload_json,
	status, attempts, last_status_code, last_error, next_attempt_at,
	last_attempt_at, replay_of, created_at, updated_at
`

type WebhookDeliveryFilter struct {
	StoreID    string
	HasSuccess bool
	Success    bool
	Limit      int32
	Offset     int32
}

type WebhookDeliveryRepository struct {
	db DBTX
}

func NewWebhookDeliveryRepository(db DBTX) *WebhookDeliveryRepository {
	return &WebhookDeliveryRepository{db: db}
}

func (r *WebhookDeliveryRepository) WithTx(tx DBTX) *WebhookDeliveryRepository {
	return &WebhookDeliveryRepository{db: tx}
}

func (r *WebhookDeliveryRepository) Create(ctx context.Context, delivery *entity.WebhookDelivery) error {
	query := `
		INSERT INTO webhook_deliveries (` + webhookDeliveryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		delivery.ID,
		delivery.StoreID,
		nullableStringValue(delivery.InvoiceID),
		nullableStringValue(delivery.SubscriptionID),
		delivery.EventType,
		delivery.PayloadJSON,
		delivery.Status,
		delivery.Attempts,
		nullableInt32Value(delivery.LastStatusCode),
		nullableStringValue(delivery.LastError),
		nullableTimeValue(delivery.NextAttemptAt),
		nullableTimeValue(delivery.LastAttemptAt),
		nullableStringValue(delivery.ReplayOf),
		delivery.CreatedAt,
		delivery.UpdatedAt,
	)
	return err
}

func (r *WebhookDeliveryRepository) Update(ctx context.Context, delivery *entity.WebhookDelivery) error {
	query := `
		UPDATE webhook_deliveries SET
			status = ?,
			attempts = ?,
			last_status_code = ?,
			last_error = ?,
			next_attempt_at = ?,
			last_attempt_at = ?,
			updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		delivery.Status,
		delivery.Attempts,
		nullableInt32Value(delivery.LastStatusCode),
		nullableStringValue(delivery.LastError),
		nullableTimeValue(delivery.NextAttemptAt),
		nullableTimeValue(delivery.LastAttemptAt),
		delivery.UpdatedAt,
		delivery.ID,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrWebhookDeliveryNotFound
	}

	return nil
}

func (r *WebhookDeliveryRepository) FindByID(ctx context.Context, id string) (*entity.WebhookDelivery, error) {
	query := `SELECT ` + webhookDeliveryColumns + ` FROM webhook_deliveries WHERE id = ?`

	delivery := &entity.WebhookDelivery{}
	if err := scanWebhookDelivery(r.db.QueryRowContext(ctx, query, id), delivery); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return delivery, nil
}

func (r *WebhookDeliveryRepository) ListDue(ctx context.Context, now time.Time, limit int32) ([]*entity.WebhookDelivery, error) {
	query := `
		SELECT ` + webhookDeliveryColumns + `
		FROM webhook_deliveries
		WHERE status = ?
		  AND next_attempt_at IS NOT NULL
		  AND next_attempt_at <= ?
		ORDER BY next_attempt_at ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, entity.WebhookDeliveryPending, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectWebhookDeliveries(rows)
}

func (r *WebhookDeliveryRepository) List(ctx context.Context, filter WebhookDeliveryFilter) ([]*entity.WebhookDelivery, error) {
	query := `SELECT ` + webhookDeliveryColumns + ` FROM webhook_deliveries`

	conditions := make([]string, 0, 2)
	args := make([]interface{}, 0, 4)

	if strings.TrimSpace(filter.StoreID) != "" {
		conditions = append(conditions, "store_id = ?")
		args = append(args, filter.StoreID)
	}
	if filter.HasSuccess {
		if filter.Success {
			conditions = append(conditions, "status = ?")
			args = append(args, entity.WebhookDeliverySuccess)
		} else {
			conditions = append(conditions, "status <> ?")
			args = append(args, entity.WebhookDeliverySuccess)
		}
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectWebhookDeliveries(rows)
}

func (r *WebhookDeliveryRepository) AppendAttempt(ctx context.Context, attempt *entity.WebhookAttempt) error {
	query := `
		INSERT INTO webhook_attempts (delivery_id, attempt_no, status_code, success, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		attempt.DeliveryID,
		attempt.AttemptNo,
		nullableInt32Value(attempt.StatusCode),
		attempt.Success,
		nullableStringValue(attempt.Error),
		attempt.CreatedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	attempt.ID = uint64(id)

	return nil
}

func (r *WebhookDeliveryRepository) ListAttempts(ctx context.Context, deliveryID string) ([]*entity.WebhookAttempt, error) {
	query := `
		SELECT id, delivery_id, attempt_no, status_code, success, error, created_at
		FROM webhook_attempts
		WHERE delivery_id = ?
		ORDER BY attempt_no ASC
	`

	rows, err := r.db.QueryContext(ctx, query, deliveryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attempts := make([]*entity.WebhookAttempt, 0)
	for rows.Next() {
		item := &entity.WebhookAttempt{}
		var statusCode sql.NullInt32
		var attemptErr sql.NullString
		err := rows.Scan(
			&item.ID,
			&item.DeliveryID,
			&item.AttemptNo,
			&statusCode,
			&item.Success,
			&attemptErr,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		item.StatusCode = int32PtrFromNull(statusCode)
		item.Error = stringPtrFromNull(attemptErr)
		attempts = append(attempts, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return attempts, nil
}

func collectWebhookDeliveries(rows *sql.Rows) ([]*entity.WebhookDelivery, error) {
	deliveries := make([]*entity.WebhookDelivery, 0)
	for rows.Next() {
		item := &entity.WebhookDelivery{}
		if err := scanWebhookDelivery(rows, item); err != nil {
			return nil, err
		}
		deliveries = append(deliveries, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return deliveries, nil
}

func scanWebhookDelivery(scan rowScanner, delivery *entity.WebhookDelivery) error {
	var invoiceID sql.NullString
	var subscriptionID sql.NullString
	var lastStatusCode sql.NullInt32
	var lastError sql.NullString
	var nextAttemptAt sql.NullTime
	var lastAttemptAt sql.NullTime
	var replayOf sql.NullString

	err := scan.Scan(
		&delivery.ID,
		&delivery.StoreID,
		&invoiceID,
		&subscriptionID,
		&delivery.EventType,
		&delivery.PayloadJSON,
		&delivery.Status,
		&delivery.Attempts,
		&lastStatusCode,
		&lastError,
		&nextAttemptAt,
		&lastAttemptAt,
		&replayOf,
		&delivery.CreatedAt,
		&delivery.UpdatedAt,
	)
	if err != nil {
		return err
	}

	delivery.InvoiceID = stringPtrFromNull(invoiceID)
	delivery.SubscriptionID = stringPtrFromNull(subscriptionID)
	delivery.LastStatusCode = int32PtrFromNull(lastStatusCode)
	delivery.LastError = stringPtrFromNull(lastError)
	delivery.NextAttemptAt = timePtrFromNull(nextAttemptAt)
	delivery.LastAttemptAt = timePtrFromNull(lastAttemptAt)
	delivery.ReplayOf = stringPtrFromNull(replayOf)

	return nil
}
