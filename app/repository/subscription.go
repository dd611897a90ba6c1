package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/vibast-solutions/ms-go-chainpay/app/entity"
)

var ErrSubscriptionNotFound = errors.New("subscription not found")

const subscriptionColumns = `
	id, store_id, merchant_ref, subscriber, amount_sats, interval_blocks,
	active, last_billed_at, last_billed_height, next_due_height,
	created_at, updated_at
`

type SubscriptionRepository struct {
	db DBTX
}

func NewSubscriptionRepository(db DBTX) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) WithTx(tx DBTX) *SubscriptionRepository {
	return &SubscriptionRepository{db: tx}
}

func (r *SubscriptionRepository) FindByID(ctx context.Context, id string) (*entity.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = ?`

	sub := &entity.Subscription{}
	if err := scanSubscription(r.db.QueryRowContext(ctx, query, id), sub); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return sub, nil
}

func (r *SubscriptionRepository) Update(ctx context.Context, sub *entity.Subscription) error {
	query := `
		UPDATE subscriptions SET
			active = ?,
			last_billed_at = ?,
			last_billed_height = ?,
			next_due_height = ?,
			updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		sub.Active,
		nullableTimeValue(sub.LastBilledAt),
		sub.LastBilledHeight,
		sub.NextDueHeight,
		sub.UpdatedAt,
		sub.ID,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrSubscriptionNotFound
	}

	return nil
}

func scanSubscription(scan rowScanner, sub *entity.Subscription) error {
	var lastBilledAt sql.NullTime

	err := scan.Scan(
		&sub.ID,
		&sub.StoreID,
		&sub.MerchantRef,
		&sub.Subscriber,
		&sub.AmountSats,
		&sub.IntervalBlocks,
		&sub.Active,
		&lastBilledAt,
		&sub.LastBilledHeight,
		&sub.NextDueHeight,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return err
	}

	sub.LastBilledAt = timePtrFromNull(lastBilledAt)

	return nil
}
