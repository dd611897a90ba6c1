package repository

import (
	"context"
	"database/sql"
	"errors"
)

var ErrStoreNotFound = errors.New("store not found")

// Store is the merchant registry row the dispatcher consumes: the webhook
// endpoint, the shared signing secret and the active flag. Registry rows are
// managed by the merchant-facing service, never mutated here.
type Store struct {
	ID            string
	Name          string
	Active        bool
	WebhookURL    string
	WebhookSecret string
}

type StoreRepository struct {
	db DBTX
}

func NewStoreRepository(db DBTX) *StoreRepository {
	return &StoreRepository{db: db}
}

func (r *StoreRepository) FindByID(ctx context.Context, id string) (*Store, error) {
	query := `
		SELECT id, name, active, webhook_url, webhook_secret
		FROM stores
		WHERE id = ?
	`

	store := &Store{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&store.ID,
		&store.Name,
		&store.Active,
		&store.WebhookURL,
		&store.WebhookSecret,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return store, nil
}
