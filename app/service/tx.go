package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vibast-solutions/ms-go-chainpay/app/entity"
	"github.com/vibast-solutions/ms-go-chainpay/app/repository"
)

type invoiceRepository interface {
	Create(ctx context.Context, invoice *entity.Invoice) error
	Update(ctx context.Context, invoice *entity.Invoice) error
	FindByID(ctx context.Context, id string) (*entity.Invoice, error)
	ListUnpaidExpirable(ctx context.Context, now time.Time, tipHeight uint64, limit int32) ([]*entity.Invoice, error)
}

type subscriptionRepository interface {
	FindByID(ctx context.Context, id string) (*entity.Subscription, error)
	Update(ctx context.Context, sub *entity.Subscription) error
}

type appliedEventRepository interface {
	Create(ctx context.Context, event *entity.AppliedEvent) error
	Exists(ctx context.Context, subjectID, eventType, txID string) (bool, error)
	HasStagedAtOrAbove(ctx context.Context, subjectID string, height uint64) (bool, error)
	ListConfirmable(ctx context.Context, maxHeight uint64, limit int32) ([]*entity.AppliedEvent, error)
	ListUnconfirmedAbove(ctx context.Context, height uint64) ([]*entity.AppliedEvent, error)
	MarkConfirmedAndNotified(ctx context.Context, id uint64) error
	Delete(ctx context.Context, id uint64) error
}

type webhookDeliveryRepository interface {
	Create(ctx context.Context, delivery *entity.WebhookDelivery) error
	Update(ctx context.Context, delivery *entity.WebhookDelivery) error
	FindByID(ctx context.Context, id string) (*entity.WebhookDelivery, error)
	ListDue(ctx context.Context, now time.Time, limit int32) ([]*entity.WebhookDelivery, error)
	List(ctx context.Context, filter repository.WebhookDeliveryFilter) ([]*entity.WebhookDelivery, error)
	AppendAttempt(ctx context.Context, attempt *entity.WebhookAttempt) error
	ListAttempts(ctx context.Context, deliveryID string) ([]*entity.WebhookAttempt, error)
}

type cursorRepository interface {
	Load(ctx context.Context) (*entity.ChainCursor, error)
	Save(ctx context.Context, cursor *entity.ChainCursor) error
}

type storeDirectory interface {
	FindByID(ctx context.Context, id string) (*repository.Store, error)
}

// TxStores bundles the repositories participating in one atomic unit of
// work: a polled batch, a sweep pass, or a staged-confirmation pass.
type TxStores struct {
	Invoices      invoiceRepository
	Subscriptions subscriptionRepository
	Applied       appliedEventRepository
	Webhooks      webhookDeliveryRepository
	Cursor        cursorRepository
}

// TxRunner runs fn inside a single transaction; either every mutation fn
// made commits, or none do. A crash mid-batch therefore leaves the cursor at
// its pre-batch value and the batch is retried on the next tick.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context, s *TxStores) error) error
}

type SQLTxRunner struct {
	db *sql.DB
}

func NewSQLTxRunner(db *sql.DB) *SQLTxRunner {
	return &SQLTxRunner{db: db}
}

func (r *SQLTxRunner) InTx(ctx context.Context, fn func(ctx context.Context, s *TxStores) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	stores := &TxStores{
		Invoices:      repository.NewInvoiceRepository(tx),
		Subscriptions: repository.NewSubscriptionRepository(tx),
		Applied:       repository.NewAppliedEventRepository(tx),
		Webhooks:      repository.NewWebhookDeliveryRepository(tx),
		Cursor:        repository.NewChainCursorRepository(tx),
	}

	if err := fn(ctx, stores); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
