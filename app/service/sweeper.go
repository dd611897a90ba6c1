package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-chainpay/app/chain"
	"github.com/vibast-solutions/ms-go-chainpay/app/classifier"
	"github.com/vibast-solutions/ms-go-chainpay/app/factory"
)

// Sweeper runs independently of incoming ledger events: it expires unpaid
// invoices by wall-clock quote expiry or by chain-height expiry confirmed
// against the current tip. Expiries flow through the same reconciliation
// rules as event-driven transitions.
type Sweeper struct {
	chainClient chain.Client
	engine      *ReconcileService
	tx          TxRunner
	batchSize   int32
	logger      logrus.FieldLogger
}

func NewSweeper(chainClient chain.Client, engine *ReconcileService, tx TxRunner, batchSize int32) *Sweeper {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Sweeper{
		chainClient: chainClient,
		engine:      engine,
		tx:          tx,
		batchSize:   batchSize,
		logger:      factory.NewModuleLogger("sweeper"),
	}
}

// RunSweepBatch executes one sweep pass as a single atomic unit of work.
func (s *Sweeper) RunSweepBatch(ctx context.Context) error {
	now := time.Now().UTC()

	// Chain-height expiry needs the current tip. When the ledger API is
	// unreachable only wall-clock expiries are swept this pass.
	tip, err := s.chainClient.Tip(ctx)
	if err != nil {
		tip = 0
		s.logger.WithError(err).Warn("Tip lookup failed, sweeping wall-clock expiries only")
	}

	return s.tx.InTx(ctx, func(ctx context.Context, stores *TxStores) error {
		invoices, err := stores.Invoices.ListUnpaidExpirable(ctx, now, tip, s.batchSize)
		if err != nil {
			return err
		}

		for _, invoice := range invoices {
			event := &classifier.Event{
				Type:      classifier.EventInvoiceExpired,
				InvoiceID: invoice.ID,
			}
			if err := s.engine.ApplyEvent(ctx, stores, event); err != nil {
				return err
			}
		}

		// Expiry events are created confirmed; the poll loop is the single
		// confirmation pass and enqueues their notifications on its next tick.
		return nil
	})
}
