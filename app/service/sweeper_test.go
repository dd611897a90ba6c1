package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vibast-solutions/ms-go-chainpay/app/entity"
)

func TestRunSweepBatchExpiresQuoteExpiredInvoice(t *testing.T) {
	stores, _, tx := newTestStores()
	invoice := unpaidInvoice(testInvoiceID)
	invoice.QuoteExpiresAt = time.Now().UTC().Add(-time.Minute)
	stores.invoices.invoices[testInvoiceID] = invoice

	sweeper := NewSweeper(&stubChainClient{tipHeight: 200}, NewReconcileService(2, 100), tx, 100)
	if err := sweeper.RunSweepBatch(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	updated, _ := stores.invoices.FindByID(context.Background(), testInvoiceID)
	if updated.Status != entity.InvoiceStatusExpired {
		t.Fatalf("expected expired, got %s", updated.Status)
	}
	// Local expiries carry no chain position and are staged confirmed; the
	// poll loop owns the notification pass.
	if len(stores.applied.events) != 1 {
		t.Fatalf("expected one applied expiry, got %d", len(stores.applied.events))
	}
	if !stores.applied.events[0].Confirmed || stores.applied.events[0].Notified {
		t.Fatalf("expected confirmed unnotified expiry, got %+v", stores.applied.events[0])
	}
	if len(stores.webhooks.deliveries) != 0 {
		t.Fatalf("sweep must not enqueue deliveries itself, got %d", len(stores.webhooks.deliveries))
	}
}

func TestRunSweepBatchLeavesNotificationToPollLoop(t *testing.T) {
	stores, _, tx := newTestStores()
	invoice := unpaidInvoice(testInvoiceID)
	invoice.QuoteExpiresAt = time.Now().UTC().Add(-time.Minute)
	stores.invoices.invoices[testInvoiceID] = invoice
	stores.cursor.cursor = &entity.ChainCursor{LastHeight: 200, LastBlockHash: "hash-200"}

	sweeper := NewSweeper(&stubChainClient{tipHeight: 200}, NewReconcileService(2, 100), tx, 100)
	if err := sweeper.RunSweepBatch(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	poller := newPollerForTest(&stubChainClient{tipHeight: 201}, tx, PollerConfig{})
	if err := poller.tick(context.Background()); err != nil {
		t.Fatalf("tick failed: %v", err)
	}

	if len(stores.webhooks.deliveries) != 1 {
		t.Fatalf("expected the poll loop to enqueue the expiry notification, got %d", len(stores.webhooks.deliveries))
	}
	for _, delivery := range stores.webhooks.deliveries {
		if delivery.EventType != entity.WebhookEventInvoiceExpired {
			t.Fatalf("expected %q event, got %q", entity.WebhookEventInvoiceExpired, delivery.EventType)
		}
	}
}

func TestRunSweepBatchExpiresByChainHeight(t *testing.T) {
	stores, _, tx := newTestStores()
	invoice := unpaidInvoice(testInvoiceID)
	invoice.QuoteExpiresAt = time.Now().UTC().Add(time.Hour)
	expiryHeight := uint64(150)
	invoice.ExpiryHeight = &expiryHeight
	stores.invoices.invoices[testInvoiceID] = invoice

	sweeper := NewSweeper(&stubChainClient{tipHeight: 150}, NewReconcileService(2, 100), tx, 100)
	if err := sweeper.RunSweepBatch(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	updated, _ := stores.invoices.FindByID(context.Background(), testInvoiceID)
	if updated.Status != entity.InvoiceStatusExpired {
		t.Fatalf("expected expired at tip >= expiry height, got %s", updated.Status)
	}
}

func TestRunSweepBatchTipFailureSweepsWallClockOnly(t *testing.T) {
	stores, _, tx := newTestStores()

	clockExpired := unpaidInvoice(testInvoiceID)
	clockExpired.QuoteExpiresAt = time.Now().UTC().Add(-time.Minute)
	stores.invoices.invoices[testInvoiceID] = clockExpired

	heightOnly := unpaidInvoice("9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08")
	heightOnly.QuoteExpiresAt = time.Now().UTC().Add(time.Hour)
	expiryHeight := uint64(150)
	heightOnly.ExpiryHeight = &expiryHeight
	stores.invoices.invoices[heightOnly.ID] = heightOnly

	sweeper := NewSweeper(&stubChainClient{tipErr: errors.New("ledger down")}, NewReconcileService(2, 100), tx, 100)
	if err := sweeper.RunSweepBatch(context.Background()); err != nil {
		t.Fatalf("sweep must survive tip failure: %v", err)
	}

	updated, _ := stores.invoices.FindByID(context.Background(), testInvoiceID)
	if updated.Status != entity.InvoiceStatusExpired {
		t.Fatalf("wall-clock expiry must still apply, got %s", updated.Status)
	}
	other, _ := stores.invoices.FindByID(context.Background(), heightOnly.ID)
	if other.Status != entity.InvoiceStatusUnpaid {
		t.Fatalf("height expiry must wait for a known tip, got %s", other.Status)
	}
}

func TestRunSweepBatchIsIdempotent(t *testing.T) {
	stores, _, tx := newTestStores()
	invoice := unpaidInvoice(testInvoiceID)
	invoice.QuoteExpiresAt = time.Now().UTC().Add(-time.Minute)
	stores.invoices.invoices[testInvoiceID] = invoice

	sweeper := NewSweeper(&stubChainClient{tipHeight: 200}, NewReconcileService(2, 100), tx, 100)
	if err := sweeper.RunSweepBatch(context.Background()); err != nil {
		t.Fatalf("first sweep failed: %v", err)
	}
	if err := sweeper.RunSweepBatch(context.Background()); err != nil {
		t.Fatalf("second sweep failed: %v", err)
	}

	if len(stores.applied.events) != 1 {
		t.Fatalf("expected one applied expiry, got %d", len(stores.applied.events))
	}
	if len(stores.webhooks.deliveries) != 0 {
		t.Fatalf("sweep must not enqueue deliveries itself, got %d", len(stores.webhooks.deliveries))
	}
}
