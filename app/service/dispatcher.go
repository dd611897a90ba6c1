package service

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-chainpay/app/entity"
	"github.com/vibast-solutions/ms-go-chainpay/app/factory"
	"github.com/vibast-solutions/ms-go-chainpay/app/repository"
)

const (
	headerTimestamp = "X-Chainpay-Timestamp"
	headerSignature = "X-Chainpay-Signature"
	headerEvent     = "X-Chainpay-Event"
	headerDelivery  = "X-Chainpay-Delivery"
)

type DispatcherConfig struct {
	MaxAttempts int32
	BackoffBase time.Duration
	HTTPTimeout time.Duration
	Workers     int
	BatchSize   int32
}

// Dispatcher delivers enqueued webhook jobs at-least-once: signed POSTs with
// exponential backoff, every attempt appended to the durable log. It is the
// sole owner of WebhookDelivery mutation. A slow merchant endpoint only
// occupies a worker, never the poll loop.
type Dispatcher struct {
	webhooks webhookDeliveryRepository
	stores   storeDirectory
	cfg      DispatcherConfig
	client   *http.Client
	logger   logrus.FieldLogger
	nowFunc  func() time.Time
}

func NewDispatcher(webhooks webhookDeliveryRepository, stores storeDirectory, cfg DispatcherConfig) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 30 * time.Second
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}

	return &Dispatcher{
		webhooks: webhooks,
		stores:   stores,
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.HTTPTimeout},
		logger:   factory.NewModuleLogger("dispatcher"),
		nowFunc:  func() time.Time { return time.Now().UTC() },
	}
}

// BackoffDelay is the deterministic retry schedule: base doubled per prior
// attempt, so attempts land at base, 2*base, 4*base, ...
func BackoffDelay(base time.Duration, attempt int32) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := int32(1); i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// RunDispatchBatch delivers all currently due jobs through a bounded worker
// pool and returns when the batch has drained.
func (d *Dispatcher) RunDispatchBatch(ctx context.Context) error {
	due, err := d.webhooks.ListDue(ctx, d.nowFunc(), d.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}

	jobs := make(chan *entity.WebhookDelivery)
	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for delivery := range jobs {
				if err := d.deliver(ctx, delivery); err != nil {
					d.logger.WithError(err).WithField("delivery_id", delivery.ID).Error("Delivery attempt bookkeeping failed")
				}
			}
		}()
	}

	for _, delivery := range due {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return ctx.Err()
		case jobs <- delivery:
		}
	}
	close(jobs)
	wg.Wait()

	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, delivery *entity.WebhookDelivery) error {
	store, err := d.stores.FindByID(ctx, delivery.StoreID)
	if err != nil {
		return err
	}
	if store == nil || !store.Active || strings.TrimSpace(store.WebhookURL) == "" {
		return d.recordAttempt(ctx, delivery, nil, ErrStoreInactive)
	}

	now := d.nowFunc()
	body := []byte(delivery.PayloadJSON)
	timestamp := now.Unix()
	signature := SignWebhookPayload(store.WebhookSecret, timestamp, body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, store.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return d.recordAttempt(ctx, delivery, nil, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerTimestamp, strconv.FormatInt(timestamp, 10))
	req.Header.Set(headerSignature, "v1="+signature)
	req.Header.Set(headerEvent, delivery.EventType)
	req.Header.Set(headerDelivery, delivery.ID)

	resp, err := d.client.Do(req)
	if err != nil {
		return d.recordAttempt(ctx, delivery, nil, err)
	}
	defer resp.Body.Close()

	statusCode := int32(resp.StatusCode)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return d.recordAttempt(ctx, delivery, &statusCode, fmt.Errorf("webhook endpoint returned status=%d", resp.StatusCode))
	}

	return d.recordAttempt(ctx, delivery, &statusCode, nil)
}

// recordAttempt appends the attempt to the audit log and updates the job:
// success finishes it, failure schedules the next attempt or marks the job
// terminally failed once the budget is spent.
func (d *Dispatcher) recordAttempt(ctx context.Context, delivery *entity.WebhookDelivery, statusCode *int32, attemptErr error) error {
	now := d.nowFunc()
	delivery.Attempts++
	delivery.LastStatusCode = statusCode
	delivery.LastAttemptAt = &now

	attempt := &entity.WebhookAttempt{
		DeliveryID: delivery.ID,
		AttemptNo:  delivery.Attempts,
		StatusCode: statusCode,
		Success:    attemptErr == nil,
		CreatedAt:  now,
	}

	if attemptErr == nil {
		delivery.Status = entity.WebhookDeliverySuccess
		delivery.NextAttemptAt = nil
		delivery.LastError = nil
	} else {
		errMsg := truncate(attemptErr.Error(), 1024)
		attempt.Error = &errMsg
		delivery.LastError = &errMsg

		if delivery.Attempts >= d.cfg.MaxAttempts {
			delivery.Status = entity.WebhookDeliveryFailed
			delivery.NextAttemptAt = nil
			d.logger.WithFields(logrus.Fields{
				"delivery_id": delivery.ID,
				"store_id":    delivery.StoreID,
				"attempts":    delivery.Attempts,
			}).Error("DeliveryFailure: retry budget exhausted")
		} else {
			next := now.Add(BackoffDelay(d.cfg.BackoffBase, delivery.Attempts))
			delivery.Status = entity.WebhookDeliveryPending
			delivery.NextAttemptAt = &next
		}
	}
	delivery.UpdatedAt = now

	if err := d.webhooks.AppendAttempt(ctx, attempt); err != nil {
		return err
	}
	return d.webhooks.Update(ctx, delivery)
}

// Replay creates a fresh delivery job from a historical log entry. The old
// entry is never mutated; replays are always recorded even if the merchant's
// replay cache ends up deduplicating the request.
func (d *Dispatcher) Replay(ctx context.Context, deliveryID string) (*entity.WebhookDelivery, error) {
	original, err := d.webhooks.FindByID(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	if original == nil {
		return nil, ErrDeliveryNotFound
	}

	now := d.nowFunc()
	replayOf := original.ID
	replay := &entity.WebhookDelivery{
		ID:             uuid.NewString(),
		StoreID:        original.StoreID,
		InvoiceID:      original.InvoiceID,
		SubscriptionID: original.SubscriptionID,
		EventType:      original.EventType,
		PayloadJSON:    original.PayloadJSON,
		Status:         entity.WebhookDeliveryPending,
		NextAttemptAt:  &now,
		ReplayOf:       &replayOf,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := d.webhooks.Create(ctx, replay); err != nil {
		return nil, err
	}

	return replay, nil
}

// ListDeliveries surfaces the durable log for the admin API.
func (d *Dispatcher) ListDeliveries(ctx context.Context, filter repository.WebhookDeliveryFilter) ([]*entity.WebhookDelivery, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	return d.webhooks.List(ctx, filter)
}

// GetDelivery returns one delivery with its append-only attempt history.
func (d *Dispatcher) GetDelivery(ctx context.Context, deliveryID string) (*entity.WebhookDelivery, []*entity.WebhookAttempt, error) {
	delivery, err := d.webhooks.FindByID(ctx, deliveryID)
	if err != nil {
		return nil, nil, err
	}
	if delivery == nil {
		return nil, nil, ErrDeliveryNotFound
	}
	attempts, err := d.webhooks.ListAttempts(ctx, deliveryID)
	if err != nil {
		return nil, nil, err
	}
	return delivery, attempts, nil
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}
