package service

import (
	"context"
	"sort"
	"time"

	"github.com/vibast-solutions/ms-go-chainpay/app/chain"
	"github.com/vibast-solutions/ms-go-chainpay/app/entity"
	"github.com/vibast-solutions/ms-go-chainpay/app/repository"
)

type memInvoiceRepo struct {
	invoices map[string]*entity.Invoice
}

func newMemInvoiceRepo() *memInvoiceRepo {
	return &memInvoiceRepo{invoices: map[string]*entity.Invoice{}}
}

func (r *memInvoiceRepo) Create(_ context.Context, invoice *entity.Invoice) error {
	if _, ok := r.invoices[invoice.ID]; ok {
		return repository.ErrInvoiceAlreadyExists
	}
	copyItem := *invoice
	r.invoices[invoice.ID] = &copyItem
	return nil
}

func (r *memInvoiceRepo) Update(_ context.Context, invoice *entity.Invoice) error {
	if _, ok := r.invoices[invoice.ID]; !ok {
		return repository.ErrInvoiceNotFound
	}
	copyItem := *invoice
	r.invoices[invoice.ID] = &copyItem
	return nil
}

func (r *memInvoiceRepo) FindByID(_ context.Context, id string) (*entity.Invoice, error) {
	item, ok := r.invoices[id]
	if !ok {
		return nil, nil
	}
	copyItem := *item
	return &copyItem, nil
}

func (r *memInvoiceRepo) ListUnpaidExpirable(_ context.Context, now time.Time, tipHeight uint64, limit int32) ([]*entity.Invoice, error) {
	items := make([]*entity.Invoice, 0)
	for _, item := range r.invoices {
		if item.Status != entity.InvoiceStatusUnpaid {
			continue
		}
		byClock := !item.QuoteExpiresAt.After(now)
		byHeight := item.ExpiryHeight != nil && *item.ExpiryHeight <= tipHeight
		if !byClock && !byHeight {
			continue
		}
		copyItem := *item
		items = append(items, &copyItem)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].QuoteExpiresAt.Before(items[j].QuoteExpiresAt) })
	if limit > 0 && int(limit) < len(items) {
		items = items[:limit]
	}
	return items, nil
}

type memSubscriptionRepo struct {
	subscriptions map[string]*entity.Subscription
}

func newMemSubscriptionRepo() *memSubscriptionRepo {
	return &memSubscriptionRepo{subscriptions: map[string]*entity.Subscription{}}
}

func (r *memSubscriptionRepo) FindByID(_ context.Context, id string) (*entity.Subscription, error) {
	item, ok := r.subscriptions[id]
	if !ok {
		return nil, nil
	}
	copyItem := *item
	return &copyItem, nil
}

func (r *memSubscriptionRepo) Update(_ context.Context, sub *entity.Subscription) error {
	if _, ok := r.subscriptions[sub.ID]; !ok {
		return repository.ErrSubscriptionNotFound
	}
	copyItem := *sub
	r.subscriptions[sub.ID] = &copyItem
	return nil
}

type memAppliedRepo struct {
	events []*entity.AppliedEvent
	nextID uint64
}

func newMemAppliedRepo() *memAppliedRepo {
	return &memAppliedRepo{nextID: 1}
}

func (r *memAppliedRepo) Create(_ context.Context, event *entity.AppliedEvent) error {
	for _, item := range r.events {
		if item.SubjectID == event.SubjectID && item.EventType == event.EventType && item.TxID == event.TxID {
			return repository.ErrEventAlreadyApplied
		}
	}
	copyItem := *event
	copyItem.ID = r.nextID
	r.nextID++
	r.events = append(r.events, &copyItem)
	event.ID = copyItem.ID
	return nil
}

func (r *memAppliedRepo) Exists(_ context.Context, subjectID, eventType, txID string) (bool, error) {
	for _, item := range r.events {
		if item.SubjectID == subjectID && item.EventType == eventType && item.TxID == txID {
			return true, nil
		}
	}
	return false, nil
}

func (r *memAppliedRepo) HasStagedAtOrAbove(_ context.Context, subjectID string, height uint64) (bool, error) {
	for _, item := range r.events {
		if item.SubjectID == subjectID && !item.Confirmed && item.BlockHeight >= height {
			return true, nil
		}
	}
	return false, nil
}

func (r *memAppliedRepo) ListConfirmable(_ context.Context, maxHeight uint64, limit int32) ([]*entity.AppliedEvent, error) {
	items := make([]*entity.AppliedEvent, 0)
	for _, item := range r.events {
		if !item.Notified && item.BlockHeight <= maxHeight {
			copyItem := *item
			items = append(items, &copyItem)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].BlockHeight != items[j].BlockHeight {
			return items[i].BlockHeight < items[j].BlockHeight
		}
		return items[i].ID < items[j].ID
	})
	if limit > 0 && int(limit) < len(items) {
		items = items[:limit]
	}
	return items, nil
}

func (r *memAppliedRepo) ListUnconfirmedAbove(_ context.Context, height uint64) ([]*entity.AppliedEvent, error) {
	items := make([]*entity.AppliedEvent, 0)
	for _, item := range r.events {
		if !item.Confirmed && item.BlockHeight > height {
			copyItem := *item
			items = append(items, &copyItem)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].BlockHeight != items[j].BlockHeight {
			return items[i].BlockHeight > items[j].BlockHeight
		}
		return items[i].ID > items[j].ID
	})
	return items, nil
}

func (r *memAppliedRepo) Delete(_ context.Context, id uint64) error {
	kept := r.events[:0]
	for _, item := range r.events {
		if item.ID != id {
			kept = append(kept, item)
		}
	}
	r.events = kept
	return nil
}

func (r *memAppliedRepo) MarkConfirmedAndNotified(_ context.Context, id uint64) error {
	for _, item := range r.events {
		if item.ID == id {
			item.Confirmed = true
			item.Notified = true
		}
	}
	return nil
}

type memWebhookRepo struct {
	deliveries map[string]*entity.WebhookDelivery
	attempts   []*entity.WebhookAttempt
	nextID     uint64
}

func newMemWebhookRepo() *memWebhookRepo {
	return &memWebhookRepo{deliveries: map[string]*entity.WebhookDelivery{}, nextID: 1}
}

func (r *memWebhookRepo) Create(_ context.Context, delivery *entity.WebhookDelivery) error {
	copyItem := *delivery
	r.deliveries[delivery.ID] = &copyItem
	return nil
}

func (r *memWebhookRepo) Update(_ context.Context, delivery *entity.WebhookDelivery) error {
	if _, ok := r.deliveries[delivery.ID]; !ok {
		return repository.ErrWebhookDeliveryNotFound
	}
	copyItem := *delivery
	r.deliveries[delivery.ID] = &copyItem
	return nil
}

func (r *memWebhookRepo) FindByID(_ context.Context, id string) (*entity.WebhookDelivery, error) {
	item, ok := r.deliveries[id]
	if !ok {
		return nil, nil
	}
	copyItem := *item
	return &copyItem, nil
}

func (r *memWebhookRepo) ListDue(_ context.Context, now time.Time, limit int32) ([]*entity.WebhookDelivery, error) {
	items := make([]*entity.WebhookDelivery, 0)
	for _, item := range r.deliveries {
		if item.Status == entity.WebhookDeliveryPending && item.NextAttemptAt != nil && !item.NextAttemptAt.After(now) {
			copyItem := *item
			items = append(items, &copyItem)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].NextAttemptAt.Before(*items[j].NextAttemptAt) })
	if limit > 0 && int(limit) < len(items) {
		items = items[:limit]
	}
	return items, nil
}

func (r *memWebhookRepo) List(_ context.Context, filter repository.WebhookDeliveryFilter) ([]*entity.WebhookDelivery, error) {
	items := make([]*entity.WebhookDelivery, 0)
	for _, item := range r.deliveries {
		if filter.StoreID != "" && item.StoreID != filter.StoreID {
			continue
		}
		if filter.HasSuccess {
			success := item.Status == entity.WebhookDeliverySuccess
			if success != filter.Success {
				continue
			}
		}
		copyItem := *item
		items = append(items, &copyItem)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	start := int(filter.Offset)
	if start > len(items) {
		return []*entity.WebhookDelivery{}, nil
	}
	items = items[start:]
	if filter.Limit > 0 && int(filter.Limit) < len(items) {
		items = items[:filter.Limit]
	}
	return items, nil
}

func (r *memWebhookRepo) AppendAttempt(_ context.Context, attempt *entity.WebhookAttempt) error {
	copyItem := *attempt
	copyItem.ID = r.nextID
	r.nextID++
	r.attempts = append(r.attempts, &copyItem)
	attempt.ID = copyItem.ID
	return nil
}

func (r *memWebhookRepo) ListAttempts(_ context.Context, deliveryID string) ([]*entity.WebhookAttempt, error) {
	items := make([]*entity.WebhookAttempt, 0)
	for _, item := range r.attempts {
		if item.DeliveryID == deliveryID {
			copyItem := *item
			items = append(items, &copyItem)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].AttemptNo < items[j].AttemptNo })
	return items, nil
}

func (r *memWebhookRepo) attemptsFor(deliveryID string) []*entity.WebhookAttempt {
	items, _ := r.ListAttempts(context.Background(), deliveryID)
	return items
}

type memCursorRepo struct {
	cursor *entity.ChainCursor
}

func (r *memCursorRepo) Load(_ context.Context) (*entity.ChainCursor, error) {
	if r.cursor == nil {
		return nil, nil
	}
	copyItem := *r.cursor
	return &copyItem, nil
}

func (r *memCursorRepo) Save(_ context.Context, cursor *entity.ChainCursor) error {
	copyItem := *cursor
	r.cursor = &copyItem
	return nil
}

type memStoreDirectory struct {
	stores map[string]*repository.Store
}

func newMemStoreDirectory() *memStoreDirectory {
	return &memStoreDirectory{stores: map[string]*repository.Store{}}
}

func (r *memStoreDirectory) FindByID(_ context.Context, id string) (*repository.Store, error) {
	item, ok := r.stores[id]
	if !ok {
		return nil, nil
	}
	copyItem := *item
	return &copyItem, nil
}

// memTxRunner runs the callback directly against the shared in-memory stores;
// rollback semantics are not simulated.
type memTxRunner struct {
	stores *TxStores
}

func (r *memTxRunner) InTx(ctx context.Context, fn func(ctx context.Context, s *TxStores) error) error {
	return fn(ctx, r.stores)
}

type testStores struct {
	invoices      *memInvoiceRepo
	subscriptions *memSubscriptionRepo
	applied       *memAppliedRepo
	webhooks      *memWebhookRepo
	cursor        *memCursorRepo
}

func newTestStores() (*testStores, *TxStores, *memTxRunner) {
	stores := &testStores{
		invoices:      newMemInvoiceRepo(),
		subscriptions: newMemSubscriptionRepo(),
		applied:       newMemAppliedRepo(),
		webhooks:      newMemWebhookRepo(),
		cursor:        &memCursorRepo{},
	}
	tx := &TxStores{
		Invoices:      stores.invoices,
		Subscriptions: stores.subscriptions,
		Applied:       stores.applied,
		Webhooks:      stores.webhooks,
		Cursor:        stores.cursor,
	}
	return stores, tx, &memTxRunner{stores: tx}
}

// stubChainClient replays queued pages in order, repeating the final page when
// the queue runs dry.
type stubChainClient struct {
	pages     []*chain.EventsPage
	err       error
	tipHeight uint64
	tipErr    error
	calls     int
}

func (c *stubChainClient) Events(_ context.Context, _ uint64, _ string) (*chain.EventsPage, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	if len(c.pages) == 0 {
		return &chain.EventsPage{TipHeight: c.tipHeight}, nil
	}
	page := c.pages[0]
	if len(c.pages) > 1 {
		c.pages = c.pages[1:]
	}
	return page, nil
}

func (c *stubChainClient) Tip(_ context.Context) (uint64, error) {
	if c.tipErr != nil {
		return 0, c.tipErr
	}
	return c.tipHeight, nil
}
