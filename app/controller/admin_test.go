package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/vibast-solutions/ms-go-chainpay/app/chain"
	"github.com/vibast-solutions/ms-go-chainpay/app/classifier"
	"github.com/vibast-solutions/ms-go-chainpay/app/entity"
	"github.com/vibast-solutions/ms-go-chainpay/app/repository"
	"github.com/vibast-solutions/ms-go-chainpay/app/service"
	"github.com/vibast-solutions/ms-go-chainpay/app/types"
)

type controllerWebhookRepo struct {
	deliveries map[string]*entity.WebhookDelivery
	attempts   []*entity.WebhookAttempt
}

func newControllerWebhookRepo() *controllerWebhookRepo {
	return &controllerWebhookRepo{deliveries: map[string]*entity.WebhookDelivery{}}
}

func (r *controllerWebhookRepo) Create(_ context.Context, delivery *entity.WebhookDelivery) error {
	copyItem := *delivery
	r.deliveries[delivery.ID] = &copyItem
	return nil
}

func (r *controllerWebhookRepo) Update(_ context.Context, delivery *entity.WebhookDelivery) error {
	copyItem := *delivery
	r.deliveries[delivery.ID] = &copyItem
	return nil
}

func (r *controllerWebhookRepo) FindByID(_ context.Context, id string) (*entity.WebhookDelivery, error) {
	item, ok := r.deliveries[id]
	if !ok {
		return nil, nil
	}
	copyItem := *item
	return &copyItem, nil
}

func (r *controllerWebhookRepo) ListDue(_ context.Context, _ time.Time, _ int32) ([]*entity.WebhookDelivery, error) {
	return nil, nil
}

func (r *controllerWebhookRepo) List(_ context.Context, filter repository.WebhookDeliveryFilter) ([]*entity.WebhookDelivery, error) {
	items := make([]*entity.WebhookDelivery, 0)
	for _, item := range r.deliveries {
		if filter.StoreID != "" && item.StoreID != filter.StoreID {
			continue
		}
		copyItem := *item
		items = append(items, &copyItem)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (r *controllerWebhookRepo) AppendAttempt(_ context.Context, attempt *entity.WebhookAttempt) error {
	copyItem := *attempt
	r.attempts = append(r.attempts, &copyItem)
	return nil
}

func (r *controllerWebhookRepo) ListAttempts(_ context.Context, deliveryID string) ([]*entity.WebhookAttempt, error) {
	items := make([]*entity.WebhookAttempt, 0)
	for _, item := range r.attempts {
		if item.DeliveryID == deliveryID {
			copyItem := *item
			items = append(items, &copyItem)
		}
	}
	return items, nil
}

type controllerStoreDirectory struct{}

func (controllerStoreDirectory) FindByID(_ context.Context, _ string) (*repository.Store, error) {
	return nil, nil
}

type controllerChainClient struct{}

func (controllerChainClient) Events(_ context.Context, _ uint64, _ string) (*chain.EventsPage, error) {
	return &chain.EventsPage{}, nil
}

func (controllerChainClient) Tip(_ context.Context) (uint64, error) {
	return 0, nil
}

type controllerTxRunner struct{}

func (controllerTxRunner) InTx(ctx context.Context, fn func(ctx context.Context, s *service.TxStores) error) error {
	return fn(ctx, &service.TxStores{})
}

func newAdminControllerForTest(webhooks *controllerWebhookRepo) *AdminController {
	poller := service.NewPoller(
		controllerChainClient{},
		classifier.New(),
		service.NewReconcileService(2, 100),
		controllerTxRunner{},
		service.PollerConfig{},
	)
	dispatcher := service.NewDispatcher(webhooks, controllerStoreDirectory{}, service.DispatcherConfig{})
	return NewAdminController(poller, dispatcher)
}

func invokeHandler(t *testing.T, handler echo.HandlerFunc, req *http.Request, paramNames, paramValues []string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	ctx := echo.New().NewContext(req, rec)
	if len(paramNames) > 0 {
		ctx.SetParamNames(paramNames...)
		ctx.SetParamValues(paramValues...)
	}
	if err := handler(ctx); err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	return rec
}

func TestHealthReturnsOK(t *testing.T) {
	c := newAdminControllerForTest(newControllerWebhookRepo())
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := invokeHandler(t, c.Health, req, nil, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp types.HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if resp.Status != "ok" {
		t.Fatalf("expected ok, got %s", resp.Status)
	}
}

func TestPollerStatusSnapshot(t *testing.T) {
	c := newAdminControllerForTest(newControllerWebhookRepo())
	req := httptest.NewRequest(http.MethodGet, "/admin/poller/status", nil)
	rec := invokeHandler(t, c.PollerStatus, req, nil, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp types.PollerStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if resp.Running {
		t.Fatal("poller was never started, running must be false")
	}
}

func TestRestartPollerAcknowledges(t *testing.T) {
	c := newAdminControllerForTest(newControllerWebhookRepo())
	req := httptest.NewRequest(http.MethodPost, "/admin/poller/restart", nil)
	rec := invokeHandler(t, c.RestartPoller, req, nil, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestListWebhookDeliveriesRejectsBadLimit(t *testing.T) {
	c := newAdminControllerForTest(newControllerWebhookRepo())
	req := httptest.NewRequest(http.MethodGet, "/admin/webhooks/deliveries?limit=0", nil)
	rec := invokeHandler(t, c.ListWebhookDeliveries, req, nil, nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for limit=0, got %d", rec.Code)
	}
}

func TestListWebhookDeliveriesFiltersByStore(t *testing.T) {
	webhooks := newControllerWebhookRepo()
	now := time.Now().UTC()
	_ = webhooks.Create(context.Background(), &entity.WebhookDelivery{
		ID: "dlv-1", StoreID: "store-1", EventType: "paid", Status: entity.WebhookDeliverySuccess, CreatedAt: now, UpdatedAt: now,
	})
	_ = webhooks.Create(context.Background(), &entity.WebhookDelivery{
		ID: "dlv-2", StoreID: "store-2", EventType: "paid", Status: entity.WebhookDeliveryPending, CreatedAt: now, UpdatedAt: now,
	})

	c := newAdminControllerForTest(webhooks)
	req := httptest.NewRequest(http.MethodGet, "/admin/webhooks/deliveries?store_id=store-1", nil)
	rec := invokeHandler(t, c.ListWebhookDeliveries, req, nil, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp types.ListWebhookDeliveriesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if len(resp.Deliveries) != 1 || resp.Deliveries[0].ID != "dlv-1" {
		t.Fatalf("unexpected deliveries: %+v", resp.Deliveries)
	}
	if resp.Deliveries[0].Status != "success" {
		t.Fatalf("expected success label, got %s", resp.Deliveries[0].Status)
	}
}

func TestGetWebhookDeliveryNotFound(t *testing.T) {
	c := newAdminControllerForTest(newControllerWebhookRepo())
	req := httptest.NewRequest(http.MethodGet, "/admin/webhooks/deliveries/missing", nil)
	rec := invokeHandler(t, c.GetWebhookDelivery, req, []string{"id"}, []string{"missing"})

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetWebhookDeliveryReturnsAttemptHistory(t *testing.T) {
	webhooks := newControllerWebhookRepo()
	now := time.Now().UTC()
	statusCode := int32(500)
	_ = webhooks.Create(context.Background(), &entity.WebhookDelivery{
		ID: "dlv-1", StoreID: "store-1", EventType: "paid", Status: entity.WebhookDeliveryPending, Attempts: 1, CreatedAt: now, UpdatedAt: now,
	})
	_ = webhooks.AppendAttempt(context.Background(), &entity.WebhookAttempt{
		DeliveryID: "dlv-1", AttemptNo: 1, StatusCode: &statusCode, Success: false, CreatedAt: now,
	})

	c := newAdminControllerForTest(webhooks)
	req := httptest.NewRequest(http.MethodGet, "/admin/webhooks/deliveries/dlv-1", nil)
	rec := invokeHandler(t, c.GetWebhookDelivery, req, []string{"id"}, []string{"dlv-1"})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp types.WebhookDeliveryDetailResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if resp.Delivery == nil || resp.Delivery.ID != "dlv-1" {
		t.Fatalf("expected delivery in response, got %+v", resp.Delivery)
	}
	if len(resp.Attempts) != 1 || resp.Attempts[0].StatusCode != 500 {
		t.Fatalf("expected attempt history, got %+v", resp.Attempts)
	}
}

func TestRetryWebhookDeliveryCreatesReplay(t *testing.T) {
	webhooks := newControllerWebhookRepo()
	now := time.Now().UTC()
	_ = webhooks.Create(context.Background(), &entity.WebhookDelivery{
		ID: "dlv-1", StoreID: "store-1", EventType: "paid", PayloadJSON: `{"event":"paid"}`,
		Status: entity.WebhookDeliveryFailed, Attempts: 3, CreatedAt: now, UpdatedAt: now,
	})

	c := newAdminControllerForTest(webhooks)
	req := httptest.NewRequest(http.MethodPost, "/admin/webhooks/deliveries/dlv-1/retry", nil)
	rec := invokeHandler(t, c.RetryWebhookDelivery, req, []string{"id"}, []string{"dlv-1"})

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var resp types.WebhookDeliveryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if resp.ReplayOf != "dlv-1" {
		t.Fatalf("expected replay_of dlv-1, got %q", resp.ReplayOf)
	}
	if resp.Status != "pending" {
		t.Fatalf("expected pending replay, got %s", resp.Status)
	}
	if len(webhooks.deliveries) != 2 {
		t.Fatalf("expected replay row stored, got %d rows", len(webhooks.deliveries))
	}
}

func TestRetryWebhookDeliveryNotFound(t *testing.T) {
	c := newAdminControllerForTest(newControllerWebhookRepo())
	req := httptest.NewRequest(http.MethodPost, "/admin/webhooks/deliveries/missing/retry", nil)
	rec := invokeHandler(t, c.RetryWebhookDelivery, req, []string{"id"}, []string{"missing"})

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
