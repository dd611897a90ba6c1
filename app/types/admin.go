package types

import (
	"errors"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

type HealthResponse struct {
	Status string `json:"status"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type PollerStatusResponse struct {
	Running    bool   `json:"running"`
	LastRunAt  string `json:"last_run_at"`
	LastHeight uint64 `json:"last_height"`
	LastTxID   string `json:"last_tx_id"`
	LagBlocks  uint64 `json:"lag_blocks"`
}

type WebhookDeliveryResponse struct {
	ID             string `json:"id"`
	StoreID        string `json:"store_id"`
	InvoiceID      string `json:"invoice_id,omitempty"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	EventType      string `json:"event_type"`
	Payload        string `json:"payload"`
	Status         string `json:"status"`
	Attempts       int32  `json:"attempts"`
	LastStatusCode int32  `json:"last_status_code,omitempty"`
	LastError      string `json:"last_error,omitempty"`
	NextAttemptAt  string `json:"next_attempt_at,omitempty"`
	LastAttemptAt  string `json:"last_attempt_at,omitempty"`
	ReplayOf       string `json:"replay_of,omitempty"`
	CreatedAt      string `json:"created_at"`
}

type ListWebhookDeliveriesResponse struct {
	Deliveries []*WebhookDeliveryResponse `json:"deliveries"`
}

type WebhookAttemptResponse struct {
	AttemptNo  int32  `json:"attempt_no"`
	StatusCode int32  `json:"status_code,omitempty"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	CreatedAt  string `json:"created_at"`
}

type WebhookDeliveryDetailResponse struct {
	Delivery *WebhookDeliveryResponse  `json:"delivery"`
	Attempts []*WebhookAttemptResponse `json:"attempts"`
}

type ListWebhookDeliveriesRequest struct {
	StoreID    string
	HasSuccess bool
	Success    bool
	Limit      int32
	Offset     int32
}

func NewListWebhookDeliveriesRequestFromContext(ctx echo.Context) (*ListWebhookDeliveriesRequest, error) {
	req := &ListWebhookDeliveriesRequest{
		StoreID: strings.TrimSpace(ctx.QueryParam("store_id")),
		Limit:   100,
		Offset:  0,
	}

	successRaw := strings.TrimSpace(strings.ToLower(ctx.QueryParam("success")))
	if successRaw != "" {
		success, err := strconv.ParseBool(successRaw)
		if err != nil {
			return nil, errors.New("invalid success filter")
		}
		req.HasSuccess = true
		req.Success = success
	}

	if limitRaw := strings.TrimSpace(ctx.QueryParam("limit")); limitRaw != "" {
		limit, err := strconv.ParseInt(limitRaw, 10, 32)
		if err != nil {
			return nil, err
		}
		req.Limit = int32(limit)
	}

	if offsetRaw := strings.TrimSpace(ctx.QueryParam("offset")); offsetRaw != "" {
		offset, err := strconv.ParseInt(offsetRaw, 10, 32)
		if err != nil {
			return nil, err
		}
		req.Offset = int32(offset)
	}

	return req, nil
}

func (r *ListWebhookDeliveriesRequest) Validate() error {
	if r.Limit <= 0 || r.Limit > 1000 {
		return errors.New("limit must be between 1 and 1000")
	}
	if r.Offset < 0 {
		return errors.New("offset must be >= 0")
	}
	return nil
}

type WebhookDeliveryIDRequest struct {
	ID string
}

func NewWebhookDeliveryIDRequestFromContext(ctx echo.Context) (*WebhookDeliveryIDRequest, error) {
	return &WebhookDeliveryIDRequest{ID: strings.TrimSpace(ctx.Param("id"))}, nil
}

func (r *WebhookDeliveryIDRequest) Validate() error {
	if r.ID == "" {
		return errors.New("delivery id is required")
	}
	return nil
}
