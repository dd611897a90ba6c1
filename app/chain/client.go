package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrTransientFetch marks ledger API failures that are safe to retry on the
// next tick without mutating any local state.
var ErrTransientFetch = errors.New("transient ledger fetch error")

// RawEvent is one ledger log entry as reported by the chain API. The payload
// shape is opaque here; the classifier decodes it.
type RawEvent struct {
	BlockHeight uint64          `json:"block_height"`
	BlockHash   string          `json:"block_hash"`
	ParentHash  string          `json:"parent_hash"`
	TxID        string          `json:"tx_id"`
	EventType   string          `json:"event_type"`
	Data        json.RawMessage `json:"data"`
}

// EventsPage is one finite poll result: all events strictly after the cursor
// position, in order, plus the tip height observed when the page was built.
type EventsPage struct {
	TipHeight uint64     `json:"tip_height"`
	Events    []RawEvent `json:"events"`
}

type Client interface {
	Events(ctx context.Context, sinceHeight uint64, sinceTxID string) (*EventsPage, error)
	Tip(ctx context.Context) (uint64, error)
}

type HTTPClientConfig struct {
	BaseURL     string
	HTTPTimeout time.Duration
	BatchLimit  int32
}

type HTTPClient struct {
	cfg    HTTPClientConfig
	client *http.Client
}

func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 500
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")

	return &HTTPClient{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Events(ctx context.Context, sinceHeight uint64, sinceTxID string) (*EventsPage, error) {
	if c.cfg.BaseURL == "" {
		return nil, errors.New("chain api base url is not configured")
	}

	values := url.Values{}
	values.Set("since_height", strconv.FormatUint(sinceHeight, 10))
	if strings.TrimSpace(sinceTxID) != "" {
		values.Set("since_tx_id", strings.TrimSpace(sinceTxID))
	}
	values.Set("limit", strconv.FormatInt(int64(c.cfg.BatchLimit), 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/v1/events?"+values.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransientFetch, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrTransientFetch, err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: ledger api status=%d", ErrTransientFetch, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("ledger api request rejected: status=%d body=%s", resp.StatusCode, truncateBody(body))
	}

	var page EventsPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("decode events page: %w", err)
	}

	return &page, nil
}

func (c *HTTPClient) Tip(ctx context.Context) (uint64, error) {
	if c.cfg.BaseURL == "" {
		return 0, errors.New("chain api base url is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/v1/tip", nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTransientFetch, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("%w: read body: %v", ErrTransientFetch, err)
	}
	if resp.StatusCode >= 500 {
		return 0, fmt.Errorf("%w: ledger api status=%d", ErrTransientFetch, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return 0, fmt.Errorf("ledger api request rejected: status=%d body=%s", resp.StatusCode, truncateBody(body))
	}

	var payload struct {
		TipHeight uint64 `json:"tip_height"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("decode tip: %w", err)
	}

	return payload.TipHeight, nil
}

func truncateBody(body []byte) string {
	const max = 512
	if len(body) <= max {
		return string(body)
	}
	return string(body[:max])
}
