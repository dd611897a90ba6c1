package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vibast-solutions/ms-go-chainpay/app/chain"
)

// ErrInvalidEventPayload marks ledger log entries whose shape cannot be
// decoded into the closed event set. Callers skip and log them; they are
// never coerced into a best-effort event.
var ErrInvalidEventPayload = errors.New("invalid event payload")

const (
	EventInvoicePaid          = "invoice-paid"
	EventInvoiceRefunded      = "invoice-refunded"
	EventInvoiceCanceled      = "invoice-canceled"
	EventSubscriptionCharged  = "subscription-charged"
	EventSubscriptionCanceled = "subscription-canceled"

	// EventInvoiceExpired is synthesized locally by the expiry sweeper. The
	// ledger never emits it, so it carries no tx id.
	EventInvoiceExpired = "invoice-expired"
)

// Event is one decoded domain event. InvoiceID or SubscriptionID is set
// depending on the event type; a subscription charge may carry both when the
// charge settled an invoice minted for the billing cycle.
type Event struct {
	Type string

	InvoiceID      string
	SubscriptionID string

	TxID        string
	BlockHeight uint64
	BlockHash   string

	Payer      string
	AmountSats int64
}

type Classifier struct{}

func New() *Classifier {
	return &Classifier{}
}

// Classify decodes a raw ledger log entry into a typed domain event.
func (c *Classifier) Classify(raw chain.RawEvent) (*Event, error) {
	txID := strings.TrimSpace(raw.TxID)
	if txID == "" || raw.BlockHeight == 0 {
		return nil, fmt.Errorf("%w: missing tx id or block height", ErrInvalidEventPayload)
	}

	switch raw.EventType {
	case EventInvoicePaid:
		var data struct {
			InvoiceID  string `json:"invoice_id"`
			Payer      string `json:"payer"`
			AmountSats int64  `json:"amount_sats"`
		}
		if err := json.Unmarshal(raw.Data, &data); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidEventPayload, raw.EventType, err)
		}
		if !validInvoiceID(data.InvoiceID) || data.AmountSats <= 0 {
			return nil, fmt.Errorf("%w: %s: bad invoice id or amount", ErrInvalidEventPayload, raw.EventType)
		}
		return &Event{
			Type:        EventInvoicePaid,
			InvoiceID:   data.InvoiceID,
			TxID:        txID,
			BlockHeight: raw.BlockHeight,
			BlockHash:   raw.BlockHash,
			Payer:       strings.TrimSpace(data.Payer),
			AmountSats:  data.AmountSats,
		}, nil

	case EventInvoiceRefunded:
		var data struct {
			InvoiceID  string `json:"invoice_id"`
			AmountSats int64  `json:"amount_sats"`
		}
		if err := json.Unmarshal(raw.Data, &data); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidEventPayload, raw.EventType, err)
		}
		if !validInvoiceID(data.InvoiceID) || data.AmountSats <= 0 {
			return nil, fmt.Errorf("%w: %s: bad invoice id or amount", ErrInvalidEventPayload, raw.EventType)
		}
		return &Event{
			Type:        EventInvoiceRefunded,
			InvoiceID:   data.InvoiceID,
			TxID:        txID,
			BlockHeight: raw.BlockHeight,
			BlockHash:   raw.BlockHash,
			AmountSats:  data.AmountSats,
		}, nil

	case EventInvoiceCanceled:
		var data struct {
			InvoiceID string `json:"invoice_id"`
		}
		if err := json.Unmarshal(raw.Data, &data); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidEventPayload, raw.EventType, err)
		}
		if !validInvoiceID(data.InvoiceID) {
			return nil, fmt.Errorf("%w: %s: bad invoice id", ErrInvalidEventPayload, raw.EventType)
		}
		return &Event{
			Type:        EventInvoiceCanceled,
			InvoiceID:   data.InvoiceID,
			TxID:        txID,
			BlockHeight: raw.BlockHeight,
			BlockHash:   raw.BlockHash,
		}, nil

	case EventSubscriptionCharged:
		var data struct {
			SubscriptionID string `json:"subscription_id"`
			Payer          string `json:"payer"`
			AmountSats     int64  `json:"amount_sats"`
			InvoiceID      string `json:"invoice_id"`
		}
		if err := json.Unmarshal(raw.Data, &data); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidEventPayload, raw.EventType, err)
		}
		if strings.TrimSpace(data.SubscriptionID) == "" || data.AmountSats <= 0 {
			return nil, fmt.Errorf("%w: %s: bad subscription id or amount", ErrInvalidEventPayload, raw.EventType)
		}
		return &Event{
			Type:           EventSubscriptionCharged,
			SubscriptionID: strings.TrimSpace(data.SubscriptionID),
			InvoiceID:      strings.TrimSpace(data.InvoiceID),
			TxID:           txID,
			BlockHeight:    raw.BlockHeight,
			BlockHash:      raw.BlockHash,
			Payer:          strings.TrimSpace(data.Payer),
			AmountSats:     data.AmountSats,
		}, nil

	case EventSubscriptionCanceled:
		var data struct {
			SubscriptionID string `json:"subscription_id"`
		}
		if err := json.Unmarshal(raw.Data, &data); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidEventPayload, raw.EventType, err)
		}
		if strings.TrimSpace(data.SubscriptionID) == "" {
			return nil, fmt.Errorf("%w: %s: bad subscription id", ErrInvalidEventPayload, raw.EventType)
		}
		return &Event{
			Type:           EventSubscriptionCanceled,
			SubscriptionID: strings.TrimSpace(data.SubscriptionID),
			TxID:           txID,
			BlockHeight:    raw.BlockHeight,
			BlockHash:      raw.BlockHash,
		}, nil

	default:
		return nil, fmt.Errorf("%w: unknown event type %q", ErrInvalidEventPayload, raw.EventType)
	}
}

// Invoice ids are 32 bytes, rendered as 64 lowercase hex characters.
func validInvoiceID(id string) bool {
	if len(id) != 64 {
		return false
	}
	for _, r := range id {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
