package entity

import "time"

const (
	WebhookDeliveryPending int32 = 1
	WebhookDeliverySuccess int32 = 10
	WebhookDeliveryFailed  int32 = 20
)

const (
	WebhookEventInvoicePaid       = "paid"
	WebhookEventInvoiceRefunded   = "refunded"
	WebhookEventInvoiceExpired    = "invoice-expired"
	WebhookEventInvoiceCanceled   = "invoice-canceled"
	WebhookEventSubscription      = "subscription"
	WebhookEventSubscriptionEnded = "subscription-ended"
)

// WebhookDelivery is one notification job: enqueued once per confirmed
// transition, retried until success or the attempt budget is exhausted.
// Rows are never deleted; a manual replay creates a new row.
type WebhookDelivery struct {
	ID      string
	StoreID string

	InvoiceID      *string
	SubscriptionID *string

	EventType   string
	PayloadJSON string

	Status         int32
	Attempts       int32
	LastStatusCode *int32
	LastError      *string
	NextAttemptAt  *time.Time
	LastAttemptAt  *time.Time

	ReplayOf *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// WebhookAttempt is the append-only audit record for a single delivery
// attempt, successful or not.
type WebhookAttempt struct {
	ID         uint64
	DeliveryID string

	AttemptNo  int32
	StatusCode *int32
	Success    bool
	Error      *string

	CreatedAt time.Time
}
