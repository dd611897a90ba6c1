package entity

import "time"

const (
	SubjectInvoice      = "invoice"
	SubjectSubscription = "subscription"
)

// AppliedEvent records one applied domain event. The (SubjectID, EventType,
// TxID) tuple is the idempotency key; re-reads of the same ledger event and
// reorg replays of the canonical fork dedupe against it. Confirmed flips once
// the event is buried deep enough behind the chain tip, Notified once the
// webhook delivery for it has been enqueued.
type AppliedEvent struct {
	ID uint64

	SubjectType string
	SubjectID   string

	EventType   string
	TxID        string
	BlockHeight uint64

	// AmountSats is the amount the event moved, kept so an orphaned event
	// can be unwound when its fork is abandoned.
	AmountSats int64

	Confirmed bool
	Notified  bool

	CreatedAt time.Time
}
