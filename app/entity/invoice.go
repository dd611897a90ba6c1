package entity

import "time"

const (
	InvoiceStatusUnpaid            = "unpaid"
	InvoiceStatusPaid              = "paid"
	InvoiceStatusPartiallyRefunded = "partially_refunded"
	InvoiceStatusRefunded          = "refunded"
	InvoiceStatusCanceled          = "canceled"
	InvoiceStatusExpired           = "expired"
)

type Invoice struct {
	ID      string
	StoreID string

	MerchantRef string
	AmountSats  int64

	Status string

	Payer *string
	TxID  *string

	RefundedSats int64

	SubscriptionID *string

	QuoteExpiresAt time.Time
	ExpiryHeight   *uint64

	LastProcessedHeight uint64

	CreatedAt time.Time
	UpdatedAt time.Time
}
