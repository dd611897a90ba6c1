package entity

import "time"

type Subscription struct {
	ID      string
	StoreID string

	MerchantRef string
	Subscriber  string

	AmountSats     int64
	IntervalBlocks uint64

	Active bool

	LastBilledAt     *time.Time
	LastBilledHeight uint64
	NextDueHeight    uint64

	CreatedAt time.Time
	UpdatedAt time.Time
}
