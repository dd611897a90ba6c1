package entity

import "time"

// ChainCursor is the single durable pointer marking how far the poller has
// consumed the ledger event sequence. It is mutated only by the poller, and
// only after a batch has been fully committed.
type ChainCursor struct {
	LastHeight    uint64
	LastTxID      string
	LastBlockHash string

	UpdatedAt time.Time
}
