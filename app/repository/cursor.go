package repository

import (
	"context"
	"database/sql"

	"github.com/vibast-solutions/ms-go-chainpay/app/entity"
)

// ChainCursorRepository persists the single process-wide cursor row. The row
// is keyed by a fixed id so load/save always address the same record.
type ChainCursorRepository struct {
	db DBTX
}

func NewChainCursorRepository(db DBTX) *ChainCursorRepository {
	return &ChainCursorRepository{db: db}
}

func (r *ChainCursorRepository) WithTx(tx DBTX) *ChainCursorRepository {
	return &ChainCursorRepository{db: tx}
}

// Load returns the stored cursor, or nil when the service has never polled.
func (r *ChainCursorRepository) Load(ctx context.Context) (*entity.ChainCursor, error) {
	query := `
		SELECT last_height, last_tx_id, last_block_hash, updated_at
		FROM chain_cursor
		WHERE id = 1
	`

	cursor := &entity.ChainCursor{}
	err := r.db.QueryRowContext(ctx, query).Scan(
		&cursor.LastHeight,
		&cursor.LastTxID,
		&cursor.LastBlockHash,
		&cursor.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return cursor, nil
}

func (r *ChainCursorRepository) Save(ctx context.Context, cursor *entity.ChainCursor) error {
	query := `
		INSERT INTO chain_cursor (id, last_height, last_tx_id, last_block_hash, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			last_height = VALUES(last_height),
			last_tx_id = VALUES(last_tx_id),
			last_block_hash = VALUES(last_block_hash),
			updated_at = VALUES(updated_at)
	`

	_, err := r.db.ExecContext(ctx, query,
		cursor.LastHeight,
		cursor.LastTxID,
		cursor.LastBlockHash,
		cursor.UpdatedAt,
	)
	return err
}
