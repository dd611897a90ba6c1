package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vibast-solutions/ms-go-chainpay/app/entity"
)

var (
	ErrInvoiceNotFound      = errors.New("invoice not found")
	ErrInvoiceAlreadyExists = errors.New("invoice already exists")
)

const invoiceColumns = `
	id, store_id, merchant_ref, amount_sats, status, payer, tx_id,
	refunded_sats, subscription_id, quote_expires_at, expiry_height,
	last_processed_height, created_at, updated_at
`

type InvoiceRepository struct {
	db DBTX
}

func NewInvoiceRepository(db DBTX) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

func (r *InvoiceRepository) WithTx(tx DBTX) *InvoiceRepository {
	return &InvoiceRepository{db: tx}
}

func (r *InvoiceRepository) Create(ctx context.Context, invoice *entity.Invoice) error {
	query := `
		INSERT INTO invoices (` + invoiceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		invoice.ID,
		invoice.StoreID,
		invoice.MerchantRef,
		invoice.AmountSats,
		invoice.Status,
		nullableStringValue(invoice.Payer),
		nullableStringValue(invoice.TxID),
		invoice.RefundedSats,
		nullableStringValue(invoice.SubscriptionID),
		invoice.QuoteExpiresAt,
		nullableUint64Value(invoice.ExpiryHeight),
		invoice.LastProcessedHeight,
		invoice.CreatedAt,
		invoice.UpdatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrInvoiceAlreadyExists
		}
		return err
	}

	return nil
}

func (r *InvoiceRepository) Update(ctx context.Context, invoice *entity.Invoice) error {
	query := `
		UPDATE invoices SET
			status = ?,
			payer = ?,
			tx_id = ?,
			refunded_sats = ?,
			last_processed_height = ?,
			updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		invoice.Status,
		nullableStringValue(invoice.Payer),
		nullableStringValue(invoice.TxID),
		invoice.RefundedSats,
		invoice.LastProcessedHeight,
		invoice.UpdatedAt,
		invoice.ID,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrInvoiceNotFound
	}

	return nil
}

func (r *InvoiceRepository) FindByID(ctx context.Context, id string) (*entity.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = ?`

	invoice := &entity.Invoice{}
	if err := scanInvoice(r.db.QueryRowContext(ctx, query, id), invoice); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return invoice, nil
}

// ListUnpaidExpirable returns unpaid invoices whose wall-clock quote expiry
// has passed, or which carry a chain-height expiry at or below tipHeight.
func (r *InvoiceRepository) ListUnpaidExpirable(ctx context.Context, now time.Time, tipHeight uint64, limit int32) ([]*entity.Invoice, error) {
	query := `
		SELECT ` + invoiceColumns + `
		FROM invoices
		WHERE status = ?
		  AND (quote_expires_at <= ? OR (expiry_height IS NOT NULL AND expiry_height <= ?))
		ORDER BY quote_expires_at ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, entity.InvoiceStatusUnpaid, now, tipHeight, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invoices := make([]*entity.Invoice, 0)
	for rows.Next() {
		item := &entity.Invoice{}
		if err := scanInvoice(rows, item); err != nil {
			return nil, err
		}
		invoices = append(invoices, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return invoices, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInvoice(scan rowScanner, invoice *entity.Invoice) error {
	var payer sql.NullString
	var txID sql.NullString
	var subscriptionID sql.NullString
	var expiryHeight sql.NullInt64

	err := scan.Scan(
		&invoice.ID,
		&invoice.StoreID,
		&invoice.MerchantRef,
		&invoice.AmountSats,
		&invoice.Status,
		&payer,
		&txID,
		&invoice.RefundedSats,
		&subscriptionID,
		&invoice.QuoteExpiresAt,
		&expiryHeight,
		&invoice.LastProcessedHeight,
		&invoice.CreatedAt,
		&invoice.UpdatedAt,
	)
	if err != nil {
		return err
	}

	invoice.Payer = stringPtrFromNull(payer)
	invoice.TxID = stringPtrFromNull(txID)
	invoice.SubscriptionID = stringPtrFromNull(subscriptionID)
	invoice.ExpiryHeight = uint64PtrFromNull(expiryHeight)

	return nil
}
