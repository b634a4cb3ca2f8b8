package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/eventosgt/fel-engine/internal/domain/entity"
	"github.com/eventosgt/fel-engine/internal/domain/repository"
)

var _ repository.InvoiceRepository = (*InvoiceRepo)(nil)

// InvoiceRepo implementación de InvoiceRepository (usable con pool o tx).
// Todas las consultas excluyen filas con soft delete.
type InvoiceRepo struct {
	q Querier
}

// NewInvoiceRepository construye el adaptador. Pasar pool o tx (Querier).
func NewInvoiceRepository(q Querier) *InvoiceRepo {
	return &InvoiceRepo{q: q}
}

const invoiceColumns = `
	id, uuid, registration_id, status, document_type, series, number,
	buyer_nit, buyer_name, buyer_address,
	subtotal, tax_rate, tax_amount, total, currency,
	authorization_number, authorization_date, retry_count, error_message,
	certified_at, sent_at, cancelled_at, expires_at,
	created_at, updated_at`

// Create persiste la cabecera de la factura y asigna ID y UUID.
func (r *InvoiceRepo) Create(ctx context.Context, invoice *entity.Invoice) error {
	if invoice.UUID == "" {
		invoice.UUID = uuid.New().String()
	}
	query := `
		INSERT INTO invoices (
			uuid, registration_id, status, document_type, series, number,
			buyer_nit, buyer_name, buyer_address,
			subtotal, tax_rate, tax_amount, total, currency,
			retry_count, error_message, expires_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING id`
	err := r.q.QueryRow(ctx, query,
		invoice.UUID, invoice.RegistrationID, invoice.Status, invoice.DocumentType,
		nullIfEmpty(invoice.Series), invoice.Number,
		invoice.BuyerNIT, invoice.BuyerName, invoice.BuyerAddress,
		invoice.Subtotal, invoice.TaxRate, invoice.TaxAmount, invoice.Total, invoice.Currency,
		invoice.RetryCount, nullIfEmpty(invoice.ErrorMessage), invoice.ExpiresAt,
		invoice.CreatedAt, invoice.UpdatedAt,
	).Scan(&invoice.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("la factura ya existe: %w", err)
		}
		return fmt.Errorf("insert invoice: %w", err)
	}
	return nil
}

// CreateItem persiste una línea de la factura.
func (r *InvoiceRepo) CreateItem(ctx context.Context, item *entity.InvoiceItem) error {
	query := `
		INSERT INTO invoice_items (invoice_id, description, quantity, unit_price, tax_rate, subtotal)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	err := r.q.QueryRow(ctx, query,
		item.InvoiceID, item.Description, item.Quantity, item.UnitPrice,
		item.TaxRate, item.Subtotal,
	).Scan(&item.ID)
	if err != nil {
		return fmt.Errorf("insert invoice item: %w", err)
	}
	return nil
}

// GetByID obtiene una factura por ID, o nil si no existe (o está borrada).
func (r *InvoiceRepo) GetByID(ctx context.Context, id int64) (*entity.Invoice, error) {
	query := `SELECT` + invoiceColumns + `
		FROM invoices WHERE id = $1 AND deleted_at IS NULL`
	inv, err := scanInvoice(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	return inv, nil
}

// GetItems devuelve las líneas de la factura en orden de inserción.
func (r *InvoiceRepo) GetItems(ctx context.Context, invoiceID int64) ([]*entity.InvoiceItem, error) {
	query := `
		SELECT id, invoice_id, description, quantity, unit_price, tax_rate, subtotal
		FROM invoice_items WHERE invoice_id = $1 ORDER BY id`
	rows, err := r.q.Query(ctx, query, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("get invoice items: %w", err)
	}
	defer rows.Close()

	var items []*entity.InvoiceItem
	for rows.Next() {
		var it entity.InvoiceItem
		if err := rows.Scan(&it.ID, &it.InvoiceID, &it.Description, &it.Quantity,
			&it.UnitPrice, &it.TaxRate, &it.Subtotal); err != nil {
			return nil, fmt.Errorf("scan invoice item: %w", err)
		}
		items = append(items, &it)
	}
	return items, rows.Err()
}

// Update persiste todos los campos FEL mutables de la factura.
func (r *InvoiceRepo) Update(ctx context.Context, invoice *entity.Invoice) error {
	query := `
		UPDATE invoices
		SET status               = $2,
		    series               = COALESCE($3, series),
		    number               = $4,
		    authorization_number = COALESCE($5, authorization_number),
		    authorization_date   = COALESCE($6, authorization_date),
		    retry_count          = $7,
		    error_message        = $8,
		    certified_at         = COALESCE($9, certified_at),
		    sent_at              = COALESCE($10, sent_at),
		    cancelled_at         = COALESCE($11, cancelled_at),
		    updated_at           = $12
		WHERE id = $1 AND deleted_at IS NULL`
	_, err := r.q.Exec(ctx, query,
		invoice.ID,
		invoice.Status,
		nullIfEmpty(invoice.Series),
		invoice.Number,
		nullIfEmpty(invoice.AuthorizationNumber),
		invoice.AuthorizationDate,
		invoice.RetryCount,
		nullIfEmpty(invoice.ErrorMessage),
		invoice.CertifiedAt,
		invoice.SentAt,
		invoice.CancelledAt,
		invoice.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update invoice: %w", err)
	}
	return nil
}

// GetFelStatus devuelve solo los campos de estado FEL (ligero, para polling).
func (r *InvoiceRepo) GetFelStatus(ctx context.Context, id int64) (*entity.Invoice, error) {
	query := `
		SELECT id, uuid, status, series, number, authorization_number,
		       retry_count, error_message, certified_at, updated_at
		FROM invoices WHERE id = $1 AND deleted_at IS NULL`
	var inv entity.Invoice
	var series, authNumber, errMsg *string
	err := r.q.QueryRow(ctx, query, id).Scan(
		&inv.ID, &inv.UUID, &inv.Status, &series, &inv.Number, &authNumber,
		&inv.RetryCount, &errMsg, &inv.CertifiedAt, &inv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get invoice fel status: %w", err)
	}
	inv.Series = deref(series)
	inv.AuthorizationNumber = deref(authNumber)
	inv.ErrorMessage = deref(errMsg)
	return &inv, nil
}

// ListExpiring devuelve facturas en estado no terminal con expires_at < before.
func (r *InvoiceRepo) ListExpiring(ctx context.Context, before time.Time, limit int) ([]*entity.Invoice, error) {
	query := `SELECT` + invoiceColumns + `
		FROM invoices
		WHERE deleted_at IS NULL
		  AND status NOT IN ('cancelled', 'expired')
		  AND expires_at IS NOT NULL AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2`
	rows, err := r.q.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list expiring invoices: %w", err)
	}
	defer rows.Close()

	var out []*entity.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expiring invoice: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// SoftDelete marca deleted_at; la fila nunca se borra físicamente.
func (r *InvoiceRepo) SoftDelete(ctx context.Context, id int64, at time.Time) error {
	_, err := r.q.Exec(ctx,
		`UPDATE invoices SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`,
		id, at)
	if err != nil {
		return fmt.Errorf("soft delete invoice: %w", err)
	}
	return nil
}

// scanInvoice escanea una fila con invoiceColumns.
func scanInvoice(row pgx.Row) (*entity.Invoice, error) {
	var inv entity.Invoice
	var series, authNumber, errMsg *string
	err := row.Scan(
		&inv.ID, &inv.UUID, &inv.RegistrationID, &inv.Status, &inv.DocumentType,
		&series, &inv.Number,
		&inv.BuyerNIT, &inv.BuyerName, &inv.BuyerAddress,
		&inv.Subtotal, &inv.TaxRate, &inv.TaxAmount, &inv.Total, &inv.Currency,
		&authNumber, &inv.AuthorizationDate, &inv.RetryCount, &errMsg,
		&inv.CertifiedAt, &inv.SentAt, &inv.CancelledAt, &inv.ExpiresAt,
		&inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	inv.Series = deref(series)
	inv.AuthorizationNumber = deref(authNumber)
	inv.ErrorMessage = deref(errMsg)
	return &inv, nil
}
