package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/eventosgt/fel-engine/internal/domain/entity"
	"github.com/eventosgt/fel-engine/internal/domain/repository"
)

var _ repository.FelDocumentRepository = (*FelDocumentRepo)(nil)

// FelDocumentRepo implementación de FelDocumentRepository (usable con pool o tx).
type FelDocumentRepo struct {
	q Querier
}

// NewFelDocumentRepository construye el adaptador. Pasar pool o tx (Querier).
func NewFelDocumentRepository(q Querier) *FelDocumentRepo {
	return &FelDocumentRepo{q: q}
}

const felDocumentColumns = `
	id, uuid, invoice_id, status, xml_content, certified_xml_content,
	authorization_number, authorization_date, series, number, qr_code,
	certificate_hash, error_code, error_message, retry_count,
	expires_at, certified_at, created_at, updated_at`

// Create persiste el documento y asigna su ID.
func (r *FelDocumentRepo) Create(ctx context.Context, doc *entity.FelDocument) error {
	query := `
		INSERT INTO fel_documents (
			uuid, invoice_id, status, xml_content, certificate_hash,
			retry_count, expires_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`
	err := r.q.QueryRow(ctx, query,
		doc.UUID, doc.InvoiceID, doc.Status, doc.XMLContent, doc.CertificateHash,
		doc.RetryCount, doc.ExpiresAt, doc.CreatedAt, doc.UpdatedAt,
	).Scan(&doc.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("la factura ya tiene documento: %w", err)
		}
		return fmt.Errorf("insert fel document: %w", err)
	}
	return nil
}

// GetByID obtiene el documento por ID, o nil si no existe.
func (r *FelDocumentRepo) GetByID(ctx context.Context, id int64) (*entity.FelDocument, error) {
	query := `SELECT` + felDocumentColumns + ` FROM fel_documents WHERE id = $1`
	doc, err := scanFelDocument(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get fel document: %w", err)
	}
	return doc, nil
}

// GetByInvoiceID obtiene el documento de una factura, o nil si no tiene.
func (r *FelDocumentRepo) GetByInvoiceID(ctx context.Context, invoiceID int64) (*entity.FelDocument, error) {
	query := `SELECT` + felDocumentColumns + `
		FROM fel_documents WHERE invoice_id = $1
		ORDER BY id DESC LIMIT 1`
	doc, err := scanFelDocument(r.q.QueryRow(ctx, query, invoiceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get fel document by invoice: %w", err)
	}
	return doc, nil
}

// Update persiste todos los campos mutables del documento.
func (r *FelDocumentRepo) Update(ctx context.Context, doc *entity.FelDocument) error {
	query := `
		UPDATE fel_documents
		SET status                = $2,
		    certified_xml_content = COALESCE($3, certified_xml_content),
		    authorization_number  = COALESCE($4, authorization_number),
		    authorization_date    = COALESCE($5, authorization_date),
		    series                = COALESCE($6, series),
		    number                = $7,
		    qr_code               = COALESCE($8, qr_code),
		    error_code            = $9,
		    error_message         = $10,
		    retry_count           = $11,
		    certified_at          = COALESCE($12, certified_at),
		    updated_at            = $13
		WHERE id = $1`
	_, err := r.q.Exec(ctx, query,
		doc.ID,
		doc.Status,
		nullIfEmpty(doc.CertifiedXMLContent),
		nullIfEmpty(doc.AuthorizationNumber),
		doc.AuthorizationDate,
		nullIfEmpty(doc.Series),
		doc.Number,
		nullIfEmpty(doc.QRCode),
		nullIfEmpty(doc.ErrorCode),
		nullIfEmpty(doc.ErrorMessage),
		doc.RetryCount,
		doc.CertifiedAt,
		doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update fel document: %w", err)
	}
	return nil
}

// UpdateStatusCAS intenta el cambio de estado from → to de forma atómica.
// Devuelve false si otro llamador ganó la carrera.
func (r *FelDocumentRepo) UpdateStatusCAS(ctx context.Context, id int64, from, to string) (bool, error) {
	tag, err := r.q.Exec(ctx,
		`UPDATE fel_documents SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`,
		id, from, to)
	if err != nil {
		return false, fmt.Errorf("cas fel document status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListStuckSent devuelve documentos varados en sent (candidatos a reconciliación).
func (r *FelDocumentRepo) ListStuckSent(ctx context.Context, before time.Time, limit int) ([]*entity.FelDocument, error) {
	query := `SELECT` + felDocumentColumns + `
		FROM fel_documents
		WHERE status = 'sent' AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2`
	return r.list(ctx, query, before, limit)
}

// ListExpiring devuelve documentos no terminales con expires_at < before.
func (r *FelDocumentRepo) ListExpiring(ctx context.Context, before time.Time, limit int) ([]*entity.FelDocument, error) {
	query := `SELECT` + felDocumentColumns + `
		FROM fel_documents
		WHERE status NOT IN ('certified', 'cancelled', 'expired')
		  AND expires_at IS NOT NULL AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2`
	return r.list(ctx, query, before, limit)
}

func (r *FelDocumentRepo) list(ctx context.Context, query string, args ...any) ([]*entity.FelDocument, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list fel documents: %w", err)
	}
	defer rows.Close()

	var out []*entity.FelDocument
	for rows.Next() {
		doc, err := scanFelDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fel document: %w", err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func scanFelDocument(row pgx.Row) (*entity.FelDocument, error) {
	var doc entity.FelDocument
	var certifiedXML, authNumber, series, qr, errCode, errMsg *string
	err := row.Scan(
		&doc.ID, &doc.UUID, &doc.InvoiceID, &doc.Status,
		&doc.XMLContent, &certifiedXML,
		&authNumber, &doc.AuthorizationDate, &series, &doc.Number, &qr,
		&doc.CertificateHash, &errCode, &errMsg, &doc.RetryCount,
		&doc.ExpiresAt, &doc.CertifiedAt, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	doc.CertifiedXMLContent = deref(certifiedXML)
	doc.AuthorizationNumber = deref(authNumber)
	doc.Series = deref(series)
	doc.QRCode = deref(qr)
	doc.ErrorCode = deref(errCode)
	doc.ErrorMessage = deref(errMsg)
	return &doc, nil
}
