package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/eventosgt/fel-engine/internal/domain/entity"
	"github.com/eventosgt/fel-engine/internal/domain/repository"
)

var _ repository.FelErrorRepository = (*FelErrorRepo)(nil)

// FelErrorRepo implementación de FelErrorRepository (usable con pool o tx).
type FelErrorRepo struct {
	q Querier
}

// NewFelErrorRepository construye el adaptador. Pasar pool o tx (Querier).
func NewFelErrorRepository(q Querier) *FelErrorRepo {
	return &FelErrorRepo{q: q}
}

const felErrorColumns = `
	id, invoice_id, fel_document_id, operation_type, severity,
	error_code, error_message, retry_count, max_retries,
	resolved, resolved_at, created_at, updated_at`

// Create persiste el error y asigna su ID.
func (r *FelErrorRepo) Create(ctx context.Context, felErr *entity.FelError) error {
	query := `
		INSERT INTO fel_errors (
			invoice_id, fel_document_id, operation_type, severity,
			error_code, error_message, retry_count, max_retries,
			resolved, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`
	err := r.q.QueryRow(ctx, query,
		felErr.InvoiceID, felErr.FelDocumentID, felErr.OperationType, felErr.Severity,
		nullIfEmpty(felErr.ErrorCode), felErr.ErrorMessage, felErr.RetryCount, felErr.MaxRetries,
		felErr.Resolved, felErr.CreatedAt, felErr.UpdatedAt,
	).Scan(&felErr.ID)
	if err != nil {
		return fmt.Errorf("insert fel error: %w", err)
	}
	return nil
}

// GetByID obtiene el error por ID, o nil si no existe.
func (r *FelErrorRepo) GetByID(ctx context.Context, id int64) (*entity.FelError, error) {
	query := `SELECT` + felErrorColumns + ` FROM fel_errors WHERE id = $1`
	fe, err := scanFelError(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get fel error: %w", err)
	}
	return fe, nil
}

// Update persiste la resolución del error.
func (r *FelErrorRepo) Update(ctx context.Context, felErr *entity.FelError) error {
	query := `
		UPDATE fel_errors
		SET severity    = $2,
		    retry_count = $3,
		    resolved    = $4,
		    resolved_at = $5,
		    updated_at  = $6
		WHERE id = $1`
	_, err := r.q.Exec(ctx, query,
		felErr.ID, felErr.Severity, felErr.RetryCount,
		felErr.Resolved, felErr.ResolvedAt, felErr.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update fel error: %w", err)
	}
	return nil
}

// ListUnresolved devuelve los errores sin resolver, los más graves primero.
func (r *FelErrorRepo) ListUnresolved(ctx context.Context, limit, offset int) ([]*entity.FelError, error) {
	query := `SELECT` + felErrorColumns + `
		FROM fel_errors
		WHERE NOT resolved
		ORDER BY CASE severity
		         WHEN 'critical' THEN 0
		         WHEN 'high' THEN 1
		         WHEN 'medium' THEN 2
		         ELSE 3 END,
		         created_at DESC
		LIMIT $1 OFFSET $2`
	rows, err := r.q.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list unresolved fel errors: %w", err)
	}
	defer rows.Close()

	var out []*entity.FelError
	for rows.Next() {
		fe, err := scanFelError(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fel error: %w", err)
		}
		out = append(out, fe)
	}
	return out, rows.Err()
}

// ResolveByDocument cierra los errores pendientes del documento.
func (r *FelErrorRepo) ResolveByDocument(ctx context.Context, felDocumentID int64) error {
	_, err := r.q.Exec(ctx, `
		UPDATE fel_errors
		SET resolved = true, resolved_at = now(), updated_at = now()
		WHERE fel_document_id = $1 AND NOT resolved`,
		felDocumentID)
	if err != nil {
		return fmt.Errorf("resolve fel errors by document: %w", err)
	}
	return nil
}

func scanFelError(row pgx.Row) (*entity.FelError, error) {
	var fe entity.FelError
	var errCode *string
	err := row.Scan(
		&fe.ID, &fe.InvoiceID, &fe.FelDocumentID, &fe.OperationType, &fe.Severity,
		&errCode, &fe.ErrorMessage, &fe.RetryCount, &fe.MaxRetries,
		&fe.Resolved, &fe.ResolvedAt, &fe.CreatedAt, &fe.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	fe.ErrorCode = deref(errCode)
	return &fe, nil
}
