package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/eventosgt/fel-engine/internal/domain/entity"
	"github.com/eventosgt/fel-engine/internal/domain/repository"
)

var _ repository.FelAuditRepository = (*FelAuditRepo)(nil)

// FelAuditRepo implementación append-only de FelAuditRepository.
type FelAuditRepo struct {
	q Querier
}

// NewFelAuditRepository construye el adaptador. Pasar pool o tx (Querier).
func NewFelAuditRepository(q Querier) *FelAuditRepo {
	return &FelAuditRepo{q: q}
}

// Append inserta una fila de bitácora.
func (r *FelAuditRepo) Append(ctx context.Context, log *entity.FelAuditLog) error {
	query := `
		INSERT INTO fel_audit_logs (
			invoice_id, fel_document_id, operation_type, result,
			request_data, response_data, error_message, processing_time_ms, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`
	err := r.q.QueryRow(ctx, query,
		log.InvoiceID, log.FelDocumentID, log.OperationType, log.Result,
		nullIfEmpty(log.RequestData), nullIfEmpty(log.ResponseData), nullIfEmpty(log.ErrorMessage),
		log.ProcessingTimeMs, log.CreatedAt,
	).Scan(&log.ID)
	if err != nil {
		return fmt.Errorf("insert fel audit log: %w", err)
	}
	return nil
}

// ListByInvoice devuelve la bitácora de una factura, lo más reciente primero.
func (r *FelAuditRepo) ListByInvoice(ctx context.Context, invoiceID int64, limit int) ([]*entity.FelAuditLog, error) {
	query := `
		SELECT id, invoice_id, fel_document_id, operation_type, result,
		       request_data, response_data, error_message, processing_time_ms, created_at
		FROM fel_audit_logs
		WHERE invoice_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
	rows, err := r.q.Query(ctx, query, invoiceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list fel audit logs: %w", err)
	}
	defer rows.Close()

	var out []*entity.FelAuditLog
	for rows.Next() {
		var a entity.FelAuditLog
		var reqData, respData, errMsg *string
		if err := rows.Scan(
			&a.ID, &a.InvoiceID, &a.FelDocumentID, &a.OperationType, &a.Result,
			&reqData, &respData, &errMsg, &a.ProcessingTimeMs, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan fel audit log: %w", err)
		}
		a.RequestData = deref(reqData)
		a.ResponseData = deref(respData)
		a.ErrorMessage = deref(errMsg)
		out = append(out, &a)
	}
	return out, rows.Err()
}

// PurgeOlderThan elimina filas anteriores al corte (horizonte de 5 años).
func (r *FelAuditRepo) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM fel_audit_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge fel audit logs: %w", err)
	}
	return tag.RowsAffected(), nil
}
