package repository

import (
	"context"
	"time"

	"github.com/eventosgt/fel-engine/internal/domain/entity"
)

// FelAuditRepository define el puerto append-only de la bitácora de auditoría.
// No hay Update ni Delete por fila: solo inserción y purga por retención.
type FelAuditRepository interface {
	Append(ctx context.Context, log *entity.FelAuditLog) error
	ListByInvoice(ctx context.Context, invoiceID int64, limit int) ([]*entity.FelAuditLog, error)
	// PurgeOlderThan elimina filas anteriores al corte (horizonte de 5 años).
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
