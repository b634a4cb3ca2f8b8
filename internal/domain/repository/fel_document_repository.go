package repository

import (
	"context"
	"time"

	"github.com/eventosgt/fel-engine/internal/domain/entity"
)

// FelDocumentRepository define el puerto de persistencia para FelDocument.
type FelDocumentRepository interface {
	Create(ctx context.Context, doc *entity.FelDocument) error
	GetByID(ctx context.Context, id int64) (*entity.FelDocument, error)
	GetByInvoiceID(ctx context.Context, invoiceID int64) (*entity.FelDocument, error)
	Update(ctx context.Context, doc *entity.FelDocument) error
	// UpdateStatusCAS intenta el cambio de estado from → to de forma atómica
	// (compare-and-set sobre la columna status). Devuelve false si otro
	// llamador ganó la carrera; en ese caso no hubo efecto alguno.
	UpdateStatusCAS(ctx context.Context, id int64, from, to string) (bool, error)
	// ListStuckSent devuelve documentos en "sent" cuya última actualización
	// es anterior a before (candidatos a reconciliación tras un crash).
	ListStuckSent(ctx context.Context, before time.Time, limit int) ([]*entity.FelDocument, error)
	// ListExpiring devuelve documentos no terminales con expires_at < before.
	ListExpiring(ctx context.Context, before time.Time, limit int) ([]*entity.FelDocument, error)
}
