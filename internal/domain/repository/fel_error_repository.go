package repository

import (
	"context"

	"github.com/eventosgt/fel-engine/internal/domain/entity"
)

// FelErrorRepository define el puerto de persistencia para la cola de
// errores sin resolver (triage de operadores).
type FelErrorRepository interface {
	Create(ctx context.Context, felErr *entity.FelError) error
	GetByID(ctx context.Context, id int64) (*entity.FelError, error)
	Update(ctx context.Context, felErr *entity.FelError) error
	ListUnresolved(ctx context.Context, limit, offset int) ([]*entity.FelError, error)
	// ResolveByDocument marca como resueltos los errores pendientes del
	// documento (un reintento posterior exitoso los cierra).
	ResolveByDocument(ctx context.Context, felDocumentID int64) error
}
