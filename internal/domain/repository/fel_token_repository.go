package repository

import (
	"context"
	"time"

	"github.com/eventosgt/fel-engine/internal/domain/entity"
)

// FelTokenRepository define el puerto de persistencia para tokens del certificador.
type FelTokenRepository interface {
	Create(ctx context.Context, token *entity.FelToken) error
	Update(ctx context.Context, token *entity.FelToken) error
	// GetActive devuelve el token activo del certificador, o nil si no hay.
	GetActive(ctx context.Context, certifierName string) (*entity.FelToken, error)
	// ExpireActiveBefore marca como expired todo token active con
	// expires_at < before. Devuelve cuántos expiró.
	ExpireActiveBefore(ctx context.Context, before time.Time) (int64, error)
}
