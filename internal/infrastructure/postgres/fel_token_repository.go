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

var _ repository.FelTokenRepository = (*FelTokenRepo)(nil)

// FelTokenRepo implementación de FelTokenRepository (usable con pool o tx).
type FelTokenRepo struct {
	q Querier
}

// NewFelTokenRepository construye el adaptador. Pasar pool o tx (Querier).
func NewFelTokenRepository(q Querier) *FelTokenRepo {
	return &FelTokenRepo{q: q}
}

// Create persiste un token nuevo.
func (r *FelTokenRepo) Create(ctx context.Context, token *entity.FelToken) error {
	query := `
		INSERT INTO fel_tokens (certifier_name, access_token, refresh_token, status, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`
	err := r.q.QueryRow(ctx, query,
		token.CertifierName, token.AccessToken, nullIfEmpty(token.RefreshToken),
		token.Status, token.ExpiresAt, token.CreatedAt, token.UpdatedAt,
	).Scan(&token.ID)
	if err != nil {
		return fmt.Errorf("insert fel token: %w", err)
	}
	return nil
}

// Update persiste el estado del token.
func (r *FelTokenRepo) Update(ctx context.Context, token *entity.FelToken) error {
	_, err := r.q.Exec(ctx,
		`UPDATE fel_tokens SET status = $2, expires_at = $3, updated_at = $4 WHERE id = $1`,
		token.ID, token.Status, token.ExpiresAt, token.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update fel token: %w", err)
	}
	return nil
}

// GetActive devuelve el token activo más reciente del certificador, o nil.
func (r *FelTokenRepo) GetActive(ctx context.Context, certifierName string) (*entity.FelToken, error) {
	query := `
		SELECT id, certifier_name, access_token, refresh_token, status, expires_at, created_at, updated_at
		FROM fel_tokens
		WHERE certifier_name = $1 AND status = 'active'
		ORDER BY expires_at DESC
		LIMIT 1`
	var tk entity.FelToken
	var refresh *string
	err := r.q.QueryRow(ctx, query, certifierName).Scan(
		&tk.ID, &tk.CertifierName, &tk.AccessToken, &refresh,
		&tk.Status, &tk.ExpiresAt, &tk.CreatedAt, &tk.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get active fel token: %w", err)
	}
	tk.RefreshToken = deref(refresh)
	return &tk, nil
}

// ExpireActiveBefore marca como expired todo token active ya vencido.
func (r *FelTokenRepo) ExpireActiveBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.q.Exec(ctx,
		`UPDATE fel_tokens SET status = 'expired', updated_at = now() WHERE status = 'active' AND expires_at < $1`,
		before)
	if err != nil {
		return 0, fmt.Errorf("expire fel tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
