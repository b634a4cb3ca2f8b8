package fel

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/eventosgt/fel-engine/internal/domain/entity"
	"github.com/eventosgt/fel-engine/internal/domain/repository"
	"github.com/eventosgt/fel-engine/pkg/clock"
	"github.com/eventosgt/fel-engine/pkg/logger"
)

// Authenticator intercambia credenciales por un token nuevo (AuthClient).
type Authenticator interface {
	Authenticate(ctx context.Context) (*AuthResult, error)
}

var _ TokenProvider = (*TokenStore)(nil)

// TokenStore mantiene el token bearer del certificador: lo cachea, lo
// persiste y lo renueva antes del vencimiento (ventana de 5 min). Las
// renovaciones concurrentes se coalescen en una sola llamada de red por
// certificador vía singleflight: todos los llamadores en espera reciben el
// resultado de esa única renovación.
type TokenStore struct {
	certifierName string
	auth          Authenticator
	repo          repository.FelTokenRepository
	clock         clock.Clock
	log           *logger.Logger

	group singleflight.Group

	mu     sync.Mutex
	cached *entity.FelToken
}

// NewTokenStore construye el almacén de tokens.
func NewTokenStore(certifierName string, auth Authenticator, repo repository.FelTokenRepository, clk clock.Clock, log *logger.Logger) *TokenStore {
	return &TokenStore{
		certifierName: certifierName,
		auth:          auth,
		repo:          repo,
		clock:         clk,
		log:           log,
	}
}

// Token devuelve un token vigente, renovando de forma transparente si al
// cacheado le queda menos vida que la ventana de renovación.
func (s *TokenStore) Token(ctx context.Context) (string, error) {
	now := s.clock.Now()

	s.mu.Lock()
	if s.cached != nil && !s.cached.NeedsRefresh(now) {
		token := s.cached.AccessToken
		s.mu.Unlock()
		return token, nil
	}
	s.mu.Unlock()

	// Una sola renovación en vuelo por certificador; el resto espera su resultado.
	v, err, _ := s.group.Do("token:"+s.certifierName, func() (interface{}, error) {
		return s.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// refresh recarga desde la DB (otro proceso pudo renovar) y si hace falta
// autentica de nuevo, expirando el token anterior.
func (s *TokenStore) refresh(ctx context.Context) (string, error) {
	now := s.clock.Now()

	stored, err := s.repo.GetActive(ctx, s.certifierName)
	if err != nil {
		return "", err
	}
	if stored != nil && !stored.NeedsRefresh(now) {
		s.setCached(stored)
		return stored.AccessToken, nil
	}

	if stored != nil {
		stored.Status = entity.TokenStatusRefreshing
		stored.UpdatedAt = now
		if err := s.repo.Update(ctx, stored); err != nil {
			s.log.Warn().Err(err).Msg("no se pudo marcar token como refreshing")
		}
	}

	result, err := s.auth.Authenticate(ctx)
	if err != nil {
		// Credencial rechazada: el token previo queda revocado.
		if stored != nil && IsAuthFailure(err) {
			stored.Status = entity.TokenStatusRevoked
			stored.UpdatedAt = s.clock.Now()
			if uerr := s.repo.Update(ctx, stored); uerr != nil {
				s.log.Warn().Err(uerr).Msg("no se pudo revocar token previo")
			}
		}
		return "", err
	}

	now = s.clock.Now()
	if stored != nil {
		stored.Status = entity.TokenStatusExpired
		stored.UpdatedAt = now
		if uerr := s.repo.Update(ctx, stored); uerr != nil {
			s.log.Warn().Err(uerr).Msg("no se pudo expirar token previo")
		}
	}

	fresh := &entity.FelToken{
		CertifierName: s.certifierName,
		AccessToken:   result.AccessToken,
		RefreshToken:  result.RefreshToken,
		Status:        entity.TokenStatusActive,
		ExpiresAt:     now.Add(result.ExpiresIn),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Create(ctx, fresh); err != nil {
		return "", err
	}
	s.setCached(fresh)

	s.log.Info().
		Str("certificador", s.certifierName).
		Time("expira", fresh.ExpiresAt).
		Msg("token del certificador renovado")
	return fresh.AccessToken, nil
}

// Invalidate descarta el token cacheado y lo marca revoked tras un rechazo
// de credencial reportado por el certificador.
func (s *TokenStore) Invalidate(ctx context.Context) {
	s.mu.Lock()
	cached := s.cached
	s.cached = nil
	s.mu.Unlock()

	if cached == nil {
		return
	}
	cached.Status = entity.TokenStatusRevoked
	cached.UpdatedAt = s.clock.Now()
	if err := s.repo.Update(ctx, cached); err != nil {
		s.log.Warn().Err(err).Msg("no se pudo revocar token invalidado")
	}
}

func (s *TokenStore) setCached(t *entity.FelToken) {
	s.mu.Lock()
	s.cached = t
	s.mu.Unlock()
}
