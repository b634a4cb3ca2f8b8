package entity

import "time"

// Estados del token de autenticación ante el certificador.
const (
	TokenStatusActive     = "active"
	TokenStatusExpired    = "expired"
	TokenStatusRevoked    = "revoked"
	TokenStatusRefreshing = "refreshing"
)

// TokenRefreshWindow margen antes del vencimiento en el que el token debe
// renovarse proactivamente.
const TokenRefreshWindow = 5 * time.Minute

// FelToken es la credencial bearer cacheada para un certificador.
// A lo sumo un token active por certificador (lo garantiza el TokenStore,
// no un constraint de unicidad).
type FelToken struct {
	ID            int64
	CertifierName string
	AccessToken   string
	RefreshToken  string // vacío si el certificador no emite refresh token
	Status        string
	ExpiresAt     time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsExpired indica si el token ya venció.
func (t *FelToken) IsExpired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// NeedsRefresh indica si al token le queda menos vida que la ventana de
// renovación (5 min) o ya no está activo.
func (t *FelToken) NeedsRefresh(now time.Time) bool {
	if t.Status != TokenStatusActive {
		return true
	}
	return t.ExpiresAt.Sub(now) < TokenRefreshWindow
}
