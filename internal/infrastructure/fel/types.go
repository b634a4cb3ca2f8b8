// Package fel implementa la integración con el certificador FEL autorizado
// por SAT: autenticación con token bearer, certificación de DTE, consulta
// de estado y anulación; más el ensamblador del XML GT_Documento.
package fel

import (
	"context"
	"time"
)

// ── Puerto (interfaz) ──────────────────────────────────────────────────────────

// AuthResult credencial emitida por el certificador.
type AuthResult struct {
	AccessToken  string
	RefreshToken string        // vacío si el certificador no emite refresh
	ExpiresIn    time.Duration // vida útil reportada
}

// CertifyResult resultado de la entrega de un DTE al certificador.
// Un rechazo bien formado (4xx con código de error del certificador) es un
// resultado normal, no un error de transporte: Accepted=false con
// ErrorCode/ErrorMessage poblados.
type CertifyResult struct {
	Accepted bool

	AuthorizationNumber string // UUID asignado por SAT al autorizar
	AuthorizationDate   time.Time
	Series              string
	Number              int64
	CertifiedXML        string
	QRCode              string

	ErrorCode    string
	ErrorMessage string

	Raw string // respuesta cruda, para la bitácora de auditoría
}

// Estados remotos normalizados que reporta QueryStatus.
const (
	RemoteStatusCertified = "certified"
	RemoteStatusRejected  = "rejected"
	RemoteStatusCancelled = "cancelled"
	RemoteStatusInProcess = "in_process"
	RemoteStatusUnknown   = "unknown" // el certificador no tiene registro del documento
)

// StatusResult estado de un documento según el certificador (idempotente,
// usado en reconciliación).
type StatusResult struct {
	Status string // RemoteStatus*

	AuthorizationNumber string
	AuthorizationDate   time.Time
	Series              string
	Number              int64
	CertifiedXML        string
	QRCode              string

	ErrorCode    string
	ErrorMessage string

	Raw string
}

// Certifier define el puerto de salida hacia el certificador FEL.
// La implementación concreta usa su API REST; para tests se inyecta un mock.
type Certifier interface {
	// Certify envía el DTE (XML sin certificar) y devuelve la autorización
	// o el rechazo. reference es el UUID interno del documento, usado como
	// clave de idempotencia y para consultas posteriores. Error solo ante
	// fallas de transporte o de credenciales.
	Certify(ctx context.Context, reference, xmlContent string) (*CertifyResult, error)
	// QueryStatus consulta el estado del documento. reference es el número
	// de autorización si ya existe, o el UUID interno del documento.
	QueryStatus(ctx context.Context, reference string) (*StatusResult, error)
	// Cancel anula un documento certificado. La ventana legal de 30 días la
	// valida la máquina de estados, no el cliente.
	Cancel(ctx context.Context, authorizationNumber, reason string) error
}

// TokenProvider entrega un token bearer vigente, renovándolo si hace falta.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
	// Invalidate descarta el token cacheado tras un rechazo de credencial
	// reportado por el certificador.
	Invalidate(ctx context.Context)
}
