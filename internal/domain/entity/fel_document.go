package entity

import "time"

// Estados del documento certificable (DTE). Refleja un intento de
// certificación: generated → sent → {certified | rejected};
// rejected puede reintentarse (→ sent) de forma acotada;
// cancelled y expired son terminales desde cualquier estado.
const (
	DocumentStatusGenerated = "generated"
	DocumentStatusSent      = "sent"
	DocumentStatusCertified = "certified"
	DocumentStatusRejected  = "rejected"
	DocumentStatusCancelled = "cancelled"
	DocumentStatusExpired   = "expired"
)

// DocumentRetryCeiling tope duro de reintentos a nivel documento. Por encima
// la operación rechaza nuevos intentos con error de estado inválido.
const DocumentRetryCeiling = 10

// FelDocument es el artefacto XML certificable, uno a uno con el intento
// activo de una Invoice. Lo crea el ensamblador al pasar la factura a
// pending; solo lo muta la máquina de estados.
type FelDocument struct {
	ID        int64
	UUID      string
	InvoiceID int64

	Status string

	XMLContent          string // DTE sin certificar
	CertifiedXMLContent string // DTE autorizado por el certificador (vacío hasta certified)

	// AuthorizationNumber se asigna si y solo si Status == certified.
	AuthorizationNumber string
	AuthorizationDate   *time.Time
	Series              string
	Number              int64
	QRCode              string
	CertificateHash     string // SHA-256 del XML canónico (C14N)

	ErrorCode    string
	ErrorMessage string
	RetryCount   int

	ExpiresAt   *time.Time
	CertifiedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsExpired indica si el documento superó su fecha límite local.
func (d *FelDocument) IsExpired(now time.Time) bool {
	return d.ExpiresAt != nil && d.ExpiresAt.Before(now)
}

// IsTerminal indica si el documento alcanzó un estado final.
// rejected no es terminal: puede reintentarse mientras quede presupuesto.
func (d *FelDocument) IsTerminal() bool {
	switch d.Status {
	case DocumentStatusCertified, DocumentStatusCancelled, DocumentStatusExpired:
		return true
	}
	return false
}

// IsCertifiable indica si el documento admite un intento de certificación:
// estado generated, sent o rejected, no expirado y bajo el tope de reintentos.
func (d *FelDocument) IsCertifiable(now time.Time) bool {
	switch d.Status {
	case DocumentStatusGenerated, DocumentStatusSent, DocumentStatusRejected:
	default:
		return false
	}
	if d.IsExpired(now) {
		return false
	}
	return d.RetryCount < DocumentRetryCeiling
}

// ProcessingTime devuelve cuánto tardó el documento en certificarse,
// o cero si aún no está certificado.
func (d *FelDocument) ProcessingTime() time.Duration {
	if d.CertifiedAt == nil {
		return 0
	}
	return d.CertifiedAt.Sub(d.CreatedAt)
}
