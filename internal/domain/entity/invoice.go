package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Estados FEL de la factura. Las transiciones son solo hacia adelante,
// excepto la anulación (cancelled) que es alcanzable desde cualquier estado
// no terminal y desde certified/sent dentro de la ventana legal.
const (
	InvoiceStatusDraft     = "draft"     // creada por el flujo de facturación, aún sin DTE
	InvoiceStatusPending   = "pending"   // DTE generado, certificación en curso
	InvoiceStatusCertified = "certified" // autorizada por el certificador
	InvoiceStatusSent      = "sent"      // entregada al comprador (correo/descarga)
	InvoiceStatusCancelled = "cancelled" // anulada ante SAT
	InvoiceStatusExpired   = "expired"   // venció sin certificarse
)

// CancelWindow ventana legal para anular una factura certificada.
const CancelWindow = 30 * 24 * time.Hour

// InvoiceMaxRetries reintentos de certificación a nivel factura antes de
// escalar a FelError (valor por defecto; configurable).
const InvoiceMaxRetries = 3

// Invoice es la solicitud de documento tributario ligada a una inscripción
// (registration) de la plataforma de eventos. Solo la muta la máquina de
// estados de certificación y la operación de anulación. Nunca se borra
// físicamente: soft delete vía DeletedAt.
type Invoice struct {
	ID             int64
	UUID           string
	RegistrationID string

	Status       string
	DocumentType string // pkg/fel.DocType*

	// Serie y número los asigna el certificador al autorizar; únicos en
	// conjunto e inmutables una vez asignados.
	Series string
	Number int64

	BuyerNIT     string
	BuyerName    string
	BuyerAddress string

	Subtotal  decimal.Decimal
	TaxRate   decimal.Decimal // ej. 0.12 (IVA Guatemala)
	TaxAmount decimal.Decimal
	Total     decimal.Decimal
	Currency  string

	AuthorizationNumber string
	AuthorizationDate   *time.Time

	RetryCount   int
	ErrorMessage string

	CertifiedAt *time.Time
	SentAt      *time.Time
	CancelledAt *time.Time
	ExpiresAt   *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// invoiceTransitions define los destinos válidos desde cada estado.
var invoiceTransitions = map[string][]string{
	InvoiceStatusDraft:     {InvoiceStatusPending, InvoiceStatusCancelled, InvoiceStatusExpired},
	InvoiceStatusPending:   {InvoiceStatusCertified, InvoiceStatusCancelled, InvoiceStatusExpired},
	InvoiceStatusCertified: {InvoiceStatusSent, InvoiceStatusCancelled},
	InvoiceStatusSent:      {InvoiceStatusCancelled},
}

// CanTransition indica si el paso Status → to es válido (solo hacia adelante,
// excepto cancelled).
func (i *Invoice) CanTransition(to string) bool {
	for _, t := range invoiceTransitions[i.Status] {
		if t == to {
			return true
		}
	}
	return false
}

// IsTerminal indica si la factura alcanzó un estado final.
func (i *Invoice) IsTerminal() bool {
	return i.Status == InvoiceStatusCancelled || i.Status == InvoiceStatusExpired
}

// IsExpired indica si la factura superó su fecha límite local.
func (i *Invoice) IsExpired(now time.Time) bool {
	return i.ExpiresAt != nil && i.ExpiresAt.Before(now)
}

// IsCancellable indica si la factura puede anularse: certificada (o ya
// enviada), no expirada y dentro de la ventana legal de 30 días.
func (i *Invoice) IsCancellable(now time.Time) bool {
	if i.Status != InvoiceStatusCertified && i.Status != InvoiceStatusSent {
		return false
	}
	if i.CertifiedAt == nil || i.IsExpired(now) {
		return false
	}
	return now.Sub(*i.CertifiedAt) <= CancelWindow
}
