package entity

import "time"

// FelError es un registro estructurado de falla para triage de operadores:
// la cola de problemas *sin resolver*, separada de la bitácora de auditoría
// (que es best-effort y no participa del control de flujo).
type FelError struct {
	ID            int64
	InvoiceID     *int64
	FelDocumentID *int64

	OperationType string // pkg/fel.Op*
	Severity      string // pkg/fel.Severity*
	ErrorCode     string
	ErrorMessage  string

	RetryCount int
	MaxRetries int

	Resolved   bool
	ResolvedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CanRetry indica si la operación asociada admite otro reintento:
// no resuelta y con presupuesto de reintentos disponible.
func (e *FelError) CanRetry() bool {
	return !e.Resolved && e.RetryCount < e.MaxRetries
}
