package entity

import "time"

// AuditRetention horizonte de retención de la bitácora (requisito fiscal).
const AuditRetention = 5 * 365 * 24 * time.Hour

// FelAuditLog es una fila inmutable por intento de operación. Solo se
// inserta; nunca se actualiza ni se borra salvo por el barrido de retención.
// No participa del control de flujo: observabilidad pura.
type FelAuditLog struct {
	ID            int64
	InvoiceID     *int64
	FelDocumentID *int64

	OperationType string // pkg/fel.Op*
	Result        string // pkg/fel.AuditResult*

	RequestData  string // payload enviado (puede ir vacío o truncado)
	ResponseData string // respuesta cruda del certificador
	ErrorMessage string

	ProcessingTimeMs int64
	CreatedAt        time.Time
}
