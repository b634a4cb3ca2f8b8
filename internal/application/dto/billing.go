package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// CreateInvoiceRequest alta de una factura en draft a partir de una
// inscripción de la plataforma de eventos.
type CreateInvoiceRequest struct {
	RegistrationID string `json:"registration_id" validate:"required"`
	DocumentType   string `json:"document_type"` // FACTURA por defecto

	BuyerNIT     string `json:"buyer_nit"` // vacío o "CF" para consumidor final
	BuyerName    string `json:"buyer_name" validate:"required"`
	BuyerAddress string `json:"buyer_address"`

	Currency string `json:"currency"` // GTQ por defecto

	Items []InvoiceItemRequest `json:"items" validate:"required,min=1"`
}

// InvoiceItemRequest línea de la factura.
type InvoiceItemRequest struct {
	Description string          `json:"description" validate:"required"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// InvoiceResponse detalle completo de una factura.
type InvoiceResponse struct {
	ID             int64  `json:"id"`
	UUID           string `json:"uuid"`
	RegistrationID string `json:"registration_id"`
	Status         string `json:"status"`
	DocumentType   string `json:"document_type"`

	Series string `json:"series,omitempty"`
	Number int64  `json:"number,omitempty"`

	BuyerNIT  string `json:"buyer_nit"`
	BuyerName string `json:"buyer_name"`

	Subtotal  decimal.Decimal `json:"subtotal"`
	TaxAmount decimal.Decimal `json:"tax_amount"`
	Total     decimal.Decimal `json:"total"`
	Currency  string          `json:"currency"`

	AuthorizationNumber string     `json:"authorization_number,omitempty"`
	AuthorizationDate   *time.Time `json:"authorization_date,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	Items []InvoiceItemResponse `json:"items"`
}

// InvoiceItemResponse línea de la factura en respuestas.
type InvoiceItemResponse struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// FelStatusResponse estado FEL ligero de una factura (para polling).
type FelStatusResponse struct {
	InvoiceID           int64      `json:"invoice_id"`
	Status              string     `json:"status"`
	Series              string     `json:"series,omitempty"`
	Number              int64      `json:"number,omitempty"`
	AuthorizationNumber string     `json:"authorization_number,omitempty"`
	AuthorizationDate   *time.Time `json:"authorization_date,omitempty"`
	RetryCount          int        `json:"retry_count"`
	ErrorMessage        string     `json:"error_message,omitempty"`
}

// CertifyResponse resultado de un intento de certificación, reconciliación
// o anulación. Un rechazo del certificador llega aquí, no como error HTTP.
type CertifyResponse struct {
	DocumentStatus      string `json:"document_status"`
	InvoiceStatus       string `json:"invoice_status"`
	AuthorizationNumber string `json:"authorization_number,omitempty"`
	Series              string `json:"series,omitempty"`
	Number              int64  `json:"number,omitempty"`
	ErrorCode           string `json:"error_code,omitempty"`
	ErrorMessage        string `json:"error_message,omitempty"`
	RetryCount          int    `json:"retry_count"`
	WillRetry           bool   `json:"will_retry"`
}

// CancelInvoiceRequest anulación de una factura certificada.
type CancelInvoiceRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// FelErrorResponse entrada de la cola de errores sin resolver.
type FelErrorResponse struct {
	ID            int64  `json:"id"`
	InvoiceID     *int64 `json:"invoice_id,omitempty"`
	FelDocumentID *int64 `json:"fel_document_id,omitempty"`

	OperationType string `json:"operation_type"`
	Severity      string `json:"severity"`
	ErrorCode     string `json:"error_code,omitempty"`
	ErrorMessage  string `json:"error_message"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// AuditLogResponse fila de la bitácora de certificación.
type AuditLogResponse struct {
	ID               int64     `json:"id"`
	OperationType    string    `json:"operation_type"`
	Result           string    `json:"result"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	ProcessingTimeMs int64     `json:"processing_time_ms"`
	CreatedAt        time.Time `json:"created_at"`
}
