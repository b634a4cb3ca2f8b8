package entity

import "github.com/shopspring/decimal"

// InvoiceItem es una línea de la factura (entrada, paquete, servicio del evento).
type InvoiceItem struct {
	ID          int64
	InvoiceID   int64
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	TaxRate     decimal.Decimal
	Subtotal    decimal.Decimal // Quantity × UnitPrice
}
