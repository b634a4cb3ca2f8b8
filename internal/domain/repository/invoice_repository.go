package repository

import (
	"context"
	"time"

	"github.com/eventosgt/fel-engine/internal/domain/entity"
)

// InvoiceRepository define el puerto de persistencia para Invoice y sus líneas.
// Todas las consultas excluyen registros con soft delete (deleted_at).
type InvoiceRepository interface {
	Create(ctx context.Context, invoice *entity.Invoice) error
	CreateItem(ctx context.Context, item *entity.InvoiceItem) error
	GetByID(ctx context.Context, id int64) (*entity.Invoice, error)
	GetItems(ctx context.Context, invoiceID int64) ([]*entity.InvoiceItem, error)
	// Update persiste todos los campos FEL mutables de la factura:
	// status, series, number, authorization_*, retry_count, error_message y timestamps.
	Update(ctx context.Context, invoice *entity.Invoice) error
	// GetFelStatus devuelve solo los campos de estado FEL (ligero, para polling).
	GetFelStatus(ctx context.Context, id int64) (*entity.Invoice, error)
	// ListExpiring devuelve facturas en estado no terminal con expires_at < before.
	ListExpiring(ctx context.Context, before time.Time, limit int) ([]*entity.Invoice, error)
	// SoftDelete marca deleted_at; la fila nunca se borra físicamente.
	SoftDelete(ctx context.Context, id int64, at time.Time) error
}
