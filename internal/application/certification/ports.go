// Package certification contiene la máquina de estados de certificación FEL:
// conduce un FelDocument por su ciclo de vida contra el certificador,
// aplica la política de reintentos y mantiene Invoice y FelDocument
// consistentes dentro de una misma transacción.
package certification

import (
	"context"
	"time"

	"github.com/eventosgt/fel-engine/internal/domain/entity"
	"github.com/eventosgt/fel-engine/internal/domain/repository"
)

// TxRunner ejecuta fn dentro de una transacción con los repositorios FEL
// atados a ella. Invoice y FelDocument se mutan juntos o no se mutan.
type TxRunner interface {
	RunFel(ctx context.Context, fn func(
		invoices repository.InvoiceRepository,
		documents repository.FelDocumentRepository,
		felErrors repository.FelErrorRepository,
	) error) error
}

// Assembler construye el DTE de una factura (implementado por el
// ensamblador XML de infraestructura).
type Assembler interface {
	Build(invoice *entity.Invoice, items []*entity.InvoiceItem) (xmlContent, certificateHash string, err error)
}

// RetryScheduler agenda la ejecución diferida de un reintento. La intención
// encolada se revalida al ejecutarse: si el documento llegó a un estado
// terminal, el reintento es un no-op.
type RetryScheduler interface {
	Schedule(delay time.Duration, fn func())
}
