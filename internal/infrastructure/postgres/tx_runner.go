package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eventosgt/fel-engine/internal/application/certification"
	"github.com/eventosgt/fel-engine/internal/domain/repository"
)

var _ certification.TxRunner = (*TxRunner)(nil)

// TxRunner ejecuta callbacks dentro de una transacción PostgreSQL.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner construye el runner con el pool.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunFel inicia una transacción, ejecuta fn con los repositorios FEL atados
// a ella y hace Commit o Rollback.
func (r *TxRunner) RunFel(ctx context.Context, fn func(
	invoices repository.InvoiceRepository,
	documents repository.FelDocumentRepository,
	felErrors repository.FelErrorRepository,
) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	invoices := NewInvoiceRepository(tx)
	documents := NewFelDocumentRepository(tx)
	felErrors := NewFelErrorRepository(tx)

	if err := fn(invoices, documents, felErrors); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
