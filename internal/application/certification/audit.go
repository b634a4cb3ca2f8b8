package certification

import (
	"context"
	"time"

	"github.com/eventosgt/fel-engine/internal/domain/entity"
	"github.com/eventosgt/fel-engine/internal/domain/repository"
	"github.com/eventosgt/fel-engine/pkg/clock"
	"github.com/eventosgt/fel-engine/pkg/logger"
)

// AuditEntry describe una operación FEL a registrar en la bitácora.
type AuditEntry struct {
	InvoiceID     *int64
	FelDocumentID *int64
	OperationType string
	Result        string
	RequestData   string
	ResponseData  string
	ErrorMessage  string
	StartedAt     time.Time
}

// AuditRecorder escribe la bitácora de operaciones FEL. Un fallo al
// registrar se loguea y no interrumpe la operación auditada.
type AuditRecorder struct {
	repo  repository.FelAuditRepository
	clock clock.Clock
	log   *logger.Logger
}

func NewAuditRecorder(repo repository.FelAuditRepository, clk clock.Clock, log *logger.Logger) *AuditRecorder {
	if clk == nil {
		clk = clock.System{}
	}
	return &AuditRecorder{repo: repo, clock: clk, log: log}
}

// Record persiste la entrada calculando el tiempo de procesamiento desde
// StartedAt. Nunca devuelve error.
func (r *AuditRecorder) Record(ctx context.Context, e AuditEntry) {
	now := r.clock.Now()
	row := &entity.FelAuditLog{
		InvoiceID:     e.InvoiceID,
		FelDocumentID: e.FelDocumentID,
		OperationType: e.OperationType,
		Result:        e.Result,
		RequestData:   e.RequestData,
		ResponseData:  e.ResponseData,
		ErrorMessage:  e.ErrorMessage,
		CreatedAt:     now,
	}
	if !e.StartedAt.IsZero() {
		row.ProcessingTimeMs = now.Sub(e.StartedAt).Milliseconds()
	}
	if err := r.repo.Append(ctx, row); err != nil {
		r.log.Error().
			Err(err).
			Str("operacion", e.OperationType).
			Str("resultado", e.Result).
			Msg("No se pudo escribir la bitácora de auditoría FEL")
	}
}
