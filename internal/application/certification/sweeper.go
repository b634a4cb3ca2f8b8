package certification

import (
	"context"
	"sync"
	"time"

	"github.com/eventosgt/fel-engine/internal/domain/entity"
	"github.com/eventosgt/fel-engine/internal/domain/repository"
	"github.com/eventosgt/fel-engine/pkg/clock"
	"github.com/eventosgt/fel-engine/pkg/logger"
)

// SweeperConfig parámetros del barrido periódico.
type SweeperConfig struct {
	// Interval cadencia del barrido.
	Interval time.Duration
	// StaleSentAfter antigüedad mínima de un documento en sent para
	// considerarlo varado y reconciliarlo.
	StaleSentAfter time.Duration
	// BatchSize máximo de filas por repositorio en cada pasada.
	BatchSize int
}

func (c *SweeperConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.StaleSentAfter <= 0 {
		c.StaleSentAfter = 10 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
}

// Sweeper corre el mantenimiento de fondo del motor: expira documentos,
// facturas y tokens vencidos, reconcilia documentos varados en sent y purga
// la bitácora fuera del horizonte de retención. Todas las operaciones son
// idempotentes; dos instancias barriendo a la vez no se estorban.
type Sweeper struct {
	machine   *StateMachine
	invoices  repository.InvoiceRepository
	documents repository.FelDocumentRepository
	tokens    repository.FelTokenRepository
	audits    repository.FelAuditRepository
	clock     clock.Clock
	log       *logger.Logger
	cfg       SweeperConfig

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewSweeper(
	machine *StateMachine,
	invoices repository.InvoiceRepository,
	documents repository.FelDocumentRepository,
	tokens repository.FelTokenRepository,
	audits repository.FelAuditRepository,
	clk clock.Clock,
	log *logger.Logger,
	cfg SweeperConfig,
) *Sweeper {
	cfg.applyDefaults()
	if clk == nil {
		clk = clock.System{}
	}
	return &Sweeper{
		machine:   machine,
		invoices:  invoices,
		documents: documents,
		tokens:    tokens,
		audits:    audits,
		clock:     clk,
		log:       log,
		cfg:       cfg,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start lanza el bucle de barrido. Bloquea hasta Stop o cancelación del
// contexto; se invoca en su propia goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.log.Info().Dur("intervalo", s.cfg.Interval).Msg("Barrido FEL iniciado")
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Stop detiene el bucle y espera a que la pasada en curso termine.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// Sweep ejecuta una pasada completa. Expuesto para disparos manuales y tests.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := s.clock.Now()
	s.expireDocuments(ctx, now)
	s.expireInvoices(ctx, now)
	s.reconcileStuck(ctx, now)
	s.expireTokens(ctx, now)
	s.purgeAudit(ctx, now)
}

func (s *Sweeper) expireDocuments(ctx context.Context, now time.Time) {
	docs, err := s.documents.ListExpiring(ctx, now, s.cfg.BatchSize)
	if err != nil {
		s.log.Error().Err(err).Msg("Barrido: no se pudieron listar documentos vencidos")
		return
	}
	for _, doc := range docs {
		if err := s.machine.ExpireDocument(ctx, doc.ID); err != nil {
			s.log.Error().Err(err).Str("documento", doc.UUID).Msg("Barrido: no se pudo expirar el documento")
		}
	}
	if len(docs) > 0 {
		s.log.Info().Int("documentos", len(docs)).Msg("Barrido: documentos vencidos procesados")
	}
}

// expireInvoices cubre facturas vencidas que nunca llegaron a tener DTE
// (draft abandonadas); las demás vencen junto con su documento.
func (s *Sweeper) expireInvoices(ctx context.Context, now time.Time) {
	invs, err := s.invoices.ListExpiring(ctx, now, s.cfg.BatchSize)
	if err != nil {
		s.log.Error().Err(err).Msg("Barrido: no se pudieron listar facturas vencidas")
		return
	}
	for _, inv := range invs {
		if inv.Status != entity.InvoiceStatusDraft {
			continue
		}
		inv.Status = entity.InvoiceStatusExpired
		inv.UpdatedAt = now
		if err := s.invoices.Update(ctx, inv); err != nil {
			s.log.Error().Err(err).Str("factura", inv.UUID).Msg("Barrido: no se pudo expirar la factura")
		}
	}
}

func (s *Sweeper) reconcileStuck(ctx context.Context, now time.Time) {
	stuck, err := s.documents.ListStuckSent(ctx, now.Add(-s.cfg.StaleSentAfter), s.cfg.BatchSize)
	if err != nil {
		s.log.Error().Err(err).Msg("Barrido: no se pudieron listar documentos varados en sent")
		return
	}
	for _, doc := range stuck {
		outcome, err := s.machine.Reconcile(ctx, doc.ID)
		if err != nil {
			s.log.Warn().Err(err).Str("documento", doc.UUID).Msg("Barrido: reconciliación fallida, se reintenta en la próxima pasada")
			continue
		}
		s.log.Info().
			Str("documento", doc.UUID).
			Str("estado", outcome.DocumentStatus).
			Msg("Barrido: documento varado reconciliado")
	}
}

func (s *Sweeper) expireTokens(ctx context.Context, now time.Time) {
	n, err := s.tokens.ExpireActiveBefore(ctx, now)
	if err != nil {
		s.log.Error().Err(err).Msg("Barrido: no se pudieron expirar tokens vencidos")
		return
	}
	if n > 0 {
		s.log.Info().Int64("tokens", n).Msg("Barrido: tokens vencidos marcados")
	}
}

func (s *Sweeper) purgeAudit(ctx context.Context, now time.Time) {
	n, err := s.audits.PurgeOlderThan(ctx, now.Add(-entity.AuditRetention))
	if err != nil {
		s.log.Error().Err(err).Msg("Barrido: no se pudo purgar la bitácora de auditoría")
		return
	}
	if n > 0 {
		s.log.Info().Int64("filas", n).Msg("Barrido: bitácora purgada fuera del horizonte de retención")
	}
}
