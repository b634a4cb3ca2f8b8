package certification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eventosgt/fel-engine/internal/domain"
	"github.com/eventosgt/fel-engine/internal/domain/entity"
	"github.com/eventosgt/fel-engine/internal/domain/repository"
	infrafel "github.com/eventosgt/fel-engine/internal/infrastructure/fel"
	"github.com/eventosgt/fel-engine/pkg/clock"
	pkgfel "github.com/eventosgt/fel-engine/pkg/fel"
	"github.com/eventosgt/fel-engine/pkg/logger"
)

// Config parámetros de la política de reintentos y vencimiento.
type Config struct {
	// MaxRetries reintentos a nivel factura antes de escalar a FelError.
	MaxRetries int
	// RetryBaseDelay base del backoff exponencial entre reintentos.
	RetryBaseDelay time.Duration
	// RetryMaxDelay tope del backoff.
	RetryMaxDelay time.Duration
	// DocumentTTL vencimiento local de un documento desde su ensamblado.
	DocumentTTL time.Duration
	// RetryAttemptTimeout presupuesto de un reintento agendado (corre sin
	// request HTTP que le preste contexto).
	RetryAttemptTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = entity.InvoiceMaxRetries
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 30 * time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 30 * time.Minute
	}
	if c.DocumentTTL <= 0 {
		c.DocumentTTL = 72 * time.Hour
	}
	if c.RetryAttemptTimeout <= 0 {
		c.RetryAttemptTimeout = 2 * time.Minute
	}
}

// Outcome es el resultado tipado de una operación de la máquina de estados.
// Un rechazo del certificador es un Outcome, no un error: el error de la
// firma queda para estados inválidos y fallas de infraestructura.
type Outcome struct {
	DocumentStatus string
	InvoiceStatus  string

	AuthorizationNumber string
	Series              string
	Number              int64

	ErrorCode    string
	ErrorMessage string

	RetryCount int
	WillRetry  bool
}

// StateMachine conduce Invoice y FelDocument por el ciclo de vida de
// certificación. Toda mutación de ambas entidades ocurre en una misma
// transacción; la exclusión entre llamadores concurrentes se resuelve con
// un compare-and-set sobre el estado del documento, nunca con locks en
// memoria.
type StateMachine struct {
	invoices  repository.InvoiceRepository
	documents repository.FelDocumentRepository
	felErrors repository.FelErrorRepository
	tx        TxRunner
	certifier infrafel.Certifier
	assembler Assembler
	audit     *AuditRecorder
	scheduler RetryScheduler
	clock     clock.Clock
	log       *logger.Logger
	cfg       Config
}

func NewStateMachine(
	invoices repository.InvoiceRepository,
	documents repository.FelDocumentRepository,
	felErrors repository.FelErrorRepository,
	tx TxRunner,
	certifier infrafel.Certifier,
	assembler Assembler,
	audit *AuditRecorder,
	scheduler RetryScheduler,
	clk clock.Clock,
	log *logger.Logger,
	cfg Config,
) *StateMachine {
	cfg.applyDefaults()
	if clk == nil {
		clk = clock.System{}
	}
	if scheduler == nil {
		scheduler = AfterFuncScheduler{}
	}
	return &StateMachine{
		invoices:  invoices,
		documents: documents,
		felErrors: felErrors,
		tx:        tx,
		certifier: certifier,
		assembler: assembler,
		audit:     audit,
		scheduler: scheduler,
		clock:     clk,
		log:       log,
		cfg:       cfg,
	}
}

// ── Ensamblado ────────────────────────────────────────────────────────────────

// PrepareDocument ensambla el DTE de una factura en draft y la pasa a
// pending. Idempotente: si la factura ya tiene un documento no terminal lo
// devuelve sin ensamblar de nuevo.
func (m *StateMachine) PrepareDocument(ctx context.Context, invoiceID int64) (*entity.FelDocument, error) {
	inv, err := m.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, domain.ErrNotFound
	}

	if existing, err := m.documents.GetByInvoiceID(ctx, invoiceID); err != nil {
		return nil, err
	} else if existing != nil && !existing.IsTerminal() {
		return existing, nil
	}

	if inv.Status != entity.InvoiceStatusDraft {
		return nil, fmt.Errorf("%w: la factura %s está en %q, se esperaba draft",
			domain.ErrInvalidState, inv.UUID, inv.Status)
	}

	items, err := m.invoices.GetItems(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	started := m.clock.Now()
	xmlContent, hash, err := m.assembler.Build(inv, items)
	if err != nil {
		m.audit.Record(ctx, AuditEntry{
			InvoiceID:     &inv.ID,
			OperationType: pkgfel.OpAssemble,
			Result:        pkgfel.AuditResultFailure,
			ErrorMessage:  err.Error(),
			StartedAt:     started,
		})
		return nil, err
	}

	now := m.clock.Now()
	expires := now.Add(m.cfg.DocumentTTL)
	if inv.ExpiresAt != nil && inv.ExpiresAt.Before(expires) {
		expires = *inv.ExpiresAt
	}
	doc := &entity.FelDocument{
		UUID:            uuid.NewString(),
		InvoiceID:       inv.ID,
		Status:          entity.DocumentStatusGenerated,
		XMLContent:      xmlContent,
		CertificateHash: hash,
		ExpiresAt:       &expires,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = m.tx.RunFel(ctx, func(
		invoices repository.InvoiceRepository,
		documents repository.FelDocumentRepository,
		_ repository.FelErrorRepository,
	) error {
		if err := documents.Create(ctx, doc); err != nil {
			return err
		}
		inv.Status = entity.InvoiceStatusPending
		inv.UpdatedAt = now
		return invoices.Update(ctx, inv)
	})
	if err != nil {
		return nil, err
	}

	m.audit.Record(ctx, AuditEntry{
		InvoiceID:     &inv.ID,
		FelDocumentID: &doc.ID,
		OperationType: pkgfel.OpAssemble,
		Result:        pkgfel.AuditResultSuccess,
		StartedAt:     started,
	})
	m.log.Info().
		Str("factura", inv.UUID).
		Str("documento", doc.UUID).
		Msg("DTE ensamblado, factura en pending")
	return doc, nil
}

// ── Certificación ─────────────────────────────────────────────────────────────

// SubmitForCertification entrega el documento al certificador. Exactamente
// un llamador concurrente hace la llamada de red: el que gana el CAS
// generated|rejected → sent. El perdedor devuelve (nil, nil) sin efectos.
//
// Un rechazo del certificador es un Outcome con ErrorCode poblado, no un
// error. Una falla de transporte deja el documento en sent: tras un timeout
// el estado remoto es desconocido y reenviar a ciegas podría certificar dos
// veces; la reconciliación decide.
func (m *StateMachine) SubmitForCertification(ctx context.Context, documentID int64) (*Outcome, error) {
	now := m.clock.Now()
	doc, err := m.documents.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, domain.ErrNotFound
	}

	if !doc.IsCertifiable(now) {
		return nil, fmt.Errorf("%w: documento %s en %q con %d reintentos no admite certificación",
			domain.ErrInvalidState, doc.UUID, doc.Status, doc.RetryCount)
	}
	if doc.Status == entity.DocumentStatusSent {
		// Hay un intento en vuelo, o el proceso murió tras enviar. La
		// reconciliación resuelve; nunca un reenvío a ciegas.
		return nil, fmt.Errorf("%w: documento %s tiene un intento en curso; reconciliar antes de reenviar",
			domain.ErrConflict, doc.UUID)
	}

	won, err := m.documents.UpdateStatusCAS(ctx, doc.ID, doc.Status, entity.DocumentStatusSent)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, nil
	}
	prevStatus := doc.Status
	doc.Status = entity.DocumentStatusSent

	inv, err := m.invoices.GetByID(ctx, doc.InvoiceID)
	if err == nil && inv == nil {
		err = domain.ErrNotFound
	}
	if err != nil {
		// Devolver el documento para que otro intento pueda tomarlo.
		if _, casErr := m.documents.UpdateStatusCAS(ctx, doc.ID, entity.DocumentStatusSent, prevStatus); casErr != nil {
			m.log.Error().Err(casErr).Str("documento", doc.UUID).Msg("No se pudo revertir el estado tras fallo al cargar la factura")
		}
		return nil, err
	}

	started := m.clock.Now()
	result, certErr := m.certifier.Certify(ctx, doc.UUID, doc.XMLContent)
	switch {
	case certErr == nil && result.Accepted:
		return m.applyCertified(ctx, doc, inv, certifiedFacts{
			AuthorizationNumber: result.AuthorizationNumber,
			AuthorizationDate:   result.AuthorizationDate,
			Series:              result.Series,
			Number:              result.Number,
			CertifiedXML:        result.CertifiedXML,
			QRCode:              result.QRCode,
			Raw:                 result.Raw,
		}, started)
	case certErr == nil:
		return m.applyRejection(ctx, doc, inv, result, started)
	case infrafel.IsAuthFailure(certErr):
		return m.applyAuthFailure(ctx, doc, inv, prevStatus, certErr, started)
	default:
		// Transporte, timeout o cualquier falla no clasificada: el estado
		// remoto es desconocido, se trata igual.
		return m.applyTransportFailure(ctx, doc, inv, certErr, started)
	}
}

// certifiedFacts datos de autorización, vengan de Certify o de QueryStatus.
type certifiedFacts struct {
	AuthorizationNumber string
	AuthorizationDate   time.Time
	Series              string
	Number              int64
	CertifiedXML        string
	QRCode              string
	Raw                 string
}

func (m *StateMachine) applyCertified(ctx context.Context, doc *entity.FelDocument, inv *entity.Invoice, facts certifiedFacts, started time.Time) (*Outcome, error) {
	now := m.clock.Now()
	authDate := facts.AuthorizationDate
	if authDate.IsZero() {
		authDate = now
	}

	doc.Status = entity.DocumentStatusCertified
	doc.AuthorizationNumber = facts.AuthorizationNumber
	doc.AuthorizationDate = &authDate
	doc.Series = facts.Series
	doc.Number = facts.Number
	doc.CertifiedXMLContent = facts.CertifiedXML
	doc.QRCode = facts.QRCode
	doc.ErrorCode = ""
	doc.ErrorMessage = ""
	doc.CertifiedAt = &now
	doc.UpdatedAt = now

	inv.Status = entity.InvoiceStatusCertified
	inv.AuthorizationNumber = facts.AuthorizationNumber
	inv.AuthorizationDate = &authDate
	inv.Series = facts.Series
	inv.Number = facts.Number
	inv.ErrorMessage = ""
	inv.CertifiedAt = &now
	inv.UpdatedAt = now

	err := m.tx.RunFel(ctx, func(
		invoices repository.InvoiceRepository,
		documents repository.FelDocumentRepository,
		felErrors repository.FelErrorRepository,
	) error {
		if err := documents.Update(ctx, doc); err != nil {
			return err
		}
		if err := invoices.Update(ctx, inv); err != nil {
			return err
		}
		return felErrors.ResolveByDocument(ctx, doc.ID)
	})
	if err != nil {
		// El certificador ya autorizó pero no pudimos persistirlo: el
		// documento queda en sent y la reconciliación recuperará la
		// autorización sin reenviar.
		m.audit.Record(ctx, AuditEntry{
			InvoiceID:     &inv.ID,
			FelDocumentID: &doc.ID,
			OperationType: pkgfel.OpCertify,
			Result:        pkgfel.AuditResultPartial,
			ResponseData:  facts.Raw,
			ErrorMessage:  err.Error(),
			StartedAt:     started,
		})
		return nil, err
	}

	m.audit.Record(ctx, AuditEntry{
		InvoiceID:     &inv.ID,
		FelDocumentID: &doc.ID,
		OperationType: pkgfel.OpCertify,
		Result:        pkgfel.AuditResultSuccess,
		ResponseData:  facts.Raw,
		StartedAt:     started,
	})
	m.log.Info().
		Str("factura", inv.UUID).
		Str("autorizacion", facts.AuthorizationNumber).
		Str("serie", facts.Series).
		Int64("numero", facts.Number).
		Dur("duracion", doc.ProcessingTime()).
		Msg("Documento certificado")

	return m.outcome(doc, inv, false), nil
}

func (m *StateMachine) applyRejection(ctx context.Context, doc *entity.FelDocument, inv *entity.Invoice, result *infrafel.CertifyResult, started time.Time) (*Outcome, error) {
	now := m.clock.Now()
	doc.Status = entity.DocumentStatusRejected
	doc.ErrorCode = result.ErrorCode
	doc.ErrorMessage = result.ErrorMessage
	doc.RetryCount++
	doc.UpdatedAt = now

	inv.RetryCount++
	inv.ErrorMessage = result.ErrorMessage
	inv.UpdatedAt = now

	willRetry := inv.RetryCount < m.cfg.MaxRetries && doc.RetryCount < entity.DocumentRetryCeiling

	var felErr *entity.FelError
	if !willRetry {
		felErr = &entity.FelError{
			InvoiceID:     &inv.ID,
			FelDocumentID: &doc.ID,
			OperationType: pkgfel.OpCertify,
			Severity:      pkgfel.SeverityHigh,
			ErrorCode:     result.ErrorCode,
			ErrorMessage:  result.ErrorMessage,
			RetryCount:    doc.RetryCount,
			MaxRetries:    m.cfg.MaxRetries,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}

	err := m.tx.RunFel(ctx, func(
		invoices repository.InvoiceRepository,
		documents repository.FelDocumentRepository,
		felErrors repository.FelErrorRepository,
	) error {
		if err := documents.Update(ctx, doc); err != nil {
			return err
		}
		if err := invoices.Update(ctx, inv); err != nil {
			return err
		}
		if felErr != nil {
			return felErrors.Create(ctx, felErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.audit.Record(ctx, AuditEntry{
		InvoiceID:     &inv.ID,
		FelDocumentID: &doc.ID,
		OperationType: pkgfel.OpCertify,
		Result:        pkgfel.AuditResultFailure,
		ResponseData:  result.Raw,
		ErrorMessage:  fmt.Sprintf("[%s] %s", result.ErrorCode, result.ErrorMessage),
		StartedAt:     started,
	})

	if willRetry {
		delay := BackoffDelay(m.cfg.RetryBaseDelay, m.cfg.RetryMaxDelay, doc.RetryCount)
		docID := doc.ID
		m.scheduler.Schedule(delay, func() { m.retryAttempt(docID) })
		m.log.Warn().
			Str("factura", inv.UUID).
			Str("codigo", result.ErrorCode).
			Int("reintento", doc.RetryCount).
			Dur("espera", delay).
			Msg("Documento rechazado por el certificador, reintento agendado")
	} else {
		m.log.Error().
			Str("factura", inv.UUID).
			Str("codigo", result.ErrorCode).
			Int("reintentos", doc.RetryCount).
			Msg("Documento rechazado y sin presupuesto de reintentos, requiere intervención")
	}

	return m.outcome(doc, inv, willRetry), nil
}

func (m *StateMachine) applyTransportFailure(ctx context.Context, doc *entity.FelDocument, inv *entity.Invoice, certErr error, started time.Time) (*Outcome, error) {
	now := m.clock.Now()
	// El documento queda en sent: el certificador pudo haber recibido el
	// DTE. Solo la reconciliación puede devolverlo a generated.
	doc.ErrorMessage = certErr.Error()
	doc.RetryCount++
	doc.UpdatedAt = now

	inv.RetryCount++
	inv.ErrorMessage = certErr.Error()
	inv.UpdatedAt = now

	willRetry := inv.RetryCount < m.cfg.MaxRetries && doc.RetryCount < entity.DocumentRetryCeiling

	severity := pkgfel.SeverityMedium
	if !willRetry {
		severity = pkgfel.SeverityCritical
	}
	felErr := &entity.FelError{
		InvoiceID:     &inv.ID,
		FelDocumentID: &doc.ID,
		OperationType: pkgfel.OpCertify,
		Severity:      severity,
		ErrorMessage:  certErr.Error(),
		RetryCount:    doc.RetryCount,
		MaxRetries:    m.cfg.MaxRetries,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := m.tx.RunFel(ctx, func(
		invoices repository.InvoiceRepository,
		documents repository.FelDocumentRepository,
		felErrors repository.FelErrorRepository,
	) error {
		if err := documents.Update(ctx, doc); err != nil {
			return err
		}
		if err := invoices.Update(ctx, inv); err != nil {
			return err
		}
		return felErrors.Create(ctx, felErr)
	})
	if err != nil {
		return nil, err
	}

	result := pkgfel.AuditResultFailure
	if infrafel.IsTimeout(certErr) {
		result = pkgfel.AuditResultTimeout
	}
	m.audit.Record(ctx, AuditEntry{
		InvoiceID:     &inv.ID,
		FelDocumentID: &doc.ID,
		OperationType: pkgfel.OpCertify,
		Result:        result,
		ErrorMessage:  certErr.Error(),
		StartedAt:     started,
	})

	if willRetry {
		delay := BackoffDelay(m.cfg.RetryBaseDelay, m.cfg.RetryMaxDelay, doc.RetryCount)
		docID := doc.ID
		m.scheduler.Schedule(delay, func() { m.retryAttempt(docID) })
		m.log.Warn().
			Err(certErr).
			Str("factura", inv.UUID).
			Int("reintento", doc.RetryCount).
			Dur("espera", delay).
			Msg("Falla de transporte con el certificador, reconciliación agendada")
	} else {
		m.log.Error().
			Err(certErr).
			Str("factura", inv.UUID).
			Int("reintentos", doc.RetryCount).
			Msg("Falla de transporte y sin presupuesto de reintentos, requiere intervención")
	}

	return m.outcome(doc, inv, willRetry), nil
}

func (m *StateMachine) applyAuthFailure(ctx context.Context, doc *entity.FelDocument, inv *entity.Invoice, prevStatus string, certErr error, started time.Time) (*Outcome, error) {
	now := m.clock.Now()
	// La llamada nunca llegó a entregarse: devolver el documento a su
	// estado previo para que un intento con credenciales sanas lo retome.
	if _, casErr := m.documents.UpdateStatusCAS(ctx, doc.ID, entity.DocumentStatusSent, prevStatus); casErr != nil {
		m.log.Error().Err(casErr).Str("documento", doc.UUID).Msg("No se pudo revertir el estado tras rechazo de credenciales")
	} else {
		doc.Status = prevStatus
	}

	felErr := &entity.FelError{
		InvoiceID:     &inv.ID,
		FelDocumentID: &doc.ID,
		OperationType: pkgfel.OpAuth,
		Severity:      pkgfel.SeverityCritical,
		ErrorMessage:  certErr.Error(),
		RetryCount:    doc.RetryCount,
		MaxRetries:    m.cfg.MaxRetries,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if createErr := m.felErrors.Create(ctx, felErr); createErr != nil {
		m.log.Error().Err(createErr).Str("documento", doc.UUID).Msg("No se pudo registrar el FelError de credenciales")
	}

	m.audit.Record(ctx, AuditEntry{
		InvoiceID:     &inv.ID,
		FelDocumentID: &doc.ID,
		OperationType: pkgfel.OpCertify,
		Result:        pkgfel.AuditResultFailure,
		ErrorMessage:  certErr.Error(),
		StartedAt:     started,
	})
	m.log.Error().Err(certErr).Str("factura", inv.UUID).Msg("Credenciales rechazadas por el certificador")

	return nil, certErr
}

// ── Reintentos agendados ──────────────────────────────────────────────────────

// retryAttempt corre un reintento agendado. Revalida precondiciones contra
// el estado persistido: terminal o expirado ⇒ no-op; en sent ⇒ reconcilia
// primero y reenvía solo si la reconciliación devolvió el documento a
// generated.
func (m *StateMachine) retryAttempt(documentID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RetryAttemptTimeout)
	defer cancel()

	doc, err := m.documents.GetByID(ctx, documentID)
	if err != nil {
		m.log.Error().Err(err).Int64("documento_id", documentID).Msg("Reintento: no se pudo cargar el documento")
		return
	}
	if doc == nil || doc.IsTerminal() || doc.IsExpired(m.clock.Now()) {
		return
	}

	if doc.Status == entity.DocumentStatusSent {
		if _, err := m.Reconcile(ctx, documentID); err != nil {
			m.log.Warn().Err(err).Str("documento", doc.UUID).Msg("Reintento: reconciliación fallida, el barrido lo retomará")
			return
		}
		doc, err = m.documents.GetByID(ctx, documentID)
		if err != nil || doc == nil {
			return
		}
	}

	if doc.Status != entity.DocumentStatusSent && doc.IsCertifiable(m.clock.Now()) {
		if _, err := m.SubmitForCertification(ctx, documentID); err != nil {
			m.log.Warn().Err(err).Str("documento", doc.UUID).Msg("Reintento de certificación fallido")
		}
	}
}

// ── Reconciliación ────────────────────────────────────────────────────────────

// Reconcile consulta el estado remoto del documento y converge el estado
// local hacia él sin reenviar el DTE. Idempotente: sobre un documento
// terminal devuelve el estado actual sin llamada de red.
func (m *StateMachine) Reconcile(ctx context.Context, documentID int64) (*Outcome, error) {
	doc, err := m.documents.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, domain.ErrNotFound
	}
	inv, err := m.invoices.GetByID(ctx, doc.InvoiceID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, domain.ErrNotFound
	}
	if doc.IsTerminal() {
		return m.outcome(doc, inv, false), nil
	}

	reference := doc.AuthorizationNumber
	if reference == "" {
		reference = doc.UUID
	}

	started := m.clock.Now()
	st, err := m.certifier.QueryStatus(ctx, reference)
	if err != nil {
		result := pkgfel.AuditResultFailure
		if infrafel.IsTimeout(err) {
			result = pkgfel.AuditResultTimeout
		}
		m.audit.Record(ctx, AuditEntry{
			InvoiceID:     &inv.ID,
			FelDocumentID: &doc.ID,
			OperationType: pkgfel.OpQuery,
			Result:        result,
			ErrorMessage:  err.Error(),
			StartedAt:     started,
		})
		return nil, err
	}

	m.audit.Record(ctx, AuditEntry{
		InvoiceID:     &inv.ID,
		FelDocumentID: &doc.ID,
		OperationType: pkgfel.OpQuery,
		Result:        pkgfel.AuditResultSuccess,
		ResponseData:  st.Raw,
		StartedAt:     started,
	})

	now := m.clock.Now()
	switch st.Status {
	case infrafel.RemoteStatusCertified:
		// El certificador ya autorizó en un intento previo: adoptar la
		// autorización sin reenviar.
		return m.applyCertified(ctx, doc, inv, certifiedFacts{
			AuthorizationNumber: st.AuthorizationNumber,
			AuthorizationDate:   st.AuthorizationDate,
			Series:              st.Series,
			Number:              st.Number,
			CertifiedXML:        st.CertifiedXML,
			QRCode:              st.QRCode,
			Raw:                 st.Raw,
		}, started)

	case infrafel.RemoteStatusRejected:
		doc.Status = entity.DocumentStatusRejected
		doc.ErrorCode = st.ErrorCode
		doc.ErrorMessage = st.ErrorMessage
		doc.UpdatedAt = now
		inv.ErrorMessage = st.ErrorMessage
		inv.UpdatedAt = now
		err = m.tx.RunFel(ctx, func(
			invoices repository.InvoiceRepository,
			documents repository.FelDocumentRepository,
			_ repository.FelErrorRepository,
		) error {
			if err := documents.Update(ctx, doc); err != nil {
				return err
			}
			return invoices.Update(ctx, inv)
		})
		if err != nil {
			return nil, err
		}
		return m.outcome(doc, inv, false), nil

	case infrafel.RemoteStatusCancelled:
		doc.Status = entity.DocumentStatusCancelled
		doc.UpdatedAt = now
		inv.Status = entity.InvoiceStatusCancelled
		inv.CancelledAt = &now
		inv.UpdatedAt = now
		err = m.tx.RunFel(ctx, func(
			invoices repository.InvoiceRepository,
			documents repository.FelDocumentRepository,
			_ repository.FelErrorRepository,
		) error {
			if err := documents.Update(ctx, doc); err != nil {
				return err
			}
			return invoices.Update(ctx, inv)
		})
		if err != nil {
			return nil, err
		}
		return m.outcome(doc, inv, false), nil

	case infrafel.RemoteStatusUnknown:
		// El certificador no tiene registro: el envío nunca llegó. Es
		// seguro devolver sent → generated y permitir un reenvío.
		if doc.Status == entity.DocumentStatusSent {
			won, err := m.documents.UpdateStatusCAS(ctx, doc.ID, entity.DocumentStatusSent, entity.DocumentStatusGenerated)
			if err != nil {
				return nil, err
			}
			if won {
				doc.Status = entity.DocumentStatusGenerated
			}
		}
		return m.outcome(doc, inv, false), nil

	default:
		// in_process: el certificador sigue trabajando, no tocar nada.
		return m.outcome(doc, inv, false), nil
	}
}

// ── Anulación ─────────────────────────────────────────────────────────────────

// CancelDocument anula una factura certificada ante el certificador.
// Fuera de la ventana legal de 30 días devuelve ErrNotCancellable sin mutar
// nada y sin llamada de red.
func (m *StateMachine) CancelDocument(ctx context.Context, invoiceID int64, reason string) (*Outcome, error) {
	inv, err := m.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, domain.ErrNotFound
	}
	doc, err := m.documents.GetByInvoiceID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, domain.ErrNotFound
	}

	now := m.clock.Now()
	if !inv.IsCancellable(now) || doc.Status != entity.DocumentStatusCertified {
		return nil, fmt.Errorf("%w: la factura %s en %q no admite anulación",
			domain.ErrNotCancellable, inv.UUID, inv.Status)
	}

	started := m.clock.Now()
	if err := m.certifier.Cancel(ctx, doc.AuthorizationNumber, reason); err != nil {
		felErr := &entity.FelError{
			InvoiceID:     &inv.ID,
			FelDocumentID: &doc.ID,
			OperationType: pkgfel.OpCancel,
			Severity:      pkgfel.SeverityHigh,
			ErrorMessage:  err.Error(),
			MaxRetries:    m.cfg.MaxRetries,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if createErr := m.felErrors.Create(ctx, felErr); createErr != nil {
			m.log.Error().Err(createErr).Str("factura", inv.UUID).Msg("No se pudo registrar el FelError de anulación")
		}
		m.audit.Record(ctx, AuditEntry{
			InvoiceID:     &inv.ID,
			FelDocumentID: &doc.ID,
			OperationType: pkgfel.OpCancel,
			Result:        pkgfel.AuditResultFailure,
			ErrorMessage:  err.Error(),
			StartedAt:     started,
		})
		return nil, err
	}

	doc.Status = entity.DocumentStatusCancelled
	doc.UpdatedAt = now
	inv.Status = entity.InvoiceStatusCancelled
	inv.CancelledAt = &now
	inv.UpdatedAt = now

	err = m.tx.RunFel(ctx, func(
		invoices repository.InvoiceRepository,
		documents repository.FelDocumentRepository,
		_ repository.FelErrorRepository,
	) error {
		if err := documents.Update(ctx, doc); err != nil {
			return err
		}
		return invoices.Update(ctx, inv)
	})
	if err != nil {
		return nil, err
	}

	m.audit.Record(ctx, AuditEntry{
		InvoiceID:     &inv.ID,
		FelDocumentID: &doc.ID,
		OperationType: pkgfel.OpCancel,
		Result:        pkgfel.AuditResultCancelled,
		StartedAt:     started,
	})
	m.log.Info().Str("factura", inv.UUID).Str("autorizacion", doc.AuthorizationNumber).Msg("Documento anulado")

	return m.outcome(doc, inv, false), nil
}

// ── Vencimiento ───────────────────────────────────────────────────────────────

// ExpireDocument marca como expirados un documento vencido y su factura.
// No-op si el documento ya es terminal o aún no vence.
func (m *StateMachine) ExpireDocument(ctx context.Context, documentID int64) error {
	doc, err := m.documents.GetByID(ctx, documentID)
	if err != nil {
		return err
	}
	if doc == nil || doc.IsTerminal() {
		return nil
	}
	now := m.clock.Now()
	if !doc.IsExpired(now) {
		return nil
	}
	inv, err := m.invoices.GetByID(ctx, doc.InvoiceID)
	if err != nil {
		return err
	}

	doc.Status = entity.DocumentStatusExpired
	doc.UpdatedAt = now
	if inv != nil && !inv.IsTerminal() && inv.Status != entity.InvoiceStatusCertified && inv.Status != entity.InvoiceStatusSent {
		inv.Status = entity.InvoiceStatusExpired
		inv.UpdatedAt = now
	}

	err = m.tx.RunFel(ctx, func(
		invoices repository.InvoiceRepository,
		documents repository.FelDocumentRepository,
		_ repository.FelErrorRepository,
	) error {
		if err := documents.Update(ctx, doc); err != nil {
			return err
		}
		if inv != nil {
			return invoices.Update(ctx, inv)
		}
		return nil
	})
	if err != nil {
		return err
	}

	var invID *int64
	if inv != nil {
		invID = &inv.ID
	}
	m.audit.Record(ctx, AuditEntry{
		InvoiceID:     invID,
		FelDocumentID: &doc.ID,
		OperationType: pkgfel.OpExpire,
		Result:        pkgfel.AuditResultSuccess,
		StartedAt:     now,
	})
	m.log.Warn().Str("documento", doc.UUID).Msg("Documento expirado sin certificarse")
	return nil
}

func (m *StateMachine) outcome(doc *entity.FelDocument, inv *entity.Invoice, willRetry bool) *Outcome {
	return &Outcome{
		DocumentStatus:      doc.Status,
		InvoiceStatus:       inv.Status,
		AuthorizationNumber: doc.AuthorizationNumber,
		Series:              doc.Series,
		Number:              doc.Number,
		ErrorCode:           doc.ErrorCode,
		ErrorMessage:        doc.ErrorMessage,
		RetryCount:          doc.RetryCount,
		WillRetry:           willRetry,
	}
}
