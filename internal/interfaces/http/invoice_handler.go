package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/eventosgt/fel-engine/internal/application/billing"
	"github.com/eventosgt/fel-engine/internal/application/certification"
	"github.com/eventosgt/fel-engine/internal/application/dto"
	"github.com/eventosgt/fel-engine/internal/domain"
	"github.com/eventosgt/fel-engine/internal/domain/repository"
	infrafel "github.com/eventosgt/fel-engine/internal/infrastructure/fel"
)

// InvoiceHandler maneja las peticiones HTTP de facturación y certificación
// (protegido).
type InvoiceHandler struct {
	uc        *billing.CreateInvoiceUseCase
	machine   *certification.StateMachine
	documents repository.FelDocumentRepository
	audits    repository.FelAuditRepository
}

// NewInvoiceHandler construye el handler.
func NewInvoiceHandler(
	uc *billing.CreateInvoiceUseCase,
	machine *certification.StateMachine,
	documents repository.FelDocumentRepository,
	audits repository.FelAuditRepository,
) *InvoiceHandler {
	return &InvoiceHandler{uc: uc, machine: machine, documents: documents, audits: audits}
}

// Create crea una factura en draft.
// POST /api/invoices
func (h *InvoiceHandler) Create(c *fiber.Ctx) error {
	var in dto.CreateInvoiceRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	invoice, err := h.uc.CreateInvoice(c.Context(), in)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "datos inválidos"})
		}
		if errors.Is(err, domain.ErrDuplicate) {
			return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "DUPLICATE", Message: "la factura ya existe"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(invoice)
}

// GetByID obtiene el detalle completo de una factura.
// GET /api/invoices/:id
func (h *InvoiceHandler) GetByID(c *fiber.Ctx) error {
	id, ok := invoiceID(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "id inválido"})
	}
	invoice, err := h.uc.GetInvoice(c.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "factura no encontrada"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	return c.JSON(invoice)
}

// FelStatus devuelve el estado de certificación de una factura.
// GET /api/invoices/:id/fel
func (h *InvoiceHandler) FelStatus(c *fiber.Ctx) error {
	id, ok := invoiceID(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "id inválido"})
	}
	status, err := h.uc.GetFelStatus(c.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "factura no encontrada"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	return c.JSON(status)
}

// Certify ensambla el DTE si hace falta y lo envía al certificador.
// POST /api/invoices/:id/certify
func (h *InvoiceHandler) Certify(c *fiber.Ctx) error {
	id, ok := invoiceID(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "id inválido"})
	}
	doc, err := h.machine.PrepareDocument(c.Context(), id)
	if err != nil {
		return felError(c, err)
	}
	outcome, err := h.machine.SubmitForCertification(c.Context(), doc.ID)
	if err != nil {
		return felError(c, err)
	}
	if outcome == nil {
		// Otro llamador ganó el compare-and-set: el intento ya está en curso.
		return c.Status(fiber.StatusAccepted).JSON(dto.ErrorResponse{Code: "IN_PROGRESS", Message: "certificación en curso"})
	}
	return c.JSON(toCertifyResponse(outcome))
}

// Reconcile consulta el estado remoto del documento y adopta la verdad del
// certificador.
// POST /api/invoices/:id/reconcile
func (h *InvoiceHandler) Reconcile(c *fiber.Ctx) error {
	id, ok := invoiceID(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "id inválido"})
	}
	doc, err := h.documents.GetByInvoiceID(c.Context(), id)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	if doc == nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "la factura no tiene documento FEL"})
	}
	outcome, err := h.machine.Reconcile(c.Context(), doc.ID)
	if err != nil {
		return felError(c, err)
	}
	return c.JSON(toCertifyResponse(outcome))
}

// Cancel anula una factura certificada ante el certificador.
// POST /api/invoices/:id/cancel
func (h *InvoiceHandler) Cancel(c *fiber.Ctx) error {
	id, ok := invoiceID(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "id inválido"})
	}
	var in dto.CancelInvoiceRequest
	if err := c.BodyParser(&in); err != nil || in.Reason == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "reason requerido"})
	}
	outcome, err := h.machine.CancelDocument(c.Context(), id, in.Reason)
	if err != nil {
		return felError(c, err)
	}
	return c.JSON(toCertifyResponse(outcome))
}

// AuditTrail lista la bitácora de certificación de una factura.
// GET /api/invoices/:id/audit
func (h *InvoiceHandler) AuditTrail(c *fiber.Ctx) error {
	id, ok := invoiceID(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "id inválido"})
	}
	var page dto.PageRequest
	if err := c.QueryParser(&page); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "paginación inválida"})
	}
	page.DefaultPage()
	logs, err := h.audits.ListByInvoice(c.Context(), id, page.Limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	out := make([]dto.AuditLogResponse, 0, len(logs))
	for _, l := range logs {
		out = append(out, dto.AuditLogResponse{
			ID:               l.ID,
			OperationType:    l.OperationType,
			Result:           l.Result,
			ErrorMessage:     l.ErrorMessage,
			ProcessingTimeMs: l.ProcessingTimeMs,
			CreatedAt:        l.CreatedAt,
		})
	}
	return c.JSON(out)
}

// invoiceID extrae y valida el parámetro :id.
func invoiceID(c *fiber.Ctx) (int64, bool) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return 0, false
	}
	return int64(id), true
}

// felError mapea los errores de la máquina de estados a códigos HTTP.
func felError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "factura no encontrada"})
	case errors.Is(err, domain.ErrConflict):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "CONFLICT", Message: "el documento tiene un envío pendiente; reconciliar antes de reenviar"})
	case errors.Is(err, domain.ErrNotCancellable):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "NOT_CANCELLABLE", Message: "la factura no admite anulación"})
	case errors.Is(err, domain.ErrInvalidState):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(dto.ErrorResponse{Code: "INVALID_STATE", Message: err.Error()})
	case errors.Is(err, domain.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: err.Error()})
	default:
		var asmErr *infrafel.AssemblyError
		if errors.As(err, &asmErr) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(dto.ErrorResponse{Code: "ASSEMBLY", Message: asmErr.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
}

func toCertifyResponse(o *certification.Outcome) dto.CertifyResponse {
	return dto.CertifyResponse{
		DocumentStatus:      o.DocumentStatus,
		InvoiceStatus:       o.InvoiceStatus,
		AuthorizationNumber: o.AuthorizationNumber,
		Series:              o.Series,
		Number:              o.Number,
		ErrorCode:           o.ErrorCode,
		ErrorMessage:        o.ErrorMessage,
		RetryCount:          o.RetryCount,
		WillRetry:           o.WillRetry,
	}
}
