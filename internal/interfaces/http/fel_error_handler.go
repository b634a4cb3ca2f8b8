package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/eventosgt/fel-engine/internal/application/dto"
	"github.com/eventosgt/fel-engine/internal/domain"
	"github.com/eventosgt/fel-engine/internal/domain/entity"
	"github.com/eventosgt/fel-engine/internal/domain/repository"
	"github.com/eventosgt/fel-engine/pkg/clock"
)

// FelErrorHandler expone la cola de errores FEL sin resolver para triage
// de operadores (protegido, solo admin/billing).
type FelErrorHandler struct {
	felErrors repository.FelErrorRepository
	clock     clock.Clock
}

// NewFelErrorHandler construye el handler.
func NewFelErrorHandler(felErrors repository.FelErrorRepository, clk clock.Clock) *FelErrorHandler {
	if clk == nil {
		clk = clock.System{}
	}
	return &FelErrorHandler{felErrors: felErrors, clock: clk}
}

// List lista los errores sin resolver ordenados por severidad.
// GET /api/fel/errors
func (h *FelErrorHandler) List(c *fiber.Ctx) error {
	var page dto.PageRequest
	if err := c.QueryParser(&page); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "paginación inválida"})
	}
	page.DefaultPage()
	felErrs, err := h.felErrors.ListUnresolved(c.Context(), page.Limit, page.Offset)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	out := make([]dto.FelErrorResponse, 0, len(felErrs))
	for _, e := range felErrs {
		out = append(out, toFelErrorResponse(e))
	}
	return c.JSON(out)
}

// Resolve marca un error como resuelto manualmente (el operador ya atendió
// la causa fuera del sistema).
// PUT /api/fel/errors/:id/resolve
func (h *FelErrorHandler) Resolve(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "id inválido"})
	}
	felErr, err := h.felErrors.GetByID(c.Context(), int64(id))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "error no encontrado"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	if felErr == nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "error no encontrado"})
	}
	if !felErr.Resolved {
		now := h.clock.Now()
		felErr.Resolved = true
		felErr.ResolvedAt = &now
		felErr.UpdatedAt = now
		if err := h.felErrors.Update(c.Context(), felErr); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
		}
	}
	return c.JSON(toFelErrorResponse(felErr))
}

func toFelErrorResponse(e *entity.FelError) dto.FelErrorResponse {
	return dto.FelErrorResponse{
		ID:            e.ID,
		InvoiceID:     e.InvoiceID,
		FelDocumentID: e.FelDocumentID,
		OperationType: e.OperationType,
		Severity:      e.Severity,
		ErrorCode:     e.ErrorCode,
		ErrorMessage:  e.ErrorMessage,
		RetryCount:    e.RetryCount,
		MaxRetries:    e.MaxRetries,
		Resolved:      e.Resolved,
		ResolvedAt:    e.ResolvedAt,
		CreatedAt:     e.CreatedAt,
	}
}
