// Package http registra la superficie administrativa del motor FEL sobre
// Fiber: facturación, certificación, reconciliación y triage de errores.
package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/eventosgt/fel-engine/internal/application/billing"
	"github.com/eventosgt/fel-engine/internal/application/certification"
	"github.com/eventosgt/fel-engine/internal/domain/repository"
	"github.com/eventosgt/fel-engine/pkg/clock"
)

// Roles de la superficie administrativa.
const (
	RoleAdmin    = "admin"
	RoleBilling  = "billing"
	RoleOperator = "operator"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	CreateInvoice *billing.CreateInvoiceUseCase
	Machine       *certification.StateMachine
	Documents     repository.FelDocumentRepository
	FelErrors     repository.FelErrorRepository
	Audits        repository.FelAuditRepository
	Clock         clock.Clock
	JWTSecret     string
}

// Router registra las rutas de la API.
func Router(app *fiber.App, deps RouterDeps) {
	api := app.Group("/api")

	// Rutas protegidas (requieren Bearer Token emitido por la plataforma)
	protected := api.Group("/", AuthMiddleware(deps.JWTSecret))

	// Invoices (protegido)
	invoices := protected.Group("/invoices")
	invoiceHandler := NewInvoiceHandler(deps.CreateInvoice, deps.Machine, deps.Documents, deps.Audits)
	invoices.Post("/", invoiceHandler.Create)
	invoices.Get("/:id", invoiceHandler.GetByID)
	invoices.Get("/:id/fel", invoiceHandler.FelStatus)
	invoices.Get("/:id/audit", invoiceHandler.AuditTrail)
	invoices.Post("/:id/certify", invoiceHandler.Certify)
	invoices.Post("/:id/reconcile", invoiceHandler.Reconcile)

	// La anulación tiene efectos fiscales: solo admin y billing.
	invoices.Post("/:id/cancel", RequireRole(RoleAdmin, RoleBilling), invoiceHandler.Cancel)

	// Cola de errores FEL (protegido, triage de operadores)
	felGroup := protected.Group("/fel", RequireRole(RoleAdmin, RoleBilling, RoleOperator))
	felErrorHandler := NewFelErrorHandler(deps.FelErrors, deps.Clock)
	felGroup.Get("/errors", felErrorHandler.List)
	felGroup.Put("/errors/:id/resolve", felErrorHandler.Resolve)
}
