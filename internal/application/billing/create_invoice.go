// Package billing expone los casos de uso de facturación: alta de la
// factura en draft a partir de una inscripción y consulta de su detalle.
// La certificación posterior es responsabilidad de la máquina de estados.
package billing

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eventosgt/fel-engine/internal/application/certification"
	"github.com/eventosgt/fel-engine/internal/application/dto"
	"github.com/eventosgt/fel-engine/internal/domain"
	"github.com/eventosgt/fel-engine/internal/domain/entity"
	"github.com/eventosgt/fel-engine/internal/domain/repository"
	"github.com/eventosgt/fel-engine/pkg/clock"
	"github.com/eventosgt/fel-engine/pkg/fel"
	"github.com/eventosgt/fel-engine/pkg/logger"
)

// IVARate tasa de IVA vigente en Guatemala.
var IVARate = decimal.NewFromFloat(0.12)

// DraftTTL plazo para certificar una factura antes de que el barrido la
// expire (configurable por constructor).
const DraftTTL = 72 * time.Hour

// CreateInvoiceUseCase crea facturas en draft y resuelve sus consultas.
type CreateInvoiceUseCase struct {
	invoices repository.InvoiceRepository
	tx       certification.TxRunner
	clock    clock.Clock
	log      *logger.Logger
	draftTTL time.Duration
}

// NewCreateInvoiceUseCase construye el caso de uso.
func NewCreateInvoiceUseCase(
	invoices repository.InvoiceRepository,
	tx certification.TxRunner,
	clk clock.Clock,
	log *logger.Logger,
	draftTTL time.Duration,
) *CreateInvoiceUseCase {
	if clk == nil {
		clk = clock.System{}
	}
	if draftTTL <= 0 {
		draftTTL = DraftTTL
	}
	return &CreateInvoiceUseCase{
		invoices: invoices,
		tx:       tx,
		clock:    clk,
		log:      log,
		draftTTL: draftTTL,
	}
}

// CreateInvoice valida la solicitud, calcula los totales y persiste la
// cabecera con sus líneas en una sola transacción. La factura nace en draft;
// serie, número y autorización quedan en blanco hasta que el certificador
// los asigne.
func (uc *CreateInvoiceUseCase) CreateInvoice(ctx context.Context, in dto.CreateInvoiceRequest) (*dto.InvoiceResponse, error) {
	if in.RegistrationID == "" || strings.TrimSpace(in.BuyerName) == "" || len(in.Items) == 0 {
		return nil, domain.ErrInvalidInput
	}

	docType := in.DocumentType
	if docType == "" {
		docType = fel.DocTypeFactura
	}
	if _, ok := fel.DTECode(docType); !ok {
		return nil, domain.ErrInvalidInput
	}

	buyerNIT := fel.NormalizeNIT(in.BuyerNIT)
	if buyerNIT == "" {
		buyerNIT = fel.NITConsumidorFinal
	}
	if err := fel.ValidateNIT(buyerNIT); err != nil {
		return nil, domain.ErrInvalidInput
	}

	currency := in.Currency
	if currency == "" {
		currency = fel.CurrencyGTQ
	}

	subtotal := decimal.Zero
	items := make([]*entity.InvoiceItem, 0, len(in.Items))
	for _, it := range in.Items {
		if strings.TrimSpace(it.Description) == "" {
			return nil, domain.ErrInvalidInput
		}
		if !it.Quantity.GreaterThan(decimal.Zero) || it.UnitPrice.LessThan(decimal.Zero) {
			return nil, domain.ErrInvalidInput
		}
		lineSubtotal := it.Quantity.Mul(it.UnitPrice).Round(2)
		subtotal = subtotal.Add(lineSubtotal)
		items = append(items, &entity.InvoiceItem{
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			TaxRate:     IVARate,
			Subtotal:    lineSubtotal,
		})
	}

	taxAmount := subtotal.Mul(IVARate).Round(2)
	total := subtotal.Add(taxAmount)

	now := uc.clock.Now()
	expiresAt := now.Add(uc.draftTTL)
	inv := &entity.Invoice{
		RegistrationID: in.RegistrationID,
		Status:         entity.InvoiceStatusDraft,
		DocumentType:   docType,
		BuyerNIT:       buyerNIT,
		BuyerName:      strings.TrimSpace(in.BuyerName),
		BuyerAddress:   strings.TrimSpace(in.BuyerAddress),
		Subtotal:       subtotal,
		TaxRate:        IVARate,
		TaxAmount:      taxAmount,
		Total:          total,
		Currency:       currency,
		ExpiresAt:      &expiresAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := uc.tx.RunFel(ctx, func(invoices repository.InvoiceRepository, _ repository.FelDocumentRepository, _ repository.FelErrorRepository) error {
		if err := invoices.Create(ctx, inv); err != nil {
			return err
		}
		for _, item := range items {
			item.InvoiceID = inv.ID
			if err := invoices.CreateItem(ctx, item); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	uc.log.Info().
		Int64("factura_id", inv.ID).
		Str("registro", inv.RegistrationID).
		Str("total", inv.Total.StringFixed(2)).
		Msg("Factura creada en draft")

	return toInvoiceResponse(inv, items), nil
}

// GetInvoice devuelve el detalle completo de una factura con sus líneas.
func (uc *CreateInvoiceUseCase) GetInvoice(ctx context.Context, id int64) (*dto.InvoiceResponse, error) {
	inv, err := uc.invoices.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, domain.ErrNotFound
	}
	items, err := uc.invoices.GetItems(ctx, id)
	if err != nil {
		return nil, err
	}
	return toInvoiceResponse(inv, items), nil
}

// GetFelStatus devuelve solo los campos de certificación (consulta ligera).
func (uc *CreateInvoiceUseCase) GetFelStatus(ctx context.Context, id int64) (*dto.FelStatusResponse, error) {
	inv, err := uc.invoices.GetFelStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, domain.ErrNotFound
	}
	return &dto.FelStatusResponse{
		InvoiceID:           inv.ID,
		Status:              inv.Status,
		Series:              inv.Series,
		Number:              inv.Number,
		AuthorizationNumber: inv.AuthorizationNumber,
		AuthorizationDate:   inv.AuthorizationDate,
		RetryCount:          inv.RetryCount,
		ErrorMessage:        inv.ErrorMessage,
	}, nil
}

func toInvoiceResponse(inv *entity.Invoice, items []*entity.InvoiceItem) *dto.InvoiceResponse {
	out := &dto.InvoiceResponse{
		ID:                  inv.ID,
		UUID:                inv.UUID,
		RegistrationID:      inv.RegistrationID,
		Status:              inv.Status,
		DocumentType:        inv.DocumentType,
		Series:              inv.Series,
		Number:              inv.Number,
		BuyerNIT:            inv.BuyerNIT,
		BuyerName:           inv.BuyerName,
		Subtotal:            inv.Subtotal,
		TaxAmount:           inv.TaxAmount,
		Total:               inv.Total,
		Currency:            inv.Currency,
		AuthorizationNumber: inv.AuthorizationNumber,
		AuthorizationDate:   inv.AuthorizationDate,
		CreatedAt:           inv.CreatedAt,
		Items:               make([]dto.InvoiceItemResponse, 0, len(items)),
	}
	for _, it := range items {
		out.Items = append(out.Items, dto.InvoiceItemResponse{
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			Subtotal:    it.Subtotal,
		})
	}
	return out
}
