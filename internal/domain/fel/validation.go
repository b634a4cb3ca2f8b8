// Package fel contiene validaciones de dominio para la certificación FEL
// (Guatemala). Reglas puras sobre la factura y sus líneas; sin red ni DB.
package fel

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/eventosgt/fel-engine/internal/domain/entity"
	pkgfel "github.com/eventosgt/fel-engine/pkg/fel"
)

// ErrInvalidInvoice agrupa errores de validación de factura para FEL.
var ErrInvalidInvoice = errors.New("factura inválida para FEL")

// Tolerance tolerancia de redondeo al reconciliar montos (±0.01).
var Tolerance = decimal.NewFromFloat(0.01)

// ValidateInvoice valida la factura y sus líneas antes de ensamblar el DTE:
// datos del receptor completos, NIT con dígito verificador válido (o CF),
// tipo de documento catalogado y totales coherentes dentro de la tolerancia.
func ValidateInvoice(invoice *entity.Invoice, items []*entity.InvoiceItem) error {
	if invoice == nil {
		return fmt.Errorf("%w: factura nula", ErrInvalidInvoice)
	}
	var errs []error

	if invoice.BuyerName == "" {
		errs = append(errs, fmt.Errorf("%w: nombre del receptor requerido", ErrInvalidInvoice))
	}
	if invoice.BuyerAddress == "" {
		errs = append(errs, fmt.Errorf("%w: dirección del receptor requerida", ErrInvalidInvoice))
	}
	if invoice.BuyerNIT == "" {
		errs = append(errs, fmt.Errorf("%w: NIT del receptor requerido", ErrInvalidInvoice))
	} else if err := pkgfel.ValidateNIT(invoice.BuyerNIT); err != nil {
		errs = append(errs, err)
	}
	if _, ok := pkgfel.DTECode(invoice.DocumentType); !ok {
		errs = append(errs, fmt.Errorf("%w: tipo de documento %q no catalogado", ErrInvalidInvoice, invoice.DocumentType))
	}

	if len(items) == 0 {
		errs = append(errs, fmt.Errorf("%w: la factura debe tener al menos una línea", ErrInvalidInvoice))
	} else {
		var sumSubtotal decimal.Decimal
		for _, it := range items {
			sumSubtotal = sumSubtotal.Add(it.Subtotal)
		}
		if diff := invoice.Subtotal.Sub(sumSubtotal.Round(2)).Abs(); diff.GreaterThan(Tolerance) {
			errs = append(errs, fmt.Errorf("subtotal (%s) no coincide con la suma de líneas (%s)",
				invoice.Subtotal.String(), sumSubtotal.Round(2).String()))
		}
	}

	// total = subtotal + taxAmount dentro de la tolerancia.
	expected := invoice.Subtotal.Add(invoice.TaxAmount)
	if diff := invoice.Total.Sub(expected).Abs(); diff.GreaterThan(Tolerance) {
		errs = append(errs, fmt.Errorf("total (%s) no coincide con subtotal + IVA (%s)",
			invoice.Total.String(), expected.Round(2).String()))
	}

	// taxAmount = subtotal × taxRate dentro de la tolerancia.
	expectedTax := invoice.Subtotal.Mul(invoice.TaxRate).Round(2)
	if diff := invoice.TaxAmount.Sub(expectedTax).Abs(); diff.GreaterThan(Tolerance) {
		errs = append(errs, fmt.Errorf("IVA (%s) no coincide con subtotal × tasa (%s)",
			invoice.TaxAmount.String(), expectedTax.String()))
	}

	return errors.Join(errs...)
}
