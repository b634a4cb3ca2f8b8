package fel_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventosgt/fel-engine/internal/domain/entity"
	"github.com/eventosgt/fel-engine/internal/domain/fel"
	pkgfel "github.com/eventosgt/fel-engine/pkg/fel"
)

// buildInvoice construye la factura de referencia: subtotal 87.59 con
// IVA 12% → 10.51 de impuesto y 98.10 de total.
func buildInvoice() (*entity.Invoice, []*entity.InvoiceItem) {
	inv := &entity.Invoice{
		Status:       entity.InvoiceStatusDraft,
		DocumentType: pkgfel.DocTypeFactura,
		BuyerNIT:     "CF",
		BuyerName:    "María Consumidor",
		BuyerAddress: "Ciudad de Guatemala",
		Subtotal:     decimal.NewFromFloat(87.59),
		TaxRate:      decimal.NewFromFloat(0.12),
		TaxAmount:    decimal.NewFromFloat(10.51),
		Total:        decimal.NewFromFloat(98.10),
		Currency:     pkgfel.CurrencyGTQ,
	}
	items := []*entity.InvoiceItem{{
		Description: "Entrada general",
		Quantity:    decimal.NewFromInt(1),
		UnitPrice:   decimal.NewFromFloat(87.59),
		TaxRate:     decimal.NewFromFloat(0.12),
		Subtotal:    decimal.NewFromFloat(87.59),
	}}
	return inv, items
}

func TestValidateInvoice_EscenarioReferencia(t *testing.T) {
	inv, items := buildInvoice()
	require.NoError(t, fel.ValidateInvoice(inv, items),
		"87.59 + 10.51 = 98.10 debe reconciliar sin error")
}

// TestValidateInvoice_TotalNoReconcilia verifica el rechazo cuando el total
// difiere de subtotal + IVA más allá de ±0.01.
func TestValidateInvoice_TotalNoReconcilia(t *testing.T) {
	inv, items := buildInvoice()
	inv.Total = decimal.NewFromFloat(98.15)
	err := fel.ValidateInvoice(inv, items)
	assert.Error(t, err, "una diferencia de 0.05 excede la tolerancia")
}

// TestValidateInvoice_ToleranciaDeRedondeo verifica que una diferencia de
// exactamente 0.01 se acepta.
func TestValidateInvoice_ToleranciaDeRedondeo(t *testing.T) {
	inv, items := buildInvoice()
	inv.Total = decimal.NewFromFloat(98.11)
	assert.NoError(t, fel.ValidateInvoice(inv, items),
		"±0.01 está dentro de la tolerancia de redondeo")
}

func TestValidateInvoice_ReceptorIncompleto(t *testing.T) {
	cases := map[string]func(*entity.Invoice){
		"sin NIT":       func(i *entity.Invoice) { i.BuyerNIT = "" },
		"sin nombre":    func(i *entity.Invoice) { i.BuyerName = "" },
		"sin dirección": func(i *entity.Invoice) { i.BuyerAddress = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			inv, items := buildInvoice()
			mutate(inv)
			assert.Error(t, fel.ValidateInvoice(inv, items),
				"receptor incompleto (%s) debe rechazarse", name)
		})
	}
}

func TestValidateInvoice_NITInvalido(t *testing.T) {
	inv, items := buildInvoice()
	inv.BuyerNIT = "12345678" // dígito verificador incorrecto
	assert.Error(t, fel.ValidateInvoice(inv, items))
}

func TestValidateInvoice_TipoNoCatalogado(t *testing.T) {
	inv, items := buildInvoice()
	inv.DocumentType = "RECIBO"
	assert.Error(t, fel.ValidateInvoice(inv, items))
}

func TestValidateInvoice_SinLineas(t *testing.T) {
	inv, _ := buildInvoice()
	assert.Error(t, fel.ValidateInvoice(inv, nil))
}

func TestValidateInvoice_Nula(t *testing.T) {
	assert.Error(t, fel.ValidateInvoice(nil, nil))
}
