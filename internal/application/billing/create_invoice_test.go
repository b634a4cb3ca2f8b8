package billing

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventosgt/fel-engine/internal/application/dto"
	"github.com/eventosgt/fel-engine/internal/domain"
	"github.com/eventosgt/fel-engine/internal/domain/entity"
	"github.com/eventosgt/fel-engine/internal/domain/repository"
	"github.com/eventosgt/fel-engine/pkg/logger"
)

// ──────────────────────────────────────────────────────────────────────────────
// Fakes en memoria
// ──────────────────────────────────────────────────────────────────────────────

type memInvoices struct {
	mu       sync.Mutex
	nextID   int64
	invoices map[int64]*entity.Invoice
	items    map[int64][]*entity.InvoiceItem
}

func newMemInvoices() *memInvoices {
	return &memInvoices{
		invoices: make(map[int64]*entity.Invoice),
		items:    make(map[int64][]*entity.InvoiceItem),
	}
}

func (m *memInvoices) Create(_ context.Context, inv *entity.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	inv.ID = m.nextID
	if inv.UUID == "" {
		inv.UUID = fmt.Sprintf("00000000-0000-0000-0000-%012d", inv.ID)
	}
	cp := *inv
	m.invoices[inv.ID] = &cp
	return nil
}

func (m *memInvoices) CreateItem(_ context.Context, item *entity.InvoiceItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *item
	m.items[item.InvoiceID] = append(m.items[item.InvoiceID], &cp)
	return nil
}

func (m *memInvoices) GetByID(_ context.Context, id int64) (*entity.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil, nil
	}
	cp := *inv
	return &cp, nil
}

func (m *memInvoices) GetItems(_ context.Context, invoiceID int64) ([]*entity.InvoiceItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*entity.InvoiceItem, 0, len(m.items[invoiceID]))
	for _, it := range m.items[invoiceID] {
		cp := *it
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memInvoices) Update(_ context.Context, inv *entity.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *inv
	m.invoices[inv.ID] = &cp
	return nil
}

func (m *memInvoices) GetFelStatus(ctx context.Context, id int64) (*entity.Invoice, error) {
	return m.GetByID(ctx, id)
}

func (m *memInvoices) ListExpiring(_ context.Context, before time.Time, limit int) ([]*entity.Invoice, error) {
	return nil, nil
}

func (m *memInvoices) SoftDelete(_ context.Context, id int64, at time.Time) error {
	return nil
}

// passthroughTx ejecuta la función con los mismos repos, sin transacción real.
type passthroughTx struct{ invoices *memInvoices }

func (t passthroughTx) RunFel(_ context.Context, fn func(repository.InvoiceRepository, repository.FelDocumentRepository, repository.FelErrorRepository) error) error {
	return fn(t.invoices, nil, nil)
}

func newUC(t *testing.T) (*CreateInvoiceUseCase, *memInvoices) {
	t.Helper()
	repo := newMemInvoices()
	uc := NewCreateInvoiceUseCase(repo, passthroughTx{invoices: repo}, nil, logger.Nop(), 0)
	return uc, repo
}

func validRequest() dto.CreateInvoiceRequest {
	return dto.CreateInvoiceRequest{
		RegistrationID: "REG-2026-0001",
		BuyerNIT:       "1234567-9",
		BuyerName:      "Asociación de Productores",
		BuyerAddress:   "Zona 1, Ciudad de Guatemala",
		Items: []dto.InvoiceItemRequest{
			{Description: "Entrada general", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.RequireFromString("35.00")},
			{Description: "Parqueo", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.RequireFromString("17.59")},
		},
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────────────────────────────────

func TestCreateInvoice_CalculaTotalesConIVA(t *testing.T) {
	uc, _ := newUC(t)

	resp, err := uc.CreateInvoice(context.Background(), validRequest())
	require.NoError(t, err)

	// 2×35.00 + 17.59 = 87.59; IVA 12% = 10.51; total 98.10
	assert.Equal(t, "87.59", resp.Subtotal.StringFixed(2), "subtotal")
	assert.Equal(t, "10.51", resp.TaxAmount.StringFixed(2), "IVA")
	assert.Equal(t, "98.10", resp.Total.StringFixed(2), "total")
	assert.Equal(t, entity.InvoiceStatusDraft, resp.Status, "la factura nace en draft")
	assert.Equal(t, "12345679", resp.BuyerNIT, "el NIT se normaliza sin guion")
	assert.NotEmpty(t, resp.UUID)
	assert.Len(t, resp.Items, 2)
}

func TestCreateInvoice_ConsumidorFinalPorDefecto(t *testing.T) {
	uc, _ := newUC(t)

	in := validRequest()
	in.BuyerNIT = ""
	resp, err := uc.CreateInvoice(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, "CF", resp.BuyerNIT, "sin NIT la venta es a consumidor final")
}

func TestCreateInvoice_NITInvalido(t *testing.T) {
	uc, _ := newUC(t)

	in := validRequest()
	in.BuyerNIT = "12345678" // dígito verificador incorrecto
	_, err := uc.CreateInvoice(context.Background(), in)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestCreateInvoice_EntradaInvalida(t *testing.T) {
	uc, _ := newUC(t)

	cases := []struct {
		name   string
		mutate func(*dto.CreateInvoiceRequest)
	}{
		{"sin registro", func(in *dto.CreateInvoiceRequest) { in.RegistrationID = "" }},
		{"sin comprador", func(in *dto.CreateInvoiceRequest) { in.BuyerName = "  " }},
		{"sin líneas", func(in *dto.CreateInvoiceRequest) { in.Items = nil }},
		{"cantidad cero", func(in *dto.CreateInvoiceRequest) { in.Items[0].Quantity = decimal.Zero }},
		{"precio negativo", func(in *dto.CreateInvoiceRequest) { in.Items[0].UnitPrice = decimal.NewFromInt(-1) }},
		{"tipo desconocido", func(in *dto.CreateInvoiceRequest) { in.DocumentType = "RECIBO" }},
		{"línea sin descripción", func(in *dto.CreateInvoiceRequest) { in.Items[0].Description = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validRequest()
			tc.mutate(&in)
			_, err := uc.CreateInvoice(context.Background(), in)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestCreateInvoice_AsignaVencimientoDelDraft(t *testing.T) {
	uc, repo := newUC(t)

	resp, err := uc.CreateInvoice(context.Background(), validRequest())
	require.NoError(t, err)

	stored, err := repo.GetByID(context.Background(), resp.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(DraftTTL), *stored.ExpiresAt, time.Minute)
}

func TestGetInvoice_NoExiste(t *testing.T) {
	uc, _ := newUC(t)

	_, err := uc.GetInvoice(context.Background(), 999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetFelStatus_DevuelveCamposDeCertificacion(t *testing.T) {
	uc, repo := newUC(t)

	resp, err := uc.CreateInvoice(context.Background(), validRequest())
	require.NoError(t, err)

	stored, _ := repo.GetByID(context.Background(), resp.ID)
	stored.Status = entity.InvoiceStatusCertified
	stored.Series = "A1"
	stored.Number = 4242
	stored.AuthorizationNumber = "AUTH-001"
	require.NoError(t, repo.Update(context.Background(), stored))

	status, err := uc.GetFelStatus(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.InvoiceStatusCertified, status.Status)
	assert.Equal(t, "A1", status.Series)
	assert.Equal(t, int64(4242), status.Number)
	assert.Equal(t, "AUTH-001", status.AuthorizationNumber)
}
