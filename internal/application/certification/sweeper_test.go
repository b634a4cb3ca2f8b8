package certification

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventosgt/fel-engine/internal/domain/entity"
	infrafel "github.com/eventosgt/fel-engine/internal/infrastructure/fel"
	pkgfel "github.com/eventosgt/fel-engine/pkg/fel"
	"github.com/eventosgt/fel-engine/pkg/logger"
)

func newSweeperEnv(t *testing.T) (*machineEnv, *Sweeper) {
	t.Helper()
	env := newMachineEnv(t)
	sw := NewSweeper(
		env.m,
		env.store.invoiceRepo(), env.store.documentRepo(),
		env.store.tokenRepo(), env.store.auditRepo(),
		env.clk, logger.Nop(),
		SweeperConfig{StaleSentAfter: 10 * time.Minute},
	)
	return env, sw
}

func TestSweep_ExpiraDocumentosVencidos(t *testing.T) {
	env, sw := newSweeperEnv(t)
	ctx := context.Background()
	inv, doc := env.seedPair(t, entity.InvoiceStatusPending, entity.DocumentStatusGenerated)

	env.clk.Advance(73 * time.Hour) // el TTL sembrado es de 72h

	sw.Sweep(ctx)

	gotDoc, _ := env.store.documentRepo().GetByID(ctx, doc.ID)
	gotInv, _ := env.store.invoiceRepo().GetByID(ctx, inv.ID)
	assert.Equal(t, entity.DocumentStatusExpired, gotDoc.Status)
	assert.Equal(t, entity.InvoiceStatusExpired, gotInv.Status)
	assert.Contains(t, env.store.auditResults(pkgfel.OpExpire), pkgfel.AuditResultSuccess)
}

func TestSweep_NoTocaDocumentosVigentes(t *testing.T) {
	env, sw := newSweeperEnv(t)
	ctx := context.Background()
	_, doc := env.seedPair(t, entity.InvoiceStatusPending, entity.DocumentStatusGenerated)

	env.clk.Advance(time.Hour)

	sw.Sweep(ctx)

	gotDoc, _ := env.store.documentRepo().GetByID(ctx, doc.ID)
	assert.Equal(t, entity.DocumentStatusGenerated, gotDoc.Status)
}

func TestSweep_ReconciliaVaradosEnSent(t *testing.T) {
	env, sw := newSweeperEnv(t)
	ctx := context.Background()
	inv, doc := env.seedPair(t, entity.InvoiceStatusPending, entity.DocumentStatusSent)

	env.cert.queryFn = func(ctx context.Context, reference string) (*infrafel.StatusResult, error) {
		return &infrafel.StatusResult{
			Status:              infrafel.RemoteStatusCertified,
			AuthorizationNumber: "REC-0042",
			Series:              "C3",
			Number:              11,
		}, nil
	}

	// Recién actualizado: todavía no se considera varado.
	sw.Sweep(ctx)
	assert.Zero(t, env.cert.queryCalls.Load())

	env.clk.Advance(11 * time.Minute)
	sw.Sweep(ctx)

	assert.Equal(t, int32(1), env.cert.queryCalls.Load())
	assert.Zero(t, env.cert.certifyCalls.Load(), "la reconciliación del barrido no reenvía")

	gotInv, _ := env.store.invoiceRepo().GetByID(ctx, inv.ID)
	gotDoc, _ := env.store.documentRepo().GetByID(ctx, doc.ID)
	assert.Equal(t, entity.InvoiceStatusCertified, gotInv.Status)
	assert.Equal(t, entity.DocumentStatusCertified, gotDoc.Status)
	assert.Equal(t, "REC-0042", gotDoc.AuthorizationNumber)
}

func TestSweep_ExpiraFacturasDraftAbandonadas(t *testing.T) {
	env, sw := newSweeperEnv(t)
	ctx := context.Background()
	now := env.clk.Now()

	expires := now.Add(24 * time.Hour)
	inv := &entity.Invoice{
		UUID:      "draft-abandonada",
		Status:    entity.InvoiceStatusDraft,
		ExpiresAt: &expires,
		CreatedAt: now,
	}
	require.NoError(t, env.store.invoiceRepo().Create(ctx, inv))

	env.clk.Advance(25 * time.Hour)
	sw.Sweep(ctx)

	got, _ := env.store.invoiceRepo().GetByID(ctx, inv.ID)
	assert.Equal(t, entity.InvoiceStatusExpired, got.Status)
}

func TestSweep_ExpiraTokensVencidos(t *testing.T) {
	env, sw := newSweeperEnv(t)
	ctx := context.Background()
	now := env.clk.Now()

	require.NoError(t, env.store.tokenRepo().Create(ctx, &entity.FelToken{
		CertifierName: "infile",
		AccessToken:   "viejo",
		Status:        entity.TokenStatusActive,
		ExpiresAt:     now.Add(30 * time.Minute),
	}))

	env.clk.Advance(time.Hour)
	sw.Sweep(ctx)

	active, _ := env.store.tokenRepo().GetActive(ctx, "infile")
	assert.Nil(t, active, "el token vencido debe quedar marcado expired")
}

func TestSweep_PurgaBitacoraFueraDeRetencion(t *testing.T) {
	env, sw := newSweeperEnv(t)
	ctx := context.Background()
	now := env.clk.Now()

	old := now.Add(-entity.AuditRetention - 24*time.Hour)
	require.NoError(t, env.store.auditRepo().Append(ctx, &entity.FelAuditLog{
		OperationType: pkgfel.OpCertify,
		Result:        pkgfel.AuditResultSuccess,
		CreatedAt:     old,
	}))
	require.NoError(t, env.store.auditRepo().Append(ctx, &entity.FelAuditLog{
		OperationType: pkgfel.OpCertify,
		Result:        pkgfel.AuditResultSuccess,
		CreatedAt:     now,
	}))

	sw.Sweep(ctx)

	assert.Len(t, env.store.auditResults(pkgfel.OpCertify), 1,
		"solo sobrevive la fila dentro del horizonte de retención")
}

func TestSweeper_StartYStop(t *testing.T) {
	env, _ := newSweeperEnv(t)
	sw := NewSweeper(
		env.m,
		env.store.invoiceRepo(), env.store.documentRepo(),
		env.store.tokenRepo(), env.store.auditRepo(),
		env.clk, logger.Nop(),
		SweeperConfig{Interval: 10 * time.Millisecond},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sw.Start(ctx)

	time.Sleep(30 * time.Millisecond)
	sw.Stop() // no debe colgarse ni entrar en pánico

	// Stop repetido es seguro.
	assert.NotPanics(t, func() { sw.Stop() })
}
