package certification

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eventosgt/fel-engine/internal/domain"
	"github.com/eventosgt/fel-engine/internal/domain/entity"
	"github.com/eventosgt/fel-engine/internal/domain/repository"
	infrafel "github.com/eventosgt/fel-engine/internal/infrastructure/fel"
)

// ── Reloj fijo ────────────────────────────────────────────────────────────────

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ── Almacén en memoria ────────────────────────────────────────────────────────

// memStore guarda los datos compartidos por los fakes de repositorio, con el
// mismo contrato que los adaptadores de postgres: las lecturas devuelven
// copias y UpdateStatusCAS es atómico bajo el mutex.
type memStore struct {
	mu        sync.Mutex
	nextID    int64
	invoices  map[int64]*entity.Invoice
	items     map[int64][]*entity.InvoiceItem
	documents map[int64]*entity.FelDocument
	felErrors map[int64]*entity.FelError
	tokens    map[int64]*entity.FelToken
	audits    []*entity.FelAuditLog

	auditErr error // si no es nil, Append falla con este error
}

func newMemStore() *memStore {
	return &memStore{
		invoices:  make(map[int64]*entity.Invoice),
		items:     make(map[int64][]*entity.InvoiceItem),
		documents: make(map[int64]*entity.FelDocument),
		felErrors: make(map[int64]*entity.FelError),
		tokens:    make(map[int64]*entity.FelToken),
	}
}

// id asigna identificadores; el llamador sostiene el mutex.
func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memStore) invoiceRepo() repository.InvoiceRepository      { return &memInvoices{s: s} }
func (s *memStore) documentRepo() repository.FelDocumentRepository { return &memDocuments{s: s} }
func (s *memStore) errorRepo() repository.FelErrorRepository       { return &memErrors{s: s} }
func (s *memStore) tokenRepo() repository.FelTokenRepository       { return &memTokens{s: s} }
func (s *memStore) auditRepo() repository.FelAuditRepository       { return &memAudits{s: s} }

// RunFel satisface TxRunner. Los fakes no transaccionan: basta con que las
// mutaciones pasen por los mismos métodos.
func (s *memStore) RunFel(ctx context.Context, fn func(
	invoices repository.InvoiceRepository,
	documents repository.FelDocumentRepository,
	felErrors repository.FelErrorRepository,
) error) error {
	return fn(s.invoiceRepo(), s.documentRepo(), s.errorRepo())
}

func (s *memStore) auditResults(operation string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, a := range s.audits {
		if a.OperationType == operation {
			out = append(out, a.Result)
		}
	}
	return out
}

// ── InvoiceRepository ──

type memInvoices struct{ s *memStore }

func (r *memInvoices) Create(ctx context.Context, inv *entity.Invoice) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inv.ID = r.s.id()
	cp := *inv
	r.s.invoices[inv.ID] = &cp
	return nil
}

func (r *memInvoices) CreateItem(ctx context.Context, item *entity.InvoiceItem) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	item.ID = r.s.id()
	cp := *item
	r.s.items[item.InvoiceID] = append(r.s.items[item.InvoiceID], &cp)
	return nil
}

func (r *memInvoices) GetByID(ctx context.Context, id int64) (*entity.Invoice, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inv, ok := r.s.invoices[id]
	if !ok || inv.DeletedAt != nil {
		return nil, nil
	}
	cp := *inv
	return &cp, nil
}

func (r *memInvoices) GetItems(ctx context.Context, invoiceID int64) ([]*entity.InvoiceItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.InvoiceItem
	for _, it := range r.s.items[invoiceID] {
		cp := *it
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memInvoices) Update(ctx context.Context, inv *entity.Invoice) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.invoices[inv.ID]; !ok {
		return domain.ErrNotFound
	}
	cp := *inv
	r.s.invoices[inv.ID] = &cp
	return nil
}

func (r *memInvoices) GetFelStatus(ctx context.Context, id int64) (*entity.Invoice, error) {
	return r.GetByID(ctx, id)
}

func (r *memInvoices) ListExpiring(ctx context.Context, before time.Time, limit int) ([]*entity.Invoice, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.Invoice
	for _, inv := range r.s.invoices {
		if inv.DeletedAt != nil || inv.IsTerminal() {
			continue
		}
		if inv.ExpiresAt != nil && inv.ExpiresAt.Before(before) {
			cp := *inv
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memInvoices) SoftDelete(ctx context.Context, id int64, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inv, ok := r.s.invoices[id]
	if !ok {
		return domain.ErrNotFound
	}
	inv.DeletedAt = &at
	return nil
}

// ── FelDocumentRepository ──

type memDocuments struct{ s *memStore }

func (r *memDocuments) Create(ctx context.Context, doc *entity.FelDocument) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	doc.ID = r.s.id()
	cp := *doc
	r.s.documents[doc.ID] = &cp
	return nil
}

func (r *memDocuments) GetByID(ctx context.Context, id int64) (*entity.FelDocument, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	doc, ok := r.s.documents[id]
	if !ok {
		return nil, nil
	}
	cp := *doc
	return &cp, nil
}

func (r *memDocuments) GetByInvoiceID(ctx context.Context, invoiceID int64) (*entity.FelDocument, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, doc := range r.s.documents {
		if doc.InvoiceID == invoiceID {
			cp := *doc
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memDocuments) Update(ctx context.Context, doc *entity.FelDocument) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.documents[doc.ID]; !ok {
		return domain.ErrNotFound
	}
	cp := *doc
	r.s.documents[doc.ID] = &cp
	return nil
}

func (r *memDocuments) UpdateStatusCAS(ctx context.Context, id int64, from, to string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	doc, ok := r.s.documents[id]
	if !ok || doc.Status != from {
		return false, nil
	}
	doc.Status = to
	return true, nil
}

func (r *memDocuments) ListStuckSent(ctx context.Context, before time.Time, limit int) ([]*entity.FelDocument, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.FelDocument
	for _, doc := range r.s.documents {
		if doc.Status == entity.DocumentStatusSent && doc.UpdatedAt.Before(before) {
			cp := *doc
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memDocuments) ListExpiring(ctx context.Context, before time.Time, limit int) ([]*entity.FelDocument, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.FelDocument
	for _, doc := range r.s.documents {
		if doc.IsTerminal() {
			continue
		}
		if doc.ExpiresAt != nil && doc.ExpiresAt.Before(before) {
			cp := *doc
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ── FelErrorRepository ──

type memErrors struct{ s *memStore }

func (r *memErrors) Create(ctx context.Context, felErr *entity.FelError) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	felErr.ID = r.s.id()
	cp := *felErr
	r.s.felErrors[felErr.ID] = &cp
	return nil
}

func (r *memErrors) GetByID(ctx context.Context, id int64) (*entity.FelError, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	fe, ok := r.s.felErrors[id]
	if !ok {
		return nil, nil
	}
	cp := *fe
	return &cp, nil
}

func (r *memErrors) Update(ctx context.Context, felErr *entity.FelError) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.felErrors[felErr.ID]; !ok {
		return domain.ErrNotFound
	}
	cp := *felErr
	r.s.felErrors[felErr.ID] = &cp
	return nil
}

func (r *memErrors) ListUnresolved(ctx context.Context, limit, offset int) ([]*entity.FelError, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.FelError
	for _, fe := range r.s.felErrors {
		if !fe.Resolved {
			cp := *fe
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memErrors) ResolveByDocument(ctx context.Context, felDocumentID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, fe := range r.s.felErrors {
		if fe.FelDocumentID != nil && *fe.FelDocumentID == felDocumentID && !fe.Resolved {
			fe.Resolved = true
			now := time.Now()
			fe.ResolvedAt = &now
		}
	}
	return nil
}

// ── FelTokenRepository ──

type memTokens struct{ s *memStore }

func (r *memTokens) Create(ctx context.Context, token *entity.FelToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	token.ID = r.s.id()
	cp := *token
	r.s.tokens[token.ID] = &cp
	return nil
}

func (r *memTokens) Update(ctx context.Context, token *entity.FelToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.tokens[token.ID]; !ok {
		return domain.ErrNotFound
	}
	cp := *token
	r.s.tokens[token.ID] = &cp
	return nil
}

func (r *memTokens) GetActive(ctx context.Context, certifierName string) (*entity.FelToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, tk := range r.s.tokens {
		if tk.CertifierName == certifierName && tk.Status == entity.TokenStatusActive {
			cp := *tk
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memTokens) ExpireActiveBefore(ctx context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, tk := range r.s.tokens {
		if tk.Status == entity.TokenStatusActive && tk.ExpiresAt.Before(before) {
			tk.Status = entity.TokenStatusExpired
			n++
		}
	}
	return n, nil
}

// ── FelAuditRepository ──

type memAudits struct{ s *memStore }

func (r *memAudits) Append(ctx context.Context, log *entity.FelAuditLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.auditErr != nil {
		return r.s.auditErr
	}
	log.ID = r.s.id()
	cp := *log
	r.s.audits = append(r.s.audits, &cp)
	return nil
}

func (r *memAudits) ListByInvoice(ctx context.Context, invoiceID int64, limit int) ([]*entity.FelAuditLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.FelAuditLog
	for _, a := range r.s.audits {
		if a.InvoiceID != nil && *a.InvoiceID == invoiceID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memAudits) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var kept []*entity.FelAuditLog
	var n int64
	for _, a := range r.s.audits {
		if a.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, a)
	}
	r.s.audits = kept
	return n, nil
}

// ── Certificador falso ────────────────────────────────────────────────────────

type fakeCertifier struct {
	certifyCalls atomic.Int32
	queryCalls   atomic.Int32
	cancelCalls  atomic.Int32

	certifyFn func(ctx context.Context, reference, xmlContent string) (*infrafel.CertifyResult, error)
	queryFn   func(ctx context.Context, reference string) (*infrafel.StatusResult, error)
	cancelFn  func(ctx context.Context, authorizationNumber, reason string) error
}

func (c *fakeCertifier) Certify(ctx context.Context, reference, xmlContent string) (*infrafel.CertifyResult, error) {
	c.certifyCalls.Add(1)
	return c.certifyFn(ctx, reference, xmlContent)
}

func (c *fakeCertifier) QueryStatus(ctx context.Context, reference string) (*infrafel.StatusResult, error) {
	c.queryCalls.Add(1)
	return c.queryFn(ctx, reference)
}

func (c *fakeCertifier) Cancel(ctx context.Context, authorizationNumber, reason string) error {
	c.cancelCalls.Add(1)
	if c.cancelFn == nil {
		return nil
	}
	return c.cancelFn(ctx, authorizationNumber, reason)
}

// ── Agendador falso ───────────────────────────────────────────────────────────

type scheduledRetry struct {
	delay time.Duration
	fn    func()
}

// fakeScheduler acumula los reintentos agendados; el test decide cuándo (y
// si) ejecutarlos.
type fakeScheduler struct {
	mu      sync.Mutex
	entries []scheduledRetry
}

func (s *fakeScheduler) Schedule(delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, scheduledRetry{delay: delay, fn: fn})
}

func (s *fakeScheduler) pending() []scheduledRetry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]scheduledRetry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *fakeScheduler) runNext() bool {
	s.mu.Lock()
	if len(s.entries) == 0 {
		s.mu.Unlock()
		return false
	}
	next := s.entries[0]
	s.entries = s.entries[1:]
	s.mu.Unlock()
	next.fn()
	return true
}
