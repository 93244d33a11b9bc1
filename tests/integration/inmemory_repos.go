package integration

import (
	"context"
	"sync"
	"time"

	"loyalty-wallet-service/internal/core/domain"
	"loyalty-wallet-service/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// In-memory implementations of the storage ports. A single shared mutex held
// for the lifetime of each transaction stands in for PostgreSQL row locks, so
// the ledger's reserve/consume critical sections serialize the same way they
// would against SELECT ... FOR UPDATE.

type memStore struct {
	mu           sync.Mutex
	wallets      map[uuid.UUID]*domain.Wallet
	walletByUser map[uuid.UUID]uuid.UUID
	// entries is keyed by wallet ID, then reference ID.
	entries      map[uuid.UUID]map[string]*domain.WalletEntry
	reservations map[uuid.UUID]*domain.Reservation
	intents      map[string]*domain.PaymentIntent
	callbacks    map[string]*domain.CallbackRecord
	audits       []*domain.AuditLog

	// txMu is held between Begin and Commit/Rollback.
	txMu sync.Mutex
}

func newMemStore() *memStore {
	return &memStore{
		wallets:      make(map[uuid.UUID]*domain.Wallet),
		walletByUser: make(map[uuid.UUID]uuid.UUID),
		entries:      make(map[uuid.UUID]map[string]*domain.WalletEntry),
		reservations: make(map[uuid.UUID]*domain.Reservation),
		intents:      make(map[string]*domain.PaymentIntent),
		callbacks:    make(map[string]*domain.CallbackRecord),
	}
}

// --- Transactor ---

type memTransactor struct {
	store *memStore
}

func (t *memTransactor) Begin(ctx context.Context) (pgx.Tx, error) {
	t.store.txMu.Lock()
	return &memTx{store: t.store}, nil
}

// memTx releases the transaction lock once, on whichever of Commit or
// Rollback runs first (the ledger defers Rollback after Commit).
type memTx struct {
	store *memStore
	once  sync.Once
}

func (t *memTx) release() { t.once.Do(t.store.txMu.Unlock) }

func (t *memTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }
func (t *memTx) Commit(ctx context.Context) error          { t.release(); return nil }
func (t *memTx) Rollback(ctx context.Context) error        { t.release(); return nil }
func (t *memTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *memTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *memTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *memTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *memTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (t *memTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (t *memTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row { return nil }
func (t *memTx) Conn() *pgx.Conn                                               { return nil }

// --- Wallet repository ---

type memWalletRepo struct {
	store *memStore
}

func (r *memWalletRepo) Create(ctx context.Context, w *domain.Wallet) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *w
	r.store.wallets[w.ID] = &cp
	r.store.walletByUser[w.UserID] = w.ID
	return nil
}

func (r *memWalletRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	id, ok := r.store.walletByUser[userID]
	if !ok {
		return nil, nil
	}
	cp := *r.store.wallets[id]
	return &cp, nil
}

func (r *memWalletRepo) GetByUserIDForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*domain.Wallet, error) {
	return r.GetByUserID(ctx, userID)
}

func (r *memWalletRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Wallet, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	w, ok := r.store.wallets[id]
	if !ok {
		return nil, nil
	}
	cp := *w
	return &cp, nil
}

func (r *memWalletRepo) Update(ctx context.Context, tx pgx.Tx, w *domain.Wallet) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *w
	r.store.wallets[w.ID] = &cp
	return nil
}

// --- Wallet entry repository ---

type memEntryRepo struct {
	store *memStore
}

func (r *memEntryRepo) Create(ctx context.Context, tx pgx.Tx, e *domain.WalletEntry) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	byRef, ok := r.store.entries[e.WalletID]
	if !ok {
		byRef = make(map[string]*domain.WalletEntry)
		r.store.entries[e.WalletID] = byRef
	}
	cp := *e
	byRef[e.ReferenceID] = &cp
	return nil
}

func (r *memEntryRepo) GetByReference(ctx context.Context, walletID uuid.UUID, referenceID string) (*domain.WalletEntry, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	e, ok := r.store.entries[walletID][referenceID]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

// --- Reservation repository ---

type memReservationRepo struct {
	store *memStore
}

func (r *memReservationRepo) Create(ctx context.Context, tx pgx.Tx, res *domain.Reservation) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *res
	r.store.reservations[res.ID] = &cp
	return nil
}

func (r *memReservationRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Reservation, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	res, ok := r.store.reservations[id]
	if !ok {
		return nil, nil
	}
	cp := *res
	return &cp, nil
}

func (r *memReservationRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Reservation, error) {
	return r.GetByID(ctx, id)
}

func (r *memReservationRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.ReservationStatus) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if res, ok := r.store.reservations[id]; ok {
		res.Status = status
		res.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// --- Intent repository ---

type memIntentRepo struct {
	store *memStore
}

func (r *memIntentRepo) Create(ctx context.Context, p *domain.PaymentIntent) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *p
	r.store.intents[p.ID] = &cp
	return nil
}

func (r *memIntentRepo) GetByID(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	p, ok := r.store.intents[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r *memIntentRepo) MarkSubmitted(ctx context.Context, id string, gatewayRef, redirectURL *string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if p, ok := r.store.intents[id]; ok && p.Status == domain.PaymentStatusCreated {
		p.Status = domain.PaymentStatusSubmitted
		p.GatewayReference = gatewayRef
		p.RedirectURL = redirectURL
	}
	return nil
}

func (r *memIntentRepo) UpdateStatus(ctx context.Context, id string, status domain.PaymentStatus, reason *string) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	p, ok := r.store.intents[id]
	if !ok || p.IsTerminal() {
		return false, nil
	}
	now := time.Now().UTC()
	p.Status = status
	p.FailureReason = reason
	p.ProcessedAt = &now
	return true, nil
}

func (r *memIntentRepo) ListSubmittedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.PaymentIntent, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []domain.PaymentIntent
	for _, p := range r.store.intents {
		if p.Status == domain.PaymentStatusSubmitted && p.CreatedAt.Before(cutoff) {
			out = append(out, *p)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (r *memIntentRepo) IncrementReconcileAttempts(ctx context.Context, id string) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	p, ok := r.store.intents[id]
	if !ok {
		return 0, nil
	}
	p.ReconcileAttempts++
	return p.ReconcileAttempts, nil
}

// --- Callback repository ---

type memCallbackRepo struct {
	store *memStore
}

func (r *memCallbackRepo) Create(ctx context.Context, rec *domain.CallbackRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, exists := r.store.callbacks[rec.GatewayReference]; exists {
		return ports.ErrDuplicateCallback
	}
	cp := *rec
	r.store.callbacks[rec.GatewayReference] = &cp
	return nil
}

func (r *memCallbackRepo) Get(ctx context.Context, gatewayReference string) (*domain.CallbackRecord, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	rec, ok := r.store.callbacks[gatewayReference]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// --- Audit repository ---

type memAuditRepo struct {
	store *memStore
}

func (r *memAuditRepo) Create(ctx context.Context, entry *domain.AuditLog) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *entry
	r.store.audits = append(r.store.audits, &cp)
	return nil
}
