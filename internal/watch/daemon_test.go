package watch

import (
	"context"
	"io"
	"io/fs"
	"log/slog"
	"sync"
	"testing"
	"time"

	"nomadly/internal/repo"

	"github.com/shopspring/decimal"
)

// stubStore is an in-memory repo.Store carrying only watch records.
type stubStore struct {
	mu      sync.Mutex
	watches map[string]repo.PaymentWatch
}

func newStubStore() *stubStore {
	return &stubStore{watches: map[string]repo.PaymentWatch{}}
}

func (s *stubStore) Close()                                 {}
func (s *stubStore) Ping(context.Context) error             { return nil }
func (s *stubStore) RunMigrations(context.Context, fs.FS) error { return nil }

func (s *stubStore) UpsertUserByTelegram(context.Context, int64, *string) (*repo.User, error) {
	return &repo.User{}, nil
}
func (s *stubStore) SetUserEmail(context.Context, int64, string) error { return nil }
func (s *stubStore) GetUserEmail(context.Context, int64) (string, error) {
	return "", nil
}

func (s *stubStore) GetBalance(context.Context, int64) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (s *stubStore) CreditBalance(_ context.Context, _ int64, amount decimal.Decimal) (decimal.Decimal, error) {
	return amount, nil
}
func (s *stubStore) DebitBalance(context.Context, int64, decimal.Decimal) (decimal.Decimal, error) {
	return decimal.Zero, repo.ErrInsufficientFunds
}

func (s *stubStore) InsertOrder(context.Context, *repo.Order) error { return nil }
func (s *stubStore) GetOrder(context.Context, string) (*repo.Order, error) {
	return nil, repo.ErrNotFound
}
func (s *stubStore) FindActiveOrder(context.Context, int64, string) (*repo.Order, error) {
	return nil, nil
}
func (s *stubStore) UpdateOrder(context.Context, *repo.Order) error { return nil }
func (s *stubStore) ListStaleOrders(context.Context, time.Time) ([]repo.Order, error) {
	return nil, nil
}

func (s *stubStore) UpsertWatch(_ context.Context, w repo.PaymentWatch) error {
	s.mu.Lock()
	s.watches[w.OrderID] = w
	s.mu.Unlock()
	return nil
}

func (s *stubStore) DeleteWatch(_ context.Context, orderID string) error {
	s.mu.Lock()
	delete(s.watches, orderID)
	s.mu.Unlock()
	return nil
}

func (s *stubStore) ListActiveWatches(_ context.Context, now time.Time) ([]repo.PaymentWatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var active []repo.PaymentWatch
	for _, w := range s.watches {
		if now.Before(w.ExpiresAt) {
			active = append(active, w)
		}
	}
	return active, nil
}

func (s *stubStore) has(orderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.watches[orderID]
	return ok
}

// fakeChain serves canned transactions per currency:address key.
type fakeChain struct {
	mu  sync.Mutex
	txs map[string][]Transaction
}

func (f *fakeChain) AddressTransactions(_ context.Context, currency, address string) ([]Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.txs[currency+":"+address], nil
}

// recordingHandler counts payment lifecycle callbacks.
type recordingHandler struct {
	mu       sync.Mutex
	detected []repo.PaymentWatch
	expired  []repo.PaymentWatch
}

func (h *recordingHandler) OnPaymentDetected(_ context.Context, w repo.PaymentWatch, _ Transaction) {
	h.mu.Lock()
	h.detected = append(h.detected, w)
	h.mu.Unlock()
}

func (h *recordingHandler) OnWatchExpired(_ context.Context, w repo.PaymentWatch) {
	h.mu.Lock()
	h.expired = append(h.expired, w)
	h.mu.Unlock()
}

func (h *recordingHandler) counts() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.detected), len(h.expired)
}

func newTestDaemon(chain ChainProvider) (*Daemon, *stubStore, *recordingHandler) {
	store := newStubStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := New(chain, store, nil, logger, Config{})
	handler := &recordingHandler{}
	d.SetHandler(handler)
	return d, store, handler
}

func testWatch(orderID, currency string, expected string) repo.PaymentWatch {
	now := time.Now()
	return repo.PaymentWatch{
		OrderID:        orderID,
		UserID:         1,
		Address:        "addr-" + orderID,
		Currency:       currency,
		ExpectedAmount: decimal.RequireFromString(expected),
		CreatedAt:      now,
		ExpiresAt:      now.Add(time.Hour),
	}
}

func TestAddReplacesExistingWatch(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newTestDaemon(&fakeChain{})

	if err := d.Add(ctx, testWatch("ord-1", "btc", "1.0")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := d.Add(ctx, testWatch("ord-1", "ltc", "30")); err != nil {
		t.Fatalf("replace: %v", err)
	}

	st := d.Snapshot()
	if st.ActiveWatches != 1 {
		t.Fatalf("expected 1 active watch, got %d", st.ActiveWatches)
	}
	if st.Watches[0].Currency != "ltc" {
		t.Fatalf("expected replacement currency ltc, got %s", st.Watches[0].Currency)
	}
}

func TestProcessTransactionSettlesExactlyOnce(t *testing.T) {
	ctx := context.Background()
	d, store, handler := newTestDaemon(&fakeChain{})

	w := testWatch("ord-1", "btc", "1.0")
	if err := d.Add(ctx, w); err != nil {
		t.Fatalf("add: %v", err)
	}

	tx := Transaction{Hash: "tx-1", Amount: decimal.RequireFromString("1.0"), Confirmations: 1}
	if !d.ProcessTransaction(ctx, "btc", w.Address, tx) {
		t.Fatal("expected first push to settle the watch")
	}
	if d.ProcessTransaction(ctx, "btc", w.Address, tx) {
		t.Fatal("expected second push to find no watch")
	}

	detected, _ := handler.counts()
	if detected != 1 {
		t.Fatalf("expected exactly one detection, got %d", detected)
	}
	if store.has("ord-1") {
		t.Fatal("expected watch record deleted after settlement")
	}
}

func TestProcessTransactionIgnoresImmature(t *testing.T) {
	ctx := context.Background()
	d, _, handler := newTestDaemon(&fakeChain{})

	w := testWatch("ord-1", "eth", "1.0")
	if err := d.Add(ctx, w); err != nil {
		t.Fatalf("add: %v", err)
	}

	tx := Transaction{Hash: "tx-1", Amount: decimal.RequireFromString("1.0"), Confirmations: 2}
	if d.ProcessTransaction(ctx, "eth", w.Address, tx) {
		t.Fatal("expected immature transaction to be ignored")
	}

	detected, _ := handler.counts()
	if detected != 0 {
		t.Fatalf("expected no detections, got %d", detected)
	}
	if d.Snapshot().ActiveWatches != 1 {
		t.Fatal("expected watch to stay active for a later push")
	}
}

func TestProcessTransactionUnknownAddress(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newTestDaemon(&fakeChain{})

	tx := Transaction{Hash: "tx-1", Amount: decimal.RequireFromString("1.0"), Confirmations: 1}
	if d.ProcessTransaction(ctx, "btc", "nobody", tx) {
		t.Fatal("expected push for unknown address to be dropped")
	}
}

func TestCheckAllDetectsMatchingTransaction(t *testing.T) {
	ctx := context.Background()
	w := testWatch("ord-1", "btc", "1.0")
	chain := &fakeChain{txs: map[string][]Transaction{
		"btc:" + w.Address: {
			{Hash: "dust", Amount: decimal.RequireFromString("0.01"), Confirmations: 9},
			{Hash: "pay", Amount: decimal.RequireFromString("1.02"), Confirmations: 2},
		},
	}}
	d, _, handler := newTestDaemon(chain)
	if err := d.Add(ctx, w); err != nil {
		t.Fatalf("add: %v", err)
	}

	d.checkAll(ctx)

	detected, _ := handler.counts()
	if detected != 1 {
		t.Fatalf("expected one detection from poll, got %d", detected)
	}
	if d.Snapshot().ActiveWatches != 0 {
		t.Fatal("expected watch removed after detection")
	}
}

func TestSweepExpiredFiresHandler(t *testing.T) {
	ctx := context.Background()
	d, store, handler := newTestDaemon(&fakeChain{})

	w := testWatch("ord-1", "btc", "1.0")
	w.ExpiresAt = time.Now().Add(-time.Minute)
	if err := d.Add(ctx, w); err != nil {
		t.Fatalf("add: %v", err)
	}

	d.sweepExpired(ctx)

	_, expired := handler.counts()
	if expired != 1 {
		t.Fatalf("expected one expiry callback, got %d", expired)
	}
	if d.Snapshot().ActiveWatches != 0 {
		t.Fatal("expected expired watch removed")
	}
	if store.has("ord-1") {
		t.Fatal("expected expired watch record deleted")
	}
}

func TestRestoreLoadsPersistedWatches(t *testing.T) {
	ctx := context.Background()
	store := newStubStore()
	if err := store.UpsertWatch(ctx, testWatch("ord-1", "btc", "1.0")); err != nil {
		t.Fatalf("seed watch: %v", err)
	}
	if err := store.UpsertWatch(ctx, testWatch("ord-2", "doge", "300")); err != nil {
		t.Fatalf("seed watch: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := New(&fakeChain{}, store, nil, logger, Config{})
	if err := d.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if d.Snapshot().ActiveWatches != 2 {
		t.Fatalf("expected 2 restored watches, got %d", d.Snapshot().ActiveWatches)
	}
}
