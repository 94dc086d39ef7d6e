package watch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"nomadly/internal/metrics"
	"nomadly/internal/repo"

	"github.com/shopspring/decimal"
)

// Transaction is a chain transaction observed against a watched address.
type Transaction struct {
	Hash          string
	Amount        decimal.Decimal
	Confirmations int
}

// ChainProvider fetches recent transactions for a payment address.
type ChainProvider interface {
	AddressTransactions(ctx context.Context, currency, address string) ([]Transaction, error)
}

// PaymentHandler receives watch lifecycle events. Detection fires exactly once
// per watch; the watch is already removed when either callback runs.
type PaymentHandler interface {
	OnPaymentDetected(ctx context.Context, watch repo.PaymentWatch, tx Transaction)
	OnWatchExpired(ctx context.Context, watch repo.PaymentWatch)
}

// Config tunes the daemon's polling cadence.
type Config struct {
	CheckInterval  time.Duration
	SweepInterval  time.Duration
	HealthInterval time.Duration
	LookupTimeout  time.Duration
}

// Status is a point-in-time snapshot of the daemon.
type Status struct {
	Running       bool          `json:"running"`
	ActiveWatches int           `json:"active_watches"`
	CheckInterval time.Duration `json:"check_interval"`
	Watches       []WatchStatus `json:"watches"`
}

// WatchStatus summarises one active watch.
type WatchStatus struct {
	OrderID   string    `json:"order_id"`
	Currency  string    `json:"currency"`
	Amount    string    `json:"amount"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Daemon polls chain data for each active payment watch and signals completion
// on match. Three independent loops share the watch map under one mutex: the
// payment check loop, the expiry sweep loop and the health log loop.
type Daemon struct {
	chain   ChainProvider
	store   repo.Store
	handler PaymentHandler
	logger  *slog.Logger
	metrics *metrics.Metrics
	cfg     Config

	mu      sync.Mutex
	watches map[string]repo.PaymentWatch
	running bool
}

// New creates the payment watch daemon.
func New(chain ChainProvider, store repo.Store, metricRegistry *metrics.Metrics, logger *slog.Logger, cfg Config) *Daemon {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Minute
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 10 * time.Minute
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 15 * time.Second
	}
	return &Daemon{
		chain:   chain,
		store:   store,
		logger:  logger.With("component", "watch"),
		metrics: metricRegistry,
		cfg:     cfg,
		watches: map[string]repo.PaymentWatch{},
	}
}

// SetHandler registers the payment event handler.
func (d *Daemon) SetHandler(h PaymentHandler) {
	d.handler = h
}

// Restore loads persisted watches so monitoring survives a restart.
func (d *Daemon) Restore(ctx context.Context) error {
	watches, err := d.store.ListActiveWatches(ctx, time.Now())
	if err != nil {
		return err
	}

	d.mu.Lock()
	for _, w := range watches {
		d.watches[w.OrderID] = w
	}
	count := len(d.watches)
	d.mu.Unlock()

	d.setGauge()
	if count > 0 {
		d.logger.Info("restored payment watches", "count", count)
	}
	return nil
}

// Run starts the polling, sweep and health loops and blocks until ctx is
// cancelled. Failures inside an iteration are logged and never stop a loop.
func (d *Daemon) Run(ctx context.Context) error {
	d.mu.Lock()
	d.running = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
	}()

	d.logger.Info("payment watch daemon starting",
		"check_interval", d.cfg.CheckInterval,
		"sweep_interval", d.cfg.SweepInterval)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		d.loop(ctx, d.cfg.CheckInterval, d.checkAll)
	}()
	go func() {
		defer wg.Done()
		d.loop(ctx, d.cfg.SweepInterval, d.sweepExpired)
	}()
	go func() {
		defer wg.Done()
		d.loop(ctx, d.cfg.HealthInterval, d.logHealth)
	}()
	wg.Wait()

	d.logger.Info("payment watch daemon stopped")
	return ctx.Err()
}

// Add inserts or replaces the watch for an order. Switching currency replaces
// the previous expectation, so at most one watch per order is ever active.
func (d *Daemon) Add(ctx context.Context, w repo.PaymentWatch) error {
	if err := d.store.UpsertWatch(ctx, w); err != nil {
		return err
	}

	d.mu.Lock()
	_, replaced := d.watches[w.OrderID]
	d.watches[w.OrderID] = w
	d.mu.Unlock()

	d.setGauge()
	d.logger.Info("payment watch added",
		"order_id", w.OrderID, "currency", w.Currency,
		"amount", w.ExpectedAmount.String(), "replaced", replaced)
	return nil
}

// Remove drops the in-memory watch for an order. Idempotent; persistence
// cleanup is handled by the caller owning the order record.
func (d *Daemon) Remove(orderID string) {
	d.mu.Lock()
	delete(d.watches, orderID)
	d.mu.Unlock()
	d.setGauge()
}

// ProcessTransaction is the webhook ingress entry point: a pre-parsed
// transaction pushed by the payment provider is matched against the active
// watch for the address, using the same policy as the polling path. Returns
// true when the transaction completed a watch.
func (d *Daemon) ProcessTransaction(ctx context.Context, currency, address string, tx Transaction) bool {
	d.mu.Lock()
	var target *repo.PaymentWatch
	for _, w := range d.watches {
		if w.Address == address && w.Currency == currency {
			copied := w
			target = &copied
			break
		}
	}
	d.mu.Unlock()

	if target == nil {
		d.logger.Warn("push for unknown address", "currency", currency, "address", address)
		return false
	}
	if !Matches(*target, tx) {
		return false
	}
	return d.settle(ctx, *target, tx)
}

// Snapshot reports current daemon status.
func (d *Daemon) Snapshot() Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := Status{
		Running:       d.running,
		ActiveWatches: len(d.watches),
		CheckInterval: d.cfg.CheckInterval,
	}
	for _, w := range d.watches {
		st.Watches = append(st.Watches, WatchStatus{
			OrderID:   w.OrderID,
			Currency:  w.Currency,
			Amount:    w.ExpectedAmount.String(),
			ExpiresAt: w.ExpiresAt,
		})
	}
	return st
}

func (d *Daemon) loop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.runIteration(ctx, fn)
		}
	}
}

// runIteration traps panics so a single bad cycle cannot kill a loop.
func (d *Daemon) runIteration(ctx context.Context, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("watch loop iteration panicked", "panic", r)
			if d.metrics != nil {
				d.metrics.Errors.WithLabelValues("watch").Inc()
			}
		}
	}()
	fn(ctx)
}

func (d *Daemon) checkAll(ctx context.Context) {
	d.mu.Lock()
	snapshot := make([]repo.PaymentWatch, 0, len(d.watches))
	for _, w := range d.watches {
		snapshot = append(snapshot, w)
	}
	d.mu.Unlock()

	for _, w := range snapshot {
		if ctx.Err() != nil {
			return
		}
		d.checkWatch(ctx, w)
	}
}

func (d *Daemon) checkWatch(ctx context.Context, w repo.PaymentWatch) {
	lookupCtx, cancel := context.WithTimeout(ctx, d.cfg.LookupTimeout)
	defer cancel()

	txs, err := d.chain.AddressTransactions(lookupCtx, w.Currency, w.Address)
	if err != nil {
		// transient lookup failures keep the watch; it is retried next cycle
		d.logger.Warn("address lookup failed", "order_id", w.OrderID, "currency", w.Currency, "error", err)
		if d.metrics != nil {
			d.metrics.Errors.WithLabelValues("chain_lookup").Inc()
		}
		return
	}

	for _, tx := range txs {
		if Matches(w, tx) {
			d.settle(ctx, w, tx)
			return
		}
	}
}

// settle claims the watch and fires the detection callback. The claim is
// atomic, so a poll cycle and a webhook push racing on the same watch produce
// exactly one detection.
func (d *Daemon) settle(ctx context.Context, w repo.PaymentWatch, tx Transaction) bool {
	d.mu.Lock()
	current, ok := d.watches[w.OrderID]
	if !ok || current.Address != w.Address || current.Currency != w.Currency {
		d.mu.Unlock()
		return false
	}
	delete(d.watches, w.OrderID)
	d.mu.Unlock()
	d.setGauge()

	if err := d.store.DeleteWatch(ctx, w.OrderID); err != nil {
		d.logger.Warn("failed deleting watch record", "order_id", w.OrderID, "error", err)
	}
	if d.metrics != nil {
		d.metrics.PaymentsDetected.WithLabelValues(w.Currency).Inc()
	}

	d.logger.Info("payment detected",
		"order_id", w.OrderID, "currency", w.Currency,
		"amount", tx.Amount.String(), "tx", tx.Hash, "confirmations", tx.Confirmations)

	if d.handler != nil {
		d.handler.OnPaymentDetected(ctx, w, tx)
	}
	return true
}

func (d *Daemon) sweepExpired(ctx context.Context) {
	now := time.Now()

	d.mu.Lock()
	var expired []repo.PaymentWatch
	for id, w := range d.watches {
		if now.After(w.ExpiresAt) {
			expired = append(expired, w)
			delete(d.watches, id)
		}
	}
	d.mu.Unlock()

	if len(expired) == 0 {
		return
	}
	d.setGauge()

	for _, w := range expired {
		if err := d.store.DeleteWatch(ctx, w.OrderID); err != nil {
			d.logger.Warn("failed deleting expired watch record", "order_id", w.OrderID, "error", err)
		}
		d.logger.Info("payment watch expired", "order_id", w.OrderID, "currency", w.Currency)
		if d.handler != nil {
			d.handler.OnWatchExpired(ctx, w)
		}
	}
}

func (d *Daemon) logHealth(context.Context) {
	d.mu.Lock()
	count := len(d.watches)
	d.mu.Unlock()
	d.logger.Info("payment watch health", "active_watches", count)
}

func (d *Daemon) setGauge() {
	if d.metrics == nil {
		return
	}
	d.mu.Lock()
	count := len(d.watches)
	d.mu.Unlock()
	d.metrics.ActiveWatches.Set(float64(count))
}
