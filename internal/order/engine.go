package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"nomadly/internal/metrics"
	"nomadly/internal/repo"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payload carries step input collected from the user.
type Payload map[string]string

// RegistrationResult references the external provisioning outcome stored on a
// completed order.
type RegistrationResult struct {
	RegistrationID string
	ZoneID         string
}

// WatchReleaser detaches the payment watch associated with an order. Wired to
// the payment watch daemon after both components are constructed.
type WatchReleaser interface {
	Remove(orderID string)
}

// EngineConfig tunes the order engine.
type EngineConfig struct {
	OrderTTL time.Duration
}

// Engine drives a single order through the registration workflow. All state
// mutation for one order happens under that order's advisory lock, so two
// interaction handlers never transition the same order concurrently.
type Engine struct {
	store   repo.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	ttl     time.Duration
	watches WatchReleaser

	mu    sync.Mutex
	locks map[string]*orderLock
}

type orderLock struct {
	mu   sync.Mutex
	refs int
}

// New creates the order engine.
func New(store repo.Store, metricRegistry *metrics.Metrics, logger *slog.Logger, cfg EngineConfig) *Engine {
	ttl := cfg.OrderTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Engine{
		store:   store,
		logger:  logger.With("component", "order"),
		metrics: metricRegistry,
		ttl:     ttl,
		locks:   map[string]*orderLock{},
	}
}

// SetWatchReleaser registers the payment watch daemon for cleanup on
// cancellation and expiry.
func (e *Engine) SetWatchReleaser(w WatchReleaser) {
	e.watches = w
}

// StartOrder creates a new order in the domain-search step. Fails with
// ErrDuplicateOrder when the user already has an open order for the domain.
func (e *Engine) StartOrder(ctx context.Context, userID int64, domain string, basePrice decimal.Decimal) (*repo.Order, error) {
	if !ValidDomain(domain) {
		return nil, validationErr("domain", "malformed domain name")
	}

	existing, err := e.store.FindActiveOrder(ctx, userID, domain)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("order %s for %s: %w", existing.ID, domain, ErrDuplicateOrder)
	}

	now := time.Now()
	ord := &repo.Order{
		ID:        uuid.NewString(),
		UserID:    userID,
		Domain:    domain,
		Step:      string(StepDomainSearch),
		BasePrice: basePrice,
		Price:     decimal.Zero,
		ExpiresAt: now.Add(e.ttl),
	}
	if err := e.store.InsertOrder(ctx, ord); err != nil {
		return nil, err
	}

	e.logger.Info("order started", "order_id", ord.ID, "user_id", userID, "domain", domain)
	return ord, nil
}

// Advance moves an order to the requested step after validating the transition
// and the step payload. Re-entering an earlier step is treated as a rollback:
// fields captured after that step are discarded while the order id, domain and
// frozen price persist, and any payment watch armed while monitoring is
// released both in memory and in the store. The order is left unchanged on any
// error.
func (e *Engine) Advance(ctx context.Context, orderID string, step Step, payload Payload) (*repo.Order, error) {
	unlock := e.lock(orderID)
	defer unlock()

	ord, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	current := Step(ord.Step)
	if current.IsTerminal() {
		return nil, fmt.Errorf("order %s in step %s: %w", orderID, current, ErrOrderClosed)
	}
	if time.Now().After(ord.ExpiresAt) {
		if err := e.expireLocked(ctx, ord); err != nil {
			e.logger.Warn("failed expiring stale order", "order_id", orderID, "error", err)
		}
		return nil, fmt.Errorf("order %s expired: %w", orderID, ErrOrderClosed)
	}

	if !step.Valid() || step.IsTerminal() {
		return nil, fmt.Errorf("step %q from %s: %w", step, current, ErrInvalidTransition)
	}

	releaseWatch := false
	switch {
	case canTransition(current, step):
		// forward move
	case isRollback(current, step):
		e.discardAfter(ord, step)
		releaseWatch = current == StepPaymentMonitoring
	case step == current:
		// re-entering the current step merges fresh payload, e.g. switching
		// cryptocurrency while payment monitoring is active
	default:
		e.countTransition(step, "rejected")
		return nil, fmt.Errorf("step %q from %s: %w", step, current, ErrInvalidTransition)
	}

	if err := e.applyPayload(ctx, ord, step, payload); err != nil {
		e.countTransition(step, "invalid_payload")
		return nil, err
	}

	if step == StepPaymentMethod && !ord.PriceFrozen {
		ord.Price = ComputePrice(ord.BasePrice)
		ord.PriceFrozen = true
	}

	ord.Step = string(step)
	if err := e.store.UpdateOrder(ctx, ord); err != nil {
		return nil, err
	}
	if releaseWatch {
		if e.watches != nil {
			e.watches.Remove(ord.ID)
		}
		if err := e.store.DeleteWatch(ctx, ord.ID); err != nil {
			e.logger.Warn("failed deleting watch record", "order_id", ord.ID, "error", err)
		}
	}

	e.countTransition(step, "ok")
	e.logger.Info("order advanced", "order_id", ord.ID, "from", current, "to", step)
	return ord, nil
}

// Cancel moves the order to the cancelled terminal step and releases any
// associated payment watch. Cancelling an already-cancelled order is a no-op.
func (e *Engine) Cancel(ctx context.Context, orderID string) error {
	return e.terminate(ctx, orderID, StepCancelled)
}

// Expire moves the order to the expired terminal step and releases any
// associated payment watch.
func (e *Engine) Expire(ctx context.Context, orderID string) error {
	return e.terminate(ctx, orderID, StepExpired)
}

// Complete finalizes a paid and provisioned order, storing the registrar and
// DNS zone references.
func (e *Engine) Complete(ctx context.Context, orderID string, result RegistrationResult) error {
	unlock := e.lock(orderID)
	defer unlock()

	ord, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	current := Step(ord.Step)
	if !canTransition(current, StepCompleted) {
		return fmt.Errorf("complete from %s: %w", current, ErrInvalidTransition)
	}

	ord.Step = string(StepCompleted)
	if result.RegistrationID != "" {
		ord.RegistrationID = &result.RegistrationID
	}
	if result.ZoneID != "" {
		ord.ZoneID = &result.ZoneID
	}
	if err := e.store.UpdateOrder(ctx, ord); err != nil {
		return err
	}
	if e.watches != nil {
		e.watches.Remove(ord.ID)
	}
	if err := e.store.DeleteWatch(ctx, ord.ID); err != nil {
		e.logger.Warn("failed deleting watch record", "order_id", ord.ID, "error", err)
	}

	e.countTransition(StepCompleted, "ok")
	e.logger.Info("order completed", "order_id", ord.ID, "domain", ord.Domain, "registration_id", result.RegistrationID)
	return nil
}

// SweepExpired expires all open orders whose TTL has passed and returns how
// many were closed.
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	stale, err := e.store.ListStaleOrders(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	expired := 0
	for i := range stale {
		if err := e.Expire(ctx, stale[i].ID); err != nil {
			e.logger.Warn("failed expiring order", "order_id", stale[i].ID, "error", err)
			continue
		}
		expired++
	}
	return expired, nil
}

func (e *Engine) terminate(ctx context.Context, orderID string, target Step) error {
	unlock := e.lock(orderID)
	defer unlock()

	ord, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	return e.terminateLocked(ctx, ord, target)
}

func (e *Engine) expireLocked(ctx context.Context, ord *repo.Order) error {
	return e.terminateLocked(ctx, ord, StepExpired)
}

func (e *Engine) terminateLocked(ctx context.Context, ord *repo.Order, target Step) error {
	current := Step(ord.Step)
	if current.IsTerminal() {
		if current == target {
			return nil
		}
		return fmt.Errorf("order %s in step %s: %w", ord.ID, current, ErrOrderClosed)
	}

	ord.Step = string(target)
	if err := e.store.UpdateOrder(ctx, ord); err != nil {
		return err
	}
	if e.watches != nil {
		e.watches.Remove(ord.ID)
	}
	if err := e.store.DeleteWatch(ctx, ord.ID); err != nil {
		e.logger.Warn("failed deleting watch record", "order_id", ord.ID, "error", err)
	}

	e.countTransition(target, "ok")
	e.logger.Info("order closed", "order_id", ord.ID, "step", target)
	return nil
}

func (e *Engine) applyPayload(ctx context.Context, ord *repo.Order, step Step, payload Payload) error {
	switch step {
	case StepDNSChoice:
		mode := payload["dns"]
		switch mode {
		case DNSModeManaged:
			ord.DNSMode = &mode
			ord.Nameservers = nil
		case DNSModeCustom:
			hosts := splitHosts(payload["nameservers"])
			if len(hosts) == 0 {
				return validationErr("nameservers", "custom DNS requires at least one nameserver")
			}
			for _, host := range hosts {
				if !ValidNameserver(host) {
					return validationErr("nameservers", fmt.Sprintf("invalid nameserver hostname %q", host))
				}
			}
			ord.DNSMode = &mode
			ord.Nameservers = hosts
		default:
			return validationErr("dns", "dns mode must be managed or custom")
		}

	case StepEmailCollection:
		email := payload["email"]
		if email == "" {
			// technical contact email is optional
			ord.Email = nil
			return nil
		}
		if !ValidEmail(email) {
			return validationErr("email", "malformed email address")
		}
		ord.Email = &email
		if err := e.store.SetUserEmail(ctx, ord.UserID, email); err != nil {
			e.logger.Warn("failed storing user email", "user_id", ord.UserID, "error", err)
		}

	case StepPaymentMethod:
		method := payload["method"]
		if method != PayBalance && method != PayCrypto {
			return validationErr("method", "payment method must be balance or crypto")
		}
		ord.PaymentMethod = &method

	case StepCryptoSelection:
		if ord.PaymentMethod == nil || *ord.PaymentMethod != PayCrypto {
			return validationErr("method", "crypto selection requires the crypto payment method")
		}
		code, ok := SupportedCrypto(payload["crypto"])
		if !ok {
			return validationErr("crypto", fmt.Sprintf("unsupported cryptocurrency %q", payload["crypto"]))
		}
		ord.Crypto = &code

	case StepPaymentMonitoring:
		if code := payload["crypto"]; code != "" {
			canonical, ok := SupportedCrypto(code)
			if !ok {
				return validationErr("crypto", fmt.Sprintf("unsupported cryptocurrency %q", code))
			}
			ord.Crypto = &canonical
		}
	}
	return nil
}

// discardAfter clears payload fields captured at steps later than target.
func (e *Engine) discardAfter(ord *repo.Order, target Step) {
	ti := forwardOrder[target]
	if ti < forwardOrder[StepCryptoSelection] {
		ord.Crypto = nil
	}
	if ti < forwardOrder[StepPaymentMethod] {
		ord.PaymentMethod = nil
	}
	if ti < forwardOrder[StepEmailCollection] {
		ord.Email = nil
	}
	if ti < forwardOrder[StepDNSChoice] {
		ord.DNSMode = nil
		ord.Nameservers = nil
	}
}

func (e *Engine) lock(orderID string) func() {
	e.mu.Lock()
	l, ok := e.locks[orderID]
	if !ok {
		l = &orderLock{}
		e.locks[orderID] = l
	}
	l.refs++
	e.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		e.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(e.locks, orderID)
		}
		e.mu.Unlock()
	}
}

func (e *Engine) countTransition(step Step, status string) {
	if e.metrics != nil {
		e.metrics.OrderTransitions.WithLabelValues(string(step), status).Inc()
	}
}

func splitHosts(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n'
	})
}

// IsValidation reports whether err is a field validation failure.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
