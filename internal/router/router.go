package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"nomadly/internal/metrics"
)

// ErrUnknownAction indicates no registered prefix matches an action string.
// Surfaced to the user as a generic retry message, never as a crash.
var ErrUnknownAction = errors.New("unknown action")

// Event is one incoming bot interaction: a button press carrying an action
// string, or a free-text message while the user is in a capture state.
type Event struct {
	UserID   int64
	ChatID   int64
	Username string
	Action   string
	// Arg is the action string with the matched prefix stripped.
	Arg  string
	Text string
}

// Result is what a handler wants said back to the user.
type Result struct {
	Reply string
	// Keyboard rows of label/action pairs rendered as inline buttons.
	Buttons [][]Button
}

// Button is one inline keyboard button.
type Button struct {
	Label  string
	Action string
}

// HandlerFunc processes a routed event.
type HandlerFunc func(ctx context.Context, evt Event) (Result, error)

type entry struct {
	prefix  string
	handler HandlerFunc
}

// Router dispatches interaction events by namespaced action prefix. Resolution
// picks the longest matching prefix, so dispatch is deterministic and
// independent of registration order.
type Router struct {
	logger   *slog.Logger
	metrics  *metrics.Metrics
	entries  []entry
	captures map[string]HandlerFunc
	states   StateStore
	sealed   bool
}

// New creates an empty router backed by the given user-state store.
func New(states StateStore, metricRegistry *metrics.Metrics, logger *slog.Logger) *Router {
	return &Router{
		logger:   logger.With("component", "router"),
		metrics:  metricRegistry,
		captures: map[string]HandlerFunc{},
		states:   states,
	}
}

// Handle registers a handler for a namespaced action prefix, e.g.
// "payment.crypto.select_". Panics on registration after Validate.
func (r *Router) Handle(prefix string, h HandlerFunc) {
	if r.sealed {
		panic("router: Handle after Validate")
	}
	r.entries = append(r.entries, entry{prefix: prefix, handler: h})
}

// Capture registers a handler for free-text input while the user is in the
// named capture state.
func (r *Router) Capture(state string, h HandlerFunc) {
	if r.sealed {
		panic("router: Capture after Validate")
	}
	r.captures[state] = h
}

// Validate checks the dispatch table for collisions and seals the router.
// Called once at startup so a bad table fails the boot, not a user.
func (r *Router) Validate() error {
	seen := map[string]bool{}
	for _, e := range r.entries {
		if e.prefix == "" {
			return fmt.Errorf("router: empty prefix registered")
		}
		if !strings.Contains(e.prefix, ".") {
			return fmt.Errorf("router: prefix %q is not namespaced", e.prefix)
		}
		if seen[e.prefix] {
			return fmt.Errorf("router: prefix %q registered twice", e.prefix)
		}
		seen[e.prefix] = true
	}

	// longest prefix first so resolution stops at the most specific pattern
	sort.Slice(r.entries, func(i, j int) bool {
		if len(r.entries[i].prefix) == len(r.entries[j].prefix) {
			return r.entries[i].prefix < r.entries[j].prefix
		}
		return len(r.entries[i].prefix) > len(r.entries[j].prefix)
	})
	r.sealed = true

	r.logger.Info("dispatch table validated", "prefixes", len(r.entries), "captures", len(r.captures))
	return nil
}

// Route dispatches an action string to the most specific registered handler.
func (r *Router) Route(ctx context.Context, evt Event) (Result, error) {
	for _, e := range r.entries {
		if strings.HasPrefix(evt.Action, e.prefix) {
			evt.Arg = strings.TrimPrefix(evt.Action, e.prefix)
			res, err := e.handler(ctx, evt)
			r.count(e.prefix, err)
			return res, err
		}
	}

	r.count("unknown", ErrUnknownAction)
	r.logger.Warn("no handler for action", "action", evt.Action, "user_id", evt.UserID)
	return Result{}, fmt.Errorf("action %q: %w", evt.Action, ErrUnknownAction)
}

// RouteText dispatches a free-text message to the capture handler for the
// user's current conversational state. Expired or absent state yields
// ErrUnknownAction so the caller can re-prompt.
func (r *Router) RouteText(ctx context.Context, evt Event) (Result, error) {
	st, err := r.states.Get(ctx, evt.UserID)
	if err != nil {
		return Result{}, err
	}
	if st == nil {
		return Result{}, fmt.Errorf("no capture state for user %d: %w", evt.UserID, ErrUnknownAction)
	}

	h, ok := r.captures[st.Step]
	if !ok {
		r.logger.Warn("capture state without handler", "state", st.Step, "user_id", evt.UserID)
		return Result{}, fmt.Errorf("capture state %q: %w", st.Step, ErrUnknownAction)
	}

	res, err := h(ctx, evt)
	r.count("capture:"+st.Step, err)
	return res, err
}

// States exposes the user-state store to handlers.
func (r *Router) States() StateStore {
	return r.states
}

func (r *Router) count(prefix string, err error) {
	if r.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.metrics.RouterDispatches.WithLabelValues(prefix, status).Inc()
}
