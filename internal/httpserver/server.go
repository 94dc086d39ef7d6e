package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nomadly/internal/metrics"
	"nomadly/internal/watch"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Server wraps an http.Server with predefined routes.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	metrics    *metrics.Metrics
	daemon     *watch.Daemon
	basePath   string
}

// New creates a new HTTP server listening on addr with health, metrics,
// payment webhook and daemon status endpoints.
func New(addr string, logger *slog.Logger, metricRegistry *metrics.Metrics, daemon *watch.Daemon, basePath string) *Server {
	server := &Server{
		logger:   logger.With("component", "http"),
		metrics:  metricRegistry,
		daemon:   daemon,
		basePath: normaliseBasePath(basePath),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/webhook/blockbee", server.handleBlockBeeCallback)
	mux.HandleFunc("/admin/watch-status", server.handleWatchStatus)

	handler := mountWithBasePath(server.basePath, mux)

	server.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if server.basePath != "" {
		server.logger.Info("http server configured with base path", "base_path", server.basePath)
	}

	return server
}

// Start begins listening for incoming HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

// handleBlockBeeCallback ingests payment pushes. BlockBee calls the callback
// URL with transaction details as query parameters and expects the literal
// body "*ok*" on success; anything else makes it retry the push.
func (s *Server) handleBlockBeeCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	coin := strings.ToLower(r.Form.Get("coin"))
	address := r.Form.Get("address_in")
	txid := r.Form.Get("txid_in")
	if coin == "" || address == "" || txid == "" {
		http.Error(w, "missing coin, address_in or txid_in", http.StatusBadRequest)
		return
	}

	amount, err := decimal.NewFromString(r.Form.Get("value_coin"))
	if err != nil {
		http.Error(w, "bad value_coin", http.StatusBadRequest)
		return
	}
	confirmations, err := strconv.Atoi(r.Form.Get("confirmations"))
	if err != nil {
		confirmations = 0
	}

	tx := watch.Transaction{
		Hash:          txid,
		Amount:        amount,
		Confirmations: confirmations,
	}

	settled := s.daemon.ProcessTransaction(r.Context(), coin, address, tx)
	s.logger.Info("payment push processed",
		"coin", coin, "tx", txid, "confirmations", confirmations, "settled", settled)

	// acknowledge even when unmatched: confirmations below the minimum arrive
	// here first and the poll loop picks the payment up once it matures
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprint(w, "*ok*")
}

func (s *Server) handleWatchStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.daemon.Snapshot())
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "failed to encode json", http.StatusInternalServerError)
	}
}

func mountWithBasePath(basePath string, handler http.Handler) http.Handler {
	if basePath == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, basePath) {
			http.NotFound(w, r)
			return
		}
		if len(r.URL.Path) > len(basePath) && r.URL.Path[len(basePath)] != '/' {
			http.NotFound(w, r)
			return
		}
		trimmed := strings.TrimPrefix(r.URL.Path, basePath)
		if trimmed == "" {
			trimmed = "/"
		}
		r.URL.Path = trimmed
		if r.URL.RawPath != "" {
			rawTrimmed := strings.TrimPrefix(r.URL.RawPath, basePath)
			if rawTrimmed == "" {
				rawTrimmed = "/"
			}
			r.URL.RawPath = rawTrimmed
		}
		handler.ServeHTTP(w, r)
	})
}

func normaliseBasePath(base string) string {
	base = strings.TrimSpace(base)
	if base == "" || base == "/" {
		return ""
	}
	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	return strings.TrimSuffix(base, "/")
}
