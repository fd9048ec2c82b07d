// chain-ingestion: Pulls canonical chain updates and writes them to Postgres. Runs a ticker-based worker.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alex01t/blockchain-postgres-sync/internal/consumer"
	"github.com/alex01t/blockchain-postgres-sync/internal/model"
	"github.com/alex01t/blockchain-postgres-sync/internal/repo"
)

var (
	ingestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "chainsync_ingest_total", Help: "Batch ingestion attempts"},
		[]string{"status"},
	)
	ingestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "chainsync_ingest_duration_seconds", Help: "Batch ingest latency", Buckets: prometheus.DefBuckets},
		[]string{"status"},
	)
	ingestUpdates = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "chainsync_updates_total", Help: "Chain updates fetched"},
	)
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "HTTP requests"},
		[]string{"method", "path", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "Request latency", Buckets: prometheus.DefBuckets},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(ingestTotal, ingestDuration, ingestUpdates, httpRequestsTotal, httpRequestDuration)
}

func main() {
	cfg, err := configFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := repo.NewPgRepo(ctx, cfg.databaseURL, cfg.maxConns, repo.NewMetrics(prometheus.DefaultRegisterer))
	if err != nil {
		slog.Error("connect database", "err", err)
		os.Exit(1)
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		slog.Error("ensure schema", "err", err)
		os.Exit(1)
	}

	c := consumer.New(store, logger)
	from, err := c.Resume(ctx)
	if err != nil {
		slog.Error("resume", "err", err)
		os.Exit(1)
	}
	source := newSyntheticSource(cfg.chainID, from)

	go runWorker(ctx, c, source, cfg.interval, logger)

	mux := http.NewServeMux()
	mux.Handle("/healthz", healthzHandler(store))
	mux.Handle("/metrics", promhttp.Handler())

	// Use http.Server for graceful shutdown on SIGTERM/SIGINT.
	srv := &http.Server{Addr: cfg.addr, Handler: instrument(mux)}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server stopped", "err", err)
			cancel()
		}
	}()
	slog.Info("starting", "addr", cfg.addr, "chain_id", cfg.chainID, "from_height", from)

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "err", err)
	}
}

// runWorker fetches update batches at interval and applies them; exits on ctx.Done().
func runWorker(ctx context.Context, applier updateApplier, source consumer.Source, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ingestOnce(ctx, applier, source, log)
		}
	}
}

func ingestOnce(ctx context.Context, applier updateApplier, source consumer.Source, log *slog.Logger) {
	updates, err := source.Next(ctx)
	if err != nil {
		log.Warn("fetch failed", "err", err)
		ingestTotal.WithLabelValues("error").Inc()
		return
	}
	if len(updates) == 0 {
		return
	}
	ingestUpdates.Add(float64(len(updates)))
	start := time.Now()
	applyErr := applyWithRetry(ctx, applier, updates)
	status := "ok"
	if applyErr != nil {
		status = "error"
		log.Warn("apply failed", "updates", len(updates), "err", applyErr)
	}
	ingestTotal.WithLabelValues(status).Inc()
	ingestDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
}

// retryBackoff is the wait before retry n+1 is (n+1)*retryBackoff.
var retryBackoff = time.Second

// applyWithRetry tries up to 3 times with linear backoff (1s, 2s, 3s). A
// failed attempt leaves nothing behind, so the same batch is replayed as is.
func applyWithRetry(ctx context.Context, applier updateApplier, updates []model.Update) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		err := applier.Apply(ctx, updates)
		if err == nil {
			return nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * retryBackoff):
		}
	}
	return lastErr
}

type pinger interface {
	Ping(ctx context.Context) error
}

// healthzHandler answers GET with 200 while the database is reachable.
func healthzHandler(db pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}

// instrument wraps handlers to record Prometheus metrics.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(ww, r)
		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, statusLabel(ww.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

// responseWriter captures status code for Prometheus labeling.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "unknown"
	}
}
