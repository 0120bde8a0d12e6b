// Package metrics provides Prometheus instrumentation for the engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PoolOperations counts pool deposits and withdrawals by outcome.
	PoolOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "babylon_pool_operations_total",
		Help: "Pool deposits and withdrawals by operation and result",
	}, []string{"op", "result"})

	// PoolTxRetries counts pool transactions retried after a conflict.
	PoolTxRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "babylon_pool_tx_retries_total",
		Help: "Pool transactions retried after a concurrent update conflict",
	}, []string{"op"})

	// TradesTotal counts prediction-market buys, partitioned by side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "babylon_trades_total",
		Help: "Total number of prediction market trades executed",
	}, []string{"side"})

	// TradeLatency tracks buy execution latency.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "babylon_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// MarketResolutions counts settled markets by outcome.
	MarketResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "babylon_market_resolutions_total",
		Help: "Markets resolved or cancelled",
	}, []string{"outcome"})

	// PositionLimitRejections counts trades rejected by the position limiter.
	PositionLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "babylon_position_limit_rejections_total",
		Help: "Trades rejected by position limiter",
	})

	// ReputationRecalculations counts composite score recomputations.
	ReputationRecalculations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "babylon_reputation_recalculations_total",
		Help: "Reputation score recomputations",
	})

	// AgentTicks counts per-agent tick results by status.
	AgentTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "babylon_agent_ticks_total",
		Help: "Autonomous agent tick results by status",
	}, []string{"status"})

	// AgentActions counts autonomous actions by category.
	AgentActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "babylon_agent_actions_total",
		Help: "Autonomous agent actions taken by category",
	}, []string{"action"})

	// TickDuration tracks the wall time of a whole coordinator tick.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "babylon_tick_duration_seconds",
		Help:    "Agent tick coordinator run duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "babylon_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "babylon_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "babylon_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern uses the matched chi pattern as the path label so that IDs
// in the URL do not explode label cardinality.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack is required for WebSocket upgrades through this middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
