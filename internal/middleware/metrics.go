package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Message metrics
	messagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whatel_messages_received_total",
		Help: "Total number of messages received",
	}, []string{"platform"})

	messagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whatel_messages_processed_total",
		Help: "Total number of messages processed",
	}, []string{"platform", "status"})

	// Command metrics
	commandsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whatel_commands_executed_total",
		Help: "Total number of control commands executed",
	}, []string{"command"})

	// Provider metrics
	providerRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "whatel_provider_request_duration_seconds",
		Help:    "Duration of AI provider requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "status"})

	providerRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whatel_provider_requests_total",
		Help: "Total number of AI provider requests",
	}, []string{"provider", "status"})

	failoversTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whatel_provider_failovers_total",
		Help: "Total number of provider failover advances",
	})

	// Rate limit metrics
	rateLimitBlocked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whatel_rate_limit_blocked_total",
		Help: "Total number of messages refused by rate limiting",
	}, []string{"kind"})

	// Storage metrics
	storageOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whatel_storage_operations_total",
		Help: "Total number of storage operations",
	}, []string{"operation", "status"})

	storageOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "whatel_storage_operation_duration_seconds",
		Help:    "Duration of storage operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// Connection state gauge, one series per state, 1 on the current one
	connectionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "whatel_whatsapp_connection_state",
		Help: "Current WhatsApp connection state (1 for the active state)",
	}, []string{"state"})
)

// Metrics provides methods to record metrics
type Metrics struct{}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordMessageReceived records a received message
func (m *Metrics) RecordMessageReceived(platform string) {
	messagesReceived.WithLabelValues(platform).Inc()
}

// RecordMessageProcessed records a processed message
func (m *Metrics) RecordMessageProcessed(platform, status string) {
	messagesProcessed.WithLabelValues(platform, status).Inc()
}

// RecordCommandExecuted records an executed control command
func (m *Metrics) RecordCommandExecuted(command string) {
	commandsExecuted.WithLabelValues(command).Inc()
}

// RecordProviderRequest records an AI provider request
func (m *Metrics) RecordProviderRequest(provider, status string, duration time.Duration) {
	providerRequestDuration.WithLabelValues(provider, status).Observe(duration.Seconds())
	providerRequestsTotal.WithLabelValues(provider, status).Inc()
}

// RecordFailover records a failover advance to the next provider
func (m *Metrics) RecordFailover() {
	failoversTotal.Inc()
}

// RecordRateLimitBlocked records a message refused by the daily quota or
// the flood limiter
func (m *Metrics) RecordRateLimitBlocked(kind string) {
	rateLimitBlocked.WithLabelValues(kind).Inc()
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(operation, status string, duration time.Duration) {
	storageOperations.WithLabelValues(operation, status).Inc()
	storageOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetConnectionState marks state as the active connection state
func (m *Metrics) SetConnectionState(state string, states []string) {
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1.0
		}
		connectionState.WithLabelValues(s).Set(v)
	}
}

// StartMetricsServer starts the metrics HTTP server
func StartMetricsServer(port int, path string) error {
	router := mux.NewRouter()
	router.Handle(path, promhttp.Handler())

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}
