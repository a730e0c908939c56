package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

var startTime = time.Now()

// HealthChecker tracks daemon liveness signals and serves them as JSON.
type HealthChecker struct {
	mu             sync.RWMutex
	lastOracleRead time.Time
	lastPrice      uint64
	storeConnected bool
	breakerTripped bool
	errors         []string
}

// HealthStatus is the JSON payload served on the health endpoint.
type HealthStatus struct {
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
	LastOracleRead time.Time `json:"last_oracle_read"`
	LastPrice      uint64    `json:"last_price"`
	StoreConnected bool      `json:"store_connected"`
	BreakerTripped bool      `json:"breaker_tripped"`
	Uptime         string    `json:"uptime"`
	Errors         []string  `json:"errors,omitempty"`
}

// NewHealthChecker creates a health checker.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		errors: make([]string, 0),
	}
}

// SetStoreConnected updates store connectivity.
func (h *HealthChecker) SetStoreConnected(connected bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.storeConnected = connected
}

// SetBreakerTripped mirrors the circuit-breaker state.
func (h *HealthChecker) SetBreakerTripped(tripped bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.breakerTripped = tripped
}

// RecordOracleRead records a successful consensus read.
func (h *HealthChecker) RecordOracleRead(price uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastOracleRead = time.Now()
	h.lastPrice = price
}

// RecordErrorMessage appends to the recent error list, keeping the last ten.
func (h *HealthChecker) RecordErrorMessage(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, msg)
	if len(h.errors) > 10 {
		h.errors = h.errors[len(h.errors)-10:]
	}
}

// ClearErrors drops the recorded error list.
func (h *HealthChecker) ClearErrors() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = h.errors[:0]
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	code := http.StatusOK
	if !h.storeConnected || time.Since(h.lastOracleRead) > time.Hour {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	if len(h.errors) > 0 {
		status = "unhealthy"
		code = http.StatusInternalServerError
	}

	health := HealthStatus{
		Status:         status,
		Timestamp:      time.Now(),
		LastOracleRead: h.lastOracleRead,
		LastPrice:      h.lastPrice,
		StoreConnected: h.storeConnected,
		BreakerTripped: h.breakerTripped,
		Uptime:         time.Since(startTime).String(),
		Errors:         h.errors,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(health)
}
