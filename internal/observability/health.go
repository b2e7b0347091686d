package observability

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// HealthChecker manages liveness and readiness state.
// Endpoints: /healthz (liveness), /readyz (readiness).
type HealthChecker struct {
	ready     atomic.Bool
	startTime time.Time

	mu         sync.RWMutex
	components map[string]bool
}

// NewHealthChecker creates a new health checker.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		startTime:  time.Now(),
		components: make(map[string]bool),
	}
}

// SetComponent records the state of one dependency (store, postgres, nats).
// Readiness requires every registered component to be up.
func (h *HealthChecker) SetComponent(name string, up bool) {
	h.mu.Lock()
	h.components[name] = up
	h.mu.Unlock()
}

func (h *HealthChecker) componentsUp() (map[string]bool, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	snapshot := make(map[string]bool, len(h.components))
	allUp := true
	for name, up := range h.components {
		snapshot[name] = up
		allUp = allUp && up
	}
	return snapshot, allUp
}

// SetReady marks the service as ready to accept traffic.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady returns whether the service is ready.
func (h *HealthChecker) IsReady() bool {
	_, allUp := h.componentsUp()
	return h.ready.Load() && allUp
}

// LivenessHandler returns HTTP 200 if the process is alive.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadinessHandler returns HTTP 200 if the service is ready, 503 otherwise.
// Ready only after the engine restored state and every component is up.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	components, _ := h.componentsUp()
	w.Header().Set("Content-Type", "application/json")
	if h.IsReady() {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":     "ready",
			"components": components,
		})
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":     "not_ready",
			"components": components,
		})
	}
}
