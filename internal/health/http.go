package health

import (
	"encoding/json"
	"net/http"
)

// result is the JSON response body for the health endpoints.
type result struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services,omitempty"`
	Features map[string]bool   `json:"features,omitempty"`
}

// Handler serves /healthz and /readyz endpoints backed by a [Controller].
// It is safe for concurrent use.
type Handler struct {
	controller *Controller
}

// NewHandler creates a Handler over the given controller.
func NewHandler(c *Controller) *Handler {
	return &Handler{controller: c}
}

// Healthz is a liveness probe that always returns 200 OK. A running process
// that can serve HTTP is considered alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz is a readiness probe reflecting the controller's aggregate view. It
// returns 200 while the system is healthy or degraded, and 503 once a
// critical service is unavailable. The body lists every service's status and
// the derived feature availability map.
func (h *Handler) Readyz(w http.ResponseWriter, _ *http.Request) {
	services := make(map[string]string, len(AllServiceKinds))
	for _, kind := range AllServiceKinds {
		services[kind.String()] = h.controller.Status(kind).String()
	}

	features := make(map[string]bool)
	for feature, available := range h.controller.AvailableFeatures() {
		features[string(feature)] = available
	}

	agg := h.controller.SystemHealth()
	status := http.StatusOK
	if agg == SystemCritical {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, result{
		Status:   agg.String(),
		Services: services,
		Features: features,
	})
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
