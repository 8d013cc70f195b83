package handlers

import "net/http"

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	device DeviceController
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(device DeviceController) *HealthHandler {
	return &HealthHandler{device: device}
}

// Liveness handles GET /health. It succeeds as long as the process serves.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readiness handles GET /health/ready. The device is ready once its core
// is wired up, regardless of lifecycle state (a dormant device is healthy).
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.device == nil {
		writeError(w, http.StatusServiceUnavailable, "device core not initialized")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
		"state":  h.device.Status().State,
	})
}
