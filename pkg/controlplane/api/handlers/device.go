package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// ErrNotActivatable is returned by controllers when activation is requested
// from a state where it is not a valid edge.
var ErrNotActivatable = errors.New("device cannot be activated from its current state")

// DeviceStatus is a snapshot of the device for API consumers.
type DeviceStatus struct {
	State           string `json:"state"`
	Sessions        int    `json:"sessions"`
	Advertising     bool   `json:"advertising"`
	StorageUnlocked bool   `json:"storage_unlocked"`
}

// SessionInfo is a sanitized session representation for API responses.
type SessionInfo struct {
	ID             string    `json:"id"`
	Identity       string    `json:"identity"`
	Address        string    `json:"address"`
	ConnectedAt    time.Time `json:"connected_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// DeviceController is the surface the API exposes from the device core.
// The admin API is a read-mostly collaborator: it observes state and may
// invoke the two privileged lifecycle operations.
type DeviceController interface {
	Status() DeviceStatus
	SessionList() []SessionInfo
	Activate(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// DeviceHandler handles device lifecycle API endpoints.
type DeviceHandler struct {
	device DeviceController
}

// NewDeviceHandler creates a new DeviceHandler.
func NewDeviceHandler(device DeviceController) *DeviceHandler {
	return &DeviceHandler{device: device}
}

// Get handles GET /api/v1/device.
func (h *DeviceHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.device.Status())
}

// Sessions handles GET /api/v1/sessions.
func (h *DeviceHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.device.SessionList()
	if sessions == nil {
		sessions = []SessionInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// Activate handles POST /api/v1/device/activate.
//
// Activation from ADVERTISING or ACTIVE is an idempotent no-op and still
// returns 200 with the current status.
func (h *DeviceHandler) Activate(w http.ResponseWriter, r *http.Request) {
	if err := h.device.Activate(r.Context()); err != nil {
		if errors.Is(err, ErrNotActivatable) {
			Conflict(w, err.Error())
			return
		}
		InternalServerError(w, "activation failed")
		return
	}
	writeJSON(w, http.StatusOK, h.device.Status())
}

// Shutdown handles POST /api/v1/device/shutdown.
func (h *DeviceHandler) Shutdown(w http.ResponseWriter, r *http.Request) {
	if err := h.device.Shutdown(r.Context()); err != nil {
		InternalServerError(w, "shutdown failed")
		return
	}
	writeJSON(w, http.StatusOK, h.device.Status())
}
