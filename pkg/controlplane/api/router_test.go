package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thumbsup-team/securenas/pkg/controlplane/api"
	"github.com/thumbsup-team/securenas/pkg/controlplane/api/auth"
	"github.com/thumbsup-team/securenas/pkg/controlplane/api/handlers"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fakeController struct {
	status      handlers.DeviceStatus
	sessions    []handlers.SessionInfo
	activateErr error
	activated   int
	shutdowns   int
}

func (f *fakeController) Status() handlers.DeviceStatus { return f.status }

func (f *fakeController) SessionList() []handlers.SessionInfo { return f.sessions }

func (f *fakeController) Activate(ctx context.Context) error {
	f.activated++
	return f.activateErr
}

func (f *fakeController) Shutdown(ctx context.Context) error {
	f.shutdowns++
	return nil
}

func newTestRouter(t *testing.T, controller *fakeController) (http.Handler, string) {
	t.Helper()

	tokenService, err := auth.NewTokenService(testSecret, time.Hour)
	require.NoError(t, err)

	token, _, err := tokenService.MintAdminToken()
	require.NoError(t, err)

	return api.NewRouter(controller, tokenService), token
}

func doRequest(t *testing.T, router http.Handler, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpointsAreUnauthenticated(t *testing.T) {
	controller := &fakeController{status: handlers.DeviceStatus{State: "DORMANT"}}
	router, _ := newTestRouter(t, controller)

	rec := doRequest(t, router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "DORMANT", body["state"])
}

func TestDeviceEndpointsRequireToken(t *testing.T) {
	controller := &fakeController{}
	router, _ := newTestRouter(t, controller)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/device"},
		{http.MethodGet, "/api/v1/sessions"},
		{http.MethodPost, "/api/v1/device/activate"},
		{http.MethodPost, "/api/v1/device/shutdown"},
	} {
		rec := doRequest(t, router, tc.method, tc.path, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", tc.method, tc.path)
	}
	assert.Equal(t, 0, controller.activated)
	assert.Equal(t, 0, controller.shutdowns)
}

func TestGetDeviceStatus(t *testing.T) {
	controller := &fakeController{status: handlers.DeviceStatus{
		State:           "ACTIVE",
		Sessions:        2,
		Advertising:     true,
		StorageUnlocked: true,
	}}
	router, token := newTestRouter(t, controller)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/device", token)
	require.Equal(t, http.StatusOK, rec.Code)

	var status handlers.DeviceStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "ACTIVE", status.State)
	assert.Equal(t, 2, status.Sessions)
	assert.True(t, status.StorageUnlocked)
}

func TestGetSessions(t *testing.T) {
	controller := &fakeController{sessions: []handlers.SessionInfo{
		{ID: "s1", Identity: "alice", Address: "192.168.1.10"},
	}}
	router, token := newTestRouter(t, controller)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/sessions", token)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Sessions []handlers.SessionInfo `json:"sessions"`
		Count    int                    `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "alice", body.Sessions[0].Identity)
}

func TestActivate(t *testing.T) {
	controller := &fakeController{status: handlers.DeviceStatus{State: "ADVERTISING"}}
	router, token := newTestRouter(t, controller)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/device/activate", token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, controller.activated)
}

func TestActivateConflict(t *testing.T) {
	controller := &fakeController{activateErr: handlers.ErrNotActivatable}
	router, token := newTestRouter(t, controller)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/device/activate", token)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestShutdown(t *testing.T) {
	controller := &fakeController{status: handlers.DeviceStatus{State: "SHUTDOWN"}}
	router, token := newTestRouter(t, controller)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/device/shutdown", token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, controller.shutdowns)
}

func TestRejectsForgedToken(t *testing.T) {
	controller := &fakeController{}
	router, _ := newTestRouter(t, controller)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/device", "forged.token.value")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
