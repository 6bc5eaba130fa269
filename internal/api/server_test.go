package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canvasrelay/internal/hub"
	"canvasrelay/pkg/interfaces"
	"canvasrelay/pkg/types"
)

type staticStats hub.Stats

func (s staticStats) Stats() hub.Stats { return hub.Stats(s) }

// mockStore implements interfaces.SessionStore for handler tests
type mockStore struct {
	sessions  []*types.SessionRecord
	listErr   error
	healthErr error
	lastLimit int
}

func (m *mockStore) RecordSessionStart(context.Context, *types.SessionRecord) error { return nil }
func (m *mockStore) RecordSessionEnd(context.Context, string, time.Time, int64, int64) error {
	return nil
}
func (m *mockStore) HealthCheck(context.Context) error { return m.healthErr }
func (m *mockStore) Close() error                      { return nil }

func (m *mockStore) ListRecentSessions(_ context.Context, limit int) ([]*types.SessionRecord, error) {
	m.lastLimit = limit
	if m.listErr != nil {
		return nil, m.listErr
	}
	if len(m.sessions) > limit {
		return m.sessions[:limit], nil
	}
	return m.sessions, nil
}

var _ interfaces.SessionStore = (*mockStore)(nil)

func do(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

func TestServer_CanvasInfo(t *testing.T) {
	server := NewServer(staticStats{ActiveUsers: 3, HistoryCount: 42}, nil, "test")

	w := do(t, server, http.MethodGet, "/api/canvas/info")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"success":true,"data":{"activeUsers":3,"historyCount":42}}`, w.Body.String())
}

func TestServer_CanvasInfoRejectsOtherMethods(t *testing.T) {
	server := NewServer(staticStats{}, nil, "test")

	w := do(t, server, http.MethodPost, "/api/canvas/info")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, http.StatusMethodNotAllowed, resp.Code)
}

func TestServer_ListSessions(t *testing.T) {
	connected := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	store := &mockStore{sessions: []*types.SessionRecord{
		{ID: "b", ConnectedAt: connected.Add(time.Minute), Strokes: 7},
		{ID: "a", ConnectedAt: connected},
	}}
	server := NewServer(staticStats{}, store, "test")

	w := do(t, server, http.MethodGet, "/api/canvas/sessions")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, defaultSessionLimit, store.lastLimit)

	var resp struct {
		Success bool                   `json:"success"`
		Data    []*types.SessionRecord `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "b", resp.Data[0].ID)
	assert.Equal(t, int64(7), resp.Data[0].Strokes)
	assert.Nil(t, resp.Data[0].DisconnectedAt)
}

func TestServer_ListSessionsLimit(t *testing.T) {
	store := &mockStore{}
	server := NewServer(staticStats{}, store, "test")

	w := do(t, server, http.MethodGet, "/api/canvas/sessions?limit=5")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, store.lastLimit)
	assert.JSONEq(t, `{"success":true,"data":[]}`, w.Body.String())

	do(t, server, http.MethodGet, "/api/canvas/sessions?limit=5000")
	assert.Equal(t, maxSessionLimit, store.lastLimit)

	for _, bad := range []string{"0", "-3", "ten"} {
		w = do(t, server, http.MethodGet, "/api/canvas/sessions?limit="+bad)
		assert.Equal(t, http.StatusBadRequest, w.Code, "limit=%s", bad)
		assert.Contains(t, w.Body.String(), `"success":false`)
	}
}

func TestServer_ListSessionsErrors(t *testing.T) {
	w := do(t, NewServer(staticStats{}, nil, "test"), http.MethodGet, "/api/canvas/sessions")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	store := &mockStore{listErr: errors.New("disk on fire")}
	w = do(t, NewServer(staticStats{}, store, "test"), http.MethodGet, "/api/canvas/sessions")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "disk on fire")
}

func TestServer_HealthCheck(t *testing.T) {
	store := &mockStore{}
	server := NewServer(staticStats{ActiveUsers: 2, HistoryCount: 10}, store, "1.2.3")

	w := do(t, server, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "canvasrelay", resp.Service)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, "healthy", resp.Database)
	assert.Equal(t, 2, resp.Connections)
	assert.Equal(t, 10, resp.History)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestServer_HealthCheckUnhealthyDatabase(t *testing.T) {
	store := &mockStore{healthErr: errors.New("database ping failed")}
	server := NewServer(staticStats{}, store, "test")

	w := do(t, server, http.MethodGet, "/health")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Contains(t, resp.Database, "database ping failed")
}

func TestServer_HealthCheckWithoutDatabase(t *testing.T) {
	w := do(t, NewServer(staticStats{}, nil, "test"), http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"database":"disabled"`)
}

func TestServer_CORSPreflight(t *testing.T) {
	server := NewServer(staticStats{}, nil, "test")

	w := do(t, server, http.MethodOptions, "/api/canvas/info")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "GET")
	assert.Empty(t, w.Body.String())
}

func TestServer_HandleMountsExtraRoutes(t *testing.T) {
	server := NewServer(staticStats{}, nil, "test")
	server.Handle("/ws", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	assert.Equal(t, http.StatusTeapot, do(t, server, http.MethodGet, "/ws").Code)
	assert.Equal(t, http.StatusNotFound, do(t, server, http.MethodGet, "/nope").Code)
}
