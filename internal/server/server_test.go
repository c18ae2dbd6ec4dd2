package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doRequest(t *testing.T, handler http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	srv := New(nil, nil, testConfig())
	defer srv.Close()
	rec := doRequest(t, srv.Handler(), http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCreateAndGetRoom(t *testing.T) {
	srv := New(nil, nil, testConfig())
	defer srv.Close()
	handler := srv.Handler()

	rec := doRequest(t, handler, http.MethodPost, "/api/rooms")
	require.Equal(t, http.StatusCreated, rec.Code)
	var created createRoomResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, uint(1), created.RoomID)
	assert.Equal(t, 6, created.MaxSeats)
	assert.Equal(t, "/ws/rooms/1", created.WSPath)

	rec = doRequest(t, handler, http.MethodGet, "/api/rooms/1")
	require.Equal(t, http.StatusOK, rec.Code)
	var snapshot RoomSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.Equal(t, phaseLobby, snapshot.Phase)
	assert.Empty(t, snapshot.Players)
}

func TestRoomLookupErrors(t *testing.T) {
	srv := New(nil, nil, testConfig())
	defer srv.Close()
	handler := srv.Handler()

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"unknown room", "/api/rooms/42", http.StatusNotFound},
		{"bad room id", "/api/rooms/abc", http.StatusNotFound},
		{"results for unknown room", "/api/rooms/42/results/1", http.StatusNotFound},
		{"bad player id", "/api/rooms/1/results/x", http.StatusBadRequest},
		{"websocket without upgrade", "/ws/rooms/abc", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, handler, http.MethodGet, tt.path)
			assert.Equal(t, tt.status, rec.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestResultsForRoomWithoutGame(t *testing.T) {
	srv := New(nil, nil, testConfig())
	defer srv.Close()
	handler := srv.Handler()
	doRequest(t, handler, http.MethodPost, "/api/rooms")

	rec := doRequest(t, handler, http.MethodGet, "/api/rooms/1/results/1")
	require.Equal(t, http.StatusOK, rec.Code)
	var body resultsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body.Results)
}

func TestOriginAllowed(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"https://play.example"}
	srv := New(nil, nil, cfg)
	defer srv.Close()

	assert.True(t, srv.originAllowed(""))
	assert.True(t, srv.originAllowed("https://play.example"))
	assert.False(t, srv.originAllowed("https://evil.example"))
}
