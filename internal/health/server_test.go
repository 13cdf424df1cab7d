package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, st Status, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler(func() Status { return st }).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth_Open(t *testing.T) {
	rec := serve(t, Status{State: "open"}, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestHealth_NotOpen(t *testing.T) {
	for _, state := range []string{"idle", "connecting"} {
		rec := serve(t, Status{State: state}, "/health")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, state)
		assert.Equal(t, state, rec.Body.String())
	}
}

func TestStatus(t *testing.T) {
	want := Status{State: "open", Sessions: 3, Rules: 2, Members: 107, Conversations: 12}
	rec := serve(t, want, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, want, got)
}

func TestUnknownPath(t *testing.T) {
	rec := serve(t, Status{State: "open"}, "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
