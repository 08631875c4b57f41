package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSONError(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSONError(rec, http.StatusBadRequest, "test error")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "test error", resp["error"])
}

func TestWriteJSONOK(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSONOK(rec, map[string]int{"count": 42})

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]int
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 42, resp["count"])
}

func TestErrorHelpers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fn   func(http.ResponseWriter)
		want int
	}{
		{name: "method not allowed", fn: MethodNotAllowed, want: http.StatusMethodNotAllowed},
		{name: "bad request", fn: func(w http.ResponseWriter) { BadRequest(w, "nope") }, want: http.StatusBadRequest},
		{name: "internal", fn: func(w http.ResponseWriter) { InternalServerError(w, "boom") }, want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.fn(rec)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestQueryInt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		query   string
		want    int
		wantErr bool
	}{
		{name: "missing uses default", query: "", want: 50},
		{name: "in range", query: "?limit=10", want: 10},
		{name: "lower bound", query: "?limit=1", want: 1},
		{name: "upper bound", query: "?limit=500", want: 500},
		{name: "too small", query: "?limit=0", wantErr: true},
		{name: "too large", query: "?limit=501", wantErr: true},
		{name: "not a number", query: "?limit=ten", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/events"+tt.query, nil)
			got, err := QueryInt(req, "limit", 50, 1, 500)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
