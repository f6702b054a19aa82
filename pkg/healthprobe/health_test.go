package healthprobe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, h http.HandlerFunc) (int, HealthResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	return rec.Code, resp
}

func TestHealth_AlwaysOK(t *testing.T) {
	hc := New()

	code, resp := serve(t, hc.Health())
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", resp.Status)
	assert.NotEmpty(t, resp.Uptime)
}

func TestReady_Toggle(t *testing.T) {
	hc := New()

	code, resp := serve(t, hc.Ready())
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "not_ready", resp.Status)

	hc.SetReady(true)
	code, resp = serve(t, hc.Ready())
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", resp.Status)

	hc.SetReady(false)
	code, _ = serve(t, hc.Ready())
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestReady_Checks(t *testing.T) {
	hc := New()
	hc.SetReady(true)

	failing := errors.New("market data stale")
	var marketErr error
	hc.Register("storage", func(context.Context) error { return nil })
	hc.Register("market-data", func(context.Context) error { return marketErr })

	code, resp := serve(t, hc.Ready())
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]string{"storage": "ok", "market-data": "ok"}, resp.Checks)

	marketErr = failing
	code, resp = serve(t, hc.Ready())
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "market data stale", resp.Checks["market-data"])
	assert.Equal(t, "ok", resp.Checks["storage"])
}

func TestRegister_Replaces(t *testing.T) {
	hc := New()
	hc.SetReady(true)

	hc.Register("storage", func(context.Context) error { return errors.New("down") })
	hc.Register("storage", func(context.Context) error { return nil })

	code, _ := serve(t, hc.Ready())
	assert.Equal(t, http.StatusOK, code)
}
