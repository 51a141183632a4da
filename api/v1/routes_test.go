package v1

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmsrelay/internal/dms"
	"dmsrelay/internal/reconcile"
)

// fakePlatform records payloads posted by the DMS client.
type fakePlatform struct {
	srv *httptest.Server

	mu       sync.Mutex
	status   int
	payloads []map[string]any
}

func newFakePlatform(t *testing.T) *fakePlatform {
	t.Helper()
	p := &fakePlatform{status: http.StatusOK}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		_ = json.Unmarshal(body, &payload)

		p.mu.Lock()
		p.payloads = append(p.payloads, payload)
		status := p.status
		p.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"accepted":true}`))
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *fakePlatform) setStatus(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = code
}

func (p *fakePlatform) sent() []map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]map[string]any(nil), p.payloads...)
}

func (p *fakePlatform) settings() dms.Settings {
	return dms.Settings{JWTSecret: "s3cret", ChannelID: "chan-1", APIURL: p.srv.URL}
}

type testAPI struct {
	handler  http.Handler
	service  *reconcile.Service
	client   *dms.Client
	platform *fakePlatform
}

// newTestAPI wires a router against a fake platform. Pass configured=false
// to start without connection settings.
func newTestAPI(t *testing.T, configured bool) *testAPI {
	t.Helper()
	platform := newFakePlatform(t)

	settings := dms.Settings{}
	if configured {
		settings = platform.settings()
	}
	client := dms.New(settings)
	service := reconcile.New(reconcile.Config{Sender: client})
	t.Cleanup(func() { _ = service.Close() })

	m := mux.NewRouter()
	NewRouter(&RouterDeps{Service: service, Client: client, Version: "test"}).RegisterRoutes(m)

	return &testAPI{handler: m, service: service, client: client, platform: platform}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestRouter_RegisterRoutes(t *testing.T) {
	m := mux.NewRouter()
	NewRouter(nil).RegisterRoutes(m)

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/health"},
		{http.MethodPost, "/messages"},
		{http.MethodDelete, "/messages"},
		{http.MethodGet, "/messages/TestClient"},
		{http.MethodPost, "/message-status"},
		{http.MethodGet, "/message-status/m1"},
		{http.MethodPost, "/dms/webhook"},
		{http.MethodGet, "/ping"},
		{http.MethodGet, "/config"},
		{http.MethodPost, "/config"},
		{http.MethodGet, "/debug/messages"},
		{http.MethodGet, "/debug/deduplication"},
		{http.MethodGet, "/debug/config"},
		{http.MethodGet, "/debug/pending"},
		{http.MethodGet, "/debug/jobs"},
		{http.MethodPost, "/debug/jobs/pending-sweep/run"},
	}

	for _, prefix := range []string{"/api/v1", "/api"} {
		for _, route := range routes {
			t.Run(route.method+" "+prefix+route.path, func(t *testing.T) {
				req := httptest.NewRequest(route.method, prefix+route.path, nil)
				match := &mux.RouteMatch{}
				assert.True(t, m.Match(req, match), "route not registered")
			})
		}
	}
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t, false)

	rr := api.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	resp := decode[map[string]any](t, rr)
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "test", resp["version"])
	assert.Equal(t, map[string]any{"dms_configured": false}, resp["checks"])
}

func TestNewRouter_NilDepsServeRequests(t *testing.T) {
	m := mux.NewRouter()
	NewRouter(nil).RegisterRoutes(m)

	req := httptest.NewRequest(http.MethodGet, "/api/config", nil)
	rr := httptest.NewRecorder()
	m.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"connected":false}`, rr.Body.String())
}
