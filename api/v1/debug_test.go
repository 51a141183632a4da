package v1

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmsrelay/internal/cron"
)

func TestDebugMessages(t *testing.T) {
	api := newTestAPI(t, false)
	api.do(t, http.MethodPost, "/api/dms/webhook", `{"type":"text","customer_id":"TestClient","message_id":"a","text":["x"]}`)
	api.do(t, http.MethodPost, "/api/dms/webhook", `garbage`)

	rr := api.do(t, http.MethodGet, "/api/debug/messages", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	resp := decode[map[string]any](t, rr)
	assert.EqualValues(t, 2, resp["count"])
	assert.EqualValues(t, 1, resp["orphans"])
	assert.EqualValues(t, 1, resp["processedCount"])
	assert.Equal(t, []any{"a"}, resp["processedMessageIds"])
}

func TestDebugDedup(t *testing.T) {
	api := newTestAPI(t, false)
	for i := 0; i < 2; i++ {
		api.do(t, http.MethodPost, "/api/dms/webhook", `{"type":"text","customer_id":"TestClient","message_id":"a","text":["x"]}`)
	}

	resp := decode[DebugDedupResponse](t, api.do(t, http.MethodGet, "/api/debug/deduplication", nil))
	assert.Equal(t, 1, resp.TotalStoredMessages)
	assert.Equal(t, 1, resp.Stats.DuplicatesBlocked)
	require.Len(t, resp.RecentMessages, 1)
	assert.Equal(t, "a", resp.RecentMessages[0].MessageID)
	assert.Equal(t, "TestClient", resp.RecentMessages[0].CustomerID)
}

func TestDebugConfig_MasksSecret(t *testing.T) {
	api := newTestAPI(t, true)
	t.Setenv("JWT_SECRET", "from-env")

	req := httptest.NewRequest(http.MethodGet, "/api/debug/config", nil)
	req.Host = "relay.example.com"
	req.Header.Set("X-Forwarded-Proto", "https")
	rr := httptest.NewRecorder()
	api.handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	assert.NotContains(t, rr.Body.String(), "s3cret")
	assert.NotContains(t, rr.Body.String(), "from-env")

	resp := decode[DebugConfigResponse](t, rr)
	assert.Equal(t, "****SET****", resp.Settings["jwt_secret"])
	assert.Equal(t, "chan-1", resp.Settings["channel_id"])
	assert.Equal(t, "NOT SET", resp.Settings["webhook_url"])
	assert.Equal(t, "SET", resp.Environment["JWT_SECRET"])
	assert.Equal(t, "https://relay.example.com/api/dms/webhook", resp.SuggestedWebhookURL)
}

func TestDebugPending(t *testing.T) {
	api := newTestAPI(t, true)
	api.do(t, http.MethodPost, "/api/messages", map[string]any{"customerId": "TestClient", "messageId": "m1", "text": "hi"})

	resp := decode[DebugPendingResponse](t, api.do(t, http.MethodGet, "/api/debug/pending", nil))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "m1", resp.Pending[0].MessageID)
	assert.Equal(t, "TestClient", resp.Pending[0].CustomerKey)
}

func TestDebugJobs(t *testing.T) {
	s := cron.NewScheduler(nil)
	require.NoError(t, s.AddJob(cron.Job{Name: "pending-sweep", Schedule: "@every 30s", Run: func(ctx context.Context) error { return nil }}))

	router := NewRouter(nil)
	router.SetScheduler(s)
	m := mux.NewRouter()
	router.RegisterRoutes(m)

	rr := httptest.NewRecorder()
	m.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/debug/jobs", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	resp := decode[struct {
		Jobs []cron.JobInfo `json:"jobs"`
	}](t, rr)
	require.Len(t, resp.Jobs, 1)
	assert.Equal(t, "pending-sweep", resp.Jobs[0].Name)
}

func TestRunJob(t *testing.T) {
	s := cron.NewScheduler(nil)
	ran := 0
	require.NoError(t, s.AddJob(cron.Job{Name: "ledger-stats", Schedule: "@every 1h", Run: func(ctx context.Context) error {
		ran++
		return nil
	}}))
	require.NoError(t, s.AddJob(cron.Job{Name: "broken", Schedule: "@every 1h", Run: func(ctx context.Context) error {
		return errors.New("boom")
	}}))

	router := NewRouter(nil)
	router.SetScheduler(s)
	m := mux.NewRouter()
	router.RegisterRoutes(m)

	run := func(name string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		m.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/debug/jobs/"+name+"/run", nil))
		return rr
	}

	rr := run("ledger-stats")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, decode[RunJobResponse](t, rr).Success)
	assert.Equal(t, 1, ran)

	assert.Equal(t, http.StatusNotFound, run("missing").Code)
	assert.Equal(t, http.StatusInternalServerError, run("broken").Code)
}

func TestRunJob_NoScheduler(t *testing.T) {
	api := newTestAPI(t, false)
	rr := api.do(t, http.MethodPost, "/api/debug/jobs/pending-sweep/run", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
