package v1

import (
	"errors"
	"net/http"
	"os"

	"github.com/gorilla/mux"

	"dmsrelay/internal/config"
	"dmsrelay/internal/cron"
	"dmsrelay/internal/gateway/handlers"
	"dmsrelay/internal/message"
)

const (
	maskedSet = "****SET****"
	notSet    = "NOT SET"

	recentLimit = 10
)

// HandleDebugMessages dumps the whole ledger, orphans included.
func (r *Router) HandleDebugMessages(w http.ResponseWriter, req *http.Request) {
	events := r.service.Events()
	ids := r.service.DedupIDs()
	stats := r.service.Stats()

	handlers.SendJSON(w, http.StatusOK, DebugMessagesResponse{
		Count:          len(events),
		Orphans:        stats.Orphans,
		Messages:       events,
		ProcessedIDs:   ids,
		ProcessedCount: len(ids),
	})
}

// HandleDebugDedup reports dedup totals and the last few events.
func (r *Router) HandleDebugDedup(w http.ResponseWriter, req *http.Request) {
	stats := r.service.Stats()
	recent := r.service.Recent(recentLimit)

	out := make([]RecentMessage, 0, len(recent))
	for _, e := range recent {
		out = append(out, RecentMessage{
			MessageID:  e.MessageID,
			Type:       e.Type,
			Timestamp:  message.FormatTimestamp(e.Timestamp),
			CustomerID: e.CustomerKey,
		})
	}

	handlers.SendJSON(w, http.StatusOK, DebugDedupResponse{
		TotalStoredMessages: stats.Events,
		Stats:               stats.Dedup,
		RecentMessages:      out,
	})
}

// HandleDebugConfig shows the effective connection settings with the secret
// masked, which environment variables are present, and the webhook URL the
// platform should be given.
func (r *Router) HandleDebugConfig(w http.ResponseWriter, req *http.Request) {
	s := r.client.Settings()

	settings := map[string]string{
		"jwt_secret":  mask(s.JWTSecret),
		"channel_id":  orNotSet(s.ChannelID),
		"api_url":     orNotSet(s.APIURL),
		"webhook_url": orNotSet(s.WebhookURL),
		"status_url":  orNotSet(s.StatusURL),
	}

	env := make(map[string]string)
	for _, name := range config.EnvNames() {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			env[name] = "SET"
		} else {
			env[name] = notSet
		}
	}

	handlers.SendJSON(w, http.StatusOK, DebugConfigResponse{
		Settings:    settings,
		Environment: env,
		WebhookEndpoints: []string{
			"POST /api/dms/webhook",
			"POST /api/v1/dms/webhook",
		},
		SuggestedWebhookURL: requestScheme(req) + "://" + req.Host + "/api/dms/webhook",
	})
}

// HandleDebugPending lists active pending sends, oldest first.
func (r *Router) HandleDebugPending(w http.ResponseWriter, req *http.Request) {
	entries := r.service.Pending()
	handlers.SendJSON(w, http.StatusOK, DebugPendingResponse{Count: len(entries), Pending: entries})
}

// HandleDebugJobs lists maintenance jobs with their run counts.
func (r *Router) HandleDebugJobs(w http.ResponseWriter, req *http.Request) {
	jobs := []cron.JobInfo{}
	if r.scheduler != nil {
		jobs = r.scheduler.Jobs()
	}
	handlers.SendJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// HandleRunJob runs a maintenance job immediately and waits for it.
func (r *Router) HandleRunJob(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]
	if r.scheduler == nil {
		handlers.SendError(w, http.StatusNotFound, ErrCodeNotFound, "No scheduler configured")
		return
	}

	err := r.scheduler.RunNow(name)
	switch {
	case errors.Is(err, cron.ErrJobNotFound):
		handlers.SendError(w, http.StatusNotFound, ErrCodeNotFound, "Job not found: "+name)
	case errors.Is(err, cron.ErrJobRunning):
		handlers.SendError(w, http.StatusConflict, ErrCodeConflict, "Job is already running: "+name)
	case err != nil:
		handlers.SendError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
	default:
		handlers.SendJSON(w, http.StatusOK, RunJobResponse{Name: name, Success: true})
	}
}

func mask(secret string) string {
	if secret == "" {
		return notSet
	}
	return maskedSet
}

func orNotSet(v string) string {
	if v == "" {
		return notSet
	}
	return v
}

func requestScheme(req *http.Request) string {
	if proto := req.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	if req.TLS != nil {
		return "https"
	}
	return "http"
}
