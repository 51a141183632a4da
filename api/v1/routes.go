package v1

import (
	"net/http"

	"github.com/gorilla/mux"

	"dmsrelay/internal/cron"
	"dmsrelay/internal/dms"
	"dmsrelay/internal/gateway/handlers"
	"dmsrelay/internal/reconcile"
)

// RouterDeps holds dependencies for the v1 API router.
type RouterDeps struct {
	Service *reconcile.Service
	Client  *dms.Client
	// Scheduler is optional; when set its jobs are listed under /debug/jobs.
	Scheduler *cron.Scheduler
	Version   string
}

// Router serves the relay API.
type Router struct {
	service   *reconcile.Service
	client    *dms.Client
	scheduler *cron.Scheduler
	version   string
}

// NewRouter creates a new v1 API router. A nil client is replaced by an
// unconfigured one.
func NewRouter(deps *RouterDeps) *Router {
	if deps == nil {
		deps = &RouterDeps{}
	}
	r := &Router{
		service:   deps.Service,
		client:    deps.Client,
		scheduler: deps.Scheduler,
		version:   deps.Version,
	}
	if r.client == nil {
		r.client = dms.New(dms.Settings{})
	}
	if r.service == nil {
		r.service = reconcile.New(reconcile.Config{Sender: r.client})
	}
	if r.version == "" {
		r.version = "dev"
	}
	return r
}

// SetScheduler attaches the maintenance scheduler after construction.
func (r *Router) SetScheduler(s *cron.Scheduler) {
	r.scheduler = s
}

// RegisterRoutes mounts the API under /api/v1 and mirrors it under /api,
// the prefix the browser UI calls.
func (r *Router) RegisterRoutes(router *mux.Router) {
	r.mount(router.PathPrefix("/api/v1").Subrouter())
	r.mount(router.PathPrefix("/api").Subrouter())
}

func (r *Router) mount(api *mux.Router) {
	// Health
	api.HandleFunc("/health", handlers.HealthHandler(r.version,
		handlers.Probe{Name: "dms_configured", Check: r.client.Configured},
	)).Methods(http.MethodGet)

	// Messages
	api.HandleFunc("/messages", r.HandleSubmitMessage).Methods(http.MethodPost)
	api.HandleFunc("/messages", r.HandleClearMessages).Methods(http.MethodDelete)
	api.HandleFunc("/messages/{customerId}", r.HandleGetMessages).Methods(http.MethodGet)

	// Delivery status
	api.HandleFunc("/message-status", r.HandleUpdateStatus).Methods(http.MethodPost)
	api.HandleFunc("/message-status/{messageId}", r.HandleGetStatus).Methods(http.MethodGet)

	// Platform callback
	api.HandleFunc("/dms/webhook", r.HandleWebhook).Methods(http.MethodPost)

	// Connection
	api.HandleFunc("/ping", r.HandlePing).Methods(http.MethodGet)
	api.HandleFunc("/config", r.HandleGetConfig).Methods(http.MethodGet)
	api.HandleFunc("/config", r.HandleUpdateConfig).Methods(http.MethodPost)

	// Debug
	api.HandleFunc("/debug/messages", r.HandleDebugMessages).Methods(http.MethodGet)
	api.HandleFunc("/debug/deduplication", r.HandleDebugDedup).Methods(http.MethodGet)
	api.HandleFunc("/debug/config", r.HandleDebugConfig).Methods(http.MethodGet)
	api.HandleFunc("/debug/pending", r.HandleDebugPending).Methods(http.MethodGet)
	api.HandleFunc("/debug/jobs", r.HandleDebugJobs).Methods(http.MethodGet)
	api.HandleFunc("/debug/jobs/{name}/run", r.HandleRunJob).Methods(http.MethodPost)
}
