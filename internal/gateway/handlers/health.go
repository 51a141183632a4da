package handlers

import (
	"net/http"
	"sync/atomic"
	"time"
)

var startedAt atomic.Int64

// InitStartTime marks the moment the gateway began serving. Later calls are
// ignored so restarts inside one process keep the original uptime.
func InitStartTime() {
	startedAt.CompareAndSwap(0, time.Now().UnixNano())
}

// Uptime is whole seconds since InitStartTime, 0 if never called.
func Uptime() int64 {
	ns := startedAt.Load()
	if ns == 0 {
		return 0
	}
	return int64(time.Since(time.Unix(0, ns)) / time.Second)
}

// Probe is a named boolean reported alongside liveness.
type Probe struct {
	Name  string
	Check func() bool
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string          `json:"status"`
	Version string          `json:"version"`
	Uptime  int64           `json:"uptime"`
	Checks  map[string]bool `json:"checks,omitempty"`
}

// HealthHandler answers liveness checks. Probes are informational and never
// turn the status away from "ok"; none of them may call the platform.
func HealthHandler(version string, probes ...Probe) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{Status: "ok", Version: version, Uptime: Uptime()}
		if len(probes) > 0 {
			resp.Checks = make(map[string]bool, len(probes))
			for _, p := range probes {
				resp.Checks[p.Name] = p.Check()
			}
		}
		SendJSON(w, http.StatusOK, resp)
	}
}
