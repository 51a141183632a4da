package v1

import (
	"errors"
	"net/http"

	"dmsrelay/internal/dms"
	"dmsrelay/internal/gateway/handlers"
	"dmsrelay/pkg/logger"
)

// HandlePing sends a test message to the platform.
func (r *Router) HandlePing(w http.ResponseWriter, req *http.Request) {
	if !r.client.Configured() {
		handlers.SendJSON(w, http.StatusOK, PingResponse{
			Connected: false,
			Message:   "Missing configuration values",
		})
		return
	}

	resp, err := r.client.Ping(req.Context())
	if err != nil {
		msg := err.Error()
		var sendErr *dms.SendError
		if errors.As(err, &sendErr) {
			msg = "Connection failed: " + sendErr.Err.Error()
		}
		logger.FromContext(req.Context()).Warn().Err(err).Msg("ping failed")
		handlers.SendJSON(w, http.StatusOK, PingResponse{Connected: false, Message: msg})
		return
	}

	out := PingResponse{
		Connected: resp.OK(),
		Status:    resp.StatusCode,
		Message:   resp.StatusText,
	}
	if out.Message == "" {
		out.Message = "Connection failed"
		if out.Connected {
			out.Message = "Connection successful"
		}
	}
	handlers.SendJSON(w, http.StatusOK, out)
}

// HandleGetConfig reports whether the connection is configured. Settings
// themselves are never returned here.
func (r *Router) HandleGetConfig(w http.ResponseWriter, req *http.Request) {
	handlers.SendJSON(w, http.StatusOK, ConfigStatusResponse{Connected: r.client.Configured()})
}

// HandleUpdateConfig replaces the non-empty connection settings in memory.
// They last until restart or the next config file reload.
func (r *Router) HandleUpdateConfig(w http.ResponseWriter, req *http.Request) {
	var body UpdateConfigRequest
	if err := handlers.DecodeJSON(req, &body); err != nil {
		handlers.SendError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}

	changed := r.client.Update(dms.Settings{
		JWTSecret:  body.JWTSecret,
		ChannelID:  body.ChannelID,
		APIURL:     body.APIURL,
		WebhookURL: body.WebhookURL,
	})

	handlers.SendJSON(w, http.StatusOK, UpdateConfigResponse{
		Success:    true,
		Changed:    changed,
		Configured: r.client.Configured(),
	})
}
