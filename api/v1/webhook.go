package v1

import (
	"io"
	"net/http"

	"dmsrelay/internal/gateway/handlers"
	"dmsrelay/pkg/logger"
)

// HandleWebhook records a platform callback. It always answers 200 so the
// platform does not retry; duplicates and malformed bodies are handled by
// the reconciliation service.
func (r *Router) HandleWebhook(w http.ResponseWriter, req *http.Request) {
	log := logger.FromContext(req.Context())

	data, err := io.ReadAll(io.LimitReader(req.Body, handlers.MaxBodyBytes))
	if err != nil {
		log.Warn().Err(err).Msg("webhook body read failed")
	}

	res := r.service.RecordRaw(data)
	if res.Delivered {
		log.Debug().Str("message_id", res.Event.MessageID).Msg("webhook confirmed pending send")
	}

	handlers.SendJSON(w, http.StatusOK, WebhookResponse{
		Received:  true,
		Stored:    res.Stored,
		Decision:  res.Decision.String(),
		Orphaned:  res.Orphaned,
		Delivered: res.Delivered,
	})
}
