package v1

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"dmsrelay/internal/dms"
	"dmsrelay/internal/gateway/handlers"
	"dmsrelay/internal/message"
	"dmsrelay/internal/pending"
	"dmsrelay/internal/reconcile"
	"dmsrelay/pkg/logger"
)

// HandleSubmitMessage sends a chat message or an advanced payload to the
// platform and tracks it until delivery.
func (r *Router) HandleSubmitMessage(w http.ResponseWriter, req *http.Request) {
	var body SubmitMessageRequest
	if err := handlers.DecodeJSON(req, &body); err != nil {
		handlers.SendError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}

	res, err := r.service.Submit(req.Context(), reconcile.SubmitRequest{
		CustomerID:   body.CustomerID,
		MessageID:    body.MessageID,
		Text:         message.ToStrings(body.Text),
		CustomerName: body.CustomerName,
		Advanced:     body.AdvancedPayload,
	})

	log := logger.FromContext(req.Context())
	switch {
	case errors.Is(err, reconcile.ErrMissingFields), errors.Is(err, reconcile.ErrMissingText):
		handlers.SendError(w, http.StatusBadRequest, ErrCodeValidationFailed, capitalize(err.Error()))
		return
	case errors.Is(err, reconcile.ErrNotConfigured):
		handlers.SendError(w, http.StatusServiceUnavailable, ErrCodeNotConfigured, "DMS connection is not configured")
		return
	case errors.Is(err, pending.ErrMaxPendingExceeded):
		handlers.SendError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "too many messages awaiting confirmation")
		return
	case err != nil && res == nil:
		log.Error().Err(err).Msg("submit failed")
		handlers.SendError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	case err != nil:
		var sendErr *dms.SendError
		if errors.As(err, &sendErr) {
			log.Warn().Err(err).Str("message_id", res.MessageID).Msg("platform unreachable")
		}
		handlers.SendJSON(w, http.StatusBadGateway, SubmitMessageResponse{
			Status:        http.StatusBadGateway,
			Message:       err.Error(),
			MessageStatus: res.Status,
			MessageID:     res.MessageID,
			MessageType:   res.Type,
		})
		return
	}

	out := SubmitMessageResponse{
		Status:        res.Response.StatusCode,
		Message:       res.Response.StatusText,
		MessageStatus: res.Status,
		MessageID:     res.MessageID,
		MessageType:   res.Type,
		DMSResponse:   res.Response.Body,
	}
	handlers.SendJSON(w, res.Response.StatusCode, out)
}

// HandleGetMessages returns events for a customer newer than ?since. Events
// a client cannot render are left out; they stay in the ledger.
func (r *Router) HandleGetMessages(w http.ResponseWriter, req *http.Request) {
	customerID := mux.Vars(req)["customerId"]

	since := time.Unix(0, 0).UTC()
	if raw := req.URL.Query().Get("since"); raw != "" {
		t, err := message.ParseTimestamp(raw)
		if err != nil {
			handlers.SendError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "since must be an ISO-8601 timestamp")
			return
		}
		since = t
	}

	events := r.service.FetchSince(customerID, since)
	out := make([]*message.Event, 0, len(events))
	for _, e := range events {
		if e.Renderable() {
			out = append(out, e)
		}
	}

	handlers.SendJSON(w, http.StatusOK, MessagesResponse{
		CustomerID: customerID,
		Messages:   out,
	})
}

// HandleClearMessages empties the ledger and dedup state.
func (r *Router) HandleClearMessages(w http.ResponseWriter, req *http.Request) {
	n := r.service.Clear()
	handlers.SendJSON(w, http.StatusOK, ClearMessagesResponse{Success: true, Cleared: n})
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
