package v1

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"dmsrelay/internal/gateway/handlers"
	"dmsrelay/internal/pending"
)

// HandleUpdateStatus applies a client-reported delivery status.
func (r *Router) HandleUpdateStatus(w http.ResponseWriter, req *http.Request) {
	var body UpdateStatusRequest
	if err := handlers.DecodeJSON(req, &body); err != nil {
		handlers.SendError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}
	body.MessageID = strings.TrimSpace(body.MessageID)
	if body.MessageID == "" || strings.TrimSpace(body.Status) == "" {
		handlers.SendError(w, http.StatusBadRequest, ErrCodeValidationFailed, "Missing messageId or status")
		return
	}

	applied, err := r.service.UpdateStatus(body.MessageID, body.Status)
	if errors.Is(err, pending.ErrInvalidStatus) {
		handlers.SendError(w, http.StatusBadRequest, ErrCodeValidationFailed, "status must be one of sent, delivered, error")
		return
	}
	if err != nil {
		handlers.SendError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	handlers.SendJSON(w, http.StatusOK, UpdateStatusResponse{Success: true, Applied: applied})
}

// HandleGetStatus reports the status of a tracked send. Untracked and
// finished sends answer 404 with status unknown; a tracked send still
// waiting for its platform ack answers 200 with status unknown.
func (r *Router) HandleGetStatus(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["messageId"]

	status := r.service.MessageStatus(id)
	code := http.StatusOK
	if status == pending.StatusUnknown {
		code = http.StatusNotFound
	}
	handlers.SendJSON(w, code, MessageStatusResponse{MessageID: id, Status: status.Reported()})
}
