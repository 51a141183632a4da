package reconcile

import (
	"context"
	"errors"
	"strings"

	"dmsrelay/internal/dms"
	"dmsrelay/internal/message"
	"dmsrelay/internal/pending"
)

// DefaultCustomerName is sent when a text submit names no customer.
const DefaultCustomerName = "Customer"

// SubmitRequest is an outbound message from the chat client. When Advanced
// is set it is sent as-is after missing ids are filled in.
type SubmitRequest struct {
	CustomerID   string
	MessageID    string
	Text         []string
	CustomerName string
	Advanced     message.Payload
}

// SubmitResult reports the platform outcome of a submit.
type SubmitResult struct {
	MessageID string
	Type      message.Type
	Status    pending.Status
	Response  *dms.Response
	Payload   message.Payload
}

// BuildPayload converts a request into the platform payload.
func (s *Service) BuildPayload(req SubmitRequest) (message.Payload, error) {
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.MessageID = strings.TrimSpace(req.MessageID)
	if req.CustomerID == "" || req.MessageID == "" {
		return nil, ErrMissingFields
	}

	ts := message.FormatTimestamp(s.now())

	if req.Advanced != nil {
		p := req.Advanced.Clone()
		if p.String("customer_id") == "" {
			p["customer_id"] = req.CustomerID
		}
		if p.MessageID() == "" {
			switch p.String("type") {
			case string(message.TypeTypingIndicator), "customer_end_session":
			default:
				p["message_id"] = req.MessageID
			}
		}
		if p.String("timestamp") == "" {
			p["timestamp"] = ts
		}
		return p, nil
	}

	if len(req.Text) == 0 {
		return nil, ErrMissingText
	}
	name := strings.TrimSpace(req.CustomerName)
	if name == "" {
		name = DefaultCustomerName
	}
	return message.Payload{
		"type":          string(message.TypeText),
		"customer_id":   req.CustomerID,
		"message_id":    req.MessageID,
		"text":          req.Text,
		"customer_name": name,
		"timestamp":     ts,
	}, nil
}

// Submit builds the payload, tracks it, sends it and records the platform
// acknowledgement. Payloads without a message id, such as typing indicators,
// are sent untracked. A non-2xx reply is returned with StatusError and a nil
// error; a transport failure returns the error.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	p, err := s.BuildPayload(req)
	if err != nil {
		return nil, err
	}
	if s.sender == nil || !s.sender.Configured() {
		return nil, ErrNotConfigured
	}

	res := &SubmitResult{
		MessageID: p.MessageID(),
		Type:      message.ParseType(p.String("type")),
		Status:    pending.StatusSending,
		Payload:   p,
	}
	if res.MessageID == "" {
		res.MessageID = strings.TrimSpace(req.MessageID)
	}

	tracked := false
	if id := p.MessageID(); id != "" {
		switch err := s.SendOutbound(id, p.Text(), p.String("customer_id")); {
		case err == nil:
			tracked = true
		case errors.Is(err, pending.ErrAlreadyPending):
			s.log.Warn().Str("message_id", id).Msg("resending message that is already pending")
		default:
			return nil, err
		}
	}

	resp, err := s.sender.Send(ctx, p)
	if err != nil {
		if tracked {
			s.tracker.MarkError(res.MessageID)
		}
		res.Status = pending.StatusError
		return res, err
	}
	res.Response = resp

	if resp.OK() {
		res.Status = pending.StatusSent
		if tracked {
			s.tracker.MarkSent(res.MessageID)
		}
	} else {
		res.Status = pending.StatusError
		if tracked {
			s.tracker.MarkError(res.MessageID)
		}
	}

	if resp.OK() && s.webhookMissing() {
		s.log.Warn().Str("message_id", res.MessageID).Msg("no webhook url configured; replies will not arrive")
	}
	return res, nil
}

func (s *Service) webhookMissing() bool {
	c, ok := s.sender.(interface{ Settings() dms.Settings })
	return ok && c.Settings().WebhookURL == ""
}
