package controllers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dcastellanos/ordergate-backend/api/responses"
	"github.com/dcastellanos/ordergate-backend/internal/deadletter"
	"github.com/dcastellanos/ordergate-backend/pkg/db/models"
	pkgerrors "github.com/dcastellanos/ordergate-backend/pkg/errors"
	"github.com/dcastellanos/ordergate-backend/pkg/logger"
	"github.com/dcastellanos/ordergate-backend/pkg/pagination"
)

type deadLetterResponse struct {
	ID             uuid.UUID       `json:"id"`
	MessageID      string          `json:"messageId"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Payload        json.RawMessage `json:"payload"`
	Reason         string          `json:"reason"`
	Attempts       int             `json:"attempts"`
	ReplayedAt     *time.Time      `json:"replayedAt,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

type deadLetterListResponse struct {
	Messages   []deadLetterResponse `json:"messages"`
	NextCursor string               `json:"nextCursor,omitempty"`
}

type replayResponse struct {
	MessageID string         `json:"messageId"`
	Outcome   string         `json:"outcome"`
	Order     *orderResponse `json:"order,omitempty"`
}

func toDeadLetterResponse(msg models.DeadLetterMessage) deadLetterResponse {
	return deadLetterResponse{
		ID:             msg.ID,
		MessageID:      msg.MessageID,
		IdempotencyKey: msg.IdempotencyKey,
		Payload:        json.RawMessage(msg.Payload),
		Reason:         msg.Reason,
		Attempts:       msg.Attempts,
		ReplayedAt:     msg.ReplayedAt,
		CreatedAt:      msg.CreatedAt,
	}
}

// ListDeadLetters pages through parked messages, newest first.
func ListDeadLetters(svc deadletter.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := pagination.Params{Cursor: r.URL.Query().Get("cursor")}
		if raw := r.URL.Query().Get("limit"); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid limit"))
				return
			}
			params.Limit = limit
		}

		msgs, next, err := svc.List(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := deadLetterListResponse{
			Messages:   make([]deadLetterResponse, 0, len(msgs)),
			NextCursor: next,
		}
		for _, msg := range msgs {
			out.Messages = append(out.Messages, toDeadLetterResponse(msg))
		}
		responses.WriteSuccess(w, out)
	}
}

// DeadLetterDetail returns one parked message with its raw payload.
func DeadLetterDetail(svc deadletter.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msg, err := svc.Get(r.Context(), chi.URLParam(r, "messageId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toDeadLetterResponse(*msg))
	}
}

// ReplayDeadLetter pushes the stored payload back through the creation
// pipeline under its original idempotency key.
func ReplayDeadLetter(svc deadletter.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		messageID := chi.URLParam(r, "messageId")
		result, err := svc.Replay(r.Context(), messageID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := replayResponse{
			MessageID: messageID,
			Outcome:   result.Outcome.String(),
		}
		if result.Order != nil {
			order := toOrderResponse(result.Order)
			out.Order = &order
		}
		responses.WriteSuccess(w, out)
	}
}
