// Package api exposes the conversation operations over plain HTTP for clients that do not hold a
// websocket open.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"go-dm/internal/apperr"
	"go-dm/internal/chat"
	"go-dm/internal/message"
	"go-dm/internal/user"
)

const maxBodyBytes = 64 << 10

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the HTTP surface. Reads answer a store failure with an empty collection, like the
// websocket transport; the service has already logged the cause. Writes report it as 500 "db error".
type Handler struct {
	service *chat.Service
	ready   Pinger
	log     zerolog.Logger
}

// NewHandler builds the HTTP handlers. ready may be nil when nothing external needs checking.
func NewHandler(service *chat.Service, ready Pinger, log zerolog.Logger) *Handler {
	return &Handler{service: service, ready: ready, log: log}
}

type createUserRequest struct {
	Name string `json:"name"`
}

type sendMessageRequest struct {
	ReceiverName string `json:"receiverName"`
	Body         string `json:"body"`
}

type markReadRequest struct {
	SenderName string `json:"senderName"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Routes mounts health checks and the /api/users tree on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)

	r.Route("/api/users", func(r chi.Router) {
		r.Post("/", h.CreateUser)
		r.Get("/", h.ListUsers)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/unread", h.Unread)
			r.Get("/messages", h.History)
			r.Post("/messages", h.SendMessage)
			r.Post("/read", h.MarkRead)
		})
	})
}

func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready.Ping(r.Context()); err != nil {
			h.log.Warn().Err(err).Msg("readiness.failed")
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "not ready"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.service.Register(r.Context(), req.Name)
	if err != nil {
		h.writeError(w, err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		users = []user.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *Handler) Unread(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}

	counts, err := h.service.UnreadSummary(r.Context(), id)
	if err != nil {
		counts = map[int64]int{}
	}
	writeJSON(w, http.StatusOK, counts)
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}

	msgs, err := h.service.History(r.Context(), id, r.URL.Query().Get("with"))
	if err != nil {
		msgs = []message.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req sendMessageRequest
	if !h.decode(w, r, &req) {
		return
	}

	ev, err := h.service.Send(r.Context(), id, req.ReceiverName, req.Body)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev.MessageRecord)
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req markReadRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.service.MarkAsRead(r.Context(), id, req.SenderName); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid user id"})
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid payload"})
		return false
	}
	return true
}

// writeError maps error kinds to statuses. Store failures never leak their cause.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrRecipientNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "recipient not found"})
	case errors.Is(err, chat.ErrSenderNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "sender not found"})
	case apperr.IsValidation(err):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid input"})
	case apperr.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	case apperr.IsForeignKey(err):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "message not sent"})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "db error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
