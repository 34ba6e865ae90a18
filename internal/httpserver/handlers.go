package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"wagate/internal/domain"
	"wagate/internal/service"
	"wagate/internal/store"
)

const Prefix = "/api/whatsapp"

type Messaging interface {
	Send(ctx context.Context, req domain.SendRequest) (domain.SendResponse, error)
	Conversation(ctx context.Context, numero string) ([]service.ConversationEntry, error)
	MarkRead(ctx context.Context, numero string) (int64, error)
	MessageStatus(ctx context.Context, id int64) (service.StatusView, error)
	AcksForTransportID(ctx context.Context, transportID string) ([]domain.AckEvent, error)
}

type QRSource interface {
	LatestQR() string
}

type API struct {
	Svc    Messaging
	QR     QRSource
	APIKey string
	// Live is mounted at /ws when set.
	Live http.Handler
	// Acks is mounted at /transport/acks when set.
	Acks *AckIngest
}

func (a *API) Register(r *mux.Router) {
	base := r.PathPrefix(Prefix).Subrouter()
	base.HandleFunc("/messages", a.handleConversation).Methods(http.MethodGet)
	base.HandleFunc("/messages/read", a.handleMarkRead).Methods(http.MethodPost)
	base.HandleFunc("/messages/{id}/status", a.handleStatus).Methods(http.MethodGet)
	base.HandleFunc("/acks/{transportId}", a.handleAcks).Methods(http.MethodGet)
	base.HandleFunc("/qr", a.handleQR).Methods(http.MethodGet)
	if a.Live != nil {
		base.Handle("/ws", a.Live).Methods(http.MethodGet)
	}

	protected := base.NewRoute().Subrouter()
	protected.Use(APIKey(a.APIKey))
	protected.HandleFunc("/send", a.handleSend).Methods(http.MethodPost)
	if a.Acks != nil {
		protected.Handle("/transport/acks", a.Acks).Methods(http.MethodPost)
	}
}

type notReadyBody struct {
	Error string        `json:"error"`
	State readinessBody `json:"state"`
}

type readinessBody struct {
	IsReady bool `json:"isReady"`
	HasQR   bool `json:"hasQr"`
}

func (a *API) handleSend(w http.ResponseWriter, r *http.Request) {
	var req domain.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrInvalidJSON)
		return
	}

	resp, err := a.Svc.Send(r.Context(), req)
	var nr *domain.NotReadyError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case domain.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &nr):
		writeJSON(w, http.StatusServiceUnavailable, notReadyBody{
			Error: nr.Error(),
			State: readinessBody{IsReady: false, HasQR: nr.HasQR},
		})
	case domain.IsStorage(err):
		slog.ErrorContext(r.Context(), "send: record failed", "err", err, "destination", req.NumeroDestino)
		writeError(w, http.StatusInternalServerError, ErrDependency)
	default:
		slog.ErrorContext(r.Context(), "send failed", "err", err, "destination", req.NumeroDestino)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": ErrSendFailed, "details": err.Error()})
	}
}

func (a *API) handleConversation(w http.ResponseWriter, r *http.Request) {
	numero := strings.TrimSpace(r.URL.Query().Get("numero"))
	if numero == "" {
		writeError(w, http.StatusBadRequest, ErrMissingNumero)
		return
	}
	msgs, err := a.Svc.Conversation(r.Context(), numero)
	if err != nil {
		a.fail(w, r, "conversation", err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (a *API) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Numero string `json:"numero"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, ErrInvalidJSON)
		return
	}
	if strings.TrimSpace(body.Numero) == "" {
		writeError(w, http.StatusBadRequest, ErrMissingNumero)
		return
	}
	n, err := a.Svc.MarkRead(r.Context(), body.Numero)
	if err != nil {
		a.fail(w, r, "mark read", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "changes": n})
}

func (a *API) handleQR(w http.ResponseWriter, r *http.Request) {
	qr := ""
	if a.QR != nil {
		qr = a.QR.LatestQR()
	}
	if qr == "" {
		writeError(w, http.StatusNotFound, ErrNoQR)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"qr": qr})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, ErrBadID)
		return
	}
	view, err := a.Svc.MessageStatus(r.Context(), id)
	if err != nil {
		a.fail(w, r, "message status", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleAcks(w http.ResponseWriter, r *http.Request) {
	tid := mux.Vars(r)["transportId"]
	if tid == "" {
		writeError(w, http.StatusBadRequest, ErrMissingID)
		return
	}
	acks, err := a.Svc.AcksForTransportID(r.Context(), tid)
	if err != nil {
		a.fail(w, r, "acks", err)
		return
	}
	if len(acks) == 0 {
		writeError(w, http.StatusNotFound, ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messageId": tid, "acks": acks})
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case domain.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, ErrNotFound)
	default:
		slog.ErrorContext(r.Context(), op+" failed", "err", err, "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, ErrDependency)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
