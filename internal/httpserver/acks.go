package httpserver

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"wagate/internal/domain"
	"wagate/internal/reconciler"
)

const (
	SignatureHeader = "X-Wagate-Signature"
	maxAckBody      = 64 << 10
)

type AckProcessor interface {
	ProcessAck(ctx context.Context, ev domain.AckEvent) (reconciler.Result, error)
}

// AckIngest accepts acks pushed by an external transport process.
type AckIngest struct {
	Proc AckProcessor
	// Secret enables body signature checks when set.
	Secret string
}

type ackRequest struct {
	MessageID string  `json:"messageId"`
	Ack       *int    `json:"ack"`
	From      *string `json:"from"`
	Timestamp *int64  `json:"timestamp"`
}

type ackResponse struct {
	Discarded  bool   `json:"discarded"`
	Correlated bool   `json:"correlated"`
	Propagated bool   `json:"propagated"`
	SentID     *int64 `json:"sentMessageId,omitempty"`
	Status     string `json:"status,omitempty"`
}

func (a *AckIngest) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxAckBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrInvalidJSON)
		return
	}
	if a.Secret != "" && !VerifySignature(a.Secret, body, r.Header.Get(SignatureHeader)) {
		writeError(w, http.StatusUnauthorized, ErrInvalidSignature)
		return
	}

	var req ackRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrInvalidJSON)
		return
	}
	if strings.TrimSpace(req.MessageID) == "" {
		writeError(w, http.StatusBadRequest, ErrMissingID)
		return
	}
	if req.Ack == nil {
		writeError(w, http.StatusBadRequest, ErrMissingAck)
		return
	}

	res, err := a.Proc.ProcessAck(r.Context(), domain.AckEvent{
		TransportMessageID: req.MessageID,
		AckLevel:           domain.AckLevel(*req.Ack),
		SourceAddress:      req.From,
		EventTimestamp:     req.Timestamp,
	})
	if domain.IsValidation(err) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "ack ingest failed", "err", err, "transport_id", req.MessageID, "ack", *req.Ack)
		writeError(w, http.StatusInternalServerError, ErrDependency)
		return
	}

	out := ackResponse{Discarded: res.Discarded, Correlated: res.Correlated, Propagated: res.Propagated, Status: string(res.Status)}
	if res.Correlated {
		id := res.OutboundMessageID
		out.SentID = &id
	}
	writeJSON(w, http.StatusAccepted, out)
}

// VerifySignature checks a hex HMAC-SHA256 of body, optionally prefixed "sha256=".
func VerifySignature(secret string, body []byte, provided string) bool {
	provided = strings.TrimPrefix(strings.TrimSpace(provided), "sha256=")
	got, err := hex.DecodeString(provided)
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), got)
}

// Sign is the counterpart of VerifySignature for clients and tests.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
