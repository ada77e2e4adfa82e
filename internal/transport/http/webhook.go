package http

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/squeeko/squeeko/internal/pipeline"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Webhook-Signature"

const maxWebhookBody = 1 << 20 // 1MB

// transcriptionWebhook receives the provider's completion callback. The
// contract: verify the signature, hand the event to the queue, and answer
// 200 within the provider's ack budget. The actual state transition runs on
// a worker; an unknown transcript id is still acked so the provider does
// not keep retrying.
func (h *Handlers) transcriptionWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if !VerifySignature(h.Config.AssemblyAIWebhookSecret, body, r.Header.Get(SignatureHeader)) {
		slog.Warn("webhook signature verification failed", "remote", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var event pipeline.STTEventPayload
	if err := json.Unmarshal(body, &event); err != nil || event.ExternalID == "" {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if err := h.Pipeline.EnqueueTranscriptionEvent(r.Context(), event); err != nil {
		slog.Error("failed to enqueue transcription event", "external_id", event.ExternalID, "error", err)
		http.Error(w, "enqueue failed", http.StatusServiceUnavailable)
		return
	}

	slog.Info("transcription webhook accepted", "external_id", event.ExternalID, "status", event.Status)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "accepted"})
}

// VerifySignature checks the webhook HMAC. An empty configured secret
// rejects everything: unsigned webhook processing is not allowed.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}
