package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/squeeko/squeeko/internal/queue"
)

// deadLetterQueue returns the Redis-backed queue if that is what we are
// running on; the in-memory queue has no dead-letter stream.
func (h *Handlers) deadLetterQueue() (*queue.RedisQueue, bool) {
	rq, ok := h.Q.(*queue.RedisQueue)
	return rq, ok
}

func (h *Handlers) deadLetterCount(w http.ResponseWriter, r *http.Request) {
	rq, ok := h.deadLetterQueue()
	if !ok {
		http.Error(w, "dead letter not available for this queue", http.StatusNotFound)
		return
	}

	count, err := rq.GetDeadLetterCount(r.Context())
	if err != nil {
		slog.Error("failed to count dead letter items", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int64{"count": count})
}

func (h *Handlers) retryDeadLetter(w http.ResponseWriter, r *http.Request) {
	rq, ok := h.deadLetterQueue()
	if !ok {
		http.Error(w, "dead letter not available for this queue", http.StatusNotFound)
		return
	}

	messageID := chi.URLParam(r, "id")
	if messageID == "" {
		http.Error(w, "message id required", http.StatusBadRequest)
		return
	}

	if err := rq.RetryDeadLetterJob(r.Context(), messageID); err != nil {
		slog.Error("failed to retry dead letter item", "message_id", messageID, "error", err)
		http.Error(w, "retry failed", http.StatusBadRequest)
		return
	}

	slog.Info("dead letter item requeued", "message_id", messageID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "requeued"})
}
