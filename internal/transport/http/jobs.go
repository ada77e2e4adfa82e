package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/squeeko/squeeko/internal/auth"
	"github.com/squeeko/squeeko/internal/common"
	"github.com/squeeko/squeeko/internal/models"
	"github.com/squeeko/squeeko/internal/validation"
)

// jobView is the client-facing shape of a job.
type jobView struct {
	ID                   uuid.UUID          `json:"id"`
	Status               models.JobStatus   `json:"status"`
	OriginalFilename     string             `json:"original_filename,omitempty"`
	TargetLanguage       string             `json:"target_language"`
	OriginalTranscript   *models.Transcript `json:"original_transcript,omitempty"`
	TranslatedTranscript *models.Transcript `json:"translated_transcript,omitempty"`
	Summary              *models.Summary    `json:"summary,omitempty"`
	ErrorMessage         string             `json:"error_message,omitempty"`
	MinutesConsumed      int                `json:"minutes_consumed"`
	CreatedAt            string             `json:"created_at"`
}

func toJobView(j *models.Job) jobView {
	return jobView{
		ID:                   j.ID,
		Status:               j.Status,
		OriginalFilename:     j.OriginalFilename,
		TargetLanguage:       j.TargetLanguage,
		OriginalTranscript:   j.OriginalTranscript,
		TranslatedTranscript: j.TranslatedTranscript,
		Summary:              j.Summary,
		ErrorMessage:         j.ErrorMessage,
		MinutesConsumed:      j.MinutesConsumed,
		CreatedAt:            j.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

// createJob presigns a direct-to-storage upload and queues the pipeline.
// The audio bytes never pass through this server; the client PUTs them to
// the returned URL.
func (h *Handlers) createJob(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, "no auth context", http.StatusUnauthorized)
		return
	}
	ownerID, err := uuid.Parse(claims.UserID)
	if err != nil {
		http.Error(w, "invalid user ID", http.StatusBadRequest)
		return
	}

	var req validation.CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	contentType, err := validation.ValidateCreateJob(&req)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   "validation failed",
			"details": err.Error(),
		})
		return
	}

	target, err := h.Storage.PresignUpload(r.Context(), req.OriginalFilename, contentType, h.Config.UploadURLTTL)
	if err != nil {
		slog.Error("failed to presign upload", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	targetLang := req.TargetLanguage
	if targetLang == "" {
		targetLang = h.Config.TargetLanguage
	}

	j, err := h.Pipeline.CreateJob(r.Context(), ownerID, target.Key, req.OriginalFilename, targetLang)
	if err != nil {
		slog.Error("failed to create job", "error", err)
		http.Error(w, "failed to create job", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"job_id":     j.ID,
		"upload_url": target.UploadURL,
		"file_key":   target.Key,
		"status":     j.Status,
	})
}

func (h *Handlers) getJob(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		http.Error(w, "bad id", http.StatusBadRequest)
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, "no auth context", http.StatusUnauthorized)
		return
	}
	ownerID, err := uuid.Parse(claims.UserID)
	if err != nil {
		http.Error(w, "invalid user ID", http.StatusBadRequest)
		return
	}

	// admins may read any job; everyone else only their own, and foreign
	// jobs are indistinguishable from missing ones
	var j *models.Job
	perms := auth.PermsForRoles(claims.Roles)
	if _, readAll := perms[auth.PermJobReadAll]; readAll {
		j, err = h.Repo.GetJob(r.Context(), id)
	} else {
		j, err = h.Repo.GetJobForOwner(r.Context(), id, ownerID)
	}
	if err != nil {
		if common.IsNotFound(err) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		slog.Error("failed to get job", "id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(toJobView(j)); err != nil {
		slog.Warn("encode job", "err", err)
	}
}

func (h *Handlers) listJobs(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, "no auth context", http.StatusUnauthorized)
		return
	}

	ownerID, err := uuid.Parse(claims.UserID)
	if err != nil {
		http.Error(w, "invalid user ID", http.StatusBadRequest)
		return
	}

	jobs, err := h.Repo.ListJobsByOwner(r.Context(), ownerID)
	if err != nil {
		slog.Error("failed to list jobs", "owner_id", ownerID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	views := make([]jobView, 0, len(jobs))
	for i := range jobs {
		views = append(views, toJobView(&jobs[i]))
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(views); err != nil {
		slog.Warn("encode jobs", "err", err)
	}
}
