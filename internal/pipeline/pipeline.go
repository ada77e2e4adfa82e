package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/squeeko/squeeko/internal/common"
	"github.com/squeeko/squeeko/internal/job"
	"github.com/squeeko/squeeko/internal/models"
	"github.com/squeeko/squeeko/internal/repository"
)

// Store is the slice of the job repository the pipeline mutates jobs
// through. Every status change goes through the conditional update so that
// duplicate work-item deliveries under concurrent workers stay safe.
type Store interface {
	CreateJob(ctx context.Context, j *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	GetJobByExternalSTTID(ctx context.Context, externalID string) (*models.Job, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, expected, next models.JobStatus, upd *repository.JobUpdate) error
}

// Queue is the transport work items are handed to. Redelivery semantics
// live behind it; the pipeline only enqueues.
type Queue interface {
	Enqueue(ctx context.Context, j *job.Job) (uuid.UUID, error)
}

// AudioSigner mints a provider-fetchable URL for an uploaded audio object.
type AudioSigner interface {
	PresignDownload(ctx context.Context, key string, expiration time.Duration) (string, error)
}

type Transcriber interface {
	StartTranscription(ctx context.Context, audioURL, webhookURL string) (string, error)
	FetchTranscript(ctx context.Context, externalID string) (*models.Transcript, error)
}

type Translator interface {
	Translate(ctx context.Context, text, targetLang string) (string, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, t *models.Transcript) (*models.Summary, error)
}

// STTStartPayload is the work item that kicks off transcription.
type STTStartPayload struct {
	JobID    uuid.UUID `json:"job_id"`
	AudioKey string    `json:"audio_key"`
}

// STTEventPayload is a provider callback routed through the queue so the
// webhook endpoint can ack immediately.
type STTEventPayload struct {
	ExternalID string `json:"transcript_id"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

// TranslateSummarizePayload drives the translation + summarization stage.
type TranslateSummarizePayload struct {
	JobID uuid.UUID `json:"job_id"`
}

const (
	// provider webhook statuses
	eventCompleted = "completed"
	eventError     = "error"

	failRetries = 3
)

// errStageDone short-circuits the rest of a work item when a stage decided
// nothing further should run (lost race, job failed). Not a handler error.
var errStageDone = errors.New("stage done")

type Pipeline struct {
	store       Store
	queue       Queue
	signer      AudioSigner
	transcriber Transcriber
	translator  Translator
	summarizer  Summarizer
	webhookURL  string
	audioURLTTL time.Duration
}

func New(store Store, queue Queue, signer AudioSigner, transcriber Transcriber, translator Translator, summarizer Summarizer, webhookURL string, audioURLTTL time.Duration) *Pipeline {
	return &Pipeline{
		store:       store,
		queue:       queue,
		signer:      signer,
		transcriber: transcriber,
		translator:  translator,
		summarizer:  summarizer,
		webhookURL:  webhookURL,
		audioURLTTL: audioURLTTL,
	}
}

// CreateJob persists a new QUEUED job and enqueues the STT-start work item.
func (p *Pipeline) CreateJob(ctx context.Context, ownerID uuid.UUID, audioKey, filename, targetLang string) (*models.Job, error) {
	j := &models.Job{
		ID:               uuid.New(),
		OwnerID:          ownerID,
		AudioKey:         audioKey,
		OriginalFilename: filename,
		TargetLanguage:   targetLang,
		Status:           models.StatusQueued,
	}

	if err := p.store.CreateJob(ctx, j); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	if err := p.enqueue(ctx, job.TypeSTTStart, STTStartPayload{JobID: j.ID, AudioKey: j.AudioKey}); err != nil {
		p.failJob(ctx, j.ID, fmt.Sprintf("failed to enqueue transcription: %v", err))
		return nil, err
	}

	slog.Info("job created", "job_id", j.ID, "owner_id", ownerID, "audio_key", audioKey)
	return j, nil
}

// EnqueueTranscriptionEvent hands a verified webhook callback to the queue.
// The HTTP handler calls this and acks; the transition happens on a worker.
func (p *Pipeline) EnqueueTranscriptionEvent(ctx context.Context, event STTEventPayload) error {
	return p.enqueue(ctx, job.TypeSTTEvent, event)
}

// StartSTT handles the stt_start work item: QUEUED -> PROCESSING_STT.
// The provider is given a presigned audio URL and the webhook callback.
func (p *Pipeline) StartSTT(ctx context.Context, payload STTStartPayload) error {
	j, err := p.store.GetJob(ctx, payload.JobID)
	if err != nil {
		if common.IsNotFound(err) {
			slog.Warn("stt start for unknown job, dropping", "job_id", payload.JobID)
			return nil
		}
		return fmt.Errorf("failed to load job: %w", err)
	}

	// Duplicate delivery guard: only a QUEUED job may start transcription.
	if j.Status != models.StatusQueued {
		slog.Info("stt start ignored, job already advanced", "job_id", j.ID, "status", j.Status)
		return nil
	}

	audioURL, err := p.signer.PresignDownload(ctx, j.AudioKey, p.audioURLTTL)
	if err != nil {
		return fmt.Errorf("failed to presign audio for job %s: %w", j.ID, err)
	}

	externalID, err := p.transcriber.StartTranscription(ctx, audioURL, p.webhookURL)
	if err != nil {
		return p.stageError(ctx, j.ID, "transcription start", err)
	}

	upd := &repository.JobUpdate{ExternalSTTID: &externalID}
	if err := p.store.UpdateJobStatus(ctx, j.ID, models.StatusQueued, models.StatusProcessingSTT, upd); err != nil {
		if common.IsConflict(err) {
			// another worker won the race; external id is already recorded
			slog.Info("stt start lost transition race", "job_id", j.ID)
			return nil
		}
		return fmt.Errorf("failed to record stt start: %w", err)
	}

	slog.Info("transcription started", "job_id", j.ID, "external_id", externalID)
	return nil
}

// HandleTranscriptionEvent resumes a job from the provider webhook:
// PROCESSING_STT -> PROCESSING_TRANSLATION on success, FAILED on error.
func (p *Pipeline) HandleTranscriptionEvent(ctx context.Context, event STTEventPayload) error {
	j, err := p.store.GetJobByExternalSTTID(ctx, event.ExternalID)
	if err != nil {
		if common.IsNotFound(err) {
			// unknown external id is logged and dropped, never surfaced
			// to the provider
			slog.Warn("webhook for unknown transcript, dropping", "external_id", event.ExternalID)
			return nil
		}
		return fmt.Errorf("failed to resolve transcript %s: %w", event.ExternalID, err)
	}

	switch j.Status {
	case models.StatusProcessingSTT:
		// expected, proceed below
	case models.StatusProcessingTranslation:
		// we already stored the transcript but may have died before the
		// follow-up item made it onto the queue; re-enqueue, the stage
		// handler is idempotent
		return p.enqueue(ctx, job.TypeTranslateSummarize, TranslateSummarizePayload{JobID: j.ID})
	default:
		slog.Info("webhook ignored, job already advanced", "job_id", j.ID, "status", j.Status)
		return nil
	}

	if event.Status == eventError {
		p.failJob(ctx, j.ID, fmt.Sprintf("transcription failed: %s", event.Error))
		return nil
	}
	if event.Status != eventCompleted {
		slog.Warn("webhook with unexpected status, dropping", "job_id", j.ID, "status", event.Status)
		return nil
	}

	transcript, err := p.transcriber.FetchTranscript(ctx, event.ExternalID)
	if err != nil {
		return p.stageError(ctx, j.ID, "transcript fetch", err)
	}

	minutes := int(math.Ceil(float64(transcript.AudioDurationSec) / 60.0))
	upd := &repository.JobUpdate{
		OriginalTranscript: transcript,
		MinutesConsumed:    &minutes,
	}
	if err := p.store.UpdateJobStatus(ctx, j.ID, models.StatusProcessingSTT, models.StatusProcessingTranslation, upd); err != nil {
		if common.IsConflict(err) {
			slog.Info("webhook lost transition race", "job_id", j.ID)
			return nil
		}
		return fmt.Errorf("failed to store transcript: %w", err)
	}

	slog.Info("transcript stored",
		"job_id", j.ID,
		"utterances", len(transcript.Utterances),
		"minutes_consumed", minutes)

	return p.enqueue(ctx, job.TypeTranslateSummarize, TranslateSummarizePayload{JobID: j.ID})
}

// TranslateAndSummarize handles the translate_summarize work item. The job
// moves PROCESSING_TRANSLATION -> PROCESSING_SUMMARY once every utterance is
// translated in order, then -> COMPLETED once the summary is stored. A
// redelivered item finds the job in PROCESSING_SUMMARY and skips straight to
// summarization without re-calling the translator.
func (p *Pipeline) TranslateAndSummarize(ctx context.Context, payload TranslateSummarizePayload) error {
	j, err := p.store.GetJob(ctx, payload.JobID)
	if err != nil {
		if common.IsNotFound(err) {
			slog.Warn("translate item for unknown job, dropping", "job_id", payload.JobID)
			return nil
		}
		return fmt.Errorf("failed to load job: %w", err)
	}

	switch j.Status {
	case models.StatusProcessingTranslation:
		if err := p.translateStage(ctx, j); err != nil {
			if errors.Is(err, errStageDone) {
				return nil
			}
			return err
		}
	case models.StatusProcessingSummary:
		// translation already persisted on a previous delivery
	default:
		slog.Info("translate item ignored, job not in translation stage", "job_id", j.ID, "status", j.Status)
		return nil
	}

	return p.summaryStage(ctx, j)
}

func (p *Pipeline) translateStage(ctx context.Context, j *models.Job) error {
	if j.OriginalTranscript == nil {
		p.failJob(ctx, j.ID, "no transcript available for translation")
		return errStageDone
	}

	src := j.OriginalTranscript
	translated := &models.Transcript{
		LanguageCode:     j.TargetLanguage,
		AudioDurationSec: src.AudioDurationSec,
		Utterances:       make([]models.Utterance, 0, len(src.Utterances)),
	}

	// Utterances are translated strictly in input order; output segment i
	// always corresponds to source utterance i.
	for i, u := range src.Utterances {
		text, err := p.translator.Translate(ctx, u.Text, j.TargetLanguage)
		if err != nil {
			if common.Retryable(err) {
				return fmt.Errorf("translating utterance %d of job %s: %w", i, j.ID, err)
			}
			// keep the segments translated so far for diagnostics
			p.failJobWith(ctx, j.ID, fmt.Sprintf("translation failed at utterance %d: %v", i, err),
				&repository.JobUpdate{TranslatedTranscript: translated})
			return err
		}
		translated.Utterances = append(translated.Utterances, models.Utterance{
			Speaker: u.Speaker,
			StartMs: u.StartMs,
			EndMs:   u.EndMs,
			Text:    text,
		})
	}

	upd := &repository.JobUpdate{TranslatedTranscript: translated}
	if err := p.store.UpdateJobStatus(ctx, j.ID, models.StatusProcessingTranslation, models.StatusProcessingSummary, upd); err != nil {
		if common.IsConflict(err) {
			slog.Info("translation lost transition race", "job_id", j.ID)
			return errStageDone
		}
		return fmt.Errorf("failed to store translation: %w", err)
	}

	slog.Info("translation complete", "job_id", j.ID, "segments", len(translated.Utterances))
	return nil
}

func (p *Pipeline) summaryStage(ctx context.Context, j *models.Job) error {
	// Audio that produced no utterances completes with an empty summary;
	// there is nothing to send to the provider.
	summary := &models.Summary{}
	if j.OriginalTranscript != nil && len(j.OriginalTranscript.Utterances) > 0 {
		var err error
		summary, err = p.summarizer.Summarize(ctx, j.OriginalTranscript)
		if err != nil {
			return p.stageError(ctx, j.ID, "summarization", err)
		}
	}

	upd := &repository.JobUpdate{Summary: summary}
	if err := p.store.UpdateJobStatus(ctx, j.ID, models.StatusProcessingSummary, models.StatusCompleted, upd); err != nil {
		if common.IsConflict(err) {
			slog.Info("summary lost transition race", "job_id", j.ID)
			return nil
		}
		return fmt.Errorf("failed to store summary: %w", err)
	}

	slog.Info("job completed", "job_id", j.ID)
	return nil
}

// stageError decides what an adapter failure means for the job: transient
// errors bubble up so the queue can redeliver, anything else is terminal
// and the job is failed with the error recorded.
func (p *Pipeline) stageError(ctx context.Context, jobID uuid.UUID, stage string, err error) error {
	if common.Retryable(err) {
		return fmt.Errorf("%s for job %s: %w", stage, jobID, err)
	}
	p.failJob(ctx, jobID, fmt.Sprintf("%s failed: %v", stage, err))
	return err
}

func (p *Pipeline) failJob(ctx context.Context, jobID uuid.UUID, msg string) {
	p.failJobWith(ctx, jobID, msg, &repository.JobUpdate{})
}

// failJobWith moves the job to FAILED from whatever non-terminal state it
// currently holds, retrying around concurrent transitions with a fresh read.
func (p *Pipeline) failJobWith(ctx context.Context, jobID uuid.UUID, msg string, upd *repository.JobUpdate) {
	upd.ErrorMessage = &msg

	for attempt := 0; attempt < failRetries; attempt++ {
		j, err := p.store.GetJob(ctx, jobID)
		if err != nil {
			slog.Error("failed to load job for failure", "job_id", jobID, "error", err)
			return
		}
		if j.Status.Terminal() {
			return
		}
		err = p.store.UpdateJobStatus(ctx, jobID, j.Status, models.StatusFailed, upd)
		if err == nil {
			slog.Warn("job failed", "job_id", jobID, "from", j.Status, "error", msg)
			return
		}
		if !common.IsConflict(err) {
			slog.Error("failed to mark job failed", "job_id", jobID, "error", err)
			return
		}
	}
	slog.Error("gave up marking job failed after conflicts", "job_id", jobID)
}

func (p *Pipeline) enqueue(ctx context.Context, t job.Type, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	if _, err := p.queue.Enqueue(ctx, &job.Job{Type: t, Payload: data}); err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", t, err)
	}
	return nil
}
