package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/squeeko/squeeko/internal/common"
	"github.com/squeeko/squeeko/internal/models"
)

// JobUpdate carries the fields a pipeline stage is allowed to set together
// with a status transition. Nil fields are left untouched.
type JobUpdate struct {
	ExternalSTTID        *string
	OriginalTranscript   *models.Transcript
	TranslatedTranscript *models.Transcript
	Summary              *models.Summary
	ErrorMessage         *string
	MinutesConsumed      *int
}

func (r *Repository) CreateJob(ctx context.Context, j *models.Job) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.Status == "" {
		j.Status = models.StatusQueued
	}

	query := `
		INSERT INTO jobs (id, owner_id, audio_key, original_filename, target_language, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
	`

	_, err := r.db.Pool().Exec(ctx, query,
		j.ID,
		j.OwnerID,
		j.AudioKey,
		j.OriginalFilename,
		j.TargetLanguage,
		j.Status,
	)
	return err
}

const jobColumns = `id, owner_id, audio_key, original_filename, target_language, status,
		external_stt_id, original_transcript, translated_transcript, summary,
		error_message, minutes_consumed, created_at, updated_at`

func (r *Repository) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE id = $1`, jobColumns)
	return r.scanJob(r.db.Pool().QueryRow(ctx, query, id))
}

// GetJobForOwner returns the job only when it belongs to ownerID. A job
// owned by someone else is reported as not found, not forbidden.
func (r *Repository) GetJobForOwner(ctx context.Context, id, ownerID uuid.UUID) (*models.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE id = $1 AND owner_id = $2`, jobColumns)
	return r.scanJob(r.db.Pool().QueryRow(ctx, query, id, ownerID))
}

// GetJobByExternalSTTID resolves a provider callback to a local job.
func (r *Repository) GetJobByExternalSTTID(ctx context.Context, externalID string) (*models.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE external_stt_id = $1`, jobColumns)
	return r.scanJob(r.db.Pool().QueryRow(ctx, query, externalID))
}

func (r *Repository) ListJobsByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE owner_id = $1 ORDER BY created_at DESC`, jobColumns)

	rows, err := r.db.Pool().Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		j, err := r.scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// UpdateJobStatus applies a conditional status transition: the row is only
// updated when its current status equals expected. A status mismatch on an
// existing job returns common.ErrConflict so the caller can re-read and
// decide whether the delivery was a duplicate.
func (r *Repository) UpdateJobStatus(ctx context.Context, id uuid.UUID, expected, next models.JobStatus, upd *JobUpdate) error {
	sets := []string{"status = $3", "updated_at = NOW()"}
	args := []any{id, expected, next}

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if upd != nil {
		if upd.ExternalSTTID != nil {
			add("external_stt_id", *upd.ExternalSTTID)
		}
		if upd.OriginalTranscript != nil {
			data, err := json.Marshal(upd.OriginalTranscript)
			if err != nil {
				return fmt.Errorf("failed to marshal original transcript: %w", err)
			}
			add("original_transcript", data)
		}
		if upd.TranslatedTranscript != nil {
			data, err := json.Marshal(upd.TranslatedTranscript)
			if err != nil {
				return fmt.Errorf("failed to marshal translated transcript: %w", err)
			}
			add("translated_transcript", data)
		}
		if upd.Summary != nil {
			data, err := json.Marshal(upd.Summary)
			if err != nil {
				return fmt.Errorf("failed to marshal summary: %w", err)
			}
			add("summary", data)
		}
		if upd.ErrorMessage != nil {
			add("error_message", *upd.ErrorMessage)
		}
		if upd.MinutesConsumed != nil {
			add("minutes_consumed", *upd.MinutesConsumed)
		}
	}

	query := fmt.Sprintf(`UPDATE jobs SET %s WHERE id = $1 AND status = $2`, strings.Join(sets, ", "))

	tag, err := r.db.Pool().Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a concurrent transition from a missing job.
		if _, err := r.GetJob(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("job %s: expected status %s: %w", id, expected, common.ErrConflict)
	}
	return nil
}

// FailStuckJobs marks every non-terminal job whose last update is older than
// its state's cutoff as FAILED. Returns the ids of swept jobs.
func (r *Repository) FailStuckJobs(ctx context.Context, cutoffs map[models.JobStatus]time.Time) ([]uuid.UUID, error) {
	var swept []uuid.UUID

	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		for status, cutoff := range cutoffs {
			if status.Terminal() {
				continue
			}
			msg := fmt.Sprintf("job stuck in %s past deadline", status)
			rows, err := tx.Query(ctx, `
				UPDATE jobs
				SET status = $1, error_message = $2, updated_at = NOW()
				WHERE status = $3 AND updated_at < $4
				RETURNING id
			`, models.StatusFailed, msg, status, cutoff)
			if err != nil {
				return err
			}
			for rows.Next() {
				var id uuid.UUID
				if err := rows.Scan(&id); err != nil {
					rows.Close()
					return err
				}
				swept = append(swept, id)
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return swept, nil
}

func (r *Repository) scanJob(row pgx.Row) (*models.Job, error) {
	var (
		j              models.Job
		externalSTTID  *string
		originalRaw    []byte
		translatedRaw  []byte
		summaryRaw     []byte
		errorMessage   *string
		minutesConsume *int
	)

	err := row.Scan(
		&j.ID,
		&j.OwnerID,
		&j.AudioKey,
		&j.OriginalFilename,
		&j.TargetLanguage,
		&j.Status,
		&externalSTTID,
		&originalRaw,
		&translatedRaw,
		&summaryRaw,
		&errorMessage,
		&minutesConsume,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrJobNotFound
		}
		return nil, err
	}

	if externalSTTID != nil {
		j.ExternalSTTID = *externalSTTID
	}
	if errorMessage != nil {
		j.ErrorMessage = *errorMessage
	}
	if minutesConsume != nil {
		j.MinutesConsumed = *minutesConsume
	}
	if len(originalRaw) > 0 {
		j.OriginalTranscript = &models.Transcript{}
		if err := json.Unmarshal(originalRaw, j.OriginalTranscript); err != nil {
			return nil, fmt.Errorf("failed to unmarshal original transcript: %w", err)
		}
	}
	if len(translatedRaw) > 0 {
		j.TranslatedTranscript = &models.Transcript{}
		if err := json.Unmarshal(translatedRaw, j.TranslatedTranscript); err != nil {
			return nil, fmt.Errorf("failed to unmarshal translated transcript: %w", err)
		}
	}
	if len(summaryRaw) > 0 {
		j.Summary = &models.Summary{}
		if err := json.Unmarshal(summaryRaw, j.Summary); err != nil {
			return nil, fmt.Errorf("failed to unmarshal summary: %w", err)
		}
	}

	return &j, nil
}
