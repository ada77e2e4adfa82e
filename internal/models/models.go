package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
	Roles        []Role    `json:"roles,omitempty"`
}

type Role struct {
	ID          int       `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description,omitempty" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

type RefreshToken struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	UserID    uuid.UUID  `json:"user_id" db:"user_id"`
	TokenHash string     `json:"-" db:"token_hash"`
	ExpiresAt time.Time  `json:"expires_at" db:"expires_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
}

// JobStatus tracks how far a transcription job has progressed through the
// pipeline. Transitions only move forward; FAILED is absorbing.
type JobStatus string

const (
	StatusQueued                JobStatus = "QUEUED"
	StatusProcessingSTT         JobStatus = "PROCESSING_STT"
	StatusProcessingTranslation JobStatus = "PROCESSING_TRANSLATION"
	StatusProcessingSummary     JobStatus = "PROCESSING_SUMMARY"
	StatusCompleted             JobStatus = "COMPLETED"
	StatusFailed                JobStatus = "FAILED"
)

var statusRank = map[JobStatus]int{
	StatusQueued:                0,
	StatusProcessingSTT:         1,
	StatusProcessingTranslation: 2,
	StatusProcessingSummary:     3,
	StatusCompleted:             4,
	StatusFailed:                5,
}

// Rank returns the pipeline position of a status. Unknown statuses rank -1.
func (s JobStatus) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is the central pipeline entity. One job owns exactly one uploaded
// audio object; status always reflects the furthest completed stage.
type Job struct {
	ID                   uuid.UUID   `json:"id"`
	OwnerID              uuid.UUID   `json:"owner_id"`
	AudioKey             string      `json:"audio_key"`
	OriginalFilename     string      `json:"original_filename,omitempty"`
	TargetLanguage       string      `json:"target_language"`
	Status               JobStatus   `json:"status"`
	ExternalSTTID        string      `json:"external_stt_id,omitempty"`
	OriginalTranscript   *Transcript `json:"original_transcript,omitempty"`
	TranslatedTranscript *Transcript `json:"translated_transcript,omitempty"`
	Summary              *Summary    `json:"summary,omitempty"`
	ErrorMessage         string      `json:"error_message,omitempty"`
	MinutesConsumed      int         `json:"minutes_consumed"`
	CreatedAt            time.Time   `json:"created_at"`
	UpdatedAt            time.Time   `json:"updated_at"`
}

// Utterance is one diarized segment of a transcript.
type Utterance struct {
	Speaker string `json:"speaker"`
	StartMs int    `json:"start_ms"`
	EndMs   int    `json:"end_ms"`
	Text    string `json:"text"`
}

// Transcript is an ordered sequence of utterances, stored as jsonb.
type Transcript struct {
	LanguageCode     string      `json:"language_code,omitempty"`
	AudioDurationSec int         `json:"audio_duration_sec,omitempty"`
	Utterances       []Utterance `json:"utterances"`
}

// Summary is the structured output of the summarization stage.
type Summary struct {
	MainTopic string   `json:"main_topic"`
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"key_points"`
	Tasks     []string `json:"tasks"`
}
