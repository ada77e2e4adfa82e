package job

import (
	"time"

	uuid "github.com/google/uuid"
)

// Type names a pipeline stage a work item belongs to.
type Type string

const (
	// TypeSTTStart kicks off transcription for a freshly created job.
	TypeSTTStart Type = "stt_start"
	// TypeSTTEvent carries a provider webhook callback into the pipeline.
	TypeSTTEvent Type = "stt_event"
	// TypeTranslateSummarize runs the translation + summarization stage.
	TypeTranslateSummarize Type = "translate_summarize"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Job is a queued unit of work. Delivery is at least once: a handler must
// tolerate seeing the same payload twice.
type Job struct {
	ID       uuid.UUID  `json:"id"`
	Type     Type       `json:"type"`
	Payload  []byte     `json:"payload"`
	Status   Status     `json:"status"`
	Error    string     `json:"error,omitempty"`
	Enqueued time.Time  `json:"enqueued_at"`
	Started  *time.Time `json:"started_at,omitempty"`
	Finished *time.Time `json:"finished_at,omitempty"`
}
