package workers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/squeeko/squeeko/internal/job"
	"github.com/squeeko/squeeko/internal/pipeline"
)

// PipelineHandler routes dequeued work items to the pipeline stage handlers.
type PipelineHandler struct {
	pipeline *pipeline.Pipeline
}

func NewPipelineHandler(p *pipeline.Pipeline) *PipelineHandler {
	return &PipelineHandler{pipeline: p}
}

func (h *PipelineHandler) Handle(ctx context.Context, j *job.Job) error {
	switch j.Type {
	case job.TypeSTTStart:
		var payload pipeline.STTStartPayload
		if err := json.Unmarshal(j.Payload, &payload); err != nil {
			return fmt.Errorf("failed to unmarshal stt start payload: %w", err)
		}
		return h.pipeline.StartSTT(ctx, payload)

	case job.TypeSTTEvent:
		var payload pipeline.STTEventPayload
		if err := json.Unmarshal(j.Payload, &payload); err != nil {
			return fmt.Errorf("failed to unmarshal stt event payload: %w", err)
		}
		return h.pipeline.HandleTranscriptionEvent(ctx, payload)

	case job.TypeTranslateSummarize:
		var payload pipeline.TranslateSummarizePayload
		if err := json.Unmarshal(j.Payload, &payload); err != nil {
			return fmt.Errorf("failed to unmarshal translate payload: %w", err)
		}
		return h.pipeline.TranslateAndSummarize(ctx, payload)

	default:
		return fmt.Errorf("unknown work item type: %s", j.Type)
	}
}
