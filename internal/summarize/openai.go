package summarize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/squeeko/squeeko/internal/common"
	"github.com/squeeko/squeeko/internal/models"
)

const systemPrompt = "You are a helpful assistant that summarizes meeting transcripts. " +
	"Analyze the transcript, identify the main topic, provide a concise summary, " +
	"extract key discussion points, and list any action items or tasks mentioned. " +
	"Respond with a JSON object with exactly these fields: " +
	`"main_topic" (string), "summary" (string), "key_points" (array of strings), "tasks" (array of strings).`

// Client produces structured summaries of transcripts via OpenAI chat.
type Client struct {
	openAI *openai.Client
	model  string
}

func NewClient(apiKey string) *Client {
	return &Client{
		openAI: openai.NewClient(apiKey),
		model:  openai.GPT4oMini,
	}
}

// Summarize sends the transcript text to the model and parses the
// structured JSON reply.
func (c *Client) Summarize(ctx context.Context, t *models.Transcript) (*models.Summary, error) {
	if t == nil || len(t.Utterances) == 0 {
		return nil, fmt.Errorf("%w: empty transcript", common.ErrValidation)
	}

	resp, err := c.openAI.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: renderTranscript(t),
			},
		},
	})
	if err != nil {
		return nil, mapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", common.ErrMalformedResponse)
	}

	content := resp.Choices[0].Message.Content

	var summary models.Summary
	if err := json.Unmarshal([]byte(content), &summary); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrMalformedResponse, err)
	}
	if summary.Summary == "" {
		return nil, fmt.Errorf("%w: summary field empty", common.ErrMalformedResponse)
	}

	slog.Info("summary generated",
		"model", resp.Model,
		"tokens_used", resp.Usage.TotalTokens,
		"key_points", len(summary.KeyPoints),
		"tasks", len(summary.Tasks))

	return &summary, nil
}

func renderTranscript(t *models.Transcript) string {
	var b strings.Builder
	for _, u := range t.Utterances {
		fmt.Fprintf(&b, "Speaker %s: %s\n", u.Speaker, u.Text)
	}
	return b.String()
}

func mapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			return fmt.Errorf("openai: %w", common.ErrRateLimited)
		case apiErr.HTTPStatusCode >= 500:
			return fmt.Errorf("openai: %w", common.ErrProviderUnavailable)
		default:
			return fmt.Errorf("openai: %v: %w", apiErr.Message, common.ErrProviderRejected)
		}
	}
	return fmt.Errorf("openai request failed: %w", common.ErrProviderUnavailable)
}
