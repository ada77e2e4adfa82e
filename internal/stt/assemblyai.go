package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/squeeko/squeeko/internal/common"
	"github.com/squeeko/squeeko/internal/models"
)

// Client talks to an AssemblyAI-style transcription API. Transcription is
// asynchronous: StartTranscription registers the audio URL and a webhook,
// the provider calls back later, and FetchTranscript pulls the result.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type startRequest struct {
	AudioURL          string `json:"audio_url"`
	SpeakerLabels     bool   `json:"speaker_labels"`
	WebhookURL        string `json:"webhook_url"`
	LanguageDetection bool   `json:"language_detection"`
}

type transcriptResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	LanguageCode  string `json:"language_code"`
	AudioDuration int    `json:"audio_duration"`
	Error         string `json:"error"`
	Utterances    []struct {
		Speaker string `json:"speaker"`
		Start   int    `json:"start"`
		End     int    `json:"end"`
		Text    string `json:"text"`
	} `json:"utterances"`
}

// StartTranscription submits the audio for transcription and returns the
// provider-assigned transcript id.
func (c *Client) StartTranscription(ctx context.Context, audioURL, webhookURL string) (string, error) {
	if audioURL == "" {
		return "", fmt.Errorf("%w: empty audio URL", common.ErrValidation)
	}

	body, err := json.Marshal(startRequest{
		AudioURL:          audioURL,
		SpeakerLabels:     true,
		WebhookURL:        webhookURL,
		LanguageDetection: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal transcription request: %w", err)
	}

	var resp transcriptResponse
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/transcript", bytes.NewReader(body), &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("%w: transcript response missing id", common.ErrMalformedResponse)
	}

	slog.Info("transcription started", "external_id", resp.ID, "status", resp.Status)
	return resp.ID, nil
}

// FetchTranscript retrieves the finished transcript for an external id.
func (c *Client) FetchTranscript(ctx context.Context, externalID string) (*models.Transcript, error) {
	var resp transcriptResponse
	url := fmt.Sprintf("%s/transcript/%s", c.baseURL, externalID)
	if err := c.do(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return nil, err
	}

	if resp.Status != "completed" {
		return nil, fmt.Errorf("%w: transcript %s in status %q", common.ErrProviderUnavailable, externalID, resp.Status)
	}

	t := &models.Transcript{
		LanguageCode:     resp.LanguageCode,
		AudioDurationSec: resp.AudioDuration,
		Utterances:       make([]models.Utterance, 0, len(resp.Utterances)),
	}
	for _, u := range resp.Utterances {
		t.Utterances = append(t.Utterances, models.Utterance{
			Speaker: u.Speaker,
			StartMs: u.Start,
			EndMs:   u.End,
			Text:    u.Text,
		})
	}

	slog.Info("transcript fetched",
		"external_id", externalID,
		"utterances", len(t.Utterances),
		"audio_duration_sec", t.AudioDurationSec)

	return t, nil
}

func (c *Client) do(ctx context.Context, method, url string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("transcription provider request failed: %w", common.ErrProviderUnavailable)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("transcript %w", common.ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests:
		return common.ErrRateLimited
	case resp.StatusCode >= 500:
		return fmt.Errorf("provider returned %d: %w", resp.StatusCode, common.ErrProviderUnavailable)
	default:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: status %d: %s", common.ErrProviderRejected, resp.StatusCode, detail)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", common.ErrMalformedResponse, err)
	}
	return nil
}
