package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/squeeko/squeeko/internal/common"
)

func TestValidateCreateJob_AcceptsKnownAudioFormats(t *testing.T) {
	cases := []struct {
		filename    string
		contentType string
	}{
		{"meeting.mp3", "audio/mpeg"},
		{"interview.M4A", "audio/mp4"},
		{"call.wav", "audio/wav"},
		{"lecture.flac", "audio/flac"},
		{"podcast.ogg", "audio/ogg"},
	}

	for _, tc := range cases {
		req := &CreateJobRequest{OriginalFilename: tc.filename, TargetLanguage: "EN"}
		ct, err := ValidateCreateJob(req)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tc.filename, err)
			continue
		}
		if ct != tc.contentType {
			t.Errorf("%s: expected %s, got %s", tc.filename, tc.contentType, ct)
		}
	}
}

func TestValidateCreateJob_RejectsUnsupportedExtension(t *testing.T) {
	req := &CreateJobRequest{OriginalFilename: "report.pdf"}
	_, err := ValidateCreateJob(req)
	if !errors.Is(err, common.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	var ve common.ValidationError
	if !errors.As(err, &ve) || ve.Field != "original_filename" {
		t.Fatalf("expected original_filename field error, got %v", err)
	}
}

func TestValidateCreateJob_RequiresFilename(t *testing.T) {
	_, err := ValidateCreateJob(&CreateJobRequest{})
	if !errors.Is(err, common.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestValidateCreateJob_RejectsOverlongFilename(t *testing.T) {
	req := &CreateJobRequest{OriginalFilename: strings.Repeat("a", 300) + ".mp3"}
	_, err := ValidateCreateJob(req)
	if !errors.Is(err, common.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestValidateCreateJob_TargetLanguage(t *testing.T) {
	// empty is fine, the server default applies
	if _, err := ValidateCreateJob(&CreateJobRequest{OriginalFilename: "a.mp3"}); err != nil {
		t.Fatalf("empty target language: %v", err)
	}
	if _, err := ValidateCreateJob(&CreateJobRequest{OriginalFilename: "a.mp3", TargetLanguage: "DE"}); err != nil {
		t.Fatalf("two-letter code: %v", err)
	}
	if _, err := ValidateCreateJob(&CreateJobRequest{OriginalFilename: "a.mp3", TargetLanguage: "DEU"}); err == nil {
		t.Fatalf("expected three-letter code to be rejected")
	}
	if _, err := ValidateCreateJob(&CreateJobRequest{OriginalFilename: "a.mp3", TargetLanguage: "E1"}); err == nil {
		t.Fatalf("expected non-alpha code to be rejected")
	}
}

func TestIsAudioMIME(t *testing.T) {
	accepted := []string{"audio/mpeg", "audio/wav", "audio/flac", "video/mp4", "video/webm"}
	for _, m := range accepted {
		if !IsAudioMIME(m) {
			t.Errorf("expected %s to be accepted", m)
		}
	}

	rejected := []string{"application/pdf", "image/png", "text/plain", "video/avi"}
	for _, m := range rejected {
		if IsAudioMIME(m) {
			t.Errorf("expected %s to be rejected", m)
		}
	}
}
