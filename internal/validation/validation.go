package validation

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/squeeko/squeeko/internal/common"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// audio formats the transcription provider accepts
var allowedAudioExtensions = map[string]string{
	".mp3":  "audio/mpeg",
	".mp4":  "audio/mp4",
	".m4a":  "audio/mp4",
	".wav":  "audio/wav",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".webm": "audio/webm",
	".aac":  "audio/aac",
}

// CreateJobRequest is the POST /v1/jobs body.
type CreateJobRequest struct {
	OriginalFilename string `json:"original_filename" validate:"required,max=255"`
	TargetLanguage   string `json:"target_language" validate:"omitempty,len=2,alpha"`
}

// ValidateCreateJob checks the request and returns the content type implied
// by the filename extension.
func ValidateCreateJob(req *CreateJobRequest) (string, error) {
	if err := validate.Struct(req); err != nil {
		var errs validator.ValidationErrors
		if errors.As(err, &errs) && len(errs) > 0 {
			fe := errs[0]
			return "", common.ValidationError{
				Field:   strings.ToLower(fe.Field()),
				Message: fmt.Sprintf("failed on %q constraint", fe.Tag()),
			}
		}
		return "", common.ValidationError{Field: "request", Message: err.Error()}
	}

	ext := strings.ToLower(filepath.Ext(req.OriginalFilename))
	contentType, ok := allowedAudioExtensions[ext]
	if !ok {
		return "", common.ValidationError{
			Field:   "original_filename",
			Message: fmt.Sprintf("unsupported audio extension %q", ext),
		}
	}

	return contentType, nil
}

// IsAudioMIME reports whether a sniffed MIME type is an accepted audio
// format. Video containers are allowed: the provider extracts the track.
func IsAudioMIME(mime string) bool {
	if strings.HasPrefix(mime, "audio/") {
		return true
	}
	switch mime {
	case "video/mp4", "video/webm":
		return true
	}
	return false
}
