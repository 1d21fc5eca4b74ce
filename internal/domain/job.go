package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dunamismax/pixelmix/internal/imaging"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	SourceTypeLocalFile   = "local_file"
	SourceTypeS3Presigned = "s3_presigned"
	SourceTypeRemoteURL   = "remote_url"

	ActionQuality = "quality"
	ActionMix     = "mix"
	ActionProcess = "process"

	MinCompressionLevel     = 0
	MaxCompressionLevel     = 10
	DefaultCompressionLevel = 6
)

type CreateJobRequest struct {
	UserID     string         `json:"user_id,omitempty"`
	SourceType string         `json:"source_type"`
	WebhookURL string         `json:"webhook_url,omitempty"`
	ObjectKey  string         `json:"object_key,omitempty"`
	SourceURL  string         `json:"source_url,omitempty"`
	Referer    string         `json:"referer,omitempty"`
	Pipeline   []PipelineStep `json:"pipeline"`
}

// PipelineStep is one output of a job. quality and mix ignore the flip,
// confusion and compress flags; process honours all of them.
type PipelineStep struct {
	ID               string `json:"id"`
	Action           string `json:"action"`
	CompressionLevel *int   `json:"compression_level,omitempty"`
	Flip             bool   `json:"flip,omitempty"`
	FlipMode         string `json:"flip_mode,omitempty"`
	Confusion        bool   `json:"confusion,omitempty"`
	Compress         bool   `json:"compress,omitempty"`
	HasRegularURL    bool   `json:"has_regular_url,omitempty"`
}

type Job struct {
	ID         string
	UserID     string
	Status     string
	SourceType string
	WebhookURL string
	Pipeline   []PipelineStep
	ObjectKey  string
	SourceURL  string
	Referer    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Level returns the step's compression level clamped to [0,10], or
// fallback when the step leaves it unset.
func (s PipelineStep) Level(fallback int) int {
	level := fallback
	if s.CompressionLevel != nil {
		level = *s.CompressionLevel
	}
	return min(max(level, MinCompressionLevel), MaxCompressionLevel)
}

// Options translates the step into pipeline options.
func (s PipelineStep) Options(defaultLevel int) (imaging.Options, error) {
	level := s.Level(defaultLevel)
	switch strings.ToLower(strings.TrimSpace(s.Action)) {
	case ActionQuality:
		return imaging.QualityOptions(level), nil
	case ActionMix:
		return imaging.MixOptions(level), nil
	case ActionProcess:
		return imaging.Options{
			Flip:             s.Flip,
			FlipMode:         imaging.ParseFlipMode(s.FlipMode),
			Confusion:        s.Confusion,
			Compress:         s.Compress,
			CompressionLevel: level,
			HasRegularURL:    s.HasRegularURL,
		}, nil
	default:
		return imaging.Options{}, fmt.Errorf("unknown action: %q", s.Action)
	}
}

func (r CreateJobRequest) Validate() error {
	sourceType := strings.ToLower(strings.TrimSpace(r.SourceType))
	switch sourceType {
	case "":
		return errors.New("source_type is required")
	case SourceTypeLocalFile:
		if strings.TrimSpace(r.ObjectKey) == "" {
			return errors.New("object_key is required for source_type=local_file")
		}
	case SourceTypeRemoteURL:
		u := strings.TrimSpace(r.SourceURL)
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return errors.New("source_url must be an http(s) URL for source_type=remote_url")
		}
	case SourceTypeS3Presigned:
	default:
		return fmt.Errorf("unsupported source_type: %s", r.SourceType)
	}

	if len(r.Pipeline) == 0 {
		return errors.New("pipeline must contain at least one step")
	}
	seen := make(map[string]struct{}, len(r.Pipeline))
	for i, step := range r.Pipeline {
		if err := step.validate(); err != nil {
			return fmt.Errorf("pipeline[%d].%w", i, err)
		}
		if _, dup := seen[step.ID]; dup {
			return fmt.Errorf("pipeline[%d].id %q is duplicated", i, step.ID)
		}
		seen[step.ID] = struct{}{}
	}
	return nil
}

func (s PipelineStep) validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("id is required")
	}
	switch strings.ToLower(strings.TrimSpace(s.Action)) {
	case "":
		return errors.New("action is required")
	case ActionQuality, ActionMix, ActionProcess:
	default:
		return fmt.Errorf("action %q is not one of quality, mix, process", s.Action)
	}
	if s.CompressionLevel != nil && (*s.CompressionLevel < MinCompressionLevel || *s.CompressionLevel > MaxCompressionLevel) {
		return fmt.Errorf("compression_level must be between %d and %d", MinCompressionLevel, MaxCompressionLevel)
	}
	if _, ok := imaging.LookupFlipMode(s.FlipMode); !ok {
		return fmt.Errorf("flip_mode %q is not one of %s", s.FlipMode, imaging.FlipModeNames)
	}
	return nil
}
