package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/dunamismax/pixelmix/internal/config"
	"github.com/dunamismax/pixelmix/internal/domain"
	"github.com/dunamismax/pixelmix/internal/imaging"
	"github.com/dunamismax/pixelmix/internal/mime"
	"github.com/dunamismax/pixelmix/internal/random"
)

var ErrInputTooLarge = errors.New("input exceeds processing limit")

// Transformed is the outcome of one step. Applied is false when the source
// bytes were passed through; Reason then says why.
type Transformed struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
	Applied     bool
	Reason      error
}

type Transformer interface {
	Transform(ctx context.Context, input []byte, step domain.PipelineStep) (Transformed, error)
}

type ImageTransformer struct {
	pipeline      *imaging.Pipeline
	strict        bool
	maxInputBytes int64
	defaultLevel  int
}

func NewTransformer(cfg config.ImagingConfig) *ImageTransformer {
	var src random.Source
	if cfg.Seeded {
		src = random.NewSeeded(cfg.Seed)
	}

	level := cfg.DefaultCompressionLevel
	if level < domain.MinCompressionLevel || level > domain.MaxCompressionLevel {
		level = domain.DefaultCompressionLevel
	}

	return &ImageTransformer{
		pipeline:      imaging.NewPipeline(src).WithDecodeLimit(cfg.MaxDecodeBytes),
		strict:        cfg.Strict,
		maxInputBytes: cfg.MaxInputBytes,
		defaultLevel:  level,
	}
}

func (t *ImageTransformer) Transform(ctx context.Context, input []byte, step domain.PipelineStep) (Transformed, error) {
	select {
	case <-ctx.Done():
		return Transformed{}, ctx.Err()
	default:
	}

	opts, err := step.Options(t.defaultLevel)
	if err != nil {
		return Transformed{}, fmt.Errorf("%w: %w", ErrInvalidStepAction, err)
	}

	if t.maxInputBytes > 0 && int64(len(input)) >= t.maxInputBytes {
		return t.passthrough(input, fmt.Errorf("%w: %d bytes", ErrInputTooLarge, len(input)))
	}

	res, err := t.pipeline.Run(input, opts)
	if err != nil {
		return t.passthrough(input, err)
	}

	return Transformed{
		Data:        res.Data,
		ContentType: "image/png",
		Width:       res.Width,
		Height:      res.Height,
		Applied:     true,
	}, nil
}

func (t *ImageTransformer) passthrough(input []byte, reason error) (Transformed, error) {
	if t.strict {
		return Transformed{}, reason
	}
	return Transformed{
		Data:        input,
		ContentType: mime.Detect(input),
		Reason:      reason,
	}, nil
}
