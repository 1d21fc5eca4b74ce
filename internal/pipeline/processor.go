package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/pixelmix/internal/domain"
	"github.com/dunamismax/pixelmix/internal/mime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const SourceTypeLocalFile = domain.SourceTypeLocalFile

var (
	ErrUnsupportedSourceType = errors.New("unsupported source_type")
	ErrInvalidStepAction     = errors.New("invalid pipeline action")
)

type Request struct {
	JobID      string
	SourceType string
	ObjectKey  string
	SourceURL  string
	Referer    string
	Pipeline   []domain.PipelineStep
}

type Output struct {
	StepID      string `json:"step_id"`
	Action      string `json:"action"`
	ContentType string `json:"content_type"`
	Path        string `json:"path"`
	Bytes       int    `json:"bytes"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Applied     bool   `json:"applied"`
	Note        string `json:"note,omitempty"`
	Success     bool   `json:"success"`
}

type Result struct {
	SourceBytes int
	Outputs     []Output
}

// Passthroughs counts outputs that carry the unmodified source.
func (r Result) Passthroughs() int {
	n := 0
	for _, o := range r.Outputs {
		if !o.Applied {
			n++
		}
	}
	return n
}

type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

type Emitter interface {
	Emit(ctx context.Context, req Request, step domain.PipelineStep, out Transformed) (Output, error)
}

type Processor struct {
	fetcher     Fetcher
	transformer Transformer
	emitter     Emitter
	tracer      trace.Tracer
}

func NewProcessor(fetcher Fetcher, transformer Transformer, emitter Emitter) *Processor {
	return &Processor{
		fetcher:     fetcher,
		transformer: transformer,
		emitter:     emitter,
		tracer:      otel.Tracer("pixelmix/pipeline"),
	}
}

func NewLocalProcessor(outputDir string, transformer Transformer) *Processor {
	return NewProcessor(LocalFileFetcher{}, transformer, LocalFileEmitter{OutputDir: outputDir})
}

func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return Result{}, errors.New("job_id is required")
	}
	if len(req.Pipeline) == 0 {
		return Result{}, errors.New("pipeline must contain at least one step")
	}

	sourceBytes, err := p.fetcher.Fetch(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch stage: %w", err)
	}

	out := Result{
		SourceBytes: len(sourceBytes),
		Outputs:     make([]Output, 0, len(req.Pipeline)),
	}
	for _, step := range req.Pipeline {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}

		written, err := p.runStep(ctx, req, step, sourceBytes)
		if err != nil {
			return Result{}, err
		}
		out.Outputs = append(out.Outputs, written)
	}

	return out, nil
}

func (p *Processor) runStep(ctx context.Context, req Request, step domain.PipelineStep, source []byte) (Output, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.step", trace.WithAttributes(
		attribute.String("step.id", step.ID),
		attribute.String("step.action", step.Action),
	))
	defer span.End()

	transformed, err := p.transformer.Transform(ctx, source, step)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transform failed")
		return Output{}, fmt.Errorf("transform stage step=%s action=%s: %w", step.ID, step.Action, err)
	}
	span.SetAttributes(attribute.Bool("step.applied", transformed.Applied))

	written, err := p.emitter.Emit(ctx, req, step, transformed)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "emit failed")
		return Output{}, fmt.Errorf("emit stage step=%s action=%s: %w", step.ID, step.Action, err)
	}
	return written, nil
}

type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if !strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := os.ReadFile(req.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", req.ObjectKey, err)
	}
	return data, nil
}

type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Emit(_ context.Context, req Request, step domain.PipelineStep, out Transformed) (Output, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return Output{}, errors.New("output directory is required")
	}
	if strings.TrimSpace(step.ID) == "" {
		return Output{}, errors.New("pipeline step id is required")
	}

	jobDir := filepath.Join(e.OutputDir, sanitizePathToken(req.JobID))
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return Output{}, fmt.Errorf("create output dir: %w", err)
	}

	fullPath := filepath.Join(jobDir, outputFilename(step, out))
	if err := os.WriteFile(fullPath, out.Data, 0o644); err != nil {
		return Output{}, fmt.Errorf("write output file: %w", err)
	}

	return newOutput(step, out, fullPath), nil
}

func newOutput(step domain.PipelineStep, out Transformed, path string) Output {
	o := Output{
		StepID:      step.ID,
		Action:      step.Action,
		ContentType: out.ContentType,
		Path:        path,
		Bytes:       len(out.Data),
		Width:       out.Width,
		Height:      out.Height,
		Applied:     out.Applied,
		Success:     true,
	}
	if out.Reason != nil {
		o.Note = "passthrough: " + out.Reason.Error()
	}
	return o
}

func outputFilename(step domain.PipelineStep, out Transformed) string {
	return fmt.Sprintf("%s.%s", sanitizePathToken(step.ID), mime.Extension(out.ContentType))
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
