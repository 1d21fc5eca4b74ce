package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/dunamismax/pixelmix/internal/domain"
)

const SourceTypeS3Presigned = domain.SourceTypeS3Presigned

// ObjectStore is the slice of the MinIO client the object stages use.
type ObjectStore interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
}

func NewObjectStoreProcessor(store ObjectStore, outputPrefix string, transformer Transformer) *Processor {
	return NewProcessor(
		ObjectStoreFetcher{Storage: store},
		transformer,
		ObjectStoreEmitter{Storage: store, OutputPrefix: outputPrefix},
	)
}

type ObjectStoreFetcher struct {
	Storage ObjectStore
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if f.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	if !strings.EqualFold(req.SourceType, SourceTypeS3Presigned) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	return f.Storage.ReadObject(ctx, req.ObjectKey)
}

type ObjectStoreEmitter struct {
	Storage      ObjectStore
	OutputPrefix string
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, req Request, step domain.PipelineStep, out Transformed) (Output, error) {
	if e.Storage == nil {
		return Output{}, errors.New("storage client is required")
	}
	if strings.TrimSpace(step.ID) == "" {
		return Output{}, errors.New("pipeline step id is required")
	}

	objectKey := path.Join(
		defaultOutputPrefix(e.OutputPrefix),
		sanitizePathToken(req.JobID),
		outputFilename(step, out),
	)

	if err := e.Storage.WriteObject(ctx, objectKey, out.Data, out.ContentType); err != nil {
		return Output{}, err
	}

	return newOutput(step, out, objectKey), nil
}

func defaultOutputPrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "outputs"
	}
	return prefix
}
