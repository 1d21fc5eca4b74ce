package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/pixelmix/internal/config"
	"github.com/dunamismax/pixelmix/internal/domain"
	"github.com/dunamismax/pixelmix/internal/pipeline"
	"github.com/dunamismax/pixelmix/internal/queue"
	"github.com/dunamismax/pixelmix/internal/store"
	"github.com/dunamismax/pixelmix/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const outputPrefix = "outputs"

type Server struct {
	logger        *log.Logger
	server        *asynq.Server
	sem           chan struct{}
	processors    map[string]*pipeline.Processor
	webhookClient webhookSender
	jobStore      store.JobStore
	usageStore    store.UsageStore
	metrics       *metrics
	tracer        trace.Tracer
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

// NewServer builds the asynq consumer. objectStore may be nil, in which case
// only local_file jobs can run.
func NewServer(
	logger *log.Logger,
	cfg config.Config,
	objectStore pipeline.ObjectStore,
	webhookClient *webhook.Client,
	jobStore store.JobStore,
	usageStore store.UsageStore,
) *Server {
	s := newServer(logger, cfg.Worker, cfg.Imaging, objectStore, jobStore, usageStore)
	if webhookClient != nil {
		s.webhookClient = webhookClient
	}
	s.server = asynq.NewServer(
		cfg.Queue.RedisClientOpt(),
		asynq.Config{
			Concurrency: cfg.Worker.Concurrency,
			Queues: map[string]int{
				cfg.Queue.Name: 1,
			},
			LogLevel: asynq.InfoLevel,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
			}),
		},
	)
	return s
}

func newServer(
	logger *log.Logger,
	workerCfg config.WorkerConfig,
	imagingCfg config.ImagingConfig,
	objectStore pipeline.ObjectStore,
	jobStore store.JobStore,
	usageStore store.UsageStore,
) *Server {
	transformer := pipeline.NewTransformer(imagingCfg)

	processors := map[string]*pipeline.Processor{
		domain.SourceTypeLocalFile: pipeline.NewLocalProcessor(workerCfg.LocalOutputDir, transformer),
	}
	if objectStore != nil {
		processors[domain.SourceTypeS3Presigned] = pipeline.NewObjectStoreProcessor(objectStore, outputPrefix, transformer)
		processors[domain.SourceTypeRemoteURL] = pipeline.NewRemoteProcessor(pipeline.NewHTTPFetcher(0), objectStore, outputPrefix, transformer)
	}

	if usageStore == nil {
		if jobAndUsageStore, ok := jobStore.(store.UsageStore); ok {
			usageStore = jobAndUsageStore
		}
	}

	return &Server{
		logger:     logger,
		sem:        make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		processors: processors,
		jobStore:   jobStore,
		usageStore: usageStore,
		metrics:    newMetrics(),
		tracer:     otel.Tracer("pixelmix/worker"),
	}
}

func (s *Server) Run() error {
	if s.server == nil {
		return errors.New("worker server is not configured")
	}
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeProcessImage, s.handleProcessImage)
	return s.server.Run(mux)
}

func (s *Server) Shutdown() {
	if s.server != nil {
		s.server.Shutdown()
	}
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleProcessImage(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseProcessImagePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.process_image", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_type", payload.SourceType),
		attribute.Int("job.pipeline_steps", len(payload.Pipeline)),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(payload.SourceType, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(payload.SourceType, outcome).Inc()
	}()

	processor, ok := s.processors[strings.ToLower(payload.SourceType)]
	if !ok {
		err := fmt.Errorf("%w: %s", pipeline.ErrUnsupportedSourceType, payload.SourceType)
		s.fail(ctx, span, payload, err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	s.logger.Printf(
		"Working... job_id=%s source_type=%s outputs=%d source=%s",
		payload.JobID,
		payload.SourceType,
		len(payload.Pipeline),
		sourceLabel(payload),
	)

	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	result, err := processor.Process(ctx, pipeline.Request{
		JobID:      payload.JobID,
		SourceType: payload.SourceType,
		ObjectKey:  payload.ObjectKey,
		SourceURL:  payload.SourceURL,
		Referer:    payload.Referer,
		Pipeline:   payload.Pipeline,
	})
	if err != nil {
		s.fail(ctx, span, payload, err)
		return fmt.Errorf("run pipeline: %w", err)
	}

	passthroughs := result.Passthroughs()
	for _, out := range result.Outputs {
		s.metrics.pipelineOutputsTotal.WithLabelValues(out.Action).Inc()
		if !out.Applied {
			s.metrics.passthroughsTotal.WithLabelValues(out.Action).Inc()
			s.logger.Printf("passthrough job_id=%s step=%s %s", payload.JobID, out.StepID, out.Note)
		}
	}
	span.SetAttributes(attribute.Int("job.passthroughs", passthroughs))

	s.logger.Printf("Processed job_id=%s outputs=%d passthroughs=%d", payload.JobID, len(result.Outputs), passthroughs)
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusSucceeded)
	s.recordUsage(ctx, payload, result, time.Since(startedAt))
	outcome = domain.JobStatusSucceeded

	// Outputs and usage are already written, so a failed notification must
	// not send the job back through the queue.
	if err := s.dispatchWebhook(ctx, payload, webhook.EventJobCompleted, map[string]any{
		"job_id":       payload.JobID,
		"status":       domain.JobStatusSucceeded,
		"source_type":  payload.SourceType,
		"requested_at": payload.RequestedAt,
		"completed_at": time.Now().UTC(),
		"passthroughs": passthroughs,
		"outputs":      result.Outputs,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook dispatch failed")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	span.SetStatus(codes.Ok, "processed")
	return nil
}

func (s *Server) fail(ctx context.Context, span trace.Span, payload queue.ProcessImagePayload, err error) {
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusFailed)
	span.RecordError(err)
	span.SetStatus(codes.Error, "pipeline failed")
	_ = s.dispatchWebhook(ctx, payload, webhook.EventJobFailed, map[string]any{
		"job_id":       payload.JobID,
		"status":       domain.JobStatusFailed,
		"source_type":  payload.SourceType,
		"requested_at": payload.RequestedAt,
		"failed_at":    time.Now().UTC(),
		"error":        err.Error(),
	})
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Printf("job status update failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.ProcessImagePayload, event string, body map[string]any) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.logger.Printf("webhook delivery failed job_id=%s event=%s err=%v", payload.JobID, event, err)
		return fmt.Errorf("dispatch webhook: %w", err)
	}

	return nil
}

func (s *Server) recordUsage(ctx context.Context, payload queue.ProcessImagePayload, result pipeline.Result, computeDuration time.Duration) {
	if s.usageStore == nil {
		return
	}

	userID := s.resolveUserID(ctx, payload)

	var (
		pixelsProcessed  int64
		totalOutputBytes int
	)
	for _, output := range result.Outputs {
		pixelsProcessed += int64(output.Width * output.Height)
		totalOutputBytes += output.Bytes
	}

	bytesSaved := max(int64(result.SourceBytes-totalOutputBytes), 0)
	computeTimeMS := max(computeDuration.Milliseconds(), 1)

	usage := domain.UsageLog{
		UserID:          userID,
		JobID:           payload.JobID,
		PixelsProcessed: pixelsProcessed,
		BytesSaved:      bytesSaved,
		ComputeTimeMS:   computeTimeMS,
		Passthroughs:    result.Passthroughs(),
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.usageStore.CreateUsageLog(ctx, usage); err != nil {
		s.logger.Printf("usage log write failed job_id=%s err=%v", payload.JobID, err)
		return
	}

	s.metrics.pixelsProcessedTotal.Add(float64(pixelsProcessed))
	s.metrics.bytesSavedTotal.Add(float64(bytesSaved))
	s.metrics.computeTimeMSTotal.Add(float64(computeTimeMS))
}

func (s *Server) resolveUserID(ctx context.Context, payload queue.ProcessImagePayload) string {
	if id := strings.TrimSpace(payload.UserID); id != "" {
		return id
	}
	if s.jobStore != nil {
		job, ok, err := s.jobStore.Get(ctx, payload.JobID)
		if err != nil {
			s.logger.Printf("usage lookup failed job_id=%s err=%v", payload.JobID, err)
		} else if ok && strings.TrimSpace(job.UserID) != "" {
			return job.UserID
		}
	}
	return "anonymous"
}

func sourceLabel(payload queue.ProcessImagePayload) string {
	if payload.SourceType == domain.SourceTypeRemoteURL {
		return payload.SourceURL
	}
	return payload.ObjectKey
}
