package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dunamismax/pixelmix/internal/config"
	"github.com/dunamismax/pixelmix/internal/domain"
	"github.com/dunamismax/pixelmix/internal/id"
	"github.com/dunamismax/pixelmix/internal/pipeline"
	"github.com/dunamismax/pixelmix/internal/queue"
	"github.com/dunamismax/pixelmix/internal/random"
	"github.com/dunamismax/pixelmix/internal/store"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const maxJSONBodyBytes = 1 << 20

type Server struct {
	logger                *log.Logger
	queueClient           queueEnqueuer
	jobStore              store.JobStore
	storage               objectStorage
	transformer           pipeline.Transformer
	shuffleSource         random.Source
	presignTTL            time.Duration
	maxBodyBytes          int64
	rateLimiter           RateLimiter
	rateLimitUserIDHeader string
	imageCost             int64
	metrics               *metrics
	tracer                trace.Tracer
	mux                   *http.ServeMux
	handler               http.Handler
}

type queueEnqueuer interface {
	EnqueueProcessImage(ctx context.Context, payload queue.ProcessImagePayload) (*asynq.TaskInfo, error)
}

type objectStorage interface {
	PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
}

// Dependencies are the collaborators the API talks to. Storage and
// RateLimiter may be nil. ImageCost is what one synchronous image request
// charges the rate limiter; it defaults to 1.
type Dependencies struct {
	Queue        queueEnqueuer
	JobStore     store.JobStore
	Storage      objectStorage
	RateLimiter  RateLimiter
	UserIDHeader string
	ImageCost    int64
}

func NewServer(logger *log.Logger, deps Dependencies, apiCfg config.APIConfig, imagingCfg config.ImagingConfig) *Server {
	presignTTL := apiCfg.PresignTTL
	if presignTTL <= 0 {
		presignTTL = 15 * time.Minute
	}
	maxBodyBytes := apiCfg.MaxBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = 32 << 20
	}
	storage := deps.Storage
	if storage == nil {
		storage = unavailableObjectStorage{}
	}
	userIDHeader := deps.UserIDHeader
	if strings.TrimSpace(userIDHeader) == "" {
		userIDHeader = "X-User-ID"
	}
	imageCost := deps.ImageCost
	if imageCost <= 0 {
		imageCost = 1
	}
	shuffleSource := random.Default()
	if imagingCfg.Seeded {
		shuffleSource = random.NewSeeded(imagingCfg.Seed)
	}

	s := &Server{
		logger:                logger,
		queueClient:           deps.Queue,
		jobStore:              deps.JobStore,
		storage:               storage,
		transformer:           pipeline.NewTransformer(imagingCfg),
		shuffleSource:         shuffleSource,
		presignTTL:            presignTTL,
		maxBodyBytes:          maxBodyBytes,
		rateLimiter:           deps.RateLimiter,
		rateLimitUserIDHeader: userIDHeader,
		imageCost:             imageCost,
		metrics:               newMetrics(),
		tracer:                otel.Tracer("pixelmix/api"),
		mux:                   http.NewServeMux(),
	}
	s.routes()
	s.handler = s.metrics.withHTTPMetrics(s.withTracing(s.withRateLimit(s.mux)))
	return s
}

type unavailableObjectStorage struct{}

func (unavailableObjectStorage) PresignedPutURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) ObjectExists(_ context.Context, _ string) (bool, error) {
	return false, errors.New("object storage is unavailable")
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	s.mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
	s.mux.HandleFunc("POST /v1/jobs/{id}/start", s.handleStartJob)
	s.mux.HandleFunc("POST /v1/images/{action}", s.handleImage)
	s.mux.HandleFunc("GET /v1/shuffle", s.handleShuffle)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	jobID := id.New()
	sourceType := strings.ToLower(strings.TrimSpace(req.SourceType))
	objectKey := strings.TrimSpace(req.ObjectKey)
	uploadState := "not_required"
	presignedPutURL := ""

	if sourceType == domain.SourceTypeS3Presigned {
		objectKey = fmt.Sprintf("uploads/%s/source", jobID)
		url, err := s.storage.PresignedPutURL(r.Context(), objectKey, s.presignTTL)
		if err != nil {
			s.logger.Printf("generate presigned url failed for job %s: %v", jobID, err)
			writeError(w, http.StatusInternalServerError, "failed to generate upload URL")
			return
		}
		presignedPutURL = url
		uploadState = "ready"
	}

	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = strings.TrimSpace(r.Header.Get(s.rateLimitUserIDHeader))
	}

	job := domain.Job{
		ID:         jobID,
		UserID:     userID,
		Status:     domain.JobStatusCreated,
		SourceType: sourceType,
		WebhookURL: req.WebhookURL,
		Pipeline:   req.Pipeline,
		ObjectKey:  objectKey,
		SourceURL:  strings.TrimSpace(req.SourceURL),
		Referer:    strings.TrimSpace(req.Referer),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.jobStore.Create(r.Context(), job); err != nil {
		s.logger.Printf("create job failed for job %s: %v", job.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": job.ID,
		"status": job.Status,
		"upload": map[string]string{
			"object_key":          job.ObjectKey,
			"presigned_put_url":   presignedPutURL,
			"presigned_url_state": uploadState,
		},
		"start_url": fmt.Sprintf("/v1/jobs/%s/start", job.ID),
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, jobView(job))
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}

	switch job.Status {
	case domain.JobStatusQueued, domain.JobStatusProcessing, domain.JobStatusSucceeded:
		writeError(w, http.StatusConflict, fmt.Sprintf("job is already %s", job.Status))
		return
	}

	if err := s.verifySourceExists(r.Context(), job); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if s.queueClient == nil {
		writeError(w, http.StatusServiceUnavailable, "job queue is unavailable")
		return
	}

	taskInfo, err := s.queueClient.EnqueueProcessImage(r.Context(), queue.PayloadFromJob(job, time.Now().UTC()))
	if err != nil {
		s.logger.Printf("enqueue failed for job %s: %v", job.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	if _, err := s.jobStore.UpdateStatus(r.Context(), job.ID, domain.JobStatusQueued); err != nil {
		s.logger.Printf("update status failed for job %s: %v", job.ID, err)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      job.ID,
		"status":      domain.JobStatusQueued,
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"state":       taskInfo.State.String(),
		"enqueued_at": taskInfo.NextProcessAt,
	})
}

func (s *Server) loadJob(w http.ResponseWriter, r *http.Request) (domain.Job, bool) {
	jobID := r.PathValue("id")
	if !id.Valid(jobID) {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return domain.Job{}, false
	}

	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("fetch job failed for job %s: %v", jobID, err)
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return domain.Job{}, false
	}
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return domain.Job{}, false
	}
	return job, true
}

func (s *Server) verifySourceExists(ctx context.Context, job domain.Job) error {
	switch job.SourceType {
	case domain.SourceTypeRemoteURL:
		// Fetched by the worker.
		return nil
	case domain.SourceTypeLocalFile:
		if _, err := os.Stat(job.ObjectKey); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("source object is missing: %s", job.ObjectKey)
			}
			return fmt.Errorf("source object check failed: %w", err)
		}
		return nil
	default:
		exists, err := s.storage.ObjectExists(ctx, job.ObjectKey)
		if err != nil {
			return fmt.Errorf("source object check failed: %w", err)
		}
		if !exists {
			return fmt.Errorf("source object is missing: %s", job.ObjectKey)
		}
		return nil
	}
}

func jobView(job domain.Job) map[string]any {
	return map[string]any{
		"job_id":      job.ID,
		"user_id":     job.UserID,
		"status":      job.Status,
		"source_type": job.SourceType,
		"object_key":  job.ObjectKey,
		"source_url":  job.SourceURL,
		"pipeline":    job.Pipeline,
		"created_at":  job.CreatedAt,
		"updated_at":  job.UpdatedAt,
	}
}

func decodeJSON(r *http.Request, into any) error {
	limited := io.LimitReader(r.Body, maxJSONBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
