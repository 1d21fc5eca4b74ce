package queue

import (
	"testing"
	"time"

	"github.com/dunamismax/pixelmix/internal/domain"
	"github.com/hibiken/asynq"
)

func TestProcessImageTaskRoundTrip(t *testing.T) {
	level := 8
	payload := ProcessImagePayload{
		JobID:      "job-123",
		UserID:     "user-7",
		SourceType: domain.SourceTypeRemoteURL,
		SourceURL:  "https://i.example.com/a.jpg",
		Referer:    "https://example.com/",
		Pipeline: []domain.PipelineStep{
			{
				ID:               "mixed",
				Action:           domain.ActionMix,
				CompressionLevel: &level,
			},
		},
		RequestedAt: time.Now().UTC(),
	}

	task, err := NewProcessImageTask(payload)
	if err != nil {
		t.Fatalf("NewProcessImageTask returned error: %v", err)
	}
	if task.Type() != TypeProcessImage {
		t.Fatalf("expected task type %q, got %q", TypeProcessImage, task.Type())
	}

	parsed, err := ParseProcessImagePayload(task)
	if err != nil {
		t.Fatalf("ParseProcessImagePayload returned error: %v", err)
	}

	if parsed.JobID != payload.JobID || parsed.UserID != payload.UserID {
		t.Fatalf("expected job %q user %q, got %q %q", payload.JobID, payload.UserID, parsed.JobID, parsed.UserID)
	}
	if parsed.SourceURL != payload.SourceURL || parsed.Referer != payload.Referer {
		t.Fatalf("remote source fields lost: %+v", parsed)
	}
	if len(parsed.Pipeline) != 1 || parsed.Pipeline[0].Level(0) != 8 {
		t.Fatalf("expected one mix step at level 8, got %+v", parsed.Pipeline)
	}
}

func TestParseProcessImagePayloadRejectsGarbage(t *testing.T) {
	if _, err := ParseProcessImagePayload(asynq.NewTask(TypeProcessImage, []byte("{"))); err == nil {
		t.Fatal("expected unmarshal error")
	}
}

func TestPayloadFromJob(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	job := domain.Job{
		ID:         "job-9",
		UserID:     "user-1",
		SourceType: domain.SourceTypeS3Presigned,
		WebhookURL: "https://hooks.example.com/done",
		ObjectKey:  "uploads/job-9/source",
		Pipeline:   []domain.PipelineStep{{ID: "q", Action: domain.ActionQuality}},
	}

	payload := PayloadFromJob(job, now)
	if payload.JobID != job.ID || payload.ObjectKey != job.ObjectKey || payload.WebhookURL != job.WebhookURL {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if !payload.RequestedAt.Equal(now) {
		t.Fatalf("expected requested_at %v, got %v", now, payload.RequestedAt)
	}
}
