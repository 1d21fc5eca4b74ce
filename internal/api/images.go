package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dunamismax/pixelmix/internal/domain"
	"github.com/dunamismax/pixelmix/internal/imaging"
	"github.com/dunamismax/pixelmix/internal/pipeline"
	"github.com/dunamismax/pixelmix/internal/random"
)

const (
	HeaderApplied           = "X-Pixelmix-Applied"
	HeaderPassthroughReason = "X-Pixelmix-Passthrough-Reason"

	maxShuffleN = 100_000
)

// handleImage runs one pipeline step synchronously: the request body is the
// image, the response body is the result.
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	step, err := stepFromQuery(r.PathValue("action"), r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, s.maxBodyBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if int64(len(body)) > s.maxBodyBytes {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("body exceeds %d bytes", s.maxBodyBytes))
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "request body is empty")
		return
	}

	out, err := s.transformer.Transform(r.Context(), body, step)
	if err != nil {
		if errors.Is(err, pipeline.ErrInvalidStepAction) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Printf("image %s failed: %v", step.Action, err)
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.metrics.imagesTotal.WithLabelValues(step.Action, strconv.FormatBool(out.Applied)).Inc()

	w.Header().Set("Content-Type", out.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(out.Data)))
	w.Header().Set(HeaderApplied, strconv.FormatBool(out.Applied))
	if out.Reason != nil {
		w.Header().Set(HeaderPassthroughReason, out.Reason.Error())
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out.Data)
}

func stepFromQuery(action string, q url.Values) (domain.PipelineStep, error) {
	step := domain.PipelineStep{
		ID:     "sync",
		Action: strings.ToLower(strings.TrimSpace(action)),
	}

	if raw := q.Get("level"); raw != "" {
		level, err := strconv.Atoi(raw)
		if err != nil || level < domain.MinCompressionLevel || level > domain.MaxCompressionLevel {
			return domain.PipelineStep{}, fmt.Errorf("level must be an integer between %d and %d", domain.MinCompressionLevel, domain.MaxCompressionLevel)
		}
		step.CompressionLevel = &level
	}

	flags := []struct {
		name string
		into *bool
	}{
		{"flip", &step.Flip},
		{"confusion", &step.Confusion},
		{"compress", &step.Compress},
		{"has_regular_url", &step.HasRegularURL},
	}
	for _, f := range flags {
		raw := q.Get(f.name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return domain.PipelineStep{}, fmt.Errorf("%s must be a boolean", f.name)
		}
		*f.into = v
	}

	step.FlipMode = strings.ToLower(strings.TrimSpace(q.Get("flip_mode")))
	if _, ok := imaging.LookupFlipMode(step.FlipMode); !ok {
		return domain.PipelineStep{}, fmt.Errorf("flip_mode %q is not one of %s", step.FlipMode, imaging.FlipModeNames)
	}
	return step, nil
}

func (s *Server) handleShuffle(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.URL.Query().Get("n"))
	if err != nil || n < 0 || n > maxShuffleN {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("n must be an integer between 0 and %d", maxShuffleN))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"n":           n,
		"permutation": random.Shuffle(s.shuffleSource, n),
	})
}
