package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dunamismax/pixelmix/internal/config"
	"github.com/dunamismax/pixelmix/internal/domain"
	"github.com/dunamismax/pixelmix/internal/imaging"
)

func TestLocalProcessor_FileInTransformFileOut(t *testing.T) {
	tmp := t.TempDir()
	inputPath := filepath.Join(tmp, "input.png")
	outputDir := filepath.Join(tmp, "out")

	srcBytes := buildTestPNG(t, 240, 120)
	if err := os.WriteFile(inputPath, srcBytes, 0o644); err != nil {
		t.Fatalf("write input image: %v", err)
	}

	processor := NewLocalProcessor(outputDir, NewTransformer(config.ImagingConfig{MaxInputBytes: 32 << 20}))

	level := 9
	req := Request{
		JobID:      "job-local-1",
		SourceType: SourceTypeLocalFile,
		ObjectKey:  inputPath,
		Pipeline: []domain.PipelineStep{
			{ID: "recompressed", Action: domain.ActionQuality, CompressionLevel: &level},
			{ID: "mixed", Action: domain.ActionMix},
			{ID: "flipped", Action: domain.ActionProcess, Flip: true, FlipMode: "horizontal"},
		},
	}

	result, err := processor.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("process request: %v", err)
	}

	if len(result.Outputs) != 3 {
		t.Fatalf("expected 3 outputs, got %d", len(result.Outputs))
	}
	if result.SourceBytes != len(srcBytes) {
		t.Fatalf("expected source bytes %d, got %d", len(srcBytes), result.SourceBytes)
	}
	if result.Passthroughs() != 0 {
		t.Fatalf("expected no passthroughs, got %d", result.Passthroughs())
	}

	src := decodeFile(t, inputPath)
	for _, out := range result.Outputs {
		if out.ContentType != "image/png" || !strings.HasSuffix(out.Path, ".png") {
			t.Fatalf("expected png output, got %s at %s", out.ContentType, out.Path)
		}
		if out.Width != 240 || out.Height != 120 {
			t.Fatalf("expected 240x120, got %dx%d", out.Width, out.Height)
		}
	}

	if diff := countDiff(src, decodeFile(t, result.Outputs[0].Path)); diff != 0 {
		t.Fatalf("quality output must be pixel identical, %d pixels differ", diff)
	}
	if diff := countDiff(src, decodeFile(t, result.Outputs[1].Path)); diff != 1 {
		t.Fatalf("mix output must differ in exactly one pixel, got %d", diff)
	}

	flipped := decodeFile(t, result.Outputs[2].Path)
	if flipped.NRGBAAt(0, 5) != src.NRGBAAt(239, 5) {
		t.Fatalf("expected horizontal mirror, got %v want %v", flipped.NRGBAAt(0, 5), src.NRGBAAt(239, 5))
	}
}

func TestLocalProcessor_PassesThroughUndecodableSource(t *testing.T) {
	tmp := t.TempDir()
	inputPath := filepath.Join(tmp, "input.bin")
	garbage := []byte("this is not an image at all")
	if err := os.WriteFile(inputPath, garbage, 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	processor := NewLocalProcessor(filepath.Join(tmp, "out"), NewTransformer(config.ImagingConfig{}))
	result, err := processor.Process(context.Background(), Request{
		JobID:      "job-garbage",
		SourceType: SourceTypeLocalFile,
		ObjectKey:  inputPath,
		Pipeline:   []domain.PipelineStep{{ID: "q", Action: domain.ActionQuality}},
	})
	if err != nil {
		t.Fatalf("process request: %v", err)
	}

	out := result.Outputs[0]
	if out.Applied {
		t.Fatal("expected passthrough output")
	}
	if !strings.Contains(out.Note, "decode image") {
		t.Fatalf("expected decode note, got %q", out.Note)
	}
	written, err := os.ReadFile(out.Path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !bytes.Equal(written, garbage) {
		t.Fatal("expected passthrough output to equal the source bytes")
	}
	if result.Passthroughs() != 1 {
		t.Fatalf("expected one passthrough, got %d", result.Passthroughs())
	}
}

func TestTransformer_StrictModeFails(t *testing.T) {
	transformer := NewTransformer(config.ImagingConfig{Strict: true})

	_, err := transformer.Transform(context.Background(), []byte("garbage"), domain.PipelineStep{ID: "q", Action: domain.ActionQuality})
	if !errors.Is(err, imaging.ErrDecode) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestTransformer_SkipsOversizedInput(t *testing.T) {
	src := buildTestPNG(t, 64, 64)
	transformer := NewTransformer(config.ImagingConfig{MaxInputBytes: int64(len(src))})

	out, err := transformer.Transform(context.Background(), src, domain.PipelineStep{ID: "m", Action: domain.ActionMix})
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if out.Applied || !errors.Is(out.Reason, ErrInputTooLarge) {
		t.Fatalf("expected oversized passthrough, got applied=%v reason=%v", out.Applied, out.Reason)
	}
	if !bytes.Equal(out.Data, src) {
		t.Fatal("expected original bytes")
	}
	if out.ContentType != "image/png" {
		t.Fatalf("expected sniffed png content type, got %s", out.ContentType)
	}
}

func TestTransformer_RejectsUnknownAction(t *testing.T) {
	transformer := NewTransformer(config.ImagingConfig{})

	_, err := transformer.Transform(context.Background(), buildTestPNG(t, 4, 4), domain.PipelineStep{ID: "x", Action: "resize"})
	if !errors.Is(err, ErrInvalidStepAction) {
		t.Fatalf("expected invalid action error, got %v", err)
	}
}

func TestTransformer_SeedMakesMixReproducible(t *testing.T) {
	src := buildTestPNG(t, 50, 50)
	step := domain.PipelineStep{ID: "m", Action: domain.ActionMix}

	for _, seed := range []uint64{0, 17} {
		cfg := config.ImagingConfig{Seed: seed, Seeded: true}
		a, err := NewTransformer(cfg).Transform(context.Background(), src, step)
		if err != nil {
			t.Fatalf("transform a: %v", err)
		}
		b, err := NewTransformer(cfg).Transform(context.Background(), src, step)
		if err != nil {
			t.Fatalf("transform b: %v", err)
		}
		if !bytes.Equal(a.Data, b.Data) {
			t.Fatalf("expected identical output for seed %d", seed)
		}
	}
}

func TestTransformer_PassesThroughOversizedRaster(t *testing.T) {
	src := buildTestPNG(t, 64, 64)
	// 64*64*4 = 16384 bytes of raster.
	transformer := NewTransformer(config.ImagingConfig{MaxDecodeBytes: 16383})

	out, err := transformer.Transform(context.Background(), src, domain.PipelineStep{ID: "q", Action: domain.ActionQuality})
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if out.Applied || !errors.Is(out.Reason, imaging.ErrDecode) {
		t.Fatalf("expected decode-limit passthrough, got applied=%v reason=%v", out.Applied, out.Reason)
	}
	if !bytes.Equal(out.Data, src) {
		t.Fatal("expected original bytes")
	}

	out, err = NewTransformer(config.ImagingConfig{MaxDecodeBytes: 16384}).Transform(context.Background(), src, domain.PipelineStep{ID: "q", Action: domain.ActionQuality})
	if err != nil || !out.Applied {
		t.Fatalf("expected raster at the limit to be processed, applied=%v err=%v", out.Applied, err)
	}
}

func TestLocalProcessor_UnsupportedSourceType(t *testing.T) {
	processor := NewLocalProcessor(t.TempDir(), NewTransformer(config.ImagingConfig{}))

	_, err := processor.Process(context.Background(), Request{
		JobID:      "job-unsupported",
		SourceType: SourceTypeS3Presigned,
		ObjectKey:  "uploads/job/source",
		Pipeline:   []domain.PipelineStep{{ID: "q", Action: domain.ActionQuality}},
	})
	if !errors.Is(err, ErrUnsupportedSourceType) {
		t.Fatalf("expected unsupported source_type error, got %v", err)
	}
}

func TestObjectStoreProcessor_WritesWithContentType(t *testing.T) {
	store := &memoryObjectStore{objects: map[string][]byte{
		"uploads/job-s3/source": buildTestPNG(t, 16, 16),
	}}
	processor := NewObjectStoreProcessor(store, "", NewTransformer(config.ImagingConfig{}))

	result, err := processor.Process(context.Background(), Request{
		JobID:      "job-s3",
		SourceType: SourceTypeS3Presigned,
		ObjectKey:  "uploads/job-s3/source",
		Pipeline:   []domain.PipelineStep{{ID: "mixed", Action: domain.ActionMix}},
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if got := result.Outputs[0].Path; got != "outputs/job-s3/mixed.png" {
		t.Fatalf("unexpected object key %s", got)
	}
	if store.contentTypes["outputs/job-s3/mixed.png"] != "image/png" {
		t.Fatalf("expected image/png content type, got %q", store.contentTypes["outputs/job-s3/mixed.png"])
	}
}

func TestHTTPFetcher_SendsBrowserHeaders(t *testing.T) {
	src := buildTestPNG(t, 8, 8)
	var gotUA, gotReferer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotReferer = r.Header.Get("Referer")
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(src)
	}))
	defer srv.Close()

	fetcher := NewHTTPFetcher(0)
	data, err := fetcher.Fetch(context.Background(), Request{
		SourceType: SourceTypeRemoteURL,
		SourceURL:  srv.URL + "/img.png",
		Referer:    "https://www.pixiv.net/",
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !bytes.Equal(data, src) {
		t.Fatal("expected fetched bytes to match")
	}
	if gotUA != DefaultUserAgent {
		t.Fatalf("expected browser user agent, got %q", gotUA)
	}
	if gotReferer != "https://www.pixiv.net/" {
		t.Fatalf("expected referer, got %q", gotReferer)
	}
}

func TestHTTPFetcher_Limits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(bytes.Repeat([]byte{1}, 100))
	}))
	defer srv.Close()

	fetcher := NewHTTPFetcher(0)
	fetcher.MaxBytes = 50

	if _, err := fetcher.Fetch(context.Background(), Request{SourceType: SourceTypeRemoteURL, SourceURL: srv.URL + "/big"}); !errors.Is(err, ErrFetchTooLarge) {
		t.Fatalf("expected fetch limit error, got %v", err)
	}
	if _, err := fetcher.Fetch(context.Background(), Request{SourceType: SourceTypeRemoteURL, SourceURL: srv.URL + "/missing"}); err == nil {
		t.Fatal("expected error for 404")
	}
	if _, err := fetcher.Fetch(context.Background(), Request{SourceType: SourceTypeLocalFile}); !errors.Is(err, ErrUnsupportedSourceType) {
		t.Fatalf("expected unsupported source type, got %v", err)
	}
}

type memoryObjectStore struct {
	objects      map[string][]byte
	contentTypes map[string]string
}

func (s *memoryObjectStore) ReadObject(_ context.Context, key string) ([]byte, error) {
	data, ok := s.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return data, nil
}

func (s *memoryObjectStore) WriteObject(_ context.Context, key string, data []byte, contentType string) error {
	if s.contentTypes == nil {
		s.contentTypes = make(map[string]string)
	}
	s.objects[key] = data
	s.contentTypes[key] = contentType
	return nil
}

func buildTestPNG(t testing.TB, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}

func decodeFile(t *testing.T, path string) *image.NRGBA {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read image %s: %v", path, err)
	}
	img, err := imaging.Decode(data)
	if err != nil {
		t.Fatalf("decode image %s: %v", path, err)
	}
	return img
}

func countDiff(a, b *image.NRGBA) int {
	n := 0
	for i := 0; i < len(a.Pix); i += 4 {
		if !bytes.Equal(a.Pix[i:i+4], b.Pix[i:i+4]) {
			n++
		}
	}
	return n
}
