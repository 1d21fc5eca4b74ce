package domain

import (
	"testing"

	"github.com/dunamismax/pixelmix/internal/imaging"
)

func TestCreateJobRequestValidate(t *testing.T) {
	valid := CreateJobRequest{
		SourceType: SourceTypeS3Presigned,
		Pipeline: []PipelineStep{
			{
				ID:     "recompressed",
				Action: ActionQuality,
			},
		},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid request, got error: %v", err)
	}

	invalid := CreateJobRequest{}
	if err := invalid.Validate(); err == nil {
		t.Fatal("expected validation error for empty request")
	}

	missingObjectKey := CreateJobRequest{
		SourceType: SourceTypeLocalFile,
		Pipeline:   []PipelineStep{{ID: "q", Action: ActionQuality}},
	}
	if err := missingObjectKey.Validate(); err == nil {
		t.Fatal("expected validation error for local_file object_key")
	}

	badURL := CreateJobRequest{
		SourceType: SourceTypeRemoteURL,
		SourceURL:  "ftp://example.com/a.png",
		Pipeline:   []PipelineStep{{ID: "q", Action: ActionQuality}},
	}
	if err := badURL.Validate(); err == nil {
		t.Fatal("expected validation error for non-http source_url")
	}

	unsupportedSourceType := CreateJobRequest{
		SourceType: "carrier_pigeon",
		Pipeline:   []PipelineStep{{ID: "q", Action: ActionQuality}},
	}
	if err := unsupportedSourceType.Validate(); err == nil {
		t.Fatal("expected validation error for unsupported source_type")
	}
}

func TestCreateJobRequestValidateSteps(t *testing.T) {
	level := 11
	cases := map[string]PipelineStep{
		"missing id":     {Action: ActionMix},
		"missing action": {ID: "a"},
		"unknown action": {ID: "a", Action: "resize"},
		"level range":    {ID: "a", Action: ActionQuality, CompressionLevel: &level},
		"flip mode":      {ID: "a", Action: ActionProcess, Flip: true, FlipMode: "diagonal"},
	}
	for name, step := range cases {
		req := CreateJobRequest{SourceType: SourceTypeS3Presigned, Pipeline: []PipelineStep{step}}
		if err := req.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}

	for _, mode := range []string{"", "none", "0", "Horizontal", "1", "vertical", "2", "both", " 3 "} {
		req := CreateJobRequest{
			SourceType: SourceTypeS3Presigned,
			ObjectKey:  "uploads/x/source",
			Pipeline:   []PipelineStep{{ID: "a", Action: ActionProcess, Flip: true, FlipMode: mode}},
		}
		if err := req.Validate(); err != nil {
			t.Fatalf("flip_mode %q: unexpected validation error: %v", mode, err)
		}
	}

	dup := CreateJobRequest{
		SourceType: SourceTypeS3Presigned,
		Pipeline: []PipelineStep{
			{ID: "a", Action: ActionMix},
			{ID: "a", Action: ActionQuality},
		},
	}
	if err := dup.Validate(); err == nil {
		t.Fatal("expected validation error for duplicate step ids")
	}
}

func TestPipelineStepOptions(t *testing.T) {
	level := 9
	quality, err := PipelineStep{Action: ActionQuality, Flip: true, Confusion: true, CompressionLevel: &level}.Options(DefaultCompressionLevel)
	if err != nil {
		t.Fatalf("quality options: %v", err)
	}
	if quality != imaging.QualityOptions(9) {
		t.Fatalf("quality step must ignore process flags, got %+v", quality)
	}

	mix, err := PipelineStep{Action: "MIX"}.Options(DefaultCompressionLevel)
	if err != nil {
		t.Fatalf("mix options: %v", err)
	}
	if mix != imaging.MixOptions(DefaultCompressionLevel) {
		t.Fatalf("unexpected mix options %+v", mix)
	}

	process, err := PipelineStep{
		Action:        ActionProcess,
		Flip:          true,
		FlipMode:      "both",
		Compress:      true,
		HasRegularURL: true,
	}.Options(2)
	if err != nil {
		t.Fatalf("process options: %v", err)
	}
	want := imaging.Options{Flip: true, FlipMode: imaging.FlipBoth, Compress: true, CompressionLevel: 2, HasRegularURL: true}
	if process != want {
		t.Fatalf("expected %+v, got %+v", want, process)
	}
	if process.Tier() != imaging.TierDefault {
		t.Fatalf("regular url must force default tier, got %s", process.Tier())
	}

	numbered, err := PipelineStep{Action: ActionProcess, Flip: true, FlipMode: "2"}.Options(6)
	if err != nil {
		t.Fatalf("numbered flip options: %v", err)
	}
	if numbered.FlipMode != imaging.FlipVertical {
		t.Fatalf("expected flip_mode 2 to be vertical, got %s", numbered.FlipMode)
	}

	if _, err := (PipelineStep{Action: "resize"}).Options(6); err == nil {
		t.Fatal("expected error for unknown action")
	}
}

func TestPipelineStepLevelClamps(t *testing.T) {
	high, low := 42, -3
	if got := (PipelineStep{CompressionLevel: &high}).Level(6); got != MaxCompressionLevel {
		t.Fatalf("expected %d, got %d", MaxCompressionLevel, got)
	}
	if got := (PipelineStep{CompressionLevel: &low}).Level(6); got != MinCompressionLevel {
		t.Fatalf("expected %d, got %d", MinCompressionLevel, got)
	}
	if got := (PipelineStep{}).Level(6); got != 6 {
		t.Fatalf("expected default 6, got %d", got)
	}
}
