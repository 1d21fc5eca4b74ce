package imaging

import (
	"bytes"
	"image"

	"github.com/dunamismax/pixelmix/internal/random"
)

// Options selects the stages of one pipeline run. The stage order is fixed:
// flip, then mutation, then encode.
type Options struct {
	Flip             bool
	FlipMode         FlipMode
	Confusion        bool
	Compress         bool
	CompressionLevel int
	HasRegularURL    bool
}

// Tier returns the encode tier. A regular URL suppresses the requested level.
func (o Options) Tier() Tier {
	if o.Compress && !o.HasRegularURL {
		return ResolveTier(o.CompressionLevel)
	}
	return TierDefault
}

// QualityOptions re-encodes without touching pixels.
func QualityOptions(level int) Options {
	return Options{Compress: true, CompressionLevel: level}
}

// MixOptions perturbs one pixel before re-encoding.
func MixOptions(level int) Options {
	return Options{Confusion: true, Compress: true, CompressionLevel: level}
}

type Result struct {
	Data    []byte
	Width   int
	Height  int
	Tier    Tier
	Flipped FlipMode
	Mutated bool
	Pixel   image.Point
}

type Pipeline struct {
	source      random.Source
	decodeLimit int64
}

// NewPipeline returns a pipeline drawing from src, or from the process-wide
// generator when src is nil.
func NewPipeline(src random.Source) *Pipeline {
	if src == nil {
		src = random.Default()
	}
	return &Pipeline{source: src, decodeLimit: DefaultMaxDecodeBytes}
}

// WithDecodeLimit caps the decoded raster at n bytes. n <= 0 keeps
// DefaultMaxDecodeBytes.
func (p *Pipeline) WithDecodeLimit(n int64) *Pipeline {
	if n > 0 {
		p.decodeLimit = n
	}
	return p
}

// Run executes decode → flip → mutate → encode and reports failures.
func (p *Pipeline) Run(input []byte, opts Options) (Result, error) {
	img, err := DecodeLimited(input, p.decodeLimit)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Width:  img.Rect.Dx(),
		Height: img.Rect.Dy(),
		Tier:   opts.Tier(),
	}

	if opts.Flip {
		Flip(img, opts.FlipMode)
		res.Flipped = opts.FlipMode
	}
	if opts.Confusion {
		res.Pixel, res.Mutated = MutatePixel(img, p.source)
	}

	res.Data, err = Encode(img, res.Tier)
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// Process is Run with failures swallowed: any decode or encode error yields
// a copy of input.
func (p *Pipeline) Process(input []byte, opts Options) []byte {
	res, err := p.Run(input, opts)
	if err != nil {
		return bytes.Clone(input)
	}
	return res.Data
}

func (p *Pipeline) Quality(input []byte, level int) []byte {
	return p.Process(input, QualityOptions(level))
}

func (p *Pipeline) Mix(input []byte, level int) []byte {
	return p.Process(input, MixOptions(level))
}
