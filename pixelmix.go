// Package pixelmix re-encodes images as PNG, optionally flipping them and
// nudging a single pixel so the output no longer matches the input byte for
// byte while staying visually identical.
//
// The package-level functions never fail: when the input cannot be decoded
// or the result cannot be encoded they return a copy of the input. An Engine
// built WithStrict reports those failures instead.
package pixelmix

import (
	"bytes"

	"github.com/dunamismax/pixelmix/internal/imaging"
	"github.com/dunamismax/pixelmix/internal/mime"
	"github.com/dunamismax/pixelmix/internal/random"
)

type (
	FlipMode = imaging.FlipMode
	Options  = imaging.Options
	Result   = imaging.Result
	Tier     = imaging.Tier
)

const (
	FlipNone       = imaging.FlipNone
	FlipHorizontal = imaging.FlipHorizontal
	FlipVertical   = imaging.FlipVertical
	FlipBoth       = imaging.FlipBoth

	TierFast    = imaging.TierFast
	TierDefault = imaging.TierDefault
	TierBest    = imaging.TierBest
)

var (
	ErrDecode = imaging.ErrDecode
	ErrEncode = imaging.ErrEncode
)

// Source supplies uniform values in [0,1) to mutation and shuffling.
type Source = random.Source

type Engine struct {
	pipeline *imaging.Pipeline
	source   random.Source
	strict   bool
}

type Option func(*Engine)

// WithSource replaces the process-wide generator.
func WithSource(src Source) Option {
	return func(e *Engine) {
		if src != nil {
			e.source = src
		}
	}
}

// WithSeed makes mutation and shuffling reproducible.
func WithSeed(seed uint64) Option {
	return func(e *Engine) {
		e.source = random.NewSeeded(seed)
	}
}

// WithStrict makes Engine methods return decode and encode errors instead of
// passing the input through.
func WithStrict(strict bool) Option {
	return func(e *Engine) {
		e.strict = strict
	}
}

func New(opts ...Option) *Engine {
	e := &Engine{source: random.Default()}
	for _, opt := range opts {
		opt(e)
	}
	e.pipeline = imaging.NewPipeline(e.source)
	return e
}

func (e *Engine) Strict() bool {
	return e.strict
}

// Process runs the pipeline. Outside strict mode the error is always nil.
func (e *Engine) Process(input []byte, opts Options) ([]byte, error) {
	res, err := e.pipeline.Run(input, opts)
	if err != nil {
		if e.strict {
			return nil, err
		}
		return bytes.Clone(input), nil
	}
	return res.Data, nil
}

// Run exposes the tagged result of a single pipeline run.
func (e *Engine) Run(input []byte, opts Options) (Result, error) {
	return e.pipeline.Run(input, opts)
}

func (e *Engine) Quality(input []byte, level int) ([]byte, error) {
	return e.Process(input, imaging.QualityOptions(level))
}

func (e *Engine) Mix(input []byte, level int) ([]byte, error) {
	return e.Process(input, imaging.MixOptions(level))
}

func (e *Engine) Shuffle(n int) []int {
	return random.Shuffle(e.source, n)
}

var defaultPipeline = imaging.NewPipeline(nil)

// QualityImage re-encodes input at the tier for level (0–10) without
// touching pixels.
func QualityImage(input []byte, level int) []byte {
	return defaultPipeline.Quality(input, level)
}

// MixImage perturbs one random pixel and re-encodes at the tier for level.
func MixImage(input []byte, level int) []byte {
	return defaultPipeline.Mix(input, level)
}

// ProcessImage flips (when isFlip), mutates one pixel (when confusion) and
// re-encodes. The level only applies when compress is set and
// hasRegularURL is not; otherwise the default tier is used.
func ProcessImage(input []byte, isFlip bool, flipMode FlipMode, confusion, compress bool, level int, hasRegularURL bool) []byte {
	return defaultPipeline.Process(input, Options{
		Flip:             isFlip,
		FlipMode:         flipMode,
		Confusion:        confusion,
		Compress:         compress,
		CompressionLevel: level,
		HasRegularURL:    hasRegularURL,
	})
}

// ShuffleIndices returns a uniform permutation of 0..n-1.
func ShuffleIndices(n int) []int {
	return random.Shuffle(random.Default(), n)
}

// ResolveTier maps a 0–10 compression level onto an encoder tier.
func ResolveTier(level int) Tier {
	return imaging.ResolveTier(level)
}

// ParseFlipMode accepts "horizontal", "vertical", "both" or their numeric
// forms "1" to "3". Anything else is FlipNone.
func ParseFlipMode(s string) FlipMode {
	return imaging.ParseFlipMode(s)
}

// DetectMIME sniffs the content type of data. The transform functions never
// call it; hosts use it to label what they send on.
func DetectMIME(data []byte) string {
	return mime.Detect(data)
}
