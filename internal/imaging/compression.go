package imaging

import "github.com/klauspost/compress/zlib"

// Tier is the compression effort handed to the PNG encoder.
type Tier int

const (
	TierFast Tier = iota
	TierDefault
	TierBest
)

func (t Tier) String() string {
	switch t {
	case TierFast:
		return "fast"
	case TierBest:
		return "best"
	default:
		return "default"
	}
}

// ResolveTier maps a 0–10 compression level onto an encoder tier.
// Levels are expected in [0,10]; values below land in fast, above in best.
func ResolveTier(level int) Tier {
	switch {
	case level <= 3:
		return TierFast
	case level <= 6:
		return TierDefault
	default:
		return TierBest
	}
}

func (t Tier) zlibLevel() int {
	switch t {
	case TierFast:
		return zlib.BestSpeed
	case TierBest:
		return zlib.BestCompression
	default:
		return zlib.DefaultCompression
	}
}
