package domain

import "time"

// UsageLog records what one job cost. Passthroughs counts steps that
// returned the source bytes because the image could not be processed.
type UsageLog struct {
	UserID          string
	JobID           string
	PixelsProcessed int64
	BytesSaved      int64
	ComputeTimeMS   int64
	Passthroughs    int
	CreatedAt       time.Time
}
