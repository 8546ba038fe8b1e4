package domain

import "time"

// UsageLog records what one finished job cost.
type UsageLog struct {
	UserID          string
	JobID           string
	Effect          string
	PixelsProcessed int64
	InputBytes      int64
	OutputBytes     int64
	ComputeTimeMS   int64
	CreatedAt       time.Time
}
