package batch

import (
	"context"
	"time"
)

// Worker processes one item of a batch. A non-nil error marks the item failed
// without stopping the run.
type Worker[T any] func(ctx context.Context, item T) error

// ProgressFunc receives periodic progress reports during a run. done counts
// finished items, total is the batch size.
type ProgressFunc func(done, total int)

// Profile is the pacing for one batch category: at most one item per
// Interval, with Burst items allowed to pass without waiting. A zero Interval
// disables pacing for the category.
type Profile struct {
	Interval time.Duration
	Burst    int
}

// ItemResult records one failed item by its position in the input slice.
type ItemResult struct {
	Index int
	Err   error
}

// Result summarizes a run. Succeeded+Failed is less than Total when the run
// was cut short by context cancellation.
type Result struct {
	Total     int
	Succeeded int
	Failed    int
	Failures  []ItemResult
	Elapsed   time.Duration
}

const (
	DefaultProgressInterval = 2 * time.Second
	DefaultProgressEvery    = 10
)

// Config tunes pacing and progress reporting. The zero value is usable: no
// pacing and progress every 10 items or 2 seconds.
type Config struct {
	// Categories maps a category name to its pacing profile.
	Categories map[string]Profile
	// DefaultProfile is used for categories not listed in Categories.
	DefaultProfile Profile
	// ProgressInterval is the minimum gap between progress callbacks.
	// Default 2s.
	ProgressInterval time.Duration
	// ProgressEvery reports progress after this many items even when the
	// interval has not elapsed. Default 10.
	ProgressEvery int
}

func (c *Config) normalize() {
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = DefaultProgressInterval
	}
	if c.ProgressEvery <= 0 {
		c.ProgressEvery = DefaultProgressEvery
	}
}
