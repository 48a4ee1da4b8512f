// Package batch runs bounded sweeps over many items (mass messaging, purges,
// migrations) with per-category pacing so one sweep cannot exhaust the
// upstream rate budget.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/guildkit/guildkit/pkg/observability/logger"
)

// Processor paces batch runs by category. One processor is shared by all
// runs; limiters persist between runs of the same category so consecutive
// sweeps cannot sidestep the pacing.
type Processor struct {
	config Config
	log    logger.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a batch processor.
func New(cfg Config, log logger.Logger) (*Processor, error) {
	if log == nil {
		return nil, batchError(ErrValidation, "logger is required")
	}
	cfg.normalize()

	return &Processor{
		config:   cfg,
		log:      log,
		limiters: map[string]*rate.Limiter{},
	}, nil
}

// Run processes items sequentially under the category's pacing profile.
// Per-item errors are recorded in the result without stopping the run; a
// cancelled context stops between items and returns the partial result with
// the context error. onProgress, when non-nil, is called at most once per
// ProgressInterval or every ProgressEvery items, and once more on completion.
func Run[T any](ctx context.Context, p *Processor, items []T, worker Worker[T], onProgress ProgressFunc, category string) (Result, error) {
	if p == nil {
		return Result{}, batchError(ErrNotInitialized, "processor is not initialized")
	}
	if worker == nil {
		return Result{}, batchError(ErrValidation, "worker is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	start := time.Now()
	result := Result{Total: len(items)}
	limiter := p.limiterFor(category)
	recordRun(category)

	lastProgress := start
	sinceProgress := 0

	for i, item := range items {
		if err := limiter.Wait(ctx); err != nil {
			result.Elapsed = time.Since(start)
			observeRunDuration(category, result.Elapsed.Seconds())
			p.log.Info("batch run interrupted",
				"category", category,
				"done", result.Succeeded+result.Failed,
				"total", result.Total)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result, ctxErr
			}
			return result, err
		}

		if err := runItem(ctx, worker, item); err != nil {
			result.Failed++
			result.Failures = append(result.Failures, ItemResult{Index: i, Err: err})
			recordItem(category, "error")
			p.log.Warn("batch item failed", "category", category, "index", i, "error", err)
		} else {
			result.Succeeded++
			recordItem(category, "success")
		}

		done := i + 1
		sinceProgress++
		if onProgress != nil && done < len(items) {
			if sinceProgress >= p.config.ProgressEvery || time.Since(lastProgress) >= p.config.ProgressInterval {
				onProgress(done, len(items))
				lastProgress = time.Now()
				sinceProgress = 0
			}
		}
	}

	if onProgress != nil {
		onProgress(len(items), len(items))
	}

	result.Elapsed = time.Since(start)
	observeRunDuration(category, result.Elapsed.Seconds())
	p.log.Info("batch run finished",
		"category", category,
		"total", result.Total,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"elapsed", result.Elapsed)
	return result, nil
}

// runItem executes the worker with panic containment so one bad item cannot
// take down the whole sweep.
func runItem[T any](ctx context.Context, worker Worker[T], item T) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic while processing item: %v", rec)
		}
	}()
	return worker(ctx, item)
}

// limiterFor returns the category's limiter, creating it on first use.
// Unknown categories share the default profile.
func (p *Processor) limiterFor(category string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if limiter, ok := p.limiters[category]; ok {
		return limiter
	}

	profile, ok := p.config.Categories[category]
	if !ok {
		profile = p.config.DefaultProfile
		p.log.Debug("unknown batch category, using default profile", "category", category)
	}
	limiter := newLimiter(profile)
	p.limiters[category] = limiter
	return limiter
}

func newLimiter(profile Profile) *rate.Limiter {
	limit := rate.Inf
	if profile.Interval > 0 {
		limit = rate.Every(profile.Interval)
	}
	burst := profile.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(limit, burst)
}
