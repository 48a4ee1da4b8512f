// Package health provides a registry of named health checks so embedding
// bots can aggregate the state of the coordination layer (entity stores,
// lock providers, the request queue) into a single report.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Status classifies the outcome of a health check.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// CheckResult is the outcome of a single health check run.
type CheckResult struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
}

// Checker runs one named health check.
type Checker interface {
	Check(ctx context.Context) CheckResult
	Name() string
}

// AggregatedResult is the combined outcome of all registered checks.
// Status is the worst individual status: unhealthy beats degraded beats
// healthy. Checks are ordered by name.
type AggregatedResult struct {
	Status    Status        `json:"status"`
	Checks    []CheckResult `json:"checks"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
}

// IsHealthy reports whether every check passed.
func (r AggregatedResult) IsHealthy() bool {
	return r.Status == StatusHealthy
}

// Registry holds named health checks and runs them concurrently.
type Registry struct {
	mu           sync.RWMutex
	checkers     map[string]Checker
	checkTimeout time.Duration
}

// NewRegistry creates an empty registry. By default checks inherit the
// caller's context deadline; use WithCheckTimeout to cap each check.
func NewRegistry() *Registry {
	return &Registry{
		checkers: make(map[string]Checker),
	}
}

// WithCheckTimeout caps the time each individual check may take during
// Check. Non-positive values leave the checks uncapped. Returns the
// registry for chaining.
func (r *Registry) WithCheckTimeout(timeout time.Duration) *Registry {
	if timeout > 0 {
		r.checkTimeout = timeout
	}
	return r
}

// Register adds a checker, replacing any existing checker with the same name.
func (r *Registry) Register(checker Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[checker.Name()] = checker
}

// RegisterFunc adds a function-based checker under the given name.
func (r *Registry) RegisterFunc(name string, check func(ctx context.Context) CheckResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[name] = &funcChecker{name: name, check: check}
}

// Unregister removes the named checker. Unknown names are ignored.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.checkers, name)
}

// List returns the names of all registered checks, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.checkers))
	for name := range r.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check runs every registered check concurrently and aggregates the
// results. An empty registry reports healthy.
func (r *Registry) Check(ctx context.Context) AggregatedResult {
	r.mu.RLock()
	checkers := make([]Checker, 0, len(r.checkers))
	for _, checker := range r.checkers {
		checkers = append(checkers, checker)
	}
	timeout := r.checkTimeout
	r.mu.RUnlock()

	start := time.Now()
	results := make([]CheckResult, len(checkers))

	var wg sync.WaitGroup
	for i, checker := range checkers {
		wg.Add(1)
		go func(slot int, c Checker) {
			defer wg.Done()
			checkCtx := ctx
			if timeout > 0 {
				var cancel context.CancelFunc
				checkCtx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			results[slot] = c.Check(checkCtx)
		}(i, checker)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })

	overall := StatusHealthy
	for _, result := range results {
		overall = worseOf(overall, result.Status)
	}

	return AggregatedResult{
		Status:    overall,
		Checks:    results,
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}
}

// CheckOne runs the named check only.
func (r *Registry) CheckOne(ctx context.Context, name string) (CheckResult, error) {
	r.mu.RLock()
	checker, ok := r.checkers[name]
	timeout := r.checkTimeout
	r.mu.RUnlock()

	if !ok {
		return CheckResult{}, fmt.Errorf("health check not found: %s", name)
	}

	if timeout > 0 {
		checkCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return checker.Check(checkCtx), nil
	}
	return checker.Check(ctx), nil
}

func worseOf(a, b Status) Status {
	if a == StatusUnhealthy || b == StatusUnhealthy {
		return StatusUnhealthy
	}
	if a == StatusDegraded || b == StatusDegraded {
		return StatusDegraded
	}
	return StatusHealthy
}

type funcChecker struct {
	name  string
	check func(ctx context.Context) CheckResult
}

func (c *funcChecker) Check(ctx context.Context) CheckResult { return c.check(ctx) }

func (c *funcChecker) Name() string { return c.name }
