package health

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const defaultAdapterTimeout = 5 * time.Second

// Checkable is implemented by components that can report their own health,
// such as entity stores and lock providers.
type Checkable interface {
	HealthCheck(ctx context.Context) error
}

// AdapterChecker turns any Checkable into a Checker with a per-call timeout.
type AdapterChecker struct {
	name    string
	target  Checkable
	timeout time.Duration
}

// NewAdapterChecker wraps target under the given check name. A zero timeout
// falls back to 5 seconds.
func NewAdapterChecker(name string, target Checkable, timeout time.Duration) *AdapterChecker {
	if timeout <= 0 {
		timeout = defaultAdapterTimeout
	}
	return &AdapterChecker{name: name, target: target, timeout: timeout}
}

// Check calls the target's HealthCheck with the configured timeout.
func (c *AdapterChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.target.HealthCheck(checkCtx)
	result := CheckResult{
		Name:      c.name,
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		return result
	}
	result.Status = StatusHealthy
	result.Message = "OK"
	return result
}

// Name returns the check name.
func (c *AdapterChecker) Name() string { return c.name }

// PingChecker always reports healthy. Register it as a liveness probe.
type PingChecker struct {
	name string
}

// NewPingChecker creates a ping checker with the given name.
func NewPingChecker(name string) *PingChecker {
	return &PingChecker{name: name}
}

// Check reports healthy unconditionally.
func (c *PingChecker) Check(ctx context.Context) CheckResult {
	return CheckResult{
		Name:      c.name,
		Status:    StatusHealthy,
		Message:   "alive",
		Timestamp: time.Now(),
	}
}

// Name returns the check name.
func (c *PingChecker) Name() string { return c.name }

// CompositeChecker folds several checkers into a single named check.
// The composite status is the worst sub-check status.
type CompositeChecker struct {
	name     string
	checkers []Checker
}

// NewCompositeChecker groups the given checkers under one name.
func NewCompositeChecker(name string, checkers ...Checker) *CompositeChecker {
	return &CompositeChecker{name: name, checkers: checkers}
}

// Check runs the sub-checks sequentially and aggregates their status.
func (c *CompositeChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	status := StatusHealthy
	var failures []string

	for _, checker := range c.checkers {
		sub := checker.Check(ctx)
		status = worseOf(status, sub.Status)
		if sub.Status == StatusUnhealthy && sub.Error != "" {
			failures = append(failures, fmt.Sprintf("%s: %s", sub.Name, sub.Error))
		}
	}

	result := CheckResult{
		Name:      c.name,
		Status:    status,
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}
	if len(failures) > 0 {
		result.Error = strings.Join(failures, "; ")
	} else if status == StatusHealthy {
		result.Message = "all sub-checks passed"
	}
	return result
}

// Name returns the check name.
func (c *CompositeChecker) Name() string { return c.name }

// CustomChecker adapts a plain status function into a Checker.
type CustomChecker struct {
	name  string
	check func(ctx context.Context) (Status, string, error)
}

// NewCustomChecker creates a checker from a function returning
// (status, message, error).
func NewCustomChecker(name string, check func(ctx context.Context) (Status, string, error)) *CustomChecker {
	return &CustomChecker{name: name, check: check}
}

// Check invokes the wrapped function.
func (c *CustomChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	status, message, err := c.check(ctx)

	result := CheckResult{
		Name:      c.name,
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}
	if err != nil {
		result.Error = err.Error()
	}
	return result
}

// Name returns the check name.
func (c *CustomChecker) Name() string { return c.name }
