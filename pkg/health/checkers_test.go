package health

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// mockHealthCheckable implements Checkable with a fixed error.
type mockHealthCheckable struct {
	err error
}

func (m *mockHealthCheckable) HealthCheck(ctx context.Context) error {
	return m.err
}

// slowCheckable blocks until its delay elapses or the context is cancelled.
type slowCheckable struct {
	delay time.Duration
}

func (s *slowCheckable) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.delay):
		return nil
	}
}

func TestAdapterChecker(t *testing.T) {
	t.Run("healthy target", func(t *testing.T) {
		checker := NewAdapterChecker("entity-store", &mockHealthCheckable{}, time.Second)

		if checker.Name() != "entity-store" {
			t.Fatalf("unexpected checker name: %s", checker.Name())
		}

		result := checker.Check(context.Background())
		if result.Status != StatusHealthy {
			t.Fatalf("expected healthy, got %s", result.Status)
		}
		if result.Name != "entity-store" {
			t.Fatalf("unexpected result name: %s", result.Name)
		}
		if result.Duration < 0 {
			t.Fatalf("expected non-negative duration, got %v", result.Duration)
		}
	})

	t.Run("unhealthy target", func(t *testing.T) {
		checker := NewAdapterChecker("locks", &mockHealthCheckable{err: errors.New("connection refused")}, time.Second)

		result := checker.Check(context.Background())
		if result.Status != StatusUnhealthy {
			t.Fatalf("expected unhealthy, got %s", result.Status)
		}
		if !strings.Contains(result.Error, "connection refused") {
			t.Fatalf("expected error detail, got %q", result.Error)
		}
	})

	t.Run("zero timeout falls back to default", func(t *testing.T) {
		checker := NewAdapterChecker("store", &mockHealthCheckable{}, 0)
		if checker.timeout != defaultAdapterTimeout {
			t.Fatalf("expected default timeout %v, got %v", defaultAdapterTimeout, checker.timeout)
		}
	})
}

func TestAdapterChecker_Timeout(t *testing.T) {
	checker := NewAdapterChecker("slow-store", &slowCheckable{delay: 300 * time.Millisecond}, 50*time.Millisecond)

	start := time.Now()
	result := checker.Check(context.Background())
	elapsed := time.Since(start)

	if result.Status != StatusUnhealthy {
		t.Fatalf("expected timeout to report unhealthy, got %s", result.Status)
	}
	if result.Error == "" {
		t.Fatal("expected error detail for timed-out check")
	}
	if elapsed > 250*time.Millisecond {
		t.Fatalf("check did not honor its timeout: took %v", elapsed)
	}
}

func TestPingChecker(t *testing.T) {
	checker := NewPingChecker("liveness")

	if checker.Name() != "liveness" {
		t.Fatalf("unexpected checker name: %s", checker.Name())
	}

	result := checker.Check(context.Background())
	if result.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %s", result.Status)
	}
	if result.Message == "" {
		t.Fatal("expected a liveness message")
	}
}

func TestCompositeChecker(t *testing.T) {
	t.Run("all sub-checks healthy", func(t *testing.T) {
		composite := NewCompositeChecker("coordination",
			healthyChecker("store"),
			healthyChecker("locks"),
		)

		result := composite.Check(context.Background())
		if result.Status != StatusHealthy {
			t.Fatalf("expected healthy, got %s", result.Status)
		}
		if result.Name != "coordination" {
			t.Fatalf("unexpected result name: %s", result.Name)
		}
	})

	t.Run("failure detail names the sub-check", func(t *testing.T) {
		composite := NewCompositeChecker("coordination",
			healthyChecker("store"),
			&mockChecker{name: "locks", result: CheckResult{
				Name: "locks", Status: StatusUnhealthy, Error: "redis unavailable",
			}},
		)

		result := composite.Check(context.Background())
		if result.Status != StatusUnhealthy {
			t.Fatalf("expected unhealthy, got %s", result.Status)
		}
		if !strings.Contains(result.Error, "locks: redis unavailable") {
			t.Fatalf("expected sub-check failure detail, got %q", result.Error)
		}
	})

	t.Run("degraded propagates", func(t *testing.T) {
		composite := NewCompositeChecker("coordination",
			healthyChecker("store"),
			&mockChecker{name: "locks", result: CheckResult{Name: "locks", Status: StatusDegraded}},
		)

		if result := composite.Check(context.Background()); result.Status != StatusDegraded {
			t.Fatalf("expected degraded, got %s", result.Status)
		}
	})

	t.Run("unhealthy beats degraded", func(t *testing.T) {
		composite := NewCompositeChecker("coordination",
			&mockChecker{name: "a", result: CheckResult{Name: "a", Status: StatusDegraded}},
			&mockChecker{name: "b", result: CheckResult{Name: "b", Status: StatusUnhealthy, Error: "down"}},
		)

		if result := composite.Check(context.Background()); result.Status != StatusUnhealthy {
			t.Fatalf("expected unhealthy, got %s", result.Status)
		}
	})

	t.Run("empty composite is healthy", func(t *testing.T) {
		if result := NewCompositeChecker("empty").Check(context.Background()); result.Status != StatusHealthy {
			t.Fatalf("expected healthy, got %s", result.Status)
		}
	})
}

func TestCustomChecker(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		checker := NewCustomChecker("queue-depth", func(ctx context.Context) (Status, string, error) {
			return StatusHealthy, "12 pending", nil
		})

		result := checker.Check(context.Background())
		if result.Status != StatusHealthy || result.Message != "12 pending" {
			t.Fatalf("unexpected result: %+v", result)
		}
		if result.Error != "" {
			t.Fatalf("expected no error, got %q", result.Error)
		}
	})

	t.Run("unhealthy with error", func(t *testing.T) {
		checker := NewCustomChecker("queue-depth", func(ctx context.Context) (Status, string, error) {
			return StatusUnhealthy, "backlog critical", errors.New("limit exceeded")
		})

		result := checker.Check(context.Background())
		if result.Status != StatusUnhealthy {
			t.Fatalf("expected unhealthy, got %s", result.Status)
		}
		if result.Error == "" {
			t.Fatal("expected error to be carried into the result")
		}
	})

	t.Run("degraded", func(t *testing.T) {
		checker := NewCustomChecker("queue-depth", func(ctx context.Context) (Status, string, error) {
			return StatusDegraded, "backlog growing", nil
		})

		if result := checker.Check(context.Background()); result.Status != StatusDegraded {
			t.Fatalf("expected degraded, got %s", result.Status)
		}
	})
}

func TestCheckResult_Timestamp(t *testing.T) {
	before := time.Now()
	result := NewPingChecker("liveness").Check(context.Background())
	after := time.Now()

	if result.Timestamp.Before(before) || result.Timestamp.After(after) {
		t.Fatalf("timestamp %v outside [%v, %v]", result.Timestamp, before, after)
	}
}
