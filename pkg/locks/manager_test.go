package locks

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestManager(t *testing.T, cfg ManagerConfig, provider Provider) *Manager {
	t.Helper()
	manager, err := NewManager(cfg, provider, &locksTestLogger{})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return manager
}

func TestNewManager_Validation(t *testing.T) {
	provider := newTestRuntimeProvider(t)

	if _, err := NewManager(ManagerConfig{}, nil, &locksTestLogger{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for nil provider, got %v", err)
	}
	if _, err := NewManager(ManagerConfig{}, provider, nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for nil logger, got %v", err)
	}
}

func TestManager_AcquireIsExclusive(t *testing.T) {
	provider := newTestRuntimeProvider(t)
	manager := newTestManager(t, ManagerConfig{}, provider)
	other := newTestManager(t, ManagerConfig{}, provider)
	ctx := context.Background()

	if !manager.Acquire(ctx, "queue:guild-1") {
		t.Fatal("first acquisition should succeed")
	}
	if other.Acquire(ctx, "queue:guild-1") {
		t.Fatal("second acquisition on a held scope should fail")
	}
	if manager.Acquire(ctx, "queue:guild-1") {
		t.Fatal("re-acquiring an already held scope should fail")
	}

	if !manager.Release(ctx, "queue:guild-1") {
		t.Fatal("release of own scope should succeed")
	}
	if !other.Acquire(ctx, "queue:guild-1") {
		t.Fatal("acquisition after release should succeed")
	}
}

func TestManager_ReleaseOnlyOwnHoldings(t *testing.T) {
	provider := newTestRuntimeProvider(t)
	owner := newTestManager(t, ManagerConfig{}, provider)
	intruder := newTestManager(t, ManagerConfig{}, provider)
	ctx := context.Background()

	if !owner.Acquire(ctx, "scope") {
		t.Fatal("acquire should succeed")
	}
	if intruder.Release(ctx, "scope") {
		t.Fatal("releasing a scope held by another manager should fail")
	}
	if intruder.Acquire(ctx, "scope") {
		t.Fatal("scope must remain held after the rejected release")
	}
	if !owner.Release(ctx, "scope") {
		t.Fatal("owner release should succeed")
	}
}

func TestManager_ReleaseUnheldScope(t *testing.T) {
	provider := newTestRuntimeProvider(t)
	manager := newTestManager(t, ManagerConfig{}, provider)

	if manager.Release(context.Background(), "never-acquired") {
		t.Fatal("releasing an unheld scope should fail")
	}
}

func TestManager_IsLocked(t *testing.T) {
	provider := newTestRuntimeProvider(t)
	manager := newTestManager(t, ManagerConfig{}, provider)
	ctx := context.Background()

	if manager.IsLocked("scope") {
		t.Fatal("unheld scope should report unlocked")
	}
	if !manager.Acquire(ctx, "scope") {
		t.Fatal("acquire should succeed")
	}
	if !manager.IsLocked("scope") {
		t.Fatal("held scope should report locked")
	}
	if !manager.Release(ctx, "scope") {
		t.Fatal("release should succeed")
	}
	if manager.IsLocked("scope") {
		t.Fatal("released scope should report unlocked")
	}
}

func TestManager_IsLockedReportsOwnHoldingsOnly(t *testing.T) {
	provider := newTestRuntimeProvider(t)
	owner := newTestManager(t, ManagerConfig{}, provider)
	observer := newTestManager(t, ManagerConfig{}, provider)
	ctx := context.Background()

	if !owner.Acquire(ctx, "scope") {
		t.Fatal("acquire should succeed")
	}
	if observer.IsLocked("scope") {
		t.Fatal("IsLocked tracks this manager's holdings, not the backend")
	}
}

func TestManager_TTLExpiryFreesScope(t *testing.T) {
	provider := newTestRuntimeProvider(t)
	manager := newTestManager(t, ManagerConfig{DefaultTTL: 40 * time.Millisecond}, provider)
	other := newTestManager(t, ManagerConfig{}, provider)
	ctx := context.Background()

	if !manager.Acquire(ctx, "scope") {
		t.Fatal("acquire should succeed")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if other.Acquire(ctx, "scope") {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !other.IsLocked("scope") {
		t.Fatal("expected scope to be claimable after ttl expiry")
	}
	if manager.IsLocked("scope") {
		t.Fatal("expired holding should no longer report locked")
	}
}

func TestManager_Extend(t *testing.T) {
	provider := newTestRuntimeProvider(t)
	manager := newTestManager(t, ManagerConfig{DefaultTTL: 400 * time.Millisecond}, provider)
	other := newTestManager(t, ManagerConfig{}, provider)
	ctx := context.Background()

	if !manager.Acquire(ctx, "scope") {
		t.Fatal("acquire should succeed")
	}
	time.Sleep(300 * time.Millisecond)
	if !manager.Extend(ctx, "scope") {
		t.Fatal("extend of a held scope should succeed")
	}

	// Past the original expiry but inside the extension.
	time.Sleep(250 * time.Millisecond)
	if other.Acquire(ctx, "scope") {
		t.Fatal("extended lock should still be held")
	}
	if !manager.IsLocked("scope") {
		t.Fatal("extended holding should still report locked")
	}

	if !manager.Release(ctx, "scope") {
		t.Fatal("release after extend should succeed")
	}
}

func TestManager_ExtendUnheldScope(t *testing.T) {
	provider := newTestRuntimeProvider(t)
	manager := newTestManager(t, ManagerConfig{}, provider)

	if manager.Extend(context.Background(), "never-acquired") {
		t.Fatal("extending an unheld scope should fail")
	}
}

func TestManager_WaitAndAcquire(t *testing.T) {
	provider := newTestRuntimeProvider(t)
	owner := newTestManager(t, ManagerConfig{}, provider)
	waiter := newTestManager(t, ManagerConfig{PollInterval: 10 * time.Millisecond}, provider)
	ctx := context.Background()

	if !owner.Acquire(ctx, "scope") {
		t.Fatal("acquire should succeed")
	}

	released := make(chan struct{})
	go func() {
		time.Sleep(80 * time.Millisecond)
		owner.Release(ctx, "scope")
		close(released)
	}()

	start := time.Now()
	if !waiter.WaitAndAcquire(ctx, "scope", 2*time.Second) {
		t.Fatal("expected wait to end in acquisition")
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("acquisition should only happen after the release, took %v", elapsed)
	}
	<-released
	if !waiter.IsLocked("scope") {
		t.Fatal("waiter should hold the scope")
	}
}

func TestManager_WaitAndAcquireImmediate(t *testing.T) {
	provider := newTestRuntimeProvider(t)
	manager := newTestManager(t, ManagerConfig{}, provider)

	if !manager.WaitAndAcquire(context.Background(), "scope", time.Second) {
		t.Fatal("free scope should be acquired without waiting")
	}
}

func TestManager_WaitAndAcquireTimesOut(t *testing.T) {
	provider := newTestRuntimeProvider(t)
	owner := newTestManager(t, ManagerConfig{}, provider)
	waiter := newTestManager(t, ManagerConfig{PollInterval: 10 * time.Millisecond}, provider)
	ctx := context.Background()

	if !owner.Acquire(ctx, "scope") {
		t.Fatal("acquire should succeed")
	}
	if waiter.WaitAndAcquire(ctx, "scope", 60*time.Millisecond) {
		t.Fatal("wait on a scope that is never released should time out")
	}
}

func TestManager_WaitAndAcquireHonorsContext(t *testing.T) {
	provider := newTestRuntimeProvider(t)
	owner := newTestManager(t, ManagerConfig{}, provider)
	waiter := newTestManager(t, ManagerConfig{PollInterval: 10 * time.Millisecond}, provider)

	if !owner.Acquire(context.Background(), "scope") {
		t.Fatal("acquire should succeed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	if waiter.WaitAndAcquire(ctx, "scope", time.Minute) {
		t.Fatal("cancelled wait should fail")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("cancellation should end the wait promptly, took %v", elapsed)
	}
}

func TestManager_ReleaseAll(t *testing.T) {
	provider := newTestRuntimeProvider(t)
	manager := newTestManager(t, ManagerConfig{}, provider)
	other := newTestManager(t, ManagerConfig{}, provider)
	ctx := context.Background()

	scopes := []string{"queue:guild-1", "batch:nightly", "vote:42"}
	for _, scope := range scopes {
		if !manager.Acquire(ctx, scope) {
			t.Fatalf("acquire %q should succeed", scope)
		}
	}

	if released := manager.ReleaseAll(ctx); released != len(scopes) {
		t.Fatalf("expected %d releases, got %d", len(scopes), released)
	}
	for _, scope := range scopes {
		if manager.IsLocked(scope) {
			t.Fatalf("scope %q should be released", scope)
		}
		if !other.Acquire(ctx, scope) {
			t.Fatalf("scope %q should be claimable after ReleaseAll", scope)
		}
	}

	if released := manager.ReleaseAll(ctx); released != 0 {
		t.Fatalf("expected no releases on empty manager, got %d", released)
	}
}

func TestManager_HealthCheck(t *testing.T) {
	provider := newTestRuntimeProvider(t)
	manager := newTestManager(t, ManagerConfig{}, provider)

	if err := manager.HealthCheck(context.Background()); err != nil {
		t.Fatalf("health check: %v", err)
	}
	if err := provider.Close(); err != nil {
		t.Fatalf("close provider: %v", err)
	}
	if err := manager.HealthCheck(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
