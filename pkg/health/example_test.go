package health_test

import (
	"context"
	"fmt"
	"time"

	"github.com/guildkit/guildkit/pkg/health"
)

// mockStore simulates an entity store with health check support
type mockStore struct {
	connected bool
}

func (s *mockStore) HealthCheck(ctx context.Context) error {
	if !s.connected {
		return fmt.Errorf("store not connected")
	}
	return nil
}

// mockLockProvider simulates a lock provider with health check support
type mockLockProvider struct {
	available bool
}

func (p *mockLockProvider) HealthCheck(ctx context.Context) error {
	if !p.available {
		return fmt.Errorf("lock provider unavailable")
	}
	return nil
}

// Example_basicUsage demonstrates basic health check registry usage
func Example_basicUsage() {
	// Create a new health check registry
	registry := health.NewRegistry()

	// Register a simple ping check (always healthy)
	registry.Register(health.NewPingChecker("liveness"))

	// Run all health checks
	ctx := context.Background()
	result := registry.Check(ctx)

	fmt.Printf("Overall Status: %s\n", result.Status)
	fmt.Printf("Number of Checks: %d\n", len(result.Checks))
	fmt.Printf("Is Healthy: %v\n", result.IsHealthy())

	// Output:
	// Overall Status: healthy
	// Number of Checks: 1
	// Is Healthy: true
}

// Example_adapterChecks demonstrates registering adapter health checks
func Example_adapterChecks() {
	// Create a new health check registry
	registry := health.NewRegistry()

	// Create mock adapters
	store := &mockStore{connected: true}
	locks := &mockLockProvider{available: true}

	// Register adapter health checks
	registry.Register(health.NewAdapterChecker("entity-store", store, 5*time.Second))
	registry.Register(health.NewAdapterChecker("locks", locks, 5*time.Second))

	// Run all health checks
	ctx := context.Background()
	result := registry.Check(ctx)

	fmt.Printf("Overall Status: %s\n", result.Status)
	fmt.Printf("Number of Checks: %d\n", len(result.Checks))

	// Output:
	// Overall Status: healthy
	// Number of Checks: 2
}

// Example_customCheck demonstrates registering a custom health check
func Example_customCheck() {
	// Create a new health check registry
	registry := health.NewRegistry()

	// Register a custom health check using a function
	registry.RegisterFunc("queue-depth", func(ctx context.Context) health.CheckResult {
		// Simulate inspecting the pending queue depth
		pending := 12

		if pending > 1000 {
			return health.CheckResult{
				Name:      "queue-depth",
				Status:    health.StatusUnhealthy,
				Error:     "queue backlog critically high",
				Timestamp: time.Now(),
			}
		} else if pending > 500 {
			return health.CheckResult{
				Name:      "queue-depth",
				Status:    health.StatusDegraded,
				Message:   "queue backlog growing",
				Timestamp: time.Now(),
			}
		}

		return health.CheckResult{
			Name:      "queue-depth",
			Status:    health.StatusHealthy,
			Message:   fmt.Sprintf("%d pending", pending),
			Timestamp: time.Now(),
		}
	})

	// Run all health checks
	ctx := context.Background()
	result := registry.Check(ctx)

	fmt.Printf("Overall Status: %s\n", result.Status)

	// Output:
	// Overall Status: healthy
}

// Example_compositeCheck demonstrates using composite health checks
func Example_compositeCheck() {
	// Create individual checkers
	store := &mockStore{connected: true}
	locks := &mockLockProvider{available: true}

	storeChecker := health.NewAdapterChecker("entity-store", store, 5*time.Second)
	lockChecker := health.NewAdapterChecker("locks", locks, 5*time.Second)

	// Create a composite checker that combines them
	composite := health.NewCompositeChecker("coordination-layer", storeChecker, lockChecker)

	// Create registry and register the composite
	registry := health.NewRegistry()
	registry.Register(composite)

	// Run all health checks
	ctx := context.Background()
	result := registry.Check(ctx)

	fmt.Printf("Overall Status: %s\n", result.Status)

	// Output:
	// Overall Status: healthy
}

// Example_checkOne demonstrates checking a specific health check
func Example_checkOne() {
	// Create a new health check registry
	registry := health.NewRegistry()

	// Register multiple checks
	registry.Register(health.NewPingChecker("liveness"))

	store := &mockStore{connected: true}
	registry.Register(health.NewAdapterChecker("entity-store", store, 5*time.Second))

	// Check only the entity store
	ctx := context.Background()
	result, err := registry.CheckOne(ctx, "entity-store")
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Printf("Check Name: %s\n", result.Name)
	fmt.Printf("Status: %s\n", result.Status)

	// Output:
	// Check Name: entity-store
	// Status: healthy
}

// Example_listChecks demonstrates listing registered health checks
func Example_listChecks() {
	// Create a new health check registry
	registry := health.NewRegistry()

	// Register multiple checks
	registry.Register(health.NewPingChecker("liveness"))

	store := &mockStore{connected: true}
	registry.Register(health.NewAdapterChecker("entity-store", store, 5*time.Second))

	locks := &mockLockProvider{available: true}
	registry.Register(health.NewAdapterChecker("locks", locks, 5*time.Second))

	// List all registered checks
	checks := registry.List()

	fmt.Printf("Number of registered checks: %d\n", len(checks))

	// Output:
	// Number of registered checks: 3
}

// Example_unhealthyCheck demonstrates handling unhealthy checks
func Example_unhealthyCheck() {
	// Create a new health check registry
	registry := health.NewRegistry()

	// Register a healthy check
	healthyStore := &mockStore{connected: true}
	registry.Register(health.NewAdapterChecker("entity-store", healthyStore, 5*time.Second))

	// Register an unhealthy check
	unavailableLocks := &mockLockProvider{available: false}
	registry.Register(health.NewAdapterChecker("locks", unavailableLocks, 5*time.Second))

	// Run all health checks
	ctx := context.Background()
	result := registry.Check(ctx)

	fmt.Printf("Overall Status: %s\n", result.Status)
	fmt.Printf("Is Healthy: %v\n", result.IsHealthy())

	// Check individual results
	for _, check := range result.Checks {
		if check.Status == health.StatusUnhealthy {
			fmt.Printf("Unhealthy Check: %s - %s\n", check.Name, check.Error)
		}
	}

	// Output:
	// Overall Status: unhealthy
	// Is Healthy: false
	// Unhealthy Check: locks - lock provider unavailable
}

// Example_checkTimeout demonstrates capping every check through the registry
func Example_checkTimeout() {
	// Cap each individual check at two seconds regardless of its own timeout
	registry := health.NewRegistry().WithCheckTimeout(2 * time.Second)

	store := &mockStore{connected: true}
	registry.Register(health.NewAdapterChecker("entity-store", store, 5*time.Second))

	ctx := context.Background()
	result := registry.Check(ctx)

	fmt.Printf("Overall Status: %s\n", result.Status)

	// Output:
	// Overall Status: healthy
}
