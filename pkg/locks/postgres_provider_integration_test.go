package locks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/guildkit/guildkit/pkg/observability/logger"
	"github.com/guildkit/guildkit/pkg/testutil"
)

// TestPostgresProvider_Integration exercises the Postgres lock provider
// against a real database using testcontainers.
func TestPostgresProvider_Integration(t *testing.T) {
	testutil.RequireIntegration(t)

	ctx := context.Background()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:17-alpine",
		tcpostgres.WithDatabase("guildkit_test"),
		tcpostgres.WithUsername("guildkit"),
		tcpostgres.WithPassword("guildkit"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start Postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	log, err := logger.NewZapLogger(logger.Config{
		Level:  logger.InfoLevel,
		Format: logger.JSONFormat,
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	provider, err := NewPostgresProvider(PostgresProviderConfig{
		URL:   connStr,
		Table: "guildkit_locks_it",
	}, log)
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}
	defer provider.Close()

	t.Run("AcquireBusyRelease", func(t *testing.T) {
		held, ok, err := provider.Acquire(ctx, "queue:guild-1", time.Minute)
		if err != nil || !ok {
			t.Fatalf("acquire: ok=%v err=%v", ok, err)
		}
		if _, ok, err := provider.Acquire(ctx, "queue:guild-1", time.Minute); err != nil || ok {
			t.Fatalf("expected busy scope, got ok=%v err=%v", ok, err)
		}
		if err := provider.Release(ctx, held); err != nil {
			t.Fatalf("release: %v", err)
		}
		if _, ok, err := provider.Acquire(ctx, "queue:guild-1", time.Minute); err != nil || !ok {
			t.Fatalf("expected reacquisition after release, got ok=%v err=%v", ok, err)
		}
	})

	t.Run("ReleaseChecksToken", func(t *testing.T) {
		held, ok, err := provider.Acquire(ctx, "token-check", time.Minute)
		if err != nil || !ok {
			t.Fatalf("acquire: ok=%v err=%v", ok, err)
		}

		stale := &Held{Scope: held.Scope, Token: "someone-else"}
		if err := provider.Release(ctx, stale); !errors.Is(err, ErrConflict) {
			t.Fatalf("expected ErrConflict for foreign token, got %v", err)
		}
		if err := provider.Release(ctx, held); err != nil {
			t.Fatalf("owner release: %v", err)
		}
	})

	t.Run("RenewExtendsTTL", func(t *testing.T) {
		held, ok, err := provider.Acquire(ctx, "renewable", time.Second)
		if err != nil || !ok {
			t.Fatalf("acquire: ok=%v err=%v", ok, err)
		}
		if err := provider.Renew(ctx, held, time.Minute); err != nil {
			t.Fatalf("renew: %v", err)
		}

		// Well past the original ttl the scope must still be held.
		time.Sleep(1500 * time.Millisecond)
		if _, ok, err := provider.Acquire(ctx, "renewable", time.Minute); err != nil || ok {
			t.Fatalf("expected renewed lock to still hold, got ok=%v err=%v", ok, err)
		}
		if err := provider.Release(ctx, held); err != nil {
			t.Fatalf("release: %v", err)
		}
	})

	t.Run("ExpiredRowIsReacquirable", func(t *testing.T) {
		held, ok, err := provider.Acquire(ctx, "short-lived", 500*time.Millisecond)
		if err != nil || !ok {
			t.Fatalf("acquire: ok=%v err=%v", ok, err)
		}

		deadline := time.Now().Add(5 * time.Second)
		reacquired := false
		for time.Now().Before(deadline) {
			if _, ok, err := provider.Acquire(ctx, "short-lived", time.Minute); err == nil && ok {
				reacquired = true
				break
			}
			time.Sleep(100 * time.Millisecond)
		}
		if !reacquired {
			t.Fatal("expected scope to free itself after ttl")
		}
		if err := provider.Renew(ctx, held, time.Minute); !errors.Is(err, ErrConflict) {
			t.Fatalf("expected ErrConflict renewing an expired hold, got %v", err)
		}
	})

	t.Run("HealthCheck", func(t *testing.T) {
		if err := provider.HealthCheck(ctx); err != nil {
			t.Fatalf("health check: %v", err)
		}
	})
}
