package locks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/guildkit/guildkit/pkg/observability/logger"
	"github.com/guildkit/guildkit/pkg/testutil"
)

// TestRedisProvider_Integration exercises the Redis lock provider against a
// real server using testcontainers.
func TestRedisProvider_Integration(t *testing.T) {
	testutil.RequireIntegration(t)

	ctx := context.Background()

	redisContainer, err := tcredis.Run(ctx,
		"redis:7-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}
	defer func() {
		if err := redisContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	}()

	connStr, err := redisContainer.ConnectionString(ctx)
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

	provider, err := NewRedisProvider(RedisProviderConfig{
		URL:    connStr,
		Prefix: "guildkit-test:locks",
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
		held, ok, err := provider.Acquire(ctx, "renewable", 500*time.Millisecond)
		if err != nil || !ok {
			t.Fatalf("acquire: ok=%v err=%v", ok, err)
		}
		if err := provider.Renew(ctx, held, time.Minute); err != nil {
			t.Fatalf("renew: %v", err)
		}

		// Well past the original ttl the scope must still be held.
		time.Sleep(700 * time.Millisecond)
		if _, ok, err := provider.Acquire(ctx, "renewable", time.Minute); err != nil || ok {
			t.Fatalf("expected renewed lock to still hold, got ok=%v err=%v", ok, err)
		}
		if err := provider.Release(ctx, held); err != nil {
			t.Fatalf("release: %v", err)
		}
	})

	t.Run("TTLExpiryFreesScope", func(t *testing.T) {
		held, ok, err := provider.Acquire(ctx, "short-lived", 300*time.Millisecond)
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
			time.Sleep(50 * time.Millisecond)
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
