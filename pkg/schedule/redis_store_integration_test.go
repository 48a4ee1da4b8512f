package schedule

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

// TestRedisStore_Integration exercises the Redis store against a real server
// using testcontainers.
func TestRedisStore_Integration(t *testing.T) {
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

	store, err := NewRedisStore(RedisStoreConfig{
		URL:    connStr,
		Prefix: "guildkit-test:schedule",
	}, log)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	t.Run("PutGetRoundTrip", func(t *testing.T) {
		expireAt := time.Now().Add(time.Hour).Truncate(time.Millisecond).UTC()
		revealAt := expireAt.Add(-30 * time.Minute)
		entity := &Entity{
			ID:        "v-int-1",
			Kind:      KindVote,
			Status:    StatusPending,
			ExpireAt:  expireAt,
			RevealAt:  revealAt,
			Payload:   map[string]string{"question": "weekly raid night?"},
			UpdatedAt: time.Now().Truncate(time.Millisecond).UTC(),
		}
		if err := store.Put(ctx, entity); err != nil {
			t.Fatalf("put: %v", err)
		}

		got, err := store.Get(ctx, "v-int-1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Kind != KindVote || got.Status != StatusPending {
			t.Fatalf("unexpected entity: %+v", got)
		}
		if !got.ExpireAt.Equal(expireAt) || !got.RevealAt.Equal(revealAt) {
			t.Fatalf("timestamps did not round trip: %+v", got)
		}
		if got.Payload["question"] != "weekly raid night?" {
			t.Fatalf("payload did not round trip: %+v", got.Payload)
		}
	})

	t.Run("GetUnknown", func(t *testing.T) {
		if _, err := store.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ListPendingTracksStatus", func(t *testing.T) {
		expireAt := time.Now().Add(time.Hour)
		for _, id := range []string{"p-int-1", "p-int-2"} {
			if err := store.Put(ctx, pendingEntity(id, expireAt)); err != nil {
				t.Fatalf("put %s: %v", id, err)
			}
		}

		pending, err := store.ListPending(ctx)
		if err != nil {
			t.Fatalf("list pending: %v", err)
		}
		ids := make(map[string]bool, len(pending))
		for _, entity := range pending {
			ids[entity.ID] = true
		}
		if !ids["p-int-1"] || !ids["p-int-2"] {
			t.Fatalf("expected both pending entities, got %v", ids)
		}

		if err := store.UpdateStatus(ctx, "p-int-1", StatusCompleted, "done"); err != nil {
			t.Fatalf("update status: %v", err)
		}
		pending, err = store.ListPending(ctx)
		if err != nil {
			t.Fatalf("second list: %v", err)
		}
		for _, entity := range pending {
			if entity.ID == "p-int-1" {
				t.Fatal("completed entity still listed as pending")
			}
		}

		got, err := store.Get(ctx, "p-int-1")
		if err != nil {
			t.Fatalf("get after update: %v", err)
		}
		if got.Status != StatusCompleted || got.StatusReason != "done" {
			t.Fatalf("unexpected updated entity: %+v", got)
		}
	})

	t.Run("HealthCheck", func(t *testing.T) {
		if err := store.HealthCheck(ctx); err != nil {
			t.Fatalf("health check: %v", err)
		}
	})
}
