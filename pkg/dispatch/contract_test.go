package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPriority_Valid(t *testing.T) {
	cases := []struct {
		priority Priority
		want     bool
	}{
		{Priority(-1), false},
		{Priority(0), false},
		{PriorityBackground, true},
		{PriorityLow, true},
		{PriorityNormal, true},
		{PriorityHigh, true},
		{PriorityCritical, true},
		{Priority(6), false},
	}

	for _, tc := range cases {
		if got := tc.priority.Valid(); got != tc.want {
			t.Errorf("Priority(%d).Valid() = %v, want %v", int(tc.priority), got, tc.want)
		}
	}
}

func TestPriority_String(t *testing.T) {
	cases := []struct {
		priority Priority
		want     string
	}{
		{PriorityBackground, "background"},
		{PriorityLow, "low"},
		{PriorityNormal, "normal"},
		{PriorityHigh, "high"},
		{PriorityCritical, "critical"},
		{Priority(42), "invalid"},
	}

	for _, tc := range cases {
		if got := tc.priority.String(); got != tc.want {
			t.Errorf("Priority(%d).String() = %q, want %q", int(tc.priority), got, tc.want)
		}
	}
}

func TestConfig_Normalize(t *testing.T) {
	t.Run("zero value gets defaults", func(t *testing.T) {
		cfg := Config{}
		cfg.normalize()

		if cfg.MaxConcurrent != DefaultMaxConcurrent {
			t.Errorf("MaxConcurrent = %d, want %d", cfg.MaxConcurrent, DefaultMaxConcurrent)
		}
		if cfg.TaskTimeout != DefaultTaskTimeout {
			t.Errorf("TaskTimeout = %v, want %v", cfg.TaskTimeout, DefaultTaskTimeout)
		}
		if cfg.ShutdownGrace != DefaultShutdownGrace {
			t.Errorf("ShutdownGrace = %v, want %v", cfg.ShutdownGrace, DefaultShutdownGrace)
		}
		if cfg.Backpressure.Threshold != 0 {
			t.Errorf("Backpressure.Threshold = %d, want 0", cfg.Backpressure.Threshold)
		}
		if cfg.Backpressure.Cooldown != DefaultBackpressureCooldown {
			t.Errorf("Backpressure.Cooldown = %v, want %v", cfg.Backpressure.Cooldown, DefaultBackpressureCooldown)
		}
	})

	t.Run("concurrency clamped to ceiling", func(t *testing.T) {
		cfg := Config{MaxConcurrent: 12}
		cfg.normalize()

		if cfg.MaxConcurrent != 3 {
			t.Errorf("MaxConcurrent = %d, want 3", cfg.MaxConcurrent)
		}
	})

	t.Run("negative task timeout disables the bound", func(t *testing.T) {
		cfg := Config{TaskTimeout: -1}
		cfg.normalize()

		if cfg.TaskTimeout != -1 {
			t.Errorf("TaskTimeout = %v, want -1", cfg.TaskTimeout)
		}
	})

	t.Run("explicit values kept", func(t *testing.T) {
		cfg := Config{
			MaxConcurrent: 2,
			TaskTimeout:   5 * time.Second,
			ShutdownGrace: time.Second,
			Backpressure:  BackpressureConfig{Threshold: 4, Cooldown: time.Minute},
		}
		cfg.normalize()

		if cfg.MaxConcurrent != 2 || cfg.TaskTimeout != 5*time.Second || cfg.ShutdownGrace != time.Second {
			t.Errorf("unexpected config after normalize: %+v", cfg)
		}
		if cfg.Backpressure.Threshold != 4 || cfg.Backpressure.Cooldown != time.Minute {
			t.Errorf("unexpected backpressure config after normalize: %+v", cfg.Backpressure)
		}
	})

	t.Run("negative backpressure threshold disables the valve", func(t *testing.T) {
		cfg := Config{Backpressure: BackpressureConfig{Threshold: -3}}
		cfg.normalize()

		if cfg.Backpressure.Threshold != 0 {
			t.Errorf("Backpressure.Threshold = %d, want 0", cfg.Backpressure.Threshold)
		}
	})
}

func TestTicket_CompleteResolvesWait(t *testing.T) {
	ticket := newTicket("t-1")

	if ticket.ID() != "t-1" {
		t.Errorf("ID() = %q, want %q", ticket.ID(), "t-1")
	}
	select {
	case <-ticket.Done():
		t.Fatal("ticket reported done before completion")
	default:
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		ticket.complete(errors.New("boom"))
	}()

	err := ticket.Wait(context.Background())
	if err == nil || err.Error() != "boom" {
		t.Fatalf("Wait returned %v, want boom", err)
	}
	if got := ticket.Err(); got == nil || got.Error() != "boom" {
		t.Fatalf("Err() = %v, want boom", got)
	}

	select {
	case <-ticket.Done():
	default:
		t.Fatal("Done channel not closed after completion")
	}
}

func TestTicket_WaitHonorsContext(t *testing.T) {
	ticket := newTicket("")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if err := ticket.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait returned %v, want context.DeadlineExceeded", err)
	}
}

func TestTicket_NilReceiver(t *testing.T) {
	var ticket *Ticket

	if ticket.ID() != "" {
		t.Errorf("ID() on nil ticket = %q, want empty", ticket.ID())
	}
	if err := ticket.Err(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Err() on nil ticket = %v, want ErrNotInitialized", err)
	}
	if err := ticket.Wait(context.Background()); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Wait() on nil ticket = %v, want ErrNotInitialized", err)
	}
}

func TestNotificationSinkFunc(t *testing.T) {
	var got Notification
	sink := NotificationSinkFunc(func(_ context.Context, n Notification) error {
		got = n
		return nil
	})

	if err := sink.Notify(context.Background(), Notification{TaskID: "n-1", Phase: PhaseQueued}); err != nil {
		t.Fatalf("Notify returned error: %v", err)
	}
	if got.TaskID != "n-1" || got.Phase != PhaseQueued {
		t.Errorf("sink received %+v", got)
	}
}

func TestNormalizeTaskName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "task"},
		{"   ", "task"},
		{"purge", "purge"},
		{"  weekly report ", "weekly report"},
	}

	for _, tc := range cases {
		if got := normalizeTaskName(tc.in); got != tc.want {
			t.Errorf("normalizeTaskName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
