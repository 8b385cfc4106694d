package security

import (
	"context"
	"testing"
	"time"
)

func TestRegistrationLimiter_Disabled(t *testing.T) {
	limiter := NewRegistrationLimiter(0, 0, nil)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		if err := limiter.Wait(ctx); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}

	stats := limiter.Stats()
	if stats.Allowed != 100 {
		t.Errorf("Allowed = %d, want 100", stats.Allowed)
	}
	if stats.Waited != 0 {
		t.Errorf("Waited = %d, want 0", stats.Waited)
	}
}

func TestRegistrationLimiter_BurstThenDeny(t *testing.T) {
	// one token per hour, burst of two
	limiter := NewRegistrationLimiter(1.0/3600, 2, nil)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := limiter.Wait(ctx); err != nil {
			t.Fatalf("Wait() #%d error = %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := limiter.Wait(ctx); err == nil {
		t.Fatal("Wait() expected error after burst is exhausted")
	}

	stats := limiter.Stats()
	if stats.Allowed != 2 || stats.Denied != 1 {
		t.Errorf("stats = %+v, want Allowed=2 Denied=1", stats)
	}
}

func TestRegistrationLimiter_NilSafe(t *testing.T) {
	var limiter *RegistrationLimiter
	if err := limiter.Wait(context.Background()); err != nil {
		t.Errorf("nil limiter Wait() error = %v", err)
	}
}
