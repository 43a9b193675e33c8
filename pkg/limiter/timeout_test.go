package limiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestRedisWindows_ContextCancellation(t *testing.T) {
	opt, _ := redis.ParseURL("redis://localhost:6379")
	client := redis.NewClient(opt)
	defer client.Close()

	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Skipping test: Redis not available (%v)", err)
	}
	windows, _ := NewRedisWindows(client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	id := Identity{Module: "test", Key: "user_cancel"}
	_, _, err := windows.Hit(ctx, id, DefaultPolicy, time.Now().UnixMilli(), true)

	if err == nil {
		t.Fatal("Expected an error due to cancelled context, but got nil")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected error to be context.Canceled, but got: %v", err)
	}
}

// slowWindows blocks every Hit until the context ends.
type slowWindows struct{ downWindows }

func (s *slowWindows) Hit(ctx context.Context, id Identity, p Policy, now int64, increment bool) (Window, Step, error) {
	s.calls.Add(1)
	<-ctx.Done()
	return Window{}, StepAllowed, ctx.Err()
}

func TestEngine_CallerCancellationIsNotAFailover(t *testing.T) {
	primary := &slowWindows{}
	f := newEngineFixture(t, primary)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.engine.CheckLimit(ctx, "user_cancel", "auth", increment)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if !f.engine.State().UsingPrimary {
		t.Error("A cancelled caller must not push the store onto the fallback")
	}
}

func TestEngine_SlowPrimaryTimesOut(t *testing.T) {
	primary := &slowWindows{}
	f := newEngineFixture(t, primary)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	d, err := f.engine.CheckLimit(ctx, "user_slow", "auth", increment)
	if err != nil {
		t.Fatalf("Expected the fallback to answer, got %v", err)
	}
	if d.Source != "memory" {
		t.Errorf("Expected memory to serve the check, got %q", d.Source)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Primary timeout was not enforced, check took %v", elapsed)
	}
	if f.engine.State().UsingPrimary {
		t.Error("Expected the store to be on the fallback after a timeout")
	}
}
