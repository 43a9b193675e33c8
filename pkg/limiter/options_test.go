package limiter

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestRedisWindows_Options(t *testing.T) {
	client := newTestRedisClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	t.Run("WithPrefix", func(t *testing.T) {
		prefix := "custom_app:"
		id := Identity{Module: "options", Key: fmt.Sprintf("opt_test_%d", time.Now().UnixNano())}
		p := Policy{MaxRequests: 1, Window: time.Second, Active: true}

		windows, err := NewRedisWindows(client, WithPrefix(prefix))
		if err != nil {
			t.Fatalf("Failed to create windows: %v", err)
		}

		if _, _, err := windows.Hit(ctx, id, p, time.Now().UnixMilli(), true); err != nil {
			t.Fatalf("Hit failed: %v", err)
		}

		// Verify the key uses the custom prefix
		expectedKey := prefix + id.Module + ":" + id.Key
		exists, err := client.Exists(ctx, expectedKey).Result()
		if err != nil {
			t.Fatalf("Redis Exists failed: %v", err)
		}
		if exists == 0 {
			t.Errorf("Expected key %s to exist, but it does not", expectedKey)
		}

		if err := windows.Clear(ctx); err != nil {
			t.Fatalf("Clear failed: %v", err)
		}
		if n, _ := client.Exists(ctx, expectedKey).Result(); n != 0 {
			t.Errorf("Expected Clear to remove %s", expectedKey)
		}
	})

	t.Run("WithTimeout", func(t *testing.T) {
		windows, err := NewRedisWindows(client, WithTimeout(time.Nanosecond))
		if err != nil {
			t.Fatalf("WithTimeout should not cause error on valid client: %v", err)
		}
		id := Identity{Module: "options", Key: "timeout"}
		if _, _, err := windows.Hit(context.Background(), id, DefaultPolicy, time.Now().UnixMilli(), true); err == nil {
			t.Error("Expected a 1ns script timeout to fail")
		}
	})
}

func TestEngineOptions(t *testing.T) {
	o := engineOptions{warnAt: DefaultWarningThreshold}

	WithWarningThreshold(-1)(&o)
	if o.warnAt != DefaultWarningThreshold {
		t.Errorf("negative threshold must be ignored, got %d", o.warnAt)
	}
	WithWarningThreshold(0)(&o)
	if o.warnAt != 0 {
		t.Errorf("expected threshold 0, got %d", o.warnAt)
	}

	WithRecorder(nil)(&o)
	WithLogger(nil)(&o)
	WithClock(nil)(&o)
	if o.recorder != nil || o.logger != nil || o.clock != nil {
		t.Error("nil options must leave defaults untouched")
	}
}
