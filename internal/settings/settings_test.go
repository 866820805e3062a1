package settings

import (
	"context"
	"testing"
	"time"
)

func TestCachedReader_DefaultsWhenNoOverride(t *testing.T) {
	ctx := context.Background()
	r := NewCachedReader(NewMemoryStore())

	got, err := r.Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := Defaults()
	if got != want {
		t.Fatalf("expected pure defaults, got %+v", got)
	}
}

func TestCachedReader_MergeOverride(t *testing.T) {
	ctx := context.Background()
	r := NewCachedReader(NewMemoryStore())

	override := AppSettings{
		Chat: ChatSettings{MaxToolIterations: 5},
		Notifications: NotificationSettings{
			Enabled:   true,
			MinImpact: "critical",
		},
	}
	if err := r.Put(ctx, override); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := r.Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Chat.MaxToolIterations != 5 {
		t.Fatalf("expected overridden max_tool_iterations=5, got %d", got.Chat.MaxToolIterations)
	}
	if got.Chat.ToolTimeout != Defaults().Chat.ToolTimeout {
		t.Fatalf("expected un-overridden field to keep default, got %v", got.Chat.ToolTimeout)
	}
	if got.Notifications.MinImpact != "critical" {
		t.Fatalf("expected overridden min_impact=critical, got %s", got.Notifications.MinImpact)
	}
}

func TestCachedReader_CacheServesWithoutRefetch(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	r := NewCachedReader(store)

	if _, err := r.Get(ctx); err != nil {
		t.Fatalf("get: %v", err)
	}
	// Write directly to the store, bypassing the cache invalidation Put
	// would trigger.
	_ = store.Put(ctx, AppSettings{Chat: ChatSettings{MaxToolIterations: 99}})

	got, err := r.Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Chat.MaxToolIterations == 99 {
		t.Fatalf("expected stale cache to still serve prior value")
	}
}

func TestCachedReader_PutInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	r := NewCachedReader(NewMemoryStore())

	if _, err := r.Get(ctx); err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := r.Put(ctx, AppSettings{Chat: ChatSettings{MaxToolIterations: 7}}); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := r.Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Chat.MaxToolIterations != 7 {
		t.Fatalf("expected fresh read after Put, got %d", got.Chat.MaxToolIterations)
	}
}

func TestAppSettings_ClampRejectsNegative(t *testing.T) {
	s := Defaults()
	s.Chat.MaxToolIterations = -1
	if err := s.Clamp(); err == nil {
		t.Fatalf("expected validation error for negative max_tool_iterations")
	}

	s2 := Defaults()
	s2.Chat.ToolTimeout = -1 * time.Second
	if err := s2.Clamp(); err == nil {
		t.Fatalf("expected validation error for negative timeout")
	}
}
