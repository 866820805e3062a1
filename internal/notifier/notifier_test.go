package notifier

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aethercore/aether/internal/insight"
	"github.com/aethercore/aether/internal/settings"
)

type recordingChannel struct {
	mu    sync.Mutex
	calls int
	title string
}

func (c *recordingChannel) Notify(ctx context.Context, title, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.title = title
	return nil
}

func newReader(t *testing.T, cfg settings.NotificationSettings) *settings.CachedReader {
	t.Helper()
	store := settings.NewMemoryStore()
	r := settings.NewCachedReader(store)
	if err := r.Put(context.Background(), settings.AppSettings{Notifications: cfg}); err != nil {
		t.Fatalf("put settings: %v", err)
	}
	return r
}

func TestNotifySingle_BelowThresholdSuppressed(t *testing.T) {
	r := newReader(t, settings.NotificationSettings{Enabled: true, MinImpact: "high"})
	ch := &recordingChannel{}
	n := New(r, ch)

	i := insight.New("anomaly", "minor blip", "", insight.ImpactLow, 0.5)
	n.NotifySingle(context.Background(), i)

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.calls != 0 {
		t.Fatalf("expected no notification below threshold, got %d calls", ch.calls)
	}
}

func TestNotifySingle_AtThresholdDelivered(t *testing.T) {
	r := newReader(t, settings.NotificationSettings{Enabled: true, MinImpact: "high"})
	ch := &recordingChannel{}
	n := New(r, ch)

	i := insight.New("anomaly", "big problem", "", insight.ImpactHigh, 0.9)
	n.NotifySingle(context.Background(), i)

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.calls != 1 {
		t.Fatalf("expected one notification, got %d", ch.calls)
	}
}

func TestNotifySingle_DisabledSuppressesEverything(t *testing.T) {
	r := newReader(t, settings.NotificationSettings{Enabled: false, MinImpact: "low"})
	ch := &recordingChannel{}
	n := New(r, ch)

	i := insight.New("anomaly", "critical", "", insight.ImpactCritical, 1.0)
	n.NotifySingle(context.Background(), i)

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.calls != 0 {
		t.Fatalf("expected notifications disabled entirely, got %d calls", ch.calls)
	}
}

func TestQuietHours_SameDayWindow(t *testing.T) {
	r := newReader(t, settings.NotificationSettings{Enabled: true, MinImpact: "low", QuietHoursStart: "13:00", QuietHoursEnd: "14:00"})
	ch := &recordingChannel{}
	n := New(r, ch)
	n.now = func() time.Time {
		return time.Date(2026, 1, 1, 13, 30, 0, 0, time.UTC)
	}

	i := insight.New("anomaly", "x", "", insight.ImpactCritical, 1.0)
	n.NotifySingle(context.Background(), i)

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.calls != 0 {
		t.Fatalf("expected suppression during quiet hours, got %d calls", ch.calls)
	}
}

func TestQuietHours_MidnightWraparound(t *testing.T) {
	r := newReader(t, settings.NotificationSettings{Enabled: true, MinImpact: "low", QuietHoursStart: "22:00", QuietHoursEnd: "07:00"})
	ch := &recordingChannel{}
	n := New(r, ch)
	n.now = func() time.Time {
		return time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC) // 02:00, inside the wrapped window
	}

	i := insight.New("anomaly", "x", "", insight.ImpactCritical, 1.0)
	n.NotifySingle(context.Background(), i)

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.calls != 0 {
		t.Fatalf("expected suppression inside midnight-wrapped quiet hours, got %d calls", ch.calls)
	}
}

func TestNotifyAggregate_ZeroCountNoOp(t *testing.T) {
	r := newReader(t, settings.NotificationSettings{Enabled: true, MinImpact: "low"})
	ch := &recordingChannel{}
	n := New(r, ch)

	n.NotifyAggregate(context.Background(), 0, insight.ImpactCritical)

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.calls != 0 {
		t.Fatalf("expected no call for zero count, got %d", ch.calls)
	}
}
