// Package notifier delivers Insight notifications through an external
// channel, gated by the user's notification settings: enabled flag,
// minimum impact threshold, and a quiet-hours window. A downstream
// channel failure is logged and swallowed — it must never block the
// insight pipeline that produced the finding.
package notifier

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/aethercore/aether/internal/insight"
	"github.com/aethercore/aether/internal/settings"
)

// Channel delivers a rendered notification to wherever the user receives
// them (push, email, chat). The wire protocol is out of scope; the core
// depends only on this interface.
type Channel interface {
	Notify(ctx context.Context, title, body string) error
}

// ChannelFunc adapts a function to a Channel.
type ChannelFunc func(ctx context.Context, title, body string) error

func (f ChannelFunc) Notify(ctx context.Context, title, body string) error {
	return f(ctx, title, body)
}

// InsightNotifier filters and dispatches Insight notifications according
// to the current settings.AppSettings.Notifications document.
type InsightNotifier struct {
	settingsReader *settings.CachedReader
	channel        Channel
	logger         *slog.Logger
	now            func() time.Time
}

func New(settingsReader *settings.CachedReader, channel Channel) *InsightNotifier {
	return &InsightNotifier{
		settingsReader: settingsReader,
		channel:        channel,
		logger:         slog.Default().With("component", "notifier"),
		now:            time.Now,
	}
}

// NotifySingle delivers a notification for one Insight if it clears the
// impact threshold and the current time is outside quiet hours.
func (n *InsightNotifier) NotifySingle(ctx context.Context, i *insight.Insight) {
	cfg, err := n.settingsReader.Get(ctx)
	if err != nil {
		n.logger.Warn("notifier: failed to read settings, skipping", "error", err)
		return
	}
	if !n.shouldNotify(cfg.Notifications, i.Impact) {
		return
	}

	title := i.Title
	body := i.Description
	if err := n.channel.Notify(ctx, title, body); err != nil {
		n.logger.Warn("notifier: channel delivery failed", "insight_id", i.ID, "error", err)
	}
}

// NotifyAggregate delivers a single rolled-up notification summarizing
// count insights at or above the threshold, used when a batch of
// insights is produced by one analysis run.
func (n *InsightNotifier) NotifyAggregate(ctx context.Context, count int, topImpact insight.Impact) {
	if count == 0 {
		return
	}
	cfg, err := n.settingsReader.Get(ctx)
	if err != nil {
		n.logger.Warn("notifier: failed to read settings, skipping", "error", err)
		return
	}
	if !n.shouldNotify(cfg.Notifications, topImpact) {
		return
	}

	title := strconv.Itoa(count) + " new insights"
	body := "New insights are available for review."
	if err := n.channel.Notify(ctx, title, body); err != nil {
		n.logger.Warn("notifier: channel delivery failed", "count", count, "error", err)
	}
}

func (n *InsightNotifier) shouldNotify(cfg settings.NotificationSettings, impact insight.Impact) bool {
	if !cfg.Enabled {
		return false
	}
	minImpact := insight.Impact(cfg.MinImpact)
	if minImpact == "" {
		minImpact = insight.ImpactHigh
	}
	if !impact.GreaterOrEqual(minImpact) {
		return false
	}
	if n.inQuietHours(cfg) {
		return false
	}
	return true
}

// inQuietHours reports whether the current time of day falls within the
// configured quiet-hours window. The window wraps midnight when start >
// end (e.g. 22:00-07:00 spans two calendar days).
func (n *InsightNotifier) inQuietHours(cfg settings.NotificationSettings) bool {
	if cfg.QuietHoursStart == "" || cfg.QuietHoursEnd == "" {
		return false
	}
	start, ok1 := parseHHMM(cfg.QuietHoursStart)
	end, ok2 := parseHHMM(cfg.QuietHoursEnd)
	if !ok1 || !ok2 {
		return false
	}

	now := n.now()
	cur := now.Hour()*60 + now.Minute()

	if start <= end {
		return cur >= start && cur < end
	}
	// Wraps midnight.
	return cur >= start || cur < end
}

// parseHHMM parses "HH:MM" into minutes since midnight.
func parseHHMM(s string) (int, bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}
