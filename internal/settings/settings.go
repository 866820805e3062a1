// Package settings holds the singleton AppSettings document and its
// defaults-merged-with-overrides read path, cached for a short window to
// keep the hot streaming path off the settings store.
package settings

import (
	"context"
	"sync"
	"time"

	"github.com/aethercore/aether/internal/errs"
)

// cacheTTL is how long a read-through cache entry is trusted before the
// next Get re-fetches from the Store.
const cacheTTL = 30 * time.Second

// ChatSettings controls orchestrator-facing defaults.
type ChatSettings struct {
	MaxToolIterations int           // default 10
	ToolTimeout       time.Duration // default 30s
	AnalysisTimeout   time.Duration // default 180s
	StreamTimeout     time.Duration // default 900s
}

// DashboardSettings controls UI-facing display defaults.
type DashboardSettings struct {
	DefaultEntityLimit int
	RefreshInterval    time.Duration
}

// DataScienceSettings controls the analysis pipeline defaults.
type DataScienceSettings struct {
	DefaultDepth    string // quick|standard|deep
	DefaultStrategy string // parallel|teamwork
	DiscoverySync   time.Duration
}

// NotificationSettings controls the insight notifier gate.
type NotificationSettings struct {
	Enabled         bool
	MinImpact       string // default "high"
	QuietHoursStart string // "HH:MM" or "" for unset
	QuietHoursEnd   string // "HH:MM" or "" for unset
}

// AppSettings is the full settings document. Zero-value fields are filled
// from Defaults() before being returned to callers.
type AppSettings struct {
	Chat          ChatSettings
	Dashboard     DashboardSettings
	DataScience   DataScienceSettings
	Notifications NotificationSettings
}

// Defaults returns the baseline document applied wherever a stored
// override is absent.
func Defaults() AppSettings {
	return AppSettings{
		Chat: ChatSettings{
			MaxToolIterations: 10,
			ToolTimeout:       30 * time.Second,
			AnalysisTimeout:   180 * time.Second,
			StreamTimeout:     900 * time.Second,
		},
		Dashboard: DashboardSettings{
			DefaultEntityLimit: 50,
			RefreshInterval:    10 * time.Second,
		},
		DataScience: DataScienceSettings{
			DefaultDepth:    "standard",
			DefaultStrategy: "parallel",
			DiscoverySync:   6 * time.Hour,
		},
		Notifications: NotificationSettings{
			Enabled:   true,
			MinImpact: "high",
		},
	}
}

// merge overlays non-zero fields of override onto the Defaults() baseline.
func merge(override AppSettings) AppSettings {
	out := Defaults()

	if override.Chat.MaxToolIterations != 0 {
		out.Chat.MaxToolIterations = override.Chat.MaxToolIterations
	}
	if override.Chat.ToolTimeout != 0 {
		out.Chat.ToolTimeout = override.Chat.ToolTimeout
	}
	if override.Chat.AnalysisTimeout != 0 {
		out.Chat.AnalysisTimeout = override.Chat.AnalysisTimeout
	}
	if override.Chat.StreamTimeout != 0 {
		out.Chat.StreamTimeout = override.Chat.StreamTimeout
	}

	if override.Dashboard.DefaultEntityLimit != 0 {
		out.Dashboard.DefaultEntityLimit = override.Dashboard.DefaultEntityLimit
	}
	if override.Dashboard.RefreshInterval != 0 {
		out.Dashboard.RefreshInterval = override.Dashboard.RefreshInterval
	}

	if override.DataScience.DefaultDepth != "" {
		out.DataScience.DefaultDepth = override.DataScience.DefaultDepth
	}
	if override.DataScience.DefaultStrategy != "" {
		out.DataScience.DefaultStrategy = override.DataScience.DefaultStrategy
	}
	if override.DataScience.DiscoverySync != 0 {
		out.DataScience.DiscoverySync = override.DataScience.DiscoverySync
	}

	// Notifications.Enabled is a bool: an explicit override document always
	// wins on this field rather than being treated as "unset at false".
	out.Notifications = override.Notifications
	if out.Notifications.MinImpact == "" {
		out.Notifications.MinImpact = Defaults().Notifications.MinImpact
	}

	return out
}

// Clamp validates and clamps numeric fields to their documented ranges,
// returning a validation error if a field is out of range in a way that
// cannot be safely clamped (negative durations, non-positive limits).
func (s *AppSettings) Clamp() error {
	if s.Chat.MaxToolIterations < 0 {
		return errs.Validationf("chat.max_tool_iterations must be >= 0, got %d", s.Chat.MaxToolIterations)
	}
	if s.Chat.ToolTimeout < 0 || s.Chat.AnalysisTimeout < 0 || s.Chat.StreamTimeout < 0 {
		return errs.Validation("chat timeouts must be non-negative")
	}
	if s.Dashboard.DefaultEntityLimit < 0 {
		return errs.Validationf("dashboard.default_entity_limit must be >= 0, got %d", s.Dashboard.DefaultEntityLimit)
	}
	return nil
}

// Store is the repository interface for the settings override document.
// Absence of a document (ErrNotFound) is a valid state meaning "use
// Defaults() entirely".
type Store interface {
	Get(ctx context.Context) (AppSettings, error)
	Put(ctx context.Context, s AppSettings) error
}

// CachedReader wraps a Store with a short-lived in-process read cache,
// invalidated on every Put, so the hot path (one read per streamed
// request) does not round-trip to the store on every call.
type CachedReader struct {
	store Store

	mu       sync.Mutex
	cached   AppSettings
	cachedAt time.Time
	valid    bool
}

func NewCachedReader(store Store) *CachedReader {
	return &CachedReader{store: store}
}

// Get returns the merged, clamped settings document, using the cache when
// fresh.
func (c *CachedReader) Get(ctx context.Context) (AppSettings, error) {
	c.mu.Lock()
	if c.valid && time.Since(c.cachedAt) < cacheTTL {
		defer c.mu.Unlock()
		return c.cached, nil
	}
	c.mu.Unlock()

	override, err := c.store.Get(ctx)
	if err != nil && !errs.Is(err, errs.KindNotFound) {
		return AppSettings{}, err
	}
	merged := Defaults()
	if err == nil {
		merged = merge(override)
	}
	if err := merged.Clamp(); err != nil {
		return AppSettings{}, err
	}

	c.mu.Lock()
	c.cached = merged
	c.cachedAt = time.Now()
	c.valid = true
	c.mu.Unlock()

	return merged, nil
}

// Put writes the override document and invalidates the cache.
func (c *CachedReader) Put(ctx context.Context, s AppSettings) error {
	if err := s.Clamp(); err != nil {
		return err
	}
	if err := c.store.Put(ctx, s); err != nil {
		return err
	}
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
	return nil
}

// MemoryStore is an in-memory Store for tests and single-instance
// deployments.
type MemoryStore struct {
	mu    sync.RWMutex
	doc   AppSettings
	isSet bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Get(ctx context.Context) (AppSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.isSet {
		return AppSettings{}, errs.NotFound("no settings override document")
	}
	return m.doc, nil
}

func (m *MemoryStore) Put(ctx context.Context, s AppSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc = s
	m.isSet = true
	return nil
}
