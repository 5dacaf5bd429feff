// Package symbols resolves the tradable universe shared by the configured
// exchanges. Per-exchange listings are cached with a TTL so repeated scans
// don't hammer the venues.
package symbols

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantatc/crossx/internal/util"
)

// Lister exposes an exchange's tradable symbols.
type Lister interface {
	Name() string
	ListSymbols(ctx context.Context) ([]string, error)
}

type cacheEntry struct {
	fetched time.Time
	list    []string
}

// Manager caches per-exchange listings and intersects them on demand.
// Safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	listers []Lister
	log     zerolog.Logger
	cache   map[string]cacheEntry
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source, used by tests to expire the cache.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(ttl time.Duration, listers []Lister, log zerolog.Logger, opts ...Option) (*Manager, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("symbols: ttl must be positive, got %v", ttl)
	}
	if len(listers) == 0 {
		return nil, fmt.Errorf("symbols: at least one exchange lister required")
	}
	m := &Manager{
		ttl:     ttl,
		now:     time.Now,
		listers: listers,
		log:     util.ComponentLogger(log, "symbols"),
		cache:   make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Exchange returns the cached listing for one exchange, refreshing it when
// the cache entry is older than the TTL.
func (m *Manager) Exchange(ctx context.Context, name string) ([]string, error) {
	var lister Lister
	for _, l := range m.listers {
		if l.Name() == name {
			lister = l
			break
		}
	}
	if lister == nil {
		return nil, fmt.Errorf("symbols: unknown exchange %q", name)
	}

	m.mu.Lock()
	if e, ok := m.cache[name]; ok && m.now().Sub(e.fetched) < m.ttl {
		out := append([]string(nil), e.list...)
		m.mu.Unlock()
		return out, nil
	}
	m.mu.Unlock()

	list, err := lister.ListSymbols(ctx)
	if err != nil {
		return nil, err
	}
	sorted := append([]string(nil), list...)
	sort.Strings(sorted)

	m.mu.Lock()
	m.cache[name] = cacheEntry{fetched: m.now(), list: sorted}
	m.mu.Unlock()

	m.log.Debug().Str("exchange", name).Int("symbols", len(sorted)).Msg("listing refreshed")
	return append([]string(nil), sorted...), nil
}

// Common returns the sorted intersection of every exchange's listing,
// optionally restricted to symbols quoted in the given currency (e.g.
// "USDT" keeps BTCUSDT and drops BTCEUR). An error from any venue aborts
// the intersection.
func (m *Manager) Common(ctx context.Context, quote string) ([]string, error) {
	counts := make(map[string]int)
	for _, l := range m.listers {
		list, err := m.Exchange(ctx, l.Name())
		if err != nil {
			return nil, fmt.Errorf("symbols: listing %s: %w", l.Name(), err)
		}
		seen := make(map[string]bool, len(list))
		for _, s := range list {
			if quote != "" && !strings.HasSuffix(s, quote) {
				continue
			}
			if !seen[s] {
				seen[s] = true
				counts[s]++
			}
		}
	}

	var common []string
	for s, n := range counts {
		if n == len(m.listers) {
			common = append(common, s)
		}
	}
	sort.Strings(common)
	return common, nil
}

// Invalidate drops every cached listing so the next call refetches.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.cache = make(map[string]cacheEntry)
	m.mu.Unlock()
}
