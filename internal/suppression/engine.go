// Package suppression decides whether a device event is a consequence of an
// upstream failure that has already been reported.
package suppression

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"topograph/internal/cache"
	"topograph/internal/graphstore"
	"topograph/internal/logger"
	"topograph/internal/metrics"
	"topograph/internal/settings"
	"topograph/internal/statusstate"
	"topograph/pkg/models"
)

// Status is the liveness of a device.
type Status = statusstate.Status

const (
	StatusUp   = statusstate.Up
	StatusDown = statusstate.Down
)

const (
	DefaultPingEventClass = "/Status/Ping"
	DefaultLayer          = "layer2"
	defaultLockStripes    = 64
)

// EdgeSource returns the edges touching node, oriented node-first.
type EdgeSource interface {
	Edges(ctx context.Context, node string, layers []string) ([]graphstore.Edge, error)
}

// Resolver tells graph-addressable objects (devices) apart from bare leaf
// identifiers such as MAC addresses.
type Resolver interface {
	IsObject(id string) bool
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(id string) bool

// IsObject implements Resolver.
func (f ResolverFunc) IsObject(id string) bool { return f(id) }

// PathResolver treats path-like identifiers as objects.
var PathResolver = ResolverFunc(func(id string) bool { return strings.HasPrefix(id, "/") })

// TTLs holds the lifetime of each engine cache.
type TTLs struct {
	Status    time.Duration
	Settings  time.Duration
	Gateways  time.Duration
	Neighbors time.Duration
	Paths     time.Duration
}

// DefaultTTLs returns the standard cache lifetimes.
func DefaultTTLs() TTLs {
	return TTLs{
		Status:    50 * time.Second,
		Settings:  600 * time.Second,
		Gateways:  600 * time.Second,
		Neighbors: 3300 * time.Second,
		Paths:     3300 * time.Second,
	}
}

// Options configures an Engine. Edges and Settings are required.
type Options struct {
	Edges          EdgeSource
	Settings       settings.Source
	Status         statusstate.Store
	Resolver       Resolver
	Layers         []string
	PingEventClass string
	TTL            TTLs
	Metrics        *metrics.Registry
	Now            func() time.Time
	LockStripes    int
}

type pathKey struct {
	node    string
	gateway string
}

// Engine is safe for concurrent use. Events for the same device are
// serialized; events for different devices run in parallel.
type Engine struct {
	edges     EdgeSource
	settings  settings.Source
	store     statusstate.Store
	resolver  Resolver
	layers    []string
	pingClass string
	metrics   *metrics.Registry
	now       func() time.Time

	statusCache   *cache.Cache[string, Status]
	settingsCache *cache.Cache[string, settings.Settings]
	gatewayCache  *cache.Cache[string, []string]
	neighborCache *cache.Cache[string, []string]
	pathCache     *cache.Cache[pathKey, [][]string]

	locks []sync.Mutex
}

// NewEngine builds an engine from opts, filling in defaults.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Edges == nil {
		return nil, fmt.Errorf("suppression: edge source is required")
	}
	if opts.Settings == nil {
		return nil, fmt.Errorf("suppression: settings source is required")
	}
	if opts.Status == nil {
		opts.Status = statusstate.NewMemoryStore()
	}
	if opts.Resolver == nil {
		opts.Resolver = PathResolver
	}
	if len(opts.Layers) == 0 {
		opts.Layers = []string{DefaultLayer}
	}
	if opts.PingEventClass == "" {
		opts.PingEventClass = DefaultPingEventClass
	}
	def := DefaultTTLs()
	if opts.TTL.Status <= 0 {
		opts.TTL.Status = def.Status
	}
	if opts.TTL.Settings <= 0 {
		opts.TTL.Settings = def.Settings
	}
	if opts.TTL.Gateways <= 0 {
		opts.TTL.Gateways = def.Gateways
	}
	if opts.TTL.Neighbors <= 0 {
		opts.TTL.Neighbors = def.Neighbors
	}
	if opts.TTL.Paths <= 0 {
		opts.TTL.Paths = def.Paths
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LockStripes <= 0 {
		opts.LockStripes = defaultLockStripes
	}

	m := opts.Metrics
	hook := func(name string) func(bool) {
		return func(hit bool) { m.RecordCacheLookup(name, hit) }
	}
	return &Engine{
		edges:     opts.Edges,
		settings:  opts.Settings,
		store:     opts.Status,
		resolver:  opts.Resolver,
		layers:    append([]string(nil), opts.Layers...),
		pingClass: opts.PingEventClass,
		metrics:   m,
		now:       opts.Now,

		statusCache: cache.New[string, Status](opts.TTL.Status,
			cache.WithResolver[string, Status](cache.NewerWins[Status]),
			cache.WithClock[string, Status](opts.Now),
			cache.WithLookupHook[string, Status](hook("status"))),
		settingsCache: cache.New[string, settings.Settings](opts.TTL.Settings,
			cache.WithClock[string, settings.Settings](opts.Now),
			cache.WithLookupHook[string, settings.Settings](hook("settings"))),
		gatewayCache: cache.New[string, []string](opts.TTL.Gateways,
			cache.WithClock[string, []string](opts.Now),
			cache.WithLookupHook[string, []string](hook("gateways"))),
		neighborCache: cache.New[string, []string](opts.TTL.Neighbors,
			cache.WithClock[string, []string](opts.Now),
			cache.WithLookupHook[string, []string](hook("neighbors"))),
		pathCache: cache.New[pathKey, [][]string](opts.TTL.Paths,
			cache.WithClock[pathKey, [][]string](opts.Now),
			cache.WithLookupHook[pathKey, [][]string](hook("paths"))),

		locks: make([]sync.Mutex, opts.LockStripes),
	}, nil
}

func (e *Engine) lock(device string) func() {
	mu := &e.locks[xxhash.Sum64String(device)%uint64(len(e.locks))]
	mu.Lock()
	return mu.Unlock
}

// ProcessEvent marks ev suppressed, with its root causes, when it is explained
// by a failure already known to the engine. Failures are logged and leave the
// event unsuppressed.
func (e *Engine) ProcessEvent(ctx context.Context, ev *models.Event) {
	if ev == nil || strings.TrimSpace(ev.Device) == "" {
		return
	}
	unlock := e.lock(ev.Device)
	defer unlock()
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Suppression panic for %s: %v", ev.Device, r)
			ev.Suppressed = false
			ev.RootCauses = ""
			e.metrics.RecordEvent("error")
		}
	}()

	outcome, err := e.process(ctx, ev)
	if err != nil {
		logger.Warnf("Suppression check failed for %s (%s): %v", ev.Device, ev.EventClass, err)
		ev.Suppressed = false
		ev.RootCauses = ""
		outcome = "error"
	}
	e.metrics.RecordEvent(outcome)
}

func (e *Engine) process(ctx context.Context, ev *models.Event) (string, error) {
	device := ev.Device
	observed := ev.Timestamp
	if observed.IsZero() {
		observed = e.now()
	}

	ping := ev.EventClass == e.pingClass
	if ping {
		status := StatusDown
		if ev.Cleared() {
			status = StatusUp
		}
		e.setStatus(ctx, device, status, observed)
	}

	s, err := e.Settings(ctx, device)
	if err != nil {
		return "", err
	}
	if !s.Enabled() {
		return "disabled", nil
	}

	if ping {
		if ev.Cleared() || !s.PathsDownSuppression {
			return "passed", nil
		}
		causes, err := e.RootCauses(ctx, device, s)
		if err != nil {
			return "", err
		}
		if len(causes) == 0 {
			return "passed", nil
		}
		ev.Suppressed = true
		ev.RootCauses = strings.Join(causes, ",")
		logger.Debugf("Suppressed ping down for %s, root causes %s", device, ev.RootCauses)
		return "suppressed", nil
	}

	if s.DeviceDownSuppression && e.status(ctx, device) == StatusDown {
		ev.Suppressed = true
		ev.RootCauses = device
		return "suppressed", nil
	}
	return "passed", nil
}

// Settings returns the cached settings for entity.
func (e *Engine) Settings(ctx context.Context, entity string) (settings.Settings, error) {
	return e.settingsCache.GetOrLoad(ctx, entity, func(ctx context.Context) (settings.Settings, error) {
		s, err := e.settings.Settings(ctx, entity)
		if err != nil {
			return settings.Settings{}, fmt.Errorf("load settings for %s: %w", entity, err)
		}
		return s, nil
	})
}

// Status returns the cached status of device. Unknown devices are UP.
func (e *Engine) Status(ctx context.Context, device string) Status {
	return e.status(ctx, device)
}

func (e *Engine) status(ctx context.Context, device string) Status {
	if entry, ok := e.statusCache.GetEntry(device); ok {
		return entry.Value
	}
	rec, found, err := e.store.Lookup(ctx, device)
	if err != nil {
		logger.Warnf("Status lookup for %s failed, assuming UP: %v", device, err)
		return StatusUp
	}
	if !found {
		rec = statusstate.Record{Status: StatusUp}
	}
	if !e.statusCache.Put(device, rec.Status, rec.Observed) {
		if entry, ok := e.statusCache.GetEntry(device); ok {
			return entry.Value
		}
	}
	return rec.Status
}

// SetStatus records status for device observed at the given time. It reports
// whether the value was accepted; an older observation than the cached one is
// ignored.
func (e *Engine) SetStatus(ctx context.Context, device string, status Status, observed time.Time) bool {
	unlock := e.lock(device)
	defer unlock()
	return e.setStatus(ctx, device, status, observed)
}

func (e *Engine) setStatus(ctx context.Context, device string, status Status, observed time.Time) bool {
	e.status(ctx, device)
	if !e.statusCache.Put(device, status, observed) {
		return false
	}
	if _, err := e.store.Update(ctx, device, statusstate.Record{Status: status, Observed: observed}); err != nil {
		logger.Warnf("Persist status %s for %s failed: %v", status, device, err)
	}
	return true
}

// Neighbors returns the sorted neighbors of node over the engine's layers.
func (e *Engine) Neighbors(ctx context.Context, node string) ([]string, error) {
	return e.neighborCache.GetOrLoad(ctx, node, func(ctx context.Context) ([]string, error) {
		edges, err := e.edges.Edges(ctx, node, e.layers)
		if err != nil {
			return nil, fmt.Errorf("neighbors of %s: %w", node, err)
		}
		out := make([]string, 0, len(edges))
		for _, edge := range edges {
			if edge.Target != node {
				out = append(out, edge.Target)
			}
		}
		sort.Strings(out)
		return out, nil
	})
}

// RootCauses returns the sorted entities responsible for device being
// unreachable, or nothing when device is still reachable through a healthy path.
func (e *Engine) RootCauses(ctx context.Context, device string, s settings.Settings) ([]string, error) {
	gateways, err := e.Gateways(ctx, device, s)
	if err != nil {
		return nil, err
	}
	if len(gateways) == 0 {
		return nil, nil
	}
	for _, g := range gateways {
		if g == device {
			return nil, nil
		}
	}

	allDown := true
	for _, g := range gateways {
		down, err := e.isRootCause(ctx, g)
		if err != nil {
			return nil, err
		}
		if !down {
			allDown = false
			break
		}
	}
	if allDown {
		e.metrics.RecordRootCauseSearch("gateways_down")
		return append([]string(nil), gateways...), nil
	}

	e.metrics.RecordRootCauseSearch("paths")
	paths, err := e.ShortestPaths(ctx, device, gateways)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, nil
	}

	causes := make(map[string]struct{})
	for _, p := range paths {
		cause := ""
		for i := len(p) - 1; i >= 1; i-- {
			down, err := e.isRootCause(ctx, p[i])
			if err != nil {
				return nil, err
			}
			if down {
				cause = p[i]
				break
			}
		}
		if cause == "" {
			return nil, nil
		}
		causes[cause] = struct{}{}
	}

	out := make([]string, 0, len(causes))
	for c := range causes {
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}

// isRootCause reports whether node is DOWN and may be blamed for others.
func (e *Engine) isRootCause(ctx context.Context, node string) (bool, error) {
	if e.status(ctx, node) != StatusDown {
		return false, nil
	}
	s, err := e.Settings(ctx, node)
	if err != nil {
		return false, err
	}
	return s.PotentialRootCause, nil
}

// ClearCaches drops every cached value. The backing stores are untouched.
func (e *Engine) ClearCaches() {
	e.statusCache.Clear()
	e.settingsCache.Clear()
	e.gatewayCache.Clear()
	e.neighborCache.Clear()
	e.pathCache.Clear()
}

// Sweep evicts expired entries from every cache and returns how many were
// removed.
func (e *Engine) Sweep() int {
	return e.statusCache.Purge() +
		e.settingsCache.Purge() +
		e.gatewayCache.Purge() +
		e.neighborCache.Purge() +
		e.pathCache.Purge()
}

// RunSweeper calls Sweep every interval until ctx is done.
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := e.Sweep(); n > 0 {
				logger.Debugf("Evicted %d expired suppression cache entries", n)
			}
		}
	}
}
