package suppression

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"topograph/internal/graphstore"
	"topograph/internal/settings"
	"topograph/internal/statusstate"
	"topograph/pkg/models"
)

type countingSource struct {
	inner EdgeSource
	calls atomic.Int64
	err   error
}

func (c *countingSource) Edges(ctx context.Context, node string, layers []string) ([]graphstore.Edge, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.inner.Edges(ctx, node, layers)
}

func buildStore(t *testing.T, pairs ...[2]string) *graphstore.Store {
	t.Helper()
	s := graphstore.New(graphstore.NewMemoryBackend(), graphstore.Options{})
	edges := make([]graphstore.Edge, 0, len(pairs))
	for _, p := range pairs {
		edges = append(edges, graphstore.Edge{Source: p[0], Target: p[1], Layers: []string{"layer2"}})
	}
	if err := s.Provider("test").UpdateEdges(context.Background(), edges, "1"); err != nil {
		t.Fatalf("update edges: %v", err)
	}
	return s
}

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newEngine(t *testing.T, src EdgeSource, s settings.Source) *Engine {
	t.Helper()
	e, err := NewEngine(Options{
		Edges:    src,
		Settings: s,
		Now:      func() time.Time { return base },
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func pathsEnabled(gateways ...string) settings.Static {
	return settings.Static{Fallback: settings.Settings{
		DeviceDownSuppression: true,
		PathsDownSuppression:  true,
		PotentialRootCause:    true,
		Gateways:              gateways,
	}}
}

func pingDown(device string, at time.Time) *models.Event {
	return &models.Event{Device: device, EventClass: DefaultPingEventClass, Severity: models.SeverityCritical, Timestamp: at}
}

func diamond(t *testing.T) *graphstore.Store {
	return buildStore(t,
		[2]string{"host", "rack_a"}, [2]string{"rack_a", "row"},
		[2]string{"host", "rack_b"}, [2]string{"rack_b", "row"},
	)
}

func TestDiamondSuppressedOnlyWhenEveryPathIsDown(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, diamond(t), pathsEnabled("row"))

	e.SetStatus(ctx, "rack_a", StatusDown, base)
	ev := pingDown("host", base.Add(time.Second))
	e.ProcessEvent(ctx, ev)
	if ev.Suppressed || ev.RootCauses != "" {
		t.Fatalf("one healthy path must keep the event, got %+v", ev)
	}

	e.SetStatus(ctx, "rack_b", StatusDown, base)
	ev = pingDown("host", base.Add(2*time.Second))
	e.ProcessEvent(ctx, ev)
	if !ev.Suppressed || ev.RootCauses != "rack_a,rack_b" {
		t.Fatalf("expected suppression by rack_a,rack_b, got %+v", ev)
	}
}

func TestAnyHealthyPathOverridesOtherGateways(t *testing.T) {
	ctx := context.Background()
	src := buildStore(t,
		[2]string{"host", "sw1"}, [2]string{"sw1", "gw1"},
		[2]string{"host", "sw2"}, [2]string{"sw2", "gw2"},
	)
	e := newEngine(t, src, pathsEnabled("gw1", "gw2"))
	e.SetStatus(ctx, "sw1", StatusDown, base)

	causes, err := e.RootCauses(ctx, "host", pathsEnabled("gw1", "gw2").Fallback)
	if err != nil {
		t.Fatalf("root causes: %v", err)
	}
	if len(causes) != 0 {
		t.Fatalf("expected no root causes while gw2 is reachable, got %v", causes)
	}
}

func TestAllGatewaysDownSkipsPathSearch(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{inner: diamond(t)}
	e := newEngine(t, src, pathsEnabled("rack_a", "rack_b"))
	e.SetStatus(ctx, "rack_a", StatusDown, base)
	e.SetStatus(ctx, "rack_b", StatusDown, base)

	ev := pingDown("host", base.Add(time.Second))
	e.ProcessEvent(ctx, ev)
	if !ev.Suppressed || ev.RootCauses != "rack_a,rack_b" {
		t.Fatalf("expected gateway root causes, got %+v", ev)
	}
	if n := src.calls.Load(); n != 0 {
		t.Fatalf("expected no graph lookups, got %d", n)
	}
}

func TestDeviceIsNeverItsOwnRootCause(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, diamond(t), pathsEnabled("row"))
	e.SetStatus(ctx, "rack_a", StatusDown, base)
	e.SetStatus(ctx, "rack_b", StatusDown, base)

	ev := pingDown("row", base.Add(time.Second))
	e.ProcessEvent(ctx, ev)
	if ev.Suppressed {
		t.Fatalf("a gateway must not be suppressed by itself, got %+v", ev)
	}
}

func TestPotentialRootCauseFlag(t *testing.T) {
	ctx := context.Background()
	s := pathsEnabled("row")
	s.Entities = map[string]settings.Settings{
		"rack_b": {PathsDownSuppression: true, PotentialRootCause: false},
	}
	e := newEngine(t, diamond(t), s)
	e.SetStatus(ctx, "rack_a", StatusDown, base)
	e.SetStatus(ctx, "rack_b", StatusDown, base)

	ev := pingDown("host", base.Add(time.Second))
	e.ProcessEvent(ctx, ev)
	if ev.Suppressed {
		t.Fatalf("rack_b cannot be blamed, so its path counts as healthy: %+v", ev)
	}
}

func TestClearIsNeverSuppressed(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, diamond(t), pathsEnabled("row"))
	e.SetStatus(ctx, "rack_a", StatusDown, base)
	e.SetStatus(ctx, "rack_b", StatusDown, base)
	e.SetStatus(ctx, "host", StatusDown, base)

	ev := &models.Event{Device: "host", EventClass: DefaultPingEventClass, Severity: models.SeverityClear, Timestamp: base.Add(time.Minute)}
	e.ProcessEvent(ctx, ev)
	if ev.Suppressed {
		t.Fatalf("clear must not be suppressed")
	}
	if got := e.Status(ctx, "host"); got != StatusUp {
		t.Fatalf("expected host UP after clear, got %s", got)
	}
}

func TestDeviceDownSuppressesOtherEvents(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, diamond(t), pathsEnabled())

	ev := &models.Event{Device: "host", EventClass: "/Perf/CPU", Severity: models.SeverityWarning, Timestamp: base}
	e.ProcessEvent(ctx, ev)
	if ev.Suppressed {
		t.Fatalf("device is up, event must pass")
	}

	e.ProcessEvent(ctx, pingDown("host", base))
	ev = &models.Event{Device: "host", EventClass: "/Perf/CPU", Severity: models.SeverityWarning, Timestamp: base.Add(time.Second)}
	e.ProcessEvent(ctx, ev)
	if !ev.Suppressed || ev.RootCauses != "host" {
		t.Fatalf("expected suppression by host itself, got %+v", ev)
	}
}

func TestDisabledSettingsLeaveEventUnchanged(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, diamond(t), settings.Static{Fallback: settings.Defaults()})
	e.SetStatus(ctx, "rack_a", StatusDown, base)
	e.SetStatus(ctx, "rack_b", StatusDown, base)

	ev := pingDown("host", base.Add(time.Second))
	e.ProcessEvent(ctx, ev)
	if ev.Suppressed || ev.RootCauses != "" {
		t.Fatalf("disabled suppression must leave event unchanged, got %+v", ev)
	}
	if got := e.Status(ctx, "host"); got != StatusDown {
		t.Fatalf("ping status is still tracked, got %s", got)
	}
}

func TestGraphErrorsLeaveEventUnsuppressed(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{inner: diamond(t), err: errors.New("connection reset")}
	e := newEngine(t, src, pathsEnabled("row"))
	e.SetStatus(ctx, "rack_a", StatusDown, base)
	e.SetStatus(ctx, "rack_b", StatusDown, base)

	ev := pingDown("host", base.Add(time.Second))
	e.ProcessEvent(ctx, ev)
	if ev.Suppressed {
		t.Fatalf("failure must not suppress, got %+v", ev)
	}
}

func TestSetStatusNewerWins(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, diamond(t), pathsEnabled())

	if !e.SetStatus(ctx, "host", StatusDown, base) {
		t.Fatalf("first status must be accepted")
	}
	if e.SetStatus(ctx, "host", StatusUp, base.Add(-time.Minute)) {
		t.Fatalf("older status must be rejected")
	}
	if got := e.Status(ctx, "host"); got != StatusDown {
		t.Fatalf("expected DOWN, got %s", got)
	}
	if !e.SetStatus(ctx, "host", StatusUp, base.Add(time.Minute)) {
		t.Fatalf("newer status must be accepted")
	}
	if got := e.Status(ctx, "host"); got != StatusUp {
		t.Fatalf("expected UP, got %s", got)
	}
}

func TestStatusReadsThroughStore(t *testing.T) {
	ctx := context.Background()
	store := statusstate.NewMemoryStore()
	store.Update(ctx, "rack_a", statusstate.Record{Status: statusstate.Down, Observed: base})

	e, err := NewEngine(Options{Edges: diamond(t), Settings: pathsEnabled(), Status: store, Now: func() time.Time { return base }})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if got := e.Status(ctx, "rack_a"); got != StatusDown {
		t.Fatalf("expected persisted DOWN, got %s", got)
	}
	if got := e.Status(ctx, "unknown"); got != StatusUp {
		t.Fatalf("unknown devices are UP, got %s", got)
	}
	if e.SetStatus(ctx, "rack_a", StatusUp, base.Add(-time.Second)) {
		t.Fatalf("older status must not replace the persisted one")
	}

	e.SetStatus(ctx, "rack_b", StatusDown, base)
	e.ClearCaches()
	if got := e.Status(ctx, "rack_b"); got != StatusDown {
		t.Fatalf("status must survive cache reset, got %s", got)
	}
}

func TestConcurrentStatusUpdatesKeepNewestObservation(t *testing.T) {
	ctx := context.Background()
	store := statusstate.NewMemoryStore()
	e, err := NewEngine(Options{
		Edges:    diamond(t),
		Settings: settings.Static{Fallback: settings.Defaults()},
		Status:   store,
		Now:      func() time.Time { return base },
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	const n = 64
	newest := base.Add(time.Duration(n-1) * time.Second)
	var wg sync.WaitGroup
	for i := n - 1; i >= 0; i-- {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			at := base.Add(time.Duration(i) * time.Second)
			status := StatusDown
			if i%2 == 1 {
				status = StatusUp
			}
			if i%3 == 0 {
				ev := pingDown("host", at)
				if status == StatusUp {
					ev.Severity = models.SeverityClear
				}
				e.ProcessEvent(ctx, ev)
				return
			}
			e.SetStatus(ctx, "host", status, at)
		}(i)
	}
	wg.Wait()

	entry, ok := e.statusCache.GetEntry("host")
	if !ok || !entry.Observed.Equal(newest) || entry.Value != StatusUp {
		t.Fatalf("expected UP observed at %v, got %+v (found=%v)", newest, entry, ok)
	}
	rec, found, err := store.Lookup(ctx, "host")
	if err != nil || !found || rec.Status != StatusUp || !rec.Observed.Equal(newest) {
		t.Fatalf("store must hold the newest observation, got %+v %v %v", rec, found, err)
	}
}

func TestNewerWinsAgainstStoreAfterCacheExpiry(t *testing.T) {
	ctx := context.Background()
	store := statusstate.NewMemoryStore()
	now := base
	e, err := NewEngine(Options{
		Edges:    diamond(t),
		Settings: pathsEnabled(),
		Status:   store,
		Now:      func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	if !e.SetStatus(ctx, "rack_a", StatusDown, base.Add(10*time.Second)) {
		t.Fatalf("first status must be accepted")
	}
	now = base.Add(DefaultTTLs().Status + time.Minute)
	if _, ok := e.statusCache.GetEntry("rack_a"); ok {
		t.Fatalf("status cache entry should have expired")
	}

	if e.SetStatus(ctx, "rack_a", StatusUp, base.Add(5*time.Second)) {
		t.Fatalf("older observation must lose to the stored one")
	}
	if got := e.Status(ctx, "rack_a"); got != StatusDown {
		t.Fatalf("expected DOWN, got %s", got)
	}
	rec, _, _ := store.Lookup(ctx, "rack_a")
	if rec.Status != StatusDown || !rec.Observed.Equal(base.Add(10*time.Second)) {
		t.Fatalf("store must be unchanged, got %+v", rec)
	}
}

func TestSweepEvictsExpiredEntries(t *testing.T) {
	ctx := context.Background()
	now := base
	e, err := NewEngine(Options{
		Edges:    diamond(t),
		Settings: pathsEnabled(),
		Now:      func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	e.SetStatus(ctx, "rack_a", StatusDown, base)
	if _, err := e.Neighbors(ctx, "host"); err != nil {
		t.Fatalf("neighbors: %v", err)
	}

	if n := e.Sweep(); n != 0 {
		t.Fatalf("nothing has expired yet, evicted %d", n)
	}
	now = base.Add(DefaultTTLs().Status + time.Second)
	if n := e.Sweep(); n != 1 {
		t.Fatalf("expected only the status entry to expire, evicted %d", n)
	}
	if e.neighborCache.Len() != 1 {
		t.Fatalf("neighbor entry must survive, len %d", e.neighborCache.Len())
	}
}
