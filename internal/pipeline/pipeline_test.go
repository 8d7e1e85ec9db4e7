package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"topograph/internal/graphstore"
	"topograph/pkg/models"
)

type sliceSource struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (s *sliceSource) Pop(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	if len(s.payloads) > 0 {
		p := s.payloads[0]
		s.payloads = s.payloads[1:]
		s.mu.Unlock()
		return p, nil
	}
	s.mu.Unlock()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Millisecond):
		return nil, nil
	}
}

func (s *sliceSource) Close() error { return nil }

type memoryWriter struct {
	mu     sync.Mutex
	events []*models.Event
	raw    [][]byte
	fail   int
}

func (w *memoryWriter) WriteEvents(events []*models.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail > 0 {
		w.fail--
		return errors.New("sink unavailable")
	}
	w.events = append(w.events, events...)
	return nil
}

func (w *memoryWriter) WriteRawMessages(messages [][]byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.raw = append(w.raw, messages...)
	return nil
}

func (w *memoryWriter) Close() error { return nil }

func (w *memoryWriter) snapshot() ([]*models.Event, [][]byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*models.Event(nil), w.events...), append([][]byte(nil), w.raw...)
}

type markProcessor struct{}

func (markProcessor) ProcessEvent(ctx context.Context, ev *models.Event) {
	if ev.Severity > 3 {
		ev.Suppressed = true
		ev.RootCauses = "upstream"
	}
}

func TestEventPipelineKeepsPerDeviceOrder(t *testing.T) {
	src := &sliceSource{}
	for i := 0; i < 50; i++ {
		device := fmt.Sprintf("/dev/%d", i%5)
		src.payloads = append(src.payloads, []byte(fmt.Sprintf(`{"id":"%d","device":%q,"event_class":"/Status/Ping","severity":%d}`, i, device, i%6)))
	}
	src.payloads = append(src.payloads, []byte(`{"event_class":"/Status/Ping"}`))

	writer := &memoryWriter{fail: 1}
	rejects := &memoryWriter{}
	p := NewEventPipeline(src, markProcessor{}, writer, rejects, Options{
		Workers:       3,
		BatchSize:     7,
		FlushInterval: 10 * time.Millisecond,
		RetryDelay:    time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		events, raw := writer.snapshot()
		_, rejected := rejects.snapshot()
		if len(events) == 50 && len(rejected) == 1 && len(raw) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out: wrote %d events, rejected %d", len(events), len(rejected))
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	events, _ := writer.snapshot()
	last := make(map[string]int)
	for _, ev := range events {
		var id int
		fmt.Sscanf(ev.ID, "%d", &id)
		if prev, ok := last[ev.Device]; ok && id < prev {
			t.Fatalf("events for %s out of order: %d after %d", ev.Device, id, prev)
		}
		last[ev.Device] = id
		if (ev.Severity > 3) != ev.Suppressed {
			t.Fatalf("event %s was not processed: %+v", ev.ID, ev)
		}
	}
}

func TestEdgeIngestApply(t *testing.T) {
	ctx := context.Background()
	store := graphstore.New(graphstore.NewMemoryBackend(), graphstore.Options{})
	ingest := NewEdgeIngest(&sliceSource{}, store, nil)

	err := ingest.Apply(ctx, []byte(`{"provider":"lldp","version":"42","edges":[
		{"source":"/dev/b","target":"/dev/a","layers":["lldp"]},
		{"source":"/dev/a","target":"aa:bb:cc:dd:ee:ff","layers":["layer2","vlan5"]}
	]}`))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	edges, err := store.Edges(ctx, "/dev/a", nil)
	if err != nil || len(edges) != 2 {
		t.Fatalf("expected 2 edges, got %+v %v", edges, err)
	}
	version, ok, err := store.Provider("lldp").LastChanged(ctx)
	if err != nil || !ok || version != "42" {
		t.Fatalf("unexpected version %q %v %v", version, ok, err)
	}

	err = ingest.Apply(ctx, []byte(`{"provider":"lldp","version":"43","edges":[{"source":"/dev/a","target":"/dev/a","layers":["lldp"]}]}`))
	if !errors.Is(err, graphstore.ErrInvalidEdge) {
		t.Fatalf("expected ErrInvalidEdge, got %v", err)
	}
	if version, _, _ := store.Provider("lldp").LastChanged(ctx); version != "42" {
		t.Fatalf("rejected update must not change version, got %q", version)
	}
	if err := ingest.Apply(ctx, []byte(`{"version":"1","edges":[]}`)); !errors.Is(err, graphstore.ErrInvalidEdge) {
		t.Fatalf("expected ErrInvalidEdge for missing provider, got %v", err)
	}
}
