package graphstore

import (
	"context"
	"sort"
	"sync"
)

type memoryProvider struct {
	version string
	rows    []Row
}

// MemoryBackend keeps the graph in process memory. It is used for tests and
// single-process deployments.
type MemoryBackend struct {
	mu        sync.RWMutex
	providers map[string]*memoryProvider
	closed    bool
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{providers: make(map[string]*memoryProvider)}
}

// ReplaceEdges swaps the provider snapshot under the write lock.
func (m *MemoryBackend) ReplaceEdges(ctx context.Context, providerID string, rows []Row, version string) error {
	snapshot := &memoryProvider{version: version, rows: append([]Row(nil), rows...)}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.providers[providerID] = snapshot
	return nil
}

// EdgesTouching scans every provider snapshot.
func (m *MemoryBackend) EdgesTouching(ctx context.Context, nodes []string, layers []string) ([]Row, error) {
	want := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		want[n] = struct{}{}
	}
	filter := layerFilter(layers)

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	var out []Row
	for _, p := range m.providers {
		for _, r := range p.rows {
			if filter != nil {
				if _, ok := filter[r.Layer]; !ok {
					continue
				}
			}
			_, src := want[r.Source]
			_, dst := want[r.Target]
			if src || dst {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

// Layers returns the distinct layers across providers.
func (m *MemoryBackend) Layers(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	seen := make(map[string]struct{})
	for _, p := range m.providers {
		for _, r := range p.rows {
			seen[r.Layer] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for l := range seen {
		out = append(out, l)
	}
	sort.Strings(out)
	return out, nil
}

// Providers lists known providers ordered by id.
func (m *MemoryBackend) Providers(ctx context.Context) ([]ProviderInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]ProviderInfo, 0, len(m.providers))
	for id, p := range m.providers {
		out = append(out, ProviderInfo{ID: id, LastChanged: p.version})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// LastChanged returns the provider's recorded version.
func (m *MemoryBackend) LastChanged(ctx context.Context, providerID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", false, ErrClosed
	}
	p, ok := m.providers[providerID]
	if !ok {
		return "", false, nil
	}
	return p.version, true, nil
}

// Compact drops providers not in keep.
func (m *MemoryBackend) Compact(ctx context.Context, keep []string) error {
	k := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		k[id] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for id := range m.providers {
		if _, ok := k[id]; !ok {
			delete(m.providers, id)
		}
	}
	return nil
}

// Clear drops every provider.
func (m *MemoryBackend) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.providers = make(map[string]*memoryProvider)
	return nil
}

// Close marks the backend closed.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
