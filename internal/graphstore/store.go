// Package graphstore is the shared, multi-provider topology graph. Each
// provider owns one edge snapshot that it replaces atomically; queries see the
// layer-merged union of every provider.
package graphstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"topograph/internal/logger"
	"topograph/internal/metrics"
)

// Options configures a Store.
type Options struct {
	Retry   RetryPolicy
	Metrics *metrics.Registry
}

// Store validates writes, merges reads and retries reconnectable backend failures.
type Store struct {
	backend Backend
	retry   RetryPolicy
	metrics *metrics.Registry
}

// New wraps backend. A zero Options.Retry uses DefaultRetryPolicy.
func New(backend Backend, opts Options) *Store {
	policy := opts.Retry
	if policy.Attempts == 0 {
		policy = DefaultRetryPolicy()
	}
	return &Store{backend: backend, retry: policy, metrics: opts.Metrics}
}

// Provider is a handle bound to one provider id. Creating it writes nothing.
type Provider struct {
	store *Store
	id    string
}

// Provider returns the handle for id.
func (s *Store) Provider(id string) *Provider {
	return &Provider{store: s, id: id}
}

// ID returns the provider id.
func (p *Provider) ID() string { return p.id }

// UpdateEdges replaces every edge this provider owns with edges and records
// version as its last-changed marker. Invalid edges reject the whole update.
func (p *Provider) UpdateEdges(ctx context.Context, edges []Edge, version string) error {
	if strings.TrimSpace(p.id) == "" {
		return fmt.Errorf("%w: empty provider id", ErrInvalidEdge)
	}
	rows, err := validateEdges(edges)
	if err != nil {
		p.store.metrics.RecordEdgeUpdate(err)
		return err
	}
	err = p.store.do(ctx, "update_edges", func() error {
		return p.store.backend.ReplaceEdges(ctx, p.id, rows, version)
	})
	p.store.metrics.RecordEdgeUpdate(err)
	if err != nil {
		return fmt.Errorf("update edges for provider %s: %w", p.id, err)
	}
	logger.Debugf("Provider %s replaced edges: rows=%d version=%s", p.id, len(rows), version)
	return nil
}

// LastChanged returns the version recorded by the last UpdateEdges.
func (p *Provider) LastChanged(ctx context.Context) (string, bool, error) {
	var (
		version string
		ok      bool
	)
	err := p.store.do(ctx, "last_changed", func() error {
		var err error
		version, ok, err = p.store.backend.LastChanged(ctx, p.id)
		return err
	})
	return version, ok, err
}

// Edges returns every edge touching node whose layers intersect layers, one
// per neighbor with the union of matching layers. node is always the Source.
// Empty layers matches every layer.
func (s *Store) Edges(ctx context.Context, node string, layers []string) ([]Edge, error) {
	merged, err := s.EdgesFrom(ctx, []string{node}, layers)
	if err != nil {
		return nil, err
	}
	out := make([]Edge, 0, len(merged))
	for _, e := range merged {
		if e.Source != node {
			e = e.Reversed()
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out, nil
}

// EdgesFrom returns the merged edges touching any of nodes in a single backend
// round trip. Edges are in canonical (sorted endpoint) orientation.
func (s *Store) EdgesFrom(ctx context.Context, nodes []string, layers []string) ([]Edge, error) {
	if len(nodes) == 0 {
		return nil, nil
	}
	var rows []Row
	err := s.do(ctx, "get_edges", func() error {
		var err error
		rows, err = s.backend.EdgesTouching(ctx, nodes, layers)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get edges: %w", err)
	}
	return mergeRows(rows), nil
}

// Layers returns the distinct layers present in the graph.
func (s *Store) Layers(ctx context.Context) ([]string, error) {
	var layers []string
	err := s.do(ctx, "get_layers", func() error {
		var err error
		layers, err = s.backend.Layers(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get layers: %w", err)
	}
	return layers, nil
}

// Providers lists every provider and its last-changed marker.
func (s *Store) Providers(ctx context.Context) ([]ProviderInfo, error) {
	var out []ProviderInfo
	err := s.do(ctx, "get_providers", func() error {
		var err error
		out, err = s.backend.Providers(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get providers: %w", err)
	}
	return out, nil
}

// Compact removes every provider not in keep. An empty keep clears the store.
func (s *Store) Compact(ctx context.Context, keep []string) error {
	if len(keep) == 0 {
		return s.Clear(ctx)
	}
	err := s.do(ctx, "compact", func() error {
		return s.backend.Compact(ctx, keep)
	})
	if err != nil {
		return fmt.Errorf("compact: %w", err)
	}
	logger.Infof("Graph compacted, kept providers: %s", strings.Join(keep, ","))
	return nil
}

// Clear removes all providers and edges.
func (s *Store) Clear(ctx context.Context) error {
	err := s.do(ctx, "clear", func() error {
		return s.backend.Clear(ctx)
	})
	if err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	logger.Infof("Graph cleared")
	return nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) do(ctx context.Context, op string, fn func() error) error {
	start := time.Now()
	err := s.retry.Do(ctx, fn, func(n uint, err error) {
		logger.Warnf("Graph store %s failed (attempt %d), reconnecting: %v", op, n+1, err)
		s.metrics.RecordStoreRetry(op)
		if r, ok := s.backend.(Reconnector); ok {
			if rerr := r.Reconnect(ctx); rerr != nil {
				logger.Warnf("Graph store reconnect failed: %v", rerr)
			}
		}
	})
	s.metrics.RecordStoreOperation(op, err, time.Since(start))
	return err
}
