package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"topograph/internal/graphstore"
	"topograph/internal/logger"
	"topograph/pkg/models"
)

// EdgeIngest applies provider snapshots from an edge feed to the graph store.
type EdgeIngest struct {
	source  Source
	store   *graphstore.Store
	rejects RawWriter
}

// NewEdgeIngest creates an edge ingest loop. rejects may be nil.
func NewEdgeIngest(source Source, store *graphstore.Store, rejects RawWriter) *EdgeIngest {
	return &EdgeIngest{source: source, store: store, rejects: rejects}
}

// Run applies updates until ctx is cancelled.
func (i *EdgeIngest) Run(ctx context.Context) error {
	logger.Infof("Edge ingest started")
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		payload, err := i.source.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Errorf("Failed to pop edge update: %v", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}
		if payload == nil {
			continue
		}
		if err := i.Apply(ctx, payload); err != nil {
			logger.Warnf("Edge update rejected: %v", err)
			if i.rejects != nil {
				if err := i.rejects.WriteRawMessages([][]byte{payload}); err != nil {
					logger.Errorf("Failed to write rejected edge update: %v", err)
				}
			}
		}
	}
}

// Apply decodes one EdgeUpdate payload and replaces the provider's edges.
func (i *EdgeIngest) Apply(ctx context.Context, payload []byte) error {
	var update models.EdgeUpdate
	if err := json.Unmarshal(payload, &update); err != nil {
		return fmt.Errorf("decode edge update: %w", err)
	}
	if strings.TrimSpace(update.Provider) == "" {
		return fmt.Errorf("%w: edge update has no provider", graphstore.ErrInvalidEdge)
	}
	err := i.store.Provider(update.Provider).UpdateEdges(ctx, EdgesFromRecords(update.Edges), update.Version)
	if err != nil {
		if errors.Is(err, graphstore.ErrInvalidEdge) {
			return fmt.Errorf("provider %s version %s: %w", update.Provider, update.Version, err)
		}
		return err
	}
	logger.Infof("Provider %s updated: edges=%d version=%s", update.Provider, len(update.Edges), update.Version)
	return nil
}

// EdgesFromRecords converts wire records to graph edges.
func EdgesFromRecords(records []models.EdgeRecord) []graphstore.Edge {
	edges := make([]graphstore.Edge, 0, len(records))
	for _, r := range records {
		edges = append(edges, graphstore.Edge{Source: r.Source, Target: r.Target, Layers: r.Layers})
	}
	return edges
}
