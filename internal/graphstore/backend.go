package graphstore

import "context"

// Backend persists provider edge sets. Implementations must make ReplaceEdges
// atomic with respect to concurrent readers.
type Backend interface {
	// ReplaceEdges swaps the provider's rows for rows and records version.
	ReplaceEdges(ctx context.Context, providerID string, rows []Row, version string) error
	// EdgesTouching returns rows with either endpoint in nodes. A nil or empty
	// layers slice matches every layer. Rows may repeat across providers.
	EdgesTouching(ctx context.Context, nodes []string, layers []string) ([]Row, error)
	Layers(ctx context.Context) ([]string, error)
	Providers(ctx context.Context) ([]ProviderInfo, error)
	LastChanged(ctx context.Context, providerID string) (string, bool, error)
	// Compact removes every provider not in keep. keep is never empty.
	Compact(ctx context.Context, keep []string) error
	Clear(ctx context.Context) error
	Close() error
}

// Reconnector is implemented by backends that can re-establish their
// connection after a dropped-connection failure.
type Reconnector interface {
	Reconnect(ctx context.Context) error
}
