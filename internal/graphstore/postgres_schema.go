package graphstore

import "context"

// migrate creates the providers and edges tables.
func (b *PostgresBackend) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS providers (
		provider_id TEXT PRIMARY KEY,
		last_changed TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS edges (
		provider_id TEXT NOT NULL,
		source TEXT NOT NULL,
		target TEXT NOT NULL,
		layer TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_edges_provider ON edges(provider_id);
	CREATE INDEX IF NOT EXISTS idx_edges_source_layer ON edges(source, layer);
	CREATE INDEX IF NOT EXISTS idx_edges_target_layer ON edges(target, layer);
	CREATE INDEX IF NOT EXISTS idx_edges_layer ON edges(layer);
	`

	_, err := b.pool.Exec(ctx, schema)
	return err
}
