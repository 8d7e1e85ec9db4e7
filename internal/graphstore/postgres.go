package graphstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig configures the PostgreSQL backend.
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// PostgresBackend stores the graph in the providers and edges tables.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend connects, verifies the connection and creates the schema.
func NewPostgresBackend(ctx context.Context, cfg PostgresConfig) (*PostgresBackend, error) {
	config, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		config.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		config.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		config.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		config.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	b := &PostgresBackend{pool: pool}
	if err := b.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return b, nil
}

// ReplaceEdges deletes the provider's rows and copies in the new set inside a
// single transaction, so readers see either the old or the new snapshot.
func (b *PostgresBackend) ReplaceEdges(ctx context.Context, providerID string, rows []Row, version string) error {
	return pgx.BeginFunc(ctx, b.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM edges WHERE provider_id = $1`, providerID); err != nil {
			return fmt.Errorf("delete provider edges: %w", err)
		}
		if len(rows) > 0 {
			_, err := tx.CopyFrom(ctx,
				pgx.Identifier{"edges"},
				[]string{"provider_id", "source", "target", "layer"},
				pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
					return []any{providerID, rows[i].Source, rows[i].Target, rows[i].Layer}, nil
				}),
			)
			if err != nil {
				return fmt.Errorf("copy provider edges: %w", err)
			}
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO providers (provider_id, last_changed) VALUES ($1, $2)
			ON CONFLICT (provider_id) DO UPDATE SET last_changed = EXCLUDED.last_changed
		`, providerID, version)
		if err != nil {
			return fmt.Errorf("record provider version: %w", err)
		}
		return nil
	})
}

// EdgesTouching queries both endpoint indexes in one round trip.
func (b *PostgresBackend) EdgesTouching(ctx context.Context, nodes []string, layers []string) ([]Row, error) {
	if len(nodes) == 0 {
		return nil, nil
	}
	var layerArg []string
	if filter := normalizeLayers(append([]string(nil), layers...)); len(filter) > 0 {
		layerArg = filter
	}

	query := `
		SELECT source, target, layer FROM edges
		WHERE source = ANY($1) AND ($2::text[] IS NULL OR layer = ANY($2))
		UNION
		SELECT source, target, layer FROM edges
		WHERE target = ANY($1) AND ($2::text[] IS NULL OR layer = ANY($2))
	`
	rows, err := b.pool.Query(ctx, query, nodes, layerArg)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Row, error) {
		var r Row
		err := row.Scan(&r.Source, &r.Target, &r.Layer)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan edges: %w", err)
	}
	return out, nil
}

// Layers returns the distinct layers in the edges table.
func (b *PostgresBackend) Layers(ctx context.Context) ([]string, error) {
	rows, err := b.pool.Query(ctx, `SELECT DISTINCT layer FROM edges ORDER BY layer`)
	if err != nil {
		return nil, fmt.Errorf("query layers: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan layers: %w", err)
	}
	return out, nil
}

// Providers lists the providers table.
func (b *PostgresBackend) Providers(ctx context.Context) ([]ProviderInfo, error) {
	rows, err := b.pool.Query(ctx, `SELECT provider_id, last_changed FROM providers ORDER BY provider_id`)
	if err != nil {
		return nil, fmt.Errorf("query providers: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ProviderInfo, error) {
		var p ProviderInfo
		err := row.Scan(&p.ID, &p.LastChanged)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan providers: %w", err)
	}
	return out, nil
}

// LastChanged returns the provider's recorded version.
func (b *PostgresBackend) LastChanged(ctx context.Context, providerID string) (string, bool, error) {
	var version string
	err := b.pool.QueryRow(ctx, `SELECT last_changed FROM providers WHERE provider_id = $1`, providerID).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query provider: %w", err)
	}
	return version, true, nil
}

// Compact deletes every provider not in keep, along with its edges.
func (b *PostgresBackend) Compact(ctx context.Context, keep []string) error {
	return pgx.BeginFunc(ctx, b.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM edges WHERE NOT (provider_id = ANY($1))`, keep); err != nil {
			return fmt.Errorf("compact edges: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM providers WHERE NOT (provider_id = ANY($1))`, keep); err != nil {
			return fmt.Errorf("compact providers: %w", err)
		}
		return nil
	})
}

// Clear truncates both tables.
func (b *PostgresBackend) Clear(ctx context.Context) error {
	if _, err := b.pool.Exec(ctx, `TRUNCATE edges, providers`); err != nil {
		return fmt.Errorf("clear graph: %w", err)
	}
	return nil
}

// Reconnect drops every pooled connection so the next acquire dials afresh.
func (b *PostgresBackend) Reconnect(ctx context.Context) error {
	b.pool.Reset()
	return b.pool.Ping(ctx)
}

// Ping checks database connectivity.
func (b *PostgresBackend) Ping(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

// Close closes the connection pool.
func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}

func isPostgresReconnectable(err error) bool {
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"):
			return true
		case pgErr.Code == "57P01", pgErr.Code == "57P02", pgErr.Code == "57P03":
			return true
		}
	}
	return false
}
