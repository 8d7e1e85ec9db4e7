package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"topograph/config"
	"topograph/internal/graphstore"
	"topograph/internal/logger"
	"topograph/internal/metrics"
)

func findConfigFile(configArg string) string {
	if configArg != "" {
		path := configArg
		if _, err := os.Stat(path); err == nil {
			return path
		}
		log.Printf("Warning: config file not found at %s, trying default locations", path)
	}

	if _, err := os.Stat("topograph.yml"); err == nil {
		return "topograph.yml"
	}

	exePath, err := os.Executable()
	if err == nil {
		exeDir := filepath.Dir(exePath)
		path := filepath.Join(exeDir, "topograph.yml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return "topograph.yml"
}

// loadConfig loads and defaults the config, then configures logging.
func loadConfig(configArg string) (*config.Config, string) {
	configPath := findConfigFile(configArg)
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Fatalf("Failed to load config: %v", err)
		}
		log.Printf("Warning: no config at %s, using defaults", configPath)
		cfg = &config.Config{}
	}
	cfg.ApplyDefaults()

	lc := cfg.Topograph.Logging
	if err := logger.Init(logger.Options{Enabled: lc.Enabled, Level: lc.Level, File: lc.File, Console: lc.Console}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	return cfg, configPath
}

func openStore(ctx context.Context, cfg config.StoreConfig, m *metrics.Registry) (*graphstore.Store, error) {
	policy := graphstore.DefaultRetryPolicy()
	policy.Attempts = cfg.RetryAttempts
	policy.Delay = cfg.RetryDelay

	var backend graphstore.Backend
	switch strings.ToLower(cfg.Driver) {
	case "memory":
		backend = graphstore.NewMemoryBackend()
	case "postgres":
		pg, err := graphstore.NewPostgresBackend(ctx, graphstore.PostgresConfig{
			DSN:             cfg.DSN,
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			MaxConnLifetime: cfg.MaxConnLifetime,
			MaxConnIdleTime: cfg.MaxConnIdleTime,
		})
		if err != nil {
			return nil, err
		}
		backend = pg
	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.Driver)
	}
	logger.Infof("Graph store: %s", cfg.Driver)
	return graphstore.New(backend, graphstore.Options{Retry: policy, Metrics: m}), nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		v := strings.TrimSpace(p)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: topograph <command> [flags]

commands:
  serve [config]   consume status events and edge updates, suppress symptoms
  ingest           replace one provider's edges from a file
  map              extract and simplify the topology around a node
  edges            export the raw edges around a node as JSON lines
  compact          drop every provider not listed
  layers           list the layers present in the graph
  providers        list providers and their versions`)
}

func main() {
	if len(os.Args) < 2 {
		runServe(nil)
		return
	}
	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "ingest":
		os.Exit(runIngest(os.Args[2:]))
	case "map":
		os.Exit(runMap(os.Args[2:]))
	case "edges":
		os.Exit(runEdges(os.Args[2:]))
	case "compact":
		os.Exit(runCompact(os.Args[2:]))
	case "layers":
		os.Exit(runLayers(os.Args[2:]))
	case "providers":
		os.Exit(runProviders(os.Args[2:]))
	case "-h", "--help", "help":
		usage()
	default:
		// A bare config path runs the service.
		runServe(os.Args[1:])
	}
}
