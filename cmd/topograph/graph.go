package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"topograph/internal/contract"
	"topograph/internal/graph/connections"
	"topograph/internal/graphstore"
	"topograph/internal/output/edgejson"
	inputredis "topograph/internal/input/redis"
	"topograph/internal/pipeline"
	"topograph/internal/topology"
	"topograph/pkg/models"
)

// withStore opens the configured store and runs fn with a bounded context.
func withStore(configArg string, fn func(ctx context.Context, store *graphstore.Store) error) int {
	cfg, _ := loadConfig(configArg)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Topograph.Store.OpTimeout)
	defer cancel()

	store, err := openStore(ctx, cfg.Topograph.Store, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open graph store: %v\n", err)
		return 1
	}
	defer store.Close()

	if err := fn(ctx, store); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	return 0
}

func runIngest(args []string) int {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	configArg := fs.String("config", "", "Config file path")
	provider := fs.String("provider", "", "Provider id whose edges are replaced")
	version := fs.String("version", "", "Version marker recorded for the provider (default: current UTC time)")
	input := fs.String("input", "", "Edge JSON array, or discovery JSONL with -discovery")
	discovery := fs.Bool("discovery", false, "Input is discovery records mapped through connection providers")
	publish := fs.Bool("publish", false, "Push the update onto the Redis edge feed instead of writing the store")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(*provider) == "" || strings.TrimSpace(*input) == "" {
		fmt.Fprintln(os.Stderr, "ingest requires -provider and -input")
		return 2
	}
	if *version == "" {
		*version = time.Now().UTC().Format(time.RFC3339)
	}

	var edges []graphstore.Edge
	var err error
	if *discovery {
		edges, err = loadDiscoveryEdges(*input)
	} else {
		edges, err = loadEdgeRecords(*input)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read %s: %v\n", *input, err)
		return 1
	}

	if *publish {
		return publishUpdate(*configArg, *provider, *version, edges)
	}
	return withStore(*configArg, func(ctx context.Context, store *graphstore.Store) error {
		if err := store.Provider(*provider).UpdateEdges(ctx, edges, *version); err != nil {
			return err
		}
		fmt.Printf("provider=%s edges=%d version=%s\n", *provider, len(edges), *version)
		return nil
	})
}

func publishUpdate(configArg, provider, version string, edges []graphstore.Edge) int {
	cfg, _ := loadConfig(configArg)
	rc := cfg.Topograph.Input.Redis
	feed, err := inputredis.NewConsumer(inputredis.Config{Addr: rc.Addr, Password: rc.Password, DB: rc.DB, Key: rc.EdgesKey})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to edge feed: %v\n", err)
		return 1
	}
	defer feed.Close()

	update := models.EdgeUpdate{Provider: provider, Version: version}
	for _, e := range edges {
		update.Edges = append(update.Edges, models.EdgeRecord{Source: e.Source, Target: e.Target, Layers: e.Layers})
	}
	payload, err := json.Marshal(update)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode update: %v\n", err)
		return 1
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := feed.Push(ctx, payload); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	fmt.Printf("published provider=%s edges=%d version=%s key=%s\n", provider, len(edges), version, feed.Key())
	return 0
}

func loadEdgeRecords(path string) ([]graphstore.Edge, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records []models.EdgeRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	return pipeline.EdgesFromRecords(records), nil
}

func loadDiscoveryEdges(path string) ([]graphstore.Edge, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []*models.Discovery
	dec := json.NewDecoder(bufio.NewReader(f))
	for {
		var d models.Discovery
		if err := dec.Decode(&d); err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("decode discovery record %d: %w", len(records)+1, err)
		}
		records = append(records, &d)
	}
	return connections.Collect(records), nil
}

type mapOutput struct {
	Root  string          `json:"root"`
	Nodes []contract.Node `json:"nodes"`
	Edges []contract.Edge `json:"edges"`
}

func runMap(args []string) int {
	fs := flag.NewFlagSet("map", flag.ContinueOnError)
	configArg := fs.String("config", "", "Config file path")
	root := fs.String("root", "", "Entity to start from")
	layers := fs.String("layers", "", "Comma-separated layers (default: any)")
	depth := fs.Int("depth", 0, "Traversal depth, 0 for the full connected component")
	important := fs.String("important", "/", "Comma-separated id prefixes of entities that must survive simplification")
	raw := fs.Bool("raw", false, "Skip simplification")
	output := fs.String("output", "", "Output JSON path (default: stdout)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(*root) == "" {
		fmt.Fprintln(os.Stderr, "map requires -root")
		return 2
	}

	prefixes := splitList(*important)
	isImportant := func(id string) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(id, p) {
				return true
			}
		}
		return false
	}

	return withStore(*configArg, func(ctx context.Context, store *graphstore.Store) error {
		g, err := topology.Traverse(ctx, store, *root, splitList(*layers), *depth)
		if err != nil {
			return fmt.Errorf("traverse from %s: %w", *root, err)
		}
		nodes, edges := contract.FromTopology(g, isImportant)
		before := len(nodes)
		if !*raw {
			nodes, edges = contract.Contract(nodes, edges)
		}
		if err := writeJSON(*output, mapOutput{Root: g.Root, Nodes: nodes, Edges: edges}); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "root=%s nodes=%d->%d edges=%d\n", g.Root, before, len(nodes), len(edges))
		return nil
	})
}

func runEdges(args []string) int {
	fs := flag.NewFlagSet("edges", flag.ContinueOnError)
	configArg := fs.String("config", "", "Config file path")
	root := fs.String("root", "", "Entity to start from")
	layers := fs.String("layers", "", "Comma-separated layers (default: any)")
	depth := fs.Int("depth", 0, "Traversal depth, 0 for the full connected component")
	output := fs.String("output", "", "Output JSONL path")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(*root) == "" || strings.TrimSpace(*output) == "" {
		fmt.Fprintln(os.Stderr, "edges requires -root and -output")
		return 2
	}

	return withStore(*configArg, func(ctx context.Context, store *graphstore.Store) error {
		g, err := topology.Traverse(ctx, store, *root, splitList(*layers), *depth)
		if err != nil {
			return fmt.Errorf("traverse from %s: %w", *root, err)
		}
		w, err := edgejson.NewWriter(*output)
		if err != nil {
			return err
		}
		if err := w.WriteEdges(g.Edges); err != nil {
			w.Close()
			return err
		}
		fmt.Fprintf(os.Stderr, "root=%s nodes=%d edges=%d output=%s\n", g.Root, len(g.Nodes), w.Count(), *output)
		return w.Close()
	})
}

func runCompact(args []string) int {
	fs := flag.NewFlagSet("compact", flag.ContinueOnError)
	configArg := fs.String("config", "", "Config file path")
	keep := fs.String("keep", "", "Comma-separated provider ids to keep; empty clears the graph")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	return withStore(*configArg, func(ctx context.Context, store *graphstore.Store) error {
		ids := splitList(*keep)
		if err := store.Compact(ctx, ids); err != nil {
			return err
		}
		fmt.Printf("compacted keep=%v\n", ids)
		return nil
	})
}

func runLayers(args []string) int {
	fs := flag.NewFlagSet("layers", flag.ContinueOnError)
	configArg := fs.String("config", "", "Config file path")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	return withStore(*configArg, func(ctx context.Context, store *graphstore.Store) error {
		layers, err := store.Layers(ctx)
		if err != nil {
			return err
		}
		for _, l := range layers {
			fmt.Println(l)
		}
		return nil
	})
}

func runProviders(args []string) int {
	fs := flag.NewFlagSet("providers", flag.ContinueOnError)
	configArg := fs.String("config", "", "Config file path")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	return withStore(*configArg, func(ctx context.Context, store *graphstore.Store) error {
		providers, err := store.Providers(ctx)
		if err != nil {
			return err
		}
		for _, p := range providers {
			fmt.Printf("%s\t%s\n", p.ID, p.LastChanged)
		}
		return nil
	})
}

func writeJSON(path string, v interface{}) error {
	if path == "" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return w.Flush()
}
