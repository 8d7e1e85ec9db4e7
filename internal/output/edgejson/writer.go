package edgejson

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"topograph/internal/graphstore"
	"topograph/internal/logger"
)

// Writer outputs graph edges to a JSON lines file.
type Writer struct {
	file    *os.File
	encoder *json.Encoder
	mu      sync.Mutex
	count   int
}

// NewWriter creates a JSONL writer for edges. An existing file is truncated.
func NewWriter(path string) (*Writer, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open output file: %w", err)
	}

	logger.Debugf("Edge JSON writer initialized: %s", path)
	return &Writer{
		file:    f,
		encoder: json.NewEncoder(f),
	}, nil
}

// WriteEdges writes a batch of edges, one per line.
func (w *Writer) WriteEdges(edges []graphstore.Edge) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, e := range edges {
		if err := w.encoder.Encode(e); err != nil {
			return fmt.Errorf("failed to encode edge %s-%s: %w", e.Source, e.Target, err)
		}
		w.count++
	}
	return nil
}

// Count returns the number of edges written so far.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Close closes the output file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		err := w.file.Close()
		w.file = nil
		return err
	}
	return nil
}
