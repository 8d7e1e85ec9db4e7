package eventjson

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"topograph/internal/logger"
	"topograph/pkg/models"
)

// Writer outputs processed events to a JSON lines file.
type Writer struct {
	file    *os.File
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewWriter creates a JSONL writer for events.
func NewWriter(path string) (*Writer, error) {
	f, err := createFile(path)
	if err != nil {
		return nil, err
	}
	logger.Infof("Event JSON writer initialized: %s", path)
	return &Writer{
		file:    f,
		encoder: json.NewEncoder(f),
	}, nil
}

// WriteEvents writes a batch of events.
func (w *Writer) WriteEvents(events []*models.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, event := range events {
		if err := w.encoder.Encode(event); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}
	return nil
}

// Close closes the output file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

// RawWriter appends payloads that could not be processed, one per line, so
// they can be replayed later.
type RawWriter struct {
	file *os.File
	mu   sync.Mutex
}

// NewRawWriter creates a raw payload writer.
func NewRawWriter(path string) (*RawWriter, error) {
	f, err := createFile(path)
	if err != nil {
		return nil, err
	}
	logger.Infof("Raw payload writer initialized: %s", path)
	return &RawWriter{file: f}, nil
}

// WriteRawMessages writes payloads as separate lines.
func (w *RawWriter) WriteRawMessages(messages [][]byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, msg := range messages {
		if _, err := w.file.Write(append(append([]byte(nil), msg...), '\n')); err != nil {
			return fmt.Errorf("failed to write raw payload: %w", err)
		}
	}
	return nil
}

// Close closes the output file.
func (w *RawWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

func createFile(path string) (*os.File, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, nil
}
