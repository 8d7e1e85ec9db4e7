package pipeline

import (
	"context"

	"topograph/pkg/models"
)

// Source yields raw payloads. Pop returns nil, nil when nothing arrived
// within its blocking window.
type Source interface {
	Pop(ctx context.Context) ([]byte, error)
	Close() error
}

// EventWriter writes processed events.
type EventWriter interface {
	WriteEvents(events []*models.Event) error
	Close() error
}

// RawWriter writes raw input payloads for replay.
type RawWriter interface {
	WriteRawMessages(messages [][]byte) error
	Close() error
}

// Processor annotates an event in place.
type Processor interface {
	ProcessEvent(ctx context.Context, ev *models.Event)
}
