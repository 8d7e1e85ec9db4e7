package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"topograph/internal/logger"
	"topograph/internal/transform/status"
	"topograph/pkg/models"
)

// Options tunes an EventPipeline.
type Options struct {
	Workers       int
	BatchSize     int
	FlushInterval time.Duration
	RetryDelay    time.Duration
}

// EventPipeline consumes status events, runs them through a processor and
// writes them in batches. Events for one device always go to the same worker,
// so they are processed and written in arrival order.
type EventPipeline struct {
	source    Source
	processor Processor
	writer    EventWriter
	rejects   RawWriter
	opts      Options
}

// NewEventPipeline creates an event pipeline. rejects may be nil.
func NewEventPipeline(source Source, processor Processor, writer EventWriter, rejects RawWriter, opts Options) *EventPipeline {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 2 * time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	return &EventPipeline{
		source:    source,
		processor: processor,
		writer:    writer,
		rejects:   rejects,
		opts:      opts,
	}
}

// Run starts the pipeline and blocks until ctx is cancelled and every
// accepted event has been flushed.
func (p *EventPipeline) Run(ctx context.Context) error {
	logger.Infof("Event pipeline started: workers=%d batch=%d", p.opts.Workers, p.opts.BatchSize)

	shards := make([]chan *models.Event, p.opts.Workers)
	for i := range shards {
		shards[i] = make(chan *models.Event, 64)
	}
	outCh := make(chan *models.Event, p.opts.Workers*4)

	var readers, workers, writers sync.WaitGroup

	readers.Add(1)
	go func() {
		defer readers.Done()
		p.readLoop(ctx, shards)
		for _, ch := range shards {
			close(ch)
		}
	}()

	for _, ch := range shards {
		workers.Add(1)
		go func(in <-chan *models.Event) {
			defer workers.Done()
			p.workerLoop(ctx, in, outCh)
		}(ch)
	}

	writers.Add(1)
	go func() {
		defer writers.Done()
		p.writeLoop(ctx, outCh)
	}()

	readers.Wait()
	workers.Wait()
	close(outCh)
	writers.Wait()
	return ctx.Err()
}

// Close releases pipeline resources.
func (p *EventPipeline) Close() error {
	if p.rejects != nil {
		if err := p.rejects.Close(); err != nil {
			logger.Errorf("Failed to close reject writer: %v", err)
		}
	}
	if p.writer != nil {
		if err := p.writer.Close(); err != nil {
			logger.Errorf("Failed to close event writer: %v", err)
		}
	}
	if p.source != nil {
		return p.source.Close()
	}
	return nil
}

func (p *EventPipeline) readLoop(ctx context.Context, shards []chan *models.Event) {
	for {
		if ctx.Err() != nil {
			return
		}
		payload, err := p.source.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Errorf("Failed to pop event: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}
		if payload == nil {
			continue
		}

		event, err := status.Parse(payload)
		if err != nil {
			logger.Warnf("Failed to parse status event: %v", err)
			p.reject(payload)
			continue
		}
		shard := shards[xxhash.Sum64String(event.Device)%uint64(len(shards))]
		select {
		case shard <- event:
		case <-ctx.Done():
			return
		}
	}
}

func (p *EventPipeline) reject(payload []byte) {
	if p.rejects == nil {
		return
	}
	if err := p.rejects.WriteRawMessages([][]byte{payload}); err != nil {
		logger.Errorf("Failed to write rejected payload: %v", err)
	}
}

func (p *EventPipeline) workerLoop(ctx context.Context, in <-chan *models.Event, out chan<- *models.Event) {
	for event := range in {
		if p.processor != nil {
			p.processor.ProcessEvent(ctx, event)
		}
		out <- event
	}
}

func (p *EventPipeline) writeLoop(ctx context.Context, in <-chan *models.Event) {
	ticker := time.NewTicker(p.opts.FlushInterval)
	defer ticker.Stop()

	var batch []*models.Event

	flush := func() {
		for len(batch) > 0 {
			err := p.writer.WriteEvents(batch)
			if err == nil {
				batch = nil
				return
			}
			logger.Errorf("Failed to write events: %v", err)
			if ctx.Err() != nil {
				logger.Warnf("Dropping %d events on shutdown", len(batch))
				batch = nil
				return
			}
			select {
			case <-ctx.Done():
			case <-time.After(p.opts.RetryDelay):
			}
		}
	}

	for {
		select {
		case <-ticker.C:
			flush()
		case event, ok := <-in:
			if !ok {
				flush()
				return
			}
			batch = append(batch, event)
			if len(batch) >= p.opts.BatchSize {
				flush()
			}
		}
	}
}
