package service

import (
	"context"
	"sync"
	"time"

	"github.com/Carrie-PLH/plus/internal/models"
	"go.uber.org/zap"
)

// UsageSink stores batches of usage events.
type UsageSink interface {
	CreateBatch(ctx context.Context, events []*models.UsageEvent) error
}

type RecorderConfig struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

func (c RecorderConfig) withDefaults() RecorderConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	return c
}

// UsageRecorder writes usage events in the background. Record never blocks:
// when the buffer is full the event is dropped and logged.
type UsageRecorder struct {
	sink   UsageSink
	cfg    RecorderConfig
	logger *zap.Logger

	events   chan models.UsageEvent
	done     chan struct{}
	finished chan struct{}
	once     sync.Once
}

// NewUsageRecorder starts the batch worker. Call Close to flush and stop it.
func NewUsageRecorder(sink UsageSink, cfg RecorderConfig, logger *zap.Logger) *UsageRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	r := &UsageRecorder{
		sink:     sink,
		cfg:      cfg,
		logger:   logger,
		events:   make(chan models.UsageEvent, cfg.BufferSize),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *UsageRecorder) Record(event models.UsageEvent) {
	select {
	case <-r.done:
		r.logger.Debug("usage recorder closed, dropping event", zap.String("tool", event.Tool))
		return
	default:
	}

	select {
	case r.events <- event:
		// Successfully queued
	default:
		// Channel full, skip to avoid blocking the request
		r.logger.Warn("usage event buffer full, dropping event",
			zap.String("tool", event.Tool),
			zap.String("user_id", event.UID),
		)
	}
}

// Close stops the worker after writing whatever is buffered. It returns
// ctx's error if the final flush does not finish in time.
func (r *UsageRecorder) Close(ctx context.Context) error {
	r.once.Do(func() { close(r.done) })
	select {
	case <-r.finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *UsageRecorder) run() {
	defer close(r.finished)

	batch := make([]*models.UsageEvent, 0, r.cfg.BatchSize)
	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		r.insert(batch)
		batch = make([]*models.UsageEvent, 0, r.cfg.BatchSize)
	}

	for {
		select {
		case event := <-r.events:
			batch = append(batch, &event)

			// Insert when batch is full
			if len(batch) >= r.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			// Periodically insert remaining events
			flush()
		case <-r.done:
			for {
				select {
				case event := <-r.events:
					batch = append(batch, &event)
					if len(batch) >= r.cfg.BatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (r *UsageRecorder) insert(batch []*models.UsageEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.sink.CreateBatch(ctx, batch); err != nil {
		// Log error but dont block
		r.logger.Error("failed to insert usage events",
			zap.Int("count", len(batch)),
			zap.Error(err),
		)
	}
}
