// Package analytics captures the per-session playback event stream: lossless,
// order-preserving capture in memory, batched at-least-once delivery to the sink.
package analytics

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/models"
)

// PipelineConfig bundles the pipeline policy knobs.
type PipelineConfig struct {
	FlushInterval time.Duration // cadence flush
	FlushSize     int           // queue size that triggers an early flush
	BufferCap     int           // max unacked events held in memory
	CloseTimeout  time.Duration // bound on the teardown flush
}

// Pipeline buffers the ordered analytics events of one session and flushes them to
// the sink on a cadence, on a size threshold, and on Close. Events leave the buffer
// only after the sink acknowledged the batch; a failed batch stays queued in order.
type Pipeline struct {
	sessionID uuid.UUID
	lessonID  uuid.UUID
	viewerID  uuid.UUID
	sink      Sink
	cfg       PipelineConfig
	logger    *zap.Logger
	now       func() time.Time

	mu       sync.Mutex
	seq      uint64
	queue    []models.AnalyticsEvent
	inFlight int // head events currently being submitted

	flushCh chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewPipeline creates the event pipeline for one session.
func NewPipeline(sessionID, lessonID, viewerID uuid.UUID, sink Sink, cfg PipelineConfig, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 20 * time.Second
	}
	if cfg.FlushSize <= 0 {
		cfg.FlushSize = 50
	}
	if cfg.BufferCap <= 0 {
		cfg.BufferCap = 512
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 3 * time.Second
	}
	return &Pipeline{
		sessionID: sessionID,
		lessonID:  lessonID,
		viewerID:  viewerID,
		sink:      sink,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		flushCh:   make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Start launches the background flush loop. Call Close to stop it.
func (p *Pipeline) Start() {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.mu.Unlock()

	go p.run(ctx)
}

// Record appends one event, assigning the next sequence number. Called synchronously
// from the state machine before the triggering transition completes.
func (p *Pipeline) Record(kind models.EventKind, positionSec float64, payload any) models.AnalyticsEvent {
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}

	p.mu.Lock()
	p.seq++
	ev := models.AnalyticsEvent{
		Sequence:        p.seq,
		SessionID:       p.sessionID,
		LessonID:        p.lessonID,
		ViewerID:        p.viewerID,
		Kind:            kind,
		PositionSeconds: positionSec,
		OccurredAt:      p.now(),
		Payload:         raw,
	}
	if len(p.queue) >= p.cfg.BufferCap && p.inFlight > 0 && p.inFlight < len(p.queue) {
		// Cap exceeded while a flush is in flight: drop the oldest event that is not
		// part of the in-flight batch. Never silent.
		dropped := p.queue[p.inFlight]
		p.queue = append(p.queue[:p.inFlight], p.queue[p.inFlight+1:]...)
		p.logger.Warn("analytics buffer full, dropping oldest event",
			zap.String("session_id", p.sessionID.String()),
			zap.Uint64("dropped_sequence", dropped.Sequence))
	}
	p.queue = append(p.queue, ev)
	needFlush := len(p.queue)-p.inFlight >= p.cfg.FlushSize
	p.mu.Unlock()

	if needFlush {
		select {
		case p.flushCh <- struct{}{}:
		default:
		}
	}
	return ev
}

// Pending returns the number of unacked events (for tests and teardown logging).
func (p *Pipeline) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Pipeline) run(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Flush(ctx)
		case <-p.flushCh:
			p.Flush(ctx)
		}
	}
}

// Flush submits the whole queued prefix as one ordered batch. On failure the batch
// stays at the head of the queue for the next attempt, preserving total order.
// At most one flush is in flight at a time.
func (p *Pipeline) Flush(ctx context.Context) {
	p.mu.Lock()
	if p.inFlight > 0 || len(p.queue) == 0 {
		p.mu.Unlock()
		return
	}
	p.inFlight = len(p.queue)
	batch := make([]models.AnalyticsEvent, p.inFlight)
	copy(batch, p.queue[:p.inFlight])
	p.mu.Unlock()

	err := p.sink.SubmitBatch(ctx, p.sessionID, batch)

	p.mu.Lock()
	if err == nil {
		p.queue = p.queue[p.inFlight:]
	}
	p.inFlight = 0
	p.mu.Unlock()

	if err != nil {
		p.logger.Warn("analytics flush failed, batch requeued",
			zap.String("session_id", p.sessionID.String()),
			zap.Int("events", len(batch)),
			zap.Error(err))
	}
}

// Close stops the flush loop and performs one best-effort teardown flush bounded by
// CloseTimeout. It never blocks teardown past the bound.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.cancel == nil {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	<-p.done

	ctx, cancelFlush := context.WithTimeout(context.Background(), p.cfg.CloseTimeout)
	defer cancelFlush()
	p.Flush(ctx)

	if n := p.Pending(); n > 0 {
		p.logger.Warn("analytics events unflushed at teardown",
			zap.String("session_id", p.sessionID.String()),
			zap.Int("events", n))
	}
}
