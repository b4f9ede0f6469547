package analytics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/models"
)

type fakeSink struct {
	mu      sync.Mutex
	batches [][]models.AnalyticsEvent
	fail    bool
}

func (s *fakeSink) SubmitBatch(ctx context.Context, sessionID uuid.UUID, events []models.AnalyticsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink unavailable")
	}
	batch := make([]models.AnalyticsEvent, len(events))
	copy(batch, events)
	s.batches = append(s.batches, batch)
	return nil
}

func (s *fakeSink) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func (s *fakeSink) delivered() []models.AnalyticsEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []models.AnalyticsEvent
	for _, b := range s.batches {
		all = append(all, b...)
	}
	return all
}

func newTestPipeline(sink Sink, cfg PipelineConfig) *Pipeline {
	return NewPipeline(uuid.New(), uuid.New(), uuid.New(), sink, cfg, nil)
}

func TestSequencesAreGaplessAndIncreasing(t *testing.T) {
	sink := &fakeSink{}
	p := newTestPipeline(sink, PipelineConfig{})

	for i := 0; i < 25; i++ {
		p.Record(models.EventPlay, float64(i), nil)
	}
	p.Flush(context.Background())

	got := sink.delivered()
	require.Len(t, got, 25)
	for i, ev := range got {
		assert.Equal(t, uint64(i+1), ev.Sequence)
	}
}

func TestFailedBatchStaysQueuedInOrder(t *testing.T) {
	sink := &fakeSink{}
	sink.setFail(true)
	p := newTestPipeline(sink, PipelineConfig{})
	ctx := context.Background()

	p.Record(models.EventPlay, 0, nil)
	p.Record(models.EventPause, 5, nil)
	p.Flush(ctx)
	assert.Empty(t, sink.delivered())
	assert.Equal(t, 2, p.Pending())

	// New events recorded between attempts land behind the failed batch.
	p.Record(models.EventSeek, 30, models.SeekPayload{From: 5, To: 30})

	sink.setFail(false)
	p.Flush(ctx)

	got := sink.delivered()
	require.Len(t, got, 3)
	assert.Equal(t, []models.EventKind{models.EventPlay, models.EventPause, models.EventSeek},
		[]models.EventKind{got[0].Kind, got[1].Kind, got[2].Kind})
	for i, ev := range got {
		assert.Equal(t, uint64(i+1), ev.Sequence)
	}
	assert.Zero(t, p.Pending())
}

func TestBufferCapDropsOldestOutsideInFlightBatch(t *testing.T) {
	sink := &fakeSink{}
	sink.setFail(true)
	p := newTestPipeline(sink, PipelineConfig{BufferCap: 4})
	ctx := context.Background()

	p.Record(models.EventPlay, 0, nil)  // seq 1
	p.Record(models.EventPause, 1, nil) // seq 2
	p.Flush(ctx)                        // fails; both stay queued, no flush in flight afterwards

	p.Record(models.EventSeek, 2, nil)        // seq 3
	p.Record(models.EventBufferStart, 3, nil) // seq 4: buffer at cap
	p.Record(models.EventBufferEnd, 4, nil)   // seq 5: no flush in flight, nothing dropped
	assert.Equal(t, 5, p.Pending())

	sink.setFail(false)
	p.Flush(ctx)
	got := sink.delivered()
	require.Len(t, got, 5)
	assert.Equal(t, uint64(5), got[4].Sequence)
}

func TestBufferCapDropsWhileFlushStuck(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{}), entered: make(chan struct{})}
	p := newTestPipeline(sink, PipelineConfig{BufferCap: 3})
	ctx := context.Background()

	p.Record(models.EventPlay, 0, nil) // seq 1
	flushDone := make(chan struct{})
	go func() {
		p.Flush(ctx) // blocks in the sink with seq 1 in flight
		close(flushDone)
	}()
	<-sink.entered

	p.Record(models.EventPause, 1, nil)       // seq 2
	p.Record(models.EventSeek, 2, nil)        // seq 3: at cap
	p.Record(models.EventBufferStart, 3, nil) // seq 4: seq 2 dropped, seq 1 protected
	assert.Equal(t, 3, p.Pending())

	close(sink.release)
	<-flushDone
	assert.Equal(t, 2, p.Pending(), "seq 1 acked, seq 3 and 4 remain")
}

func TestFlushSizeTriggersBackgroundFlush(t *testing.T) {
	sink := &fakeSink{}
	p := newTestPipeline(sink, PipelineConfig{FlushSize: 5, FlushInterval: time.Hour})
	p.Start()
	defer p.Close()

	for i := 0; i < 5; i++ {
		p.Record(models.EventPlay, float64(i), nil)
	}

	require.Eventually(t, func() bool {
		return len(sink.delivered()) == 5
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, p.Pending())
}

func TestCloseFlushesRemainder(t *testing.T) {
	sink := &fakeSink{}
	p := newTestPipeline(sink, PipelineConfig{FlushInterval: time.Hour})
	p.Start()

	p.Record(models.EventPlay, 0, nil)
	p.Record(models.EventComplete, 600, nil)
	p.Close()

	got := sink.delivered()
	require.Len(t, got, 2)
	assert.Equal(t, models.EventComplete, got[1].Kind)
	assert.Zero(t, p.Pending())
}

type blockingSink struct {
	release chan struct{}
	entered chan struct{}
	once    sync.Once
}

func (s *blockingSink) SubmitBatch(ctx context.Context, sessionID uuid.UUID, events []models.AnalyticsEvent) error {
	if s.entered != nil {
		s.once.Do(func() { close(s.entered) })
	}
	select {
	case <-s.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestCloseIsBoundedByTimeout(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	p := newTestPipeline(sink, PipelineConfig{FlushInterval: time.Hour, CloseTimeout: 50 * time.Millisecond})
	p.Start()

	p.Record(models.EventPlay, 0, nil)

	start := time.Now()
	p.Close()
	assert.Less(t, time.Since(start), time.Second, "teardown must not hang on a stuck sink")
	assert.Equal(t, 1, p.Pending(), "unflushed event stays accounted for")
	close(sink.release)
}

func TestRecordPayloadRoundTrip(t *testing.T) {
	sink := &fakeSink{}
	p := newTestPipeline(sink, PipelineConfig{})

	ev := p.Record(models.EventQualityChange, 120, models.QualityChangePayload{From: "480p", To: "720p"})
	assert.Equal(t, uint64(1), ev.Sequence)

	p.Flush(context.Background())
	got := sink.delivered()
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"from":"480p","to":"720p"}`, string(got[0].Payload))
}
