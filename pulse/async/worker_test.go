package async

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/tally/am"
	"github.com/teranos/tally/errors"
)

// ============================================================================
// Post Office Test Universe
// ============================================================================
//
// Characters:
//   - The clerk: dispatch loop handing letters (signals) to carriers
//   - Carriers: handler executions, a limited number on shift at once
//   - The night shift: the sweep that finds letters left in the sorting room
//
// Theme: a letter for the same address is never carried twice at once, a
// full mail slot loses the letter until the night shift finds it, and at
// closing time carriers get a grace period before being called back.
// ============================================================================

const testHandlerName = "test.carrier"

// carrier is a controllable JobHandler
type carrier struct {
	mu        sync.Mutex
	delivered []string
	release   chan struct{} // nil = return immediately
	active    atomic.Int32
	maxActive atomic.Int32
	cancelled atomic.Int32
	err       error
	panicOn   string
}

func (c *carrier) Name() string { return testHandlerName }

func (c *carrier) Execute(ctx context.Context, job *Job) error {
	n := c.active.Add(1)
	defer c.active.Add(-1)
	for {
		peak := c.maxActive.Load()
		if n <= peak || c.maxActive.CompareAndSwap(peak, n) {
			break
		}
	}

	if job.DocumentID == c.panicOn {
		panic("dog bit the carrier")
	}

	if c.release != nil {
		select {
		case <-c.release:
		case <-ctx.Done():
			c.cancelled.Add(1)
			return ctx.Err()
		}
	}

	c.mu.Lock()
	c.delivered = append(c.delivered, job.DocumentID)
	c.mu.Unlock()
	return c.err
}

func (c *carrier) deliveries() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.delivered...)
}

// sortingRoom is an in-memory DocumentSource
type sortingRoom struct {
	mu      sync.Mutex
	pending []string
	stale   []string
	failed  map[string]string
	cutoffs []time.Time
	listErr error
}

func (s *sortingRoom) PendingIDs(ctx context.Context, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	ids := s.pending
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return append([]string(nil), ids...), nil
}

func (s *sortingRoom) StaleProcessingIDs(ctx context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cutoffs = append(s.cutoffs, cutoff)
	return append([]string(nil), s.stale...), nil
}

func (s *sortingRoom) FailStale(ctx context.Context, id string, cutoff time.Time, message string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed == nil {
		s.failed = make(map[string]string)
	}
	if _, done := s.failed[id]; done {
		return false, nil
	}
	s.failed[id] = message
	return true, nil
}

func (s *sortingRoom) failures() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.failed))
	for k, v := range s.failed {
		out[k] = v
	}
	return out
}

func newPostOffice(t *testing.T, source DocumentSource, cfg WorkerPoolConfig, c *carrier) *WorkerPool {
	t.Helper()
	cfg.SweepHandler = testHandlerName
	wp := NewWorkerPool(context.Background(), source, cfg, zap.NewNop().Sugar())
	wp.Registry().Register(c)
	return wp
}

func TestPostOfficeDeliversSubmittedLetters(t *testing.T) {
	c := &carrier{}
	wp := newPostOffice(t, nil, WorkerPoolConfig{MaxConcurrent: 2}, c)
	wp.Start()
	defer wp.Stop()

	require.True(t, wp.Submit("doc-1", SourceUpload))
	require.True(t, wp.Submit("doc-2", SourceReprocess))

	require.Eventually(t, func() bool { return len(c.deliveries()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{"doc-1", "doc-2"}, c.deliveries())

	require.Eventually(t, func() bool { return wp.Stats().Processed == 2 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, wp.InFlight())
}

func TestPostOfficeNeverCarriesSameAddressTwice(t *testing.T) {
	c := &carrier{release: make(chan struct{})}
	wp := newPostOffice(t, nil, WorkerPoolConfig{}, c)
	wp.Start()
	defer wp.Stop()

	require.True(t, wp.Submit("doc-1", SourceUpload))
	require.Eventually(t, func() bool { return c.active.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.True(t, wp.Submit("doc-1", SourceReprocess))
	require.Eventually(t, func() bool { return wp.Stats().Skipped == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), c.active.Load())

	close(c.release)
	require.Eventually(t, func() bool { return len(c.deliveries()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestPostOfficeRespectsShiftSize(t *testing.T) {
	c := &carrier{release: make(chan struct{})}
	wp := newPostOffice(t, nil, WorkerPoolConfig{MaxConcurrent: 2}, c)
	wp.Start()
	defer wp.Stop()

	ids := []string{"a", "b", "c", "d", "e"}
	for _, id := range ids {
		require.True(t, wp.Submit(id, SourceUpload))
	}

	// Two carriers out, the third letter held by the clerk waiting for a slot
	require.Eventually(t, func() bool { return c.active.Load() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), c.active.Load())
	assert.Equal(t, 3, wp.InFlight())

	close(c.release)
	require.Eventually(t, func() bool { return len(c.deliveries()) == len(ids) }, 2*time.Second, 5*time.Millisecond)
	assert.LessOrEqual(t, c.maxActive.Load(), int32(2))
}

func TestPostOfficeDefaultShiftIsUnbounded(t *testing.T) {
	c := &carrier{release: make(chan struct{})}
	wp := newPostOffice(t, nil, DefaultWorkerPoolConfig(), c)
	wp.Start()
	defer wp.Stop()

	// A slow letter never keeps the others in the sorting room
	ids := []string{"a", "b", "c", "d", "e", "f"}
	for _, id := range ids {
		require.True(t, wp.Submit(id, SourceUpload))
	}
	require.Eventually(t, func() bool { return c.active.Load() == int32(len(ids)) }, time.Second, 5*time.Millisecond)
	assert.Zero(t, wp.Stats().MaxConcurrent)

	close(c.release)
	require.Eventually(t, func() bool { return len(c.deliveries()) == len(ids) }, 2*time.Second, 5*time.Millisecond)
}

func TestQueueDropsWhenFull(t *testing.T) {
	q := NewQueue(1)
	job, err := NewJob(testHandlerName, "doc-1", SourceUpload)
	require.NoError(t, err)

	assert.True(t, q.Enqueue(job))
	assert.False(t, q.Enqueue(job))
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, int64(1), q.Enqueued())
	assert.Equal(t, int64(1), q.Dropped())

	assert.Equal(t, DefaultQueueSize, NewQueue(0).Cap())
}

func TestNewJobValidates(t *testing.T) {
	_, err := NewJob("", "doc-1", SourceUpload)
	assert.Error(t, err)
	_, err = NewJob(testHandlerName, " ", SourceUpload)
	assert.Error(t, err)

	job, err := NewJob(testHandlerName, "doc-1", "")
	require.NoError(t, err)
	assert.Equal(t, SourceUpload, job.Source)
}

func TestNightShiftFindsLettersLeftBehind(t *testing.T) {
	room := &sortingRoom{pending: []string{"lost-1", "lost-2"}}
	c := &carrier{}
	wp := newPostOffice(t, room, WorkerPoolConfig{PollInterval: 10 * time.Millisecond}, c)
	wp.Start()
	defer wp.Stop()

	require.Eventually(t, func() bool {
		d := c.deliveries()
		seen := map[string]bool{}
		for _, id := range d {
			seen[id] = true
		}
		return seen["lost-1"] && seen["lost-2"]
	}, 2*time.Second, 5*time.Millisecond)
}

func TestNightShiftSkipsLettersInTransit(t *testing.T) {
	room := &sortingRoom{pending: []string{"doc-1"}}
	c := &carrier{release: make(chan struct{})}
	wp := newPostOffice(t, room, WorkerPoolConfig{}, c)
	wp.Start()
	defer wp.Stop()

	require.True(t, wp.Submit("doc-1", SourceUpload))
	require.Eventually(t, func() bool { return c.active.Load() == 1 }, time.Second, 5*time.Millisecond)

	n, err := wp.sweepPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	close(c.release)
}

func TestNightShiftReportsSortingRoomErrors(t *testing.T) {
	room := &sortingRoom{listErr: errors.New("database is locked")}
	wp := newPostOffice(t, room, WorkerPoolConfig{}, &carrier{})

	_, err := wp.sweepPending(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list pending documents")
}

func TestOpeningFailsOrphanedLetters(t *testing.T) {
	room := &sortingRoom{stale: []string{"orphan-1", "orphan-2"}}
	wp := newPostOffice(t, room, WorkerPoolConfig{}, &carrier{})

	before := time.Now()
	wp.Start()
	defer wp.Stop()

	assert.Equal(t, map[string]string{
		"orphan-1": InterruptedMessage,
		"orphan-2": InterruptedMessage,
	}, room.failures())
	assert.Equal(t, int64(2), wp.Stats().Reaped)

	// Startup treats every processing row as orphaned, not only old ones
	room.mu.Lock()
	defer room.mu.Unlock()
	require.NotEmpty(t, room.cutoffs)
	assert.False(t, room.cutoffs[0].Before(before))
}

func TestStaleSweepUsesStaleAfter(t *testing.T) {
	room := &sortingRoom{}
	wp := newPostOffice(t, room, WorkerPoolConfig{StaleAfter: time.Hour}, &carrier{})
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	wp.now = func() time.Time { return fixed }

	wp.sweepOnce(context.Background())

	room.mu.Lock()
	defer room.mu.Unlock()
	require.Len(t, room.cutoffs, 1)
	assert.Equal(t, fixed.Add(-time.Hour), room.cutoffs[0])
}

func TestStaleSweepLeavesInFlightAlone(t *testing.T) {
	room := &sortingRoom{stale: []string{"busy", "orphan"}}
	wp := newPostOffice(t, room, WorkerPoolConfig{}, &carrier{})
	require.True(t, wp.markInFlight("busy"))

	n, err := wp.reapStale(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, map[string]string{"orphan": InterruptedMessage}, room.failures())
}

func TestClosingTimeWaitsForCarriers(t *testing.T) {
	c := &carrier{release: make(chan struct{})}
	wp := newPostOffice(t, nil, WorkerPoolConfig{ShutdownTimeout: 2 * time.Second}, c)
	wp.Start()

	require.True(t, wp.Submit("doc-1", SourceUpload))
	require.Eventually(t, func() bool { return c.active.Load() == 1 }, time.Second, 5*time.Millisecond)

	go func() {
		time.Sleep(30 * time.Millisecond)
		close(c.release)
	}()
	wp.Stop()

	assert.Equal(t, []string{"doc-1"}, c.deliveries())
	assert.Zero(t, c.cancelled.Load())
	assert.False(t, wp.Stats().Running)
}

func TestClosingTimeRecallsLateCarriers(t *testing.T) {
	c := &carrier{release: make(chan struct{})}
	wp := newPostOffice(t, nil, WorkerPoolConfig{ShutdownTimeout: 20 * time.Millisecond}, c)
	wp.Start()

	require.True(t, wp.Submit("doc-1", SourceUpload))
	require.Eventually(t, func() bool { return c.active.Load() == 1 }, time.Second, 5*time.Millisecond)

	wp.Stop()

	require.Eventually(t, func() bool { return c.cancelled.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, c.deliveries())
}

func TestPostOfficeReopensAfterClosing(t *testing.T) {
	c := &carrier{}
	wp := newPostOffice(t, nil, WorkerPoolConfig{}, c)

	wp.Start()
	wp.Stop()
	wp.Start()
	defer wp.Stop()

	require.True(t, wp.Submit("doc-1", SourceUpload))
	require.Eventually(t, func() bool { return len(c.deliveries()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestPostOfficeCountsFailuresAndPanics(t *testing.T) {
	c := &carrier{err: errors.New("address unknown"), panicOn: "doc-bad"}
	wp := newPostOffice(t, nil, WorkerPoolConfig{}, c)
	wp.Start()
	defer wp.Stop()

	require.True(t, wp.Submit("doc-1", SourceUpload))
	require.True(t, wp.Submit("doc-bad", SourceUpload))

	require.Eventually(t, func() bool { return wp.Stats().Failed == 2 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, wp.Stats().Processed)
	require.Eventually(t, func() bool { return wp.InFlight() == 0 }, time.Second, 5*time.Millisecond)
}

func TestSubmitWithoutHandlerIsRejected(t *testing.T) {
	wp := NewWorkerPool(context.Background(), nil, WorkerPoolConfig{}, zap.NewNop().Sugar())
	assert.False(t, wp.Submit("doc-1", SourceUpload))
}

func TestPoolConfigFromAM(t *testing.T) {
	cfg := PoolConfigFromAM(am.PipelineConfig{
		MaxConcurrent:       3,
		QueueSize:           10,
		PollIntervalSeconds: 5,
		SweepBatch:          20,
		StaleAfterSeconds:   900,
		ShutdownSeconds:     30,
	}, "document.process")

	assert.Equal(t, WorkerPoolConfig{
		MaxConcurrent:   3,
		QueueSize:       10,
		PollInterval:    5 * time.Second,
		SweepBatch:      20,
		StaleAfter:      15 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
		SweepHandler:    "document.process",
	}, cfg)
}

func TestStatsSnapshot(t *testing.T) {
	wp := newPostOffice(t, nil, WorkerPoolConfig{MaxConcurrent: 4, QueueSize: 8}, &carrier{})
	stats := wp.Stats()

	assert.False(t, stats.Running)
	assert.Equal(t, 8, stats.QueueCapacity)
	assert.Equal(t, 4, stats.MaxConcurrent)
	assert.Zero(t, stats.UptimeSeconds)
}
