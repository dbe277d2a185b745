package simulator

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/madello/paarvai/internal/detection"
	"github.com/madello/paarvai/internal/errors"
	"github.com/madello/paarvai/internal/feed"
	"github.com/madello/paarvai/internal/logger"
	"github.com/madello/paarvai/internal/testutil"
)

type fakeTicker struct {
	ch      chan time.Time
	stopped chan struct{}
	once    sync.Once
}

func (f *fakeTicker) C() <-chan time.Time { return f.ch }
func (f *fakeTicker) Stop()               { f.once.Do(func() { close(f.stopped) }) }

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTicker(time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time, 8), stopped: make(chan struct{})}
	c.tickers = append(c.tickers, t)
	return t
}

// tick advances the clock and fires the latest ticker
func (c *fakeClock) tick(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	t := c.tickers[len(c.tickers)-1]
	now := c.now
	c.mu.Unlock()
	t.ch <- now
}

type recordingSink struct {
	mu       sync.Mutex
	records  []detection.Record
	received chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{received: make(chan struct{}, 64)}
}

func (s *recordingSink) Ingest(_ context.Context, r detection.Record) (feed.IngestResult, error) {
	s.mu.Lock()
	s.records = append(s.records, r)
	s.mu.Unlock()
	s.received <- struct{}{}
	return feed.IngestResult{Record: r, Accepted: true}, nil
}

func (s *recordingSink) snapshot() []detection.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.records)
}

type countingRecorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (c *countingRecorder) RecordTick(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes = append(c.outcomes, outcome)
}

func newTestSimulator(t *testing.T, sink Sink, clock Clock, opts ...Option) *Simulator {
	t.Helper()
	opts = append([]Option{WithClock(clock), WithLogger(logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC))}, opts...)
	sim, err := New(sink, Config{Source: rand.NewPCG(42, 7)}, opts...)
	require.NoError(t, err)
	return sim
}

func TestSimulatorDeliversOneRecordPerTick(t *testing.T) {
	clock := &fakeClock{now: testutil.BaseTime}
	sink := newRecordingSink()
	rec := &countingRecorder{}
	sim := newTestSimulator(t, sink, clock, WithMetrics(rec))

	sim.Start(t.Context())
	defer sim.Stop()

	for range 3 {
		clock.tick(DefaultInterval)
		testutil.Receive(t, sink.received, testutil.DefaultTestTimeout)
	}

	got := sink.snapshot()
	require.Len(t, got, 3)
	for i, r := range got {
		assert.Equal(t, fmt.Sprintf("DET-%d", DefaultLiveStart+i), r.ID)
		assert.Equal(t, testutil.BaseTime.Add(time.Duration(i+1)*DefaultInterval), r.ObservedAt)
		require.NoError(t, detection.Validate(&r))
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"accepted", "accepted", "accepted"}, rec.outcomes)
}

func TestSimulatorNoDeliveryAfterStop(t *testing.T) {
	clock := &fakeClock{now: testutil.BaseTime}
	sink := newRecordingSink()
	sim := newTestSimulator(t, sink, clock)

	sim.Start(t.Context())
	clock.tick(DefaultInterval)
	testutil.Receive(t, sink.received, testutil.DefaultTestTimeout)

	sim.Stop()
	assert.False(t, sim.Running())

	ticker := clock.tickers[0]
	testutil.WaitForChannel(t, ticker.stopped, testutil.ShortTestTimeout, "ticker not stopped")

	clock.tick(DefaultInterval)
	testutil.AssertNoReceive(t, sink.received, 50*time.Millisecond)
	assert.Len(t, sink.snapshot(), 1)

	sim.Stop()
}

func TestSimulatorRestartContinuesIDs(t *testing.T) {
	clock := &fakeClock{now: testutil.BaseTime}
	sink := newRecordingSink()
	sim := newTestSimulator(t, sink, clock)

	sim.Start(t.Context())
	sim.Start(t.Context())
	clock.tick(DefaultInterval)
	testutil.Receive(t, sink.received, testutil.DefaultTestTimeout)
	sim.Stop()

	sim.Start(t.Context())
	defer sim.Stop()
	clock.tick(DefaultInterval)
	testutil.Receive(t, sink.received, testutil.DefaultTestTimeout)

	assert.Len(t, clock.tickers, 2, "second Start while running must not create a ticker")
	got := sink.snapshot()
	assert.Equal(t, "DET-1000", got[0].ID)
	assert.Equal(t, "DET-1001", got[1].ID)
}

func TestSimulatorContextCancelStopsLoop(t *testing.T) {
	clock := &fakeClock{now: testutil.BaseTime}
	sink := newRecordingSink()
	sim := newTestSimulator(t, sink, clock)

	ctx, cancel := context.WithCancel(t.Context())
	sim.Start(ctx)
	cancel()

	testutil.WaitForChannel(t, clock.tickers[0].stopped, testutil.ShortTestTimeout, "loop did not exit on cancel")
	sim.Stop()
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(nil, Config{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategorySimulator))

	_, err = New(newRecordingSink(), Config{Interval: -time.Second})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategorySimulator))

	sim, err := New(newRecordingSink(), Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultInterval, sim.interval)
}

func TestGeneratorDeterministic(t *testing.T) {
	a := NewGenerator(DefaultPools(), rand.NewPCG(1, 2), 1)
	b := NewGenerator(DefaultPools(), rand.NewPCG(1, 2), 1)

	for range 50 {
		assert.Equal(t, a.Next(testutil.BaseTime), b.Next(testutil.BaseTime))
	}
}

func TestNewSource(t *testing.T) {
	assert.Nil(t, NewSource(0))

	a := NewGenerator(DefaultPools(), NewSource(7), 1)
	b := NewGenerator(DefaultPools(), NewSource(7), 1)
	assert.Equal(t, a.Seed(6, testutil.BaseTime), b.Seed(6, testutil.BaseTime))
	assert.Equal(t, a.Next(testutil.BaseTime), b.Next(testutil.BaseTime))
}

func TestGeneratorRecordsRespectPools(t *testing.T) {
	pools := Pools{
		Names:     []string{"Only Name"},
		Locations: []string{"Chennai - loc 1", "Madurai - loc 3"},
		Cameras:   []CameraRef{{ID: "CAM-9", Name: "Dock"}},
	}
	g := NewGenerator(pools, rand.NewPCG(9, 9), 1)

	strangers := 0
	for range 400 {
		r := g.Next(testutil.BaseTime)
		require.NoError(t, detection.Validate(&r))
		assert.Contains(t, pools.Locations, r.LocationLabel)
		assert.Equal(t, "CAM-9", r.CameraID)
		assert.GreaterOrEqual(t, r.Confidence, 70.0)
		assert.LessOrEqual(t, r.Confidence, 95.0)
		if r.IsStranger() {
			strangers++
			assert.Empty(t, r.SubjectName)
		} else {
			assert.Equal(t, "Only Name", r.SubjectName)
		}
	}
	assert.InDelta(t, 100, strangers, 40, "roughly one in four records should be strangers")
}

func TestGenerateSeedLayout(t *testing.T) {
	now := testutil.BaseTime
	seed := GenerateSeed(40, now)

	require.Len(t, seed, 40)
	ids := make(map[string]bool)
	for i, r := range seed {
		require.NoError(t, detection.Validate(&r))
		assert.False(t, ids[r.ID])
		ids[r.ID] = true

		assert.Equal(t, fmt.Sprintf("DET-%d", 1000+i), r.ID)
		assert.Equal(t, now.Add(-time.Duration(i)*5*time.Minute), r.ObservedAt)
		assert.Equal(t, DefaultCameras[i%6].Name, r.CameraName)
		assert.Equal(t, DefaultLocations[i%10], r.LocationLabel)
	}

	assert.True(t, seed[0].IsStranger())
	assert.Empty(t, seed[0].SubjectName)
	assert.Equal(t, "Maya Singh", seed[1].SubjectName)
	assert.Equal(t, "Alex Kim", seed[2].SubjectName)
	assert.Equal(t, "Rita Bose", seed[3].SubjectName)
	assert.True(t, seed[4].IsStranger())

	assert.Equal(t, detection.PriorityHigh, seed[0].Priority)
	assert.Equal(t, detection.PriorityMedium, seed[3].Priority)
	assert.Equal(t, detection.PriorityLow, seed[1].Priority)
	assert.Equal(t, "https://picsum.photos/seed/99/92/92", seed[0].ThumbnailRef)

	assert.Empty(t, GenerateSeed(0, now))
}

func TestNextIDAfter(t *testing.T) {
	tests := []struct {
		name string
		ids  []string
		want uint64
	}{
		{"empty seed", nil, DefaultSeedStart},
		{"generated seed", []string{"DET-1002", "DET-1001", "DET-1000"}, 1003},
		{"sparse file ids", []string{"DET-1000", "DET-4711", "DET-12"}, 4712},
		{"foreign ids ignored", []string{"MQTT-1", "DET-x9", "DET-", "cam-DET-99999"}, DefaultSeedStart},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := make([]detection.Record, 0, len(tt.ids))
			for _, id := range tt.ids {
				records = append(records, testutil.Record(id))
			}
			assert.Equal(t, tt.want, NextIDAfter(records))
		})
	}
}

func TestDefaultStartDoesNotCollideWithSeed(t *testing.T) {
	seed := GenerateSeed(40, testutil.BaseTime)
	sim, err := New(newRecordingSink(), Config{})
	require.NoError(t, err)

	live := sim.gen.Next(testutil.BaseTime)
	for i := range seed {
		assert.NotEqual(t, seed[i].ID, live.ID)
	}
	assert.Equal(t, fmt.Sprintf("DET-%d", DefaultLiveStart), live.ID)
}
