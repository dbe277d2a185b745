// Package simulator produces a synthetic live detection stream.
//
// A Simulator ticks on a fixed interval and hands one generated record per
// tick to a Sink. It stands in for a real detection pipeline and can be
// replaced by any other feed source that calls Ingest once per event.
package simulator

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/madello/paarvai/internal/detection"
	"github.com/madello/paarvai/internal/errors"
	"github.com/madello/paarvai/internal/feed"
	"github.com/madello/paarvai/internal/logger"
)

// DefaultInterval is the time between generated records.
const DefaultInterval = 4500 * time.Millisecond

// Sink receives generated records. feed.Service satisfies it.
type Sink interface {
	Ingest(ctx context.Context, r detection.Record) (feed.IngestResult, error)
}

// Ticker delivers ticks until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct{ t *time.Ticker }

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }

// TickRecorder receives simulator metrics.
type TickRecorder interface {
	RecordTick(outcome string)
}

// Config configures a Simulator.
type Config struct {
	Interval time.Duration
	Pools    Pools
	// Source drives all random choices. Nil seeds randomly.
	Source rand.Source
	// StartID is the numeric part of the first generated id. Zero uses
	// DefaultLiveStart; callers with a seed pass NextIDAfter(seed).
	StartID uint64
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(s *Simulator) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the simulator logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Simulator) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics sets the tick recorder.
func WithMetrics(m TickRecorder) Option {
	return func(s *Simulator) {
		s.metrics = m
	}
}

// Simulator is a cancelable scheduled task feeding generated records to a Sink.
type Simulator struct {
	sink     Sink
	gen      *Generator
	interval time.Duration
	clock    Clock
	log      logger.Logger
	metrics  TickRecorder

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New creates a stopped simulator.
func New(sink Sink, cfg Config, opts ...Option) (*Simulator, error) {
	if sink == nil {
		return nil, errors.Newf("simulator requires a sink").
			Component("simulator").
			Category(errors.CategorySimulator).
			Build()
	}
	if cfg.Interval < 0 {
		return nil, errors.Newf("simulator interval must be positive, got %v", cfg.Interval).
			Component("simulator").
			Category(errors.CategorySimulator).
			Build()
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.StartID == 0 {
		cfg.StartID = DefaultLiveStart
	}

	s := &Simulator{
		sink:     sink,
		gen:      NewGenerator(cfg.Pools, cfg.Source, cfg.StartID),
		interval: cfg.Interval,
		clock:    realClock{},
		log:      logger.Global().Module("simulator"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start launches the tick loop. It is a no-op while running.
func (s *Simulator) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	ticker := s.clock.NewTicker(s.interval)
	go s.loop(runCtx, ticker, s.done)

	s.log.Info("simulator started",
		logger.Duration("interval", s.interval),
		logger.Uint64("next_id", s.gen.NextID()))
}

// Stop cancels the tick loop and waits for it to exit. No record reaches
// the sink after Stop returns. Stop is idempotent and the simulator may be
// started again.
func (s *Simulator) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done

	s.log.Info("simulator stopped", logger.Uint64("next_id", s.gen.NextID()))
}

// Running reports whether the tick loop is active.
func (s *Simulator) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Simulator) loop(ctx context.Context, ticker Ticker, done chan<- struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			// a tick racing with Stop must not deliver
			if ctx.Err() != nil {
				return
			}
			s.tick(ctx)
		}
	}
}

func (s *Simulator) tick(ctx context.Context) {
	r := s.gen.Next(s.clock.Now())

	res, err := s.sink.Ingest(ctx, r)
	outcome := "accepted"
	switch {
	case err != nil:
		outcome = "error"
		if ctx.Err() == nil {
			s.log.Warn("simulated record not delivered",
				logger.String("id", r.ID),
				logger.Error(err))
		}
	case !res.Accepted:
		outcome = string(res.Dropped)
	}

	if s.metrics != nil {
		s.metrics.RecordTick(outcome)
	}

	s.log.Trace("simulated detection",
		logger.String("id", r.ID),
		logger.String("classification", string(r.Classification)),
		logger.String("outcome", outcome))
}
