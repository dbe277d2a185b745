package feed

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/madello/paarvai/internal/detection"
	"github.com/madello/paarvai/internal/errors"
	"github.com/madello/paarvai/internal/logger"
)

const (
	// DefaultCommandBuffer is the default command queue length.
	DefaultCommandBuffer = 256

	// DefaultSubscriberBuffer is the event buffer for subscribers that pass 0.
	DefaultSubscriberBuffer = 32
)

// EventKind names the mutation that produced an Event.
type EventKind string

const (
	EventIngest     EventKind = "ingest"
	EventInitialize EventKind = "initialize"
	EventFilter     EventKind = "filter"
	EventSelect     EventKind = "select"
)

// Event is a change notification sent to subscribers.
type Event struct {
	Kind     EventKind         `json:"kind"`
	Revision uint64            `json:"revision"`
	Record   *detection.Record `json:"record,omitempty"`
	Evicted  []string          `json:"evicted,omitempty"`
	At       time.Time         `json:"at"`
}

// Snapshot is an immutable view of the store for renderers.
type Snapshot struct {
	Visible    []detection.Record `json:"visible"`
	Selected   *detection.Record  `json:"selected,omitempty"`
	SelectedID string             `json:"selectedId,omitempty"`
	Criteria   Criteria           `json:"criteria"`
	Total      int                `json:"total"`
	Capacity   int                `json:"capacity"`
	Revision   uint64             `json:"revision"`
}

// MetricsRecorder receives feed metrics. Implementations must not block.
type MetricsRecorder interface {
	RecordIngest(classification, outcome string)
	RecordEvictions(n int)
	SetRecords(n int)
	RecordSelection(outcome string)
	RecordFilterRejection(field string)
	RecordSubscriberDrop()
}

// IngestFunc observes every ingest result on the service goroutine. It must
// return quickly; slow work belongs on the observer's own goroutine.
type IngestFunc func(res IngestResult)

// Subscription receives change notifications until Unsubscribe or Stop.
type Subscription struct {
	ID string
	C  <-chan Event

	ch      chan Event
	dropped atomic.Uint64
}

// Dropped returns the number of events dropped because the buffer was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// ServiceStats holds service counters.
type ServiceStats struct {
	Commands      uint64
	EventsSent    uint64
	EventsDropped uint64
	Subscribers   int
	Revision      uint64
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the service logger.
func WithLogger(l logger.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithCommandBuffer sets the command queue length.
func WithCommandBuffer(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.cmdBuffer = n
		}
	}
}

// WithClock sets the clock used for event timestamps.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

type command struct {
	fn   func(st *Store)
	done chan struct{}
}

// Service owns a Store on a single goroutine. All mutations and reads are
// serialized through its command queue, so producers may call it concurrently.
type Service struct {
	store     *Store
	log       logger.Logger
	metrics   MetricsRecorder
	now       func() time.Time
	cmdBuffer int

	cmds     chan command
	cancel   context.CancelFunc
	finished chan struct{}

	// revision is owned by the run goroutine
	revision atomic.Uint64

	observersMu sync.RWMutex
	observers   []IngestFunc

	subsMu sync.RWMutex
	subs   map[string]*Subscription

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	commands      atomic.Uint64
	eventsSent    atomic.Uint64
	eventsDropped atomic.Uint64
}

// NewService wraps store. The service does nothing until Start.
func NewService(store *Store, opts ...ServiceOption) *Service {
	if store == nil {
		store = NewStore(DefaultOptions())
	}

	s := &Service{
		store:     store,
		log:       logger.Global().Module("feed"),
		now:       time.Now,
		cmdBuffer: DefaultCommandBuffer,
		finished:  make(chan struct{}),
		subs:      make(map[string]*Subscription),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.cmds = make(chan command, s.cmdBuffer)
	return s
}

// Start launches the service goroutine. It is a no-op if already started.
// Cancelling ctx stops the service like Stop.
func (s *Service) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.stopped {
		return lifecycleError(ErrServiceStopped, "start")
	}
	if s.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.started = true

	if s.metrics != nil {
		s.metrics.SetRecords(s.store.Len())
	}

	go s.run(runCtx)

	s.log.Info("feed service started",
		logger.Int("capacity", s.store.Capacity()),
		logger.String("duplicate_policy", string(s.store.opts.DuplicatePolicy)),
		logger.String("location_match", string(s.store.opts.LocationMatch)))

	return nil
}

// Stop terminates the service goroutine, waiting up to timeout for it to
// exit, and closes every subscription. Stop is idempotent.
func (s *Service) Stop(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	if s.stopped || !s.started {
		s.stopped = true
		s.lifecycleMu.Unlock()
		return nil
	}
	s.stopped = true
	s.cancel()
	s.lifecycleMu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.finished:
	case <-timer.C:
		return errors.Newf("feed service did not stop within %v", timeout).
			Component(componentFeed).
			Category(errors.CategoryTimeout).
			Timing("stop", timeout).
			Build()
	}

	s.subsMu.Lock()
	for id, sub := range s.subs {
		close(sub.ch)
		delete(s.subs, id)
	}
	s.subsMu.Unlock()

	s.log.Info("feed service stopped",
		logger.Uint64("commands", s.commands.Load()),
		logger.Uint64("events_dropped", s.eventsDropped.Load()))

	return nil
}

func (s *Service) run(ctx context.Context) {
	defer close(s.finished)

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-s.cmds:
			cmd.fn(s.store)
			s.commands.Add(1)
			close(cmd.done)
		}
	}
}

// exec runs fn on the service goroutine and waits for it to finish.
func (s *Service) exec(ctx context.Context, op string, fn func(st *Store)) error {
	s.lifecycleMu.Lock()
	started, stopped := s.started, s.stopped
	s.lifecycleMu.Unlock()

	switch {
	case stopped:
		return lifecycleError(ErrServiceStopped, op)
	case !started:
		return lifecycleError(ErrServiceNotStarted, op)
	}

	cmd := command{fn: fn, done: make(chan struct{})}

	select {
	case s.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.finished:
		return lifecycleError(ErrServiceStopped, op)
	}

	select {
	case <-cmd.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.finished:
		select {
		case <-cmd.done:
			return nil
		default:
			return lifecycleError(ErrServiceStopped, op)
		}
	}
}

// OnIngest registers an observer called for every ingest result.
func (s *Service) OnIngest(fn IngestFunc) {
	if fn == nil {
		return
	}
	s.observersMu.Lock()
	s.observers = append(s.observers, fn)
	s.observersMu.Unlock()
}

// Ingest adds a record. A dropped record is not an error; inspect the result.
func (s *Service) Ingest(ctx context.Context, r detection.Record) (IngestResult, error) {
	var res IngestResult
	err := s.exec(ctx, "ingest", func(st *Store) {
		res = st.Ingest(r)
		s.afterIngest(&res)
	})
	if err != nil {
		return IngestResult{}, err
	}
	return res, nil
}

func (s *Service) afterIngest(res *IngestResult) {
	outcome := "accepted"
	switch {
	case res.Dropped != DropNone:
		outcome = string(res.Dropped)
	case res.Replaced:
		outcome = "replaced"
	}

	if s.metrics != nil {
		s.metrics.RecordIngest(string(res.Record.Classification), outcome)
		s.metrics.RecordEvictions(len(res.Evicted))
		s.metrics.SetRecords(s.store.Len())
	}

	switch res.Dropped {
	case DropInvalid:
		s.log.Warn("dropped invalid record",
			logger.String("id", res.Record.ID),
			logger.Error(res.Err))
	case DropDuplicate:
		s.log.Debug("dropped duplicate record", logger.String("id", res.Record.ID))
	case DropNone:
		s.log.Debug("record ingested",
			logger.String("id", res.Record.ID),
			logger.String("classification", string(res.Record.Classification)),
			logger.String("location", res.Record.LocationLabel),
			logger.Int("evicted", len(res.Evicted)),
			logger.Bool("selection_cleared", res.SelectionCleared))
	}

	s.observersMu.RLock()
	observers := s.observers
	s.observersMu.RUnlock()
	for _, fn := range observers {
		fn(*res)
	}

	if !res.Accepted {
		return
	}

	evt := Event{Kind: EventIngest, Record: &res.Record}
	for i := range res.Evicted {
		evt.Evicted = append(evt.Evicted, res.Evicted[i].ID)
	}
	s.publish(evt)
}

// Initialize replaces the records with seed.
func (s *Service) Initialize(ctx context.Context, seed []detection.Record) error {
	return s.exec(ctx, "initialize", func(st *Store) {
		kept := st.Initialize(seed)
		if s.metrics != nil {
			s.metrics.SetRecords(kept)
		}
		if skipped := len(seed) - kept; skipped > 0 {
			s.log.Info("seed records skipped",
				logger.Int("seed", len(seed)),
				logger.Int("kept", kept))
		}
		s.publish(Event{Kind: EventInitialize})
	})
}

// SetFilter applies a partial criteria update. See Store.SetFilter.
func (s *Service) SetFilter(ctx context.Context, u FilterUpdate) error {
	var filterErr error
	err := s.exec(ctx, "set_filter", func(st *Store) {
		before := st.Criteria()
		filterErr = st.SetFilter(u)
		if filterErr != nil && s.metrics != nil {
			s.recordFilterRejections(filterErr)
		}
		if st.Criteria() != before {
			s.publish(Event{Kind: EventFilter})
		}
	})
	if err != nil {
		return err
	}
	return filterErr
}

// ResetFilter restores the default criteria.
func (s *Service) ResetFilter(ctx context.Context) error {
	return s.exec(ctx, "reset_filter", func(st *Store) {
		before := st.Criteria()
		st.ResetFilter()
		if st.Criteria() != before {
			s.publish(Event{Kind: EventFilter})
		}
	})
}

func (s *Service) recordFilterRejections(err error) {
	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) {
		s.metrics.RecordFilterRejection(fieldOf(err))
		return
	}
	for _, e := range joined.Unwrap() {
		s.metrics.RecordFilterRejection(fieldOf(e))
	}
}

func fieldOf(err error) string {
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		if field, ok := ee.GetContext()["field"].(string); ok {
			return field
		}
	}
	return "unknown"
}

// Select sets or clears the selection. See Store.Select.
func (s *Service) Select(ctx context.Context, id string) error {
	var selectErr error
	err := s.exec(ctx, "select", func(st *Store) {
		before := st.SelectedID()
		selectErr = st.Select(id)

		outcome := "selected"
		switch {
		case selectErr != nil:
			outcome = "not_found"
		case id == "":
			outcome = "cleared"
		}
		if s.metrics != nil {
			s.metrics.RecordSelection(outcome)
		}

		if st.SelectedID() != before {
			s.publish(Event{Kind: EventSelect})
		}
	})
	if err != nil {
		return err
	}
	return selectErr
}

// Snapshot returns the visible records, selection and criteria.
func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.exec(ctx, "snapshot", func(st *Store) {
		snap = Snapshot{
			Visible:    st.VisibleRecords(),
			SelectedID: st.SelectedID(),
			Criteria:   st.Criteria(),
			Total:      st.Len(),
			Capacity:   st.Capacity(),
			Revision:   s.revision.Load(),
		}
		if r, ok := st.SelectedRecord(); ok {
			snap.Selected = &r
		}
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Records returns a copy of all records, newest-first, ignoring the filter.
func (s *Service) Records(ctx context.Context) ([]detection.Record, error) {
	var records []detection.Record
	err := s.exec(ctx, "records", func(st *Store) {
		records = st.Records()
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Subscribe registers a change listener. A buffer of 0 uses DefaultSubscriberBuffer.
// Events that do not fit the buffer are dropped.
func (s *Service) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}

	ch := make(chan Event, buffer)
	sub := &Subscription{ID: uuid.NewString(), C: ch, ch: ch}

	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	s.lifecycleMu.Lock()
	stopped := s.stopped
	s.lifecycleMu.Unlock()
	if stopped {
		close(ch)
		return sub
	}

	s.subs[sub.ID] = sub
	return sub
}

// Unsubscribe removes a listener and closes its channel.
func (s *Service) Unsubscribe(id string) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	if sub, ok := s.subs[id]; ok {
		close(sub.ch)
		delete(s.subs, id)
	}
}

// publish bumps the revision and fans the event out without blocking.
func (s *Service) publish(evt Event) {
	evt.Revision = s.revision.Add(1)
	evt.At = s.now()

	s.subsMu.RLock()
	defer s.subsMu.RUnlock()

	for _, sub := range s.subs {
		select {
		case sub.ch <- evt:
			s.eventsSent.Add(1)
		default:
			sub.dropped.Add(1)
			s.eventsDropped.Add(1)
			if s.metrics != nil {
				s.metrics.RecordSubscriberDrop()
			}
		}
	}
}

// Stats returns service counters.
func (s *Service) Stats() ServiceStats {
	s.subsMu.RLock()
	subscribers := len(s.subs)
	s.subsMu.RUnlock()

	return ServiceStats{
		Commands:      s.commands.Load(),
		EventsSent:    s.eventsSent.Load(),
		EventsDropped: s.eventsDropped.Load(),
		Subscribers:   subscribers,
		Revision:      s.revision.Load(),
	}
}
