// Package alert pushes notifications for high-priority stranger detections
// through shoutrrr service URLs.
package alert

import (
	"context"
	"fmt"
	"io"
	"log"
	"slices"
	"strings"
	"sync"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
	"golang.org/x/time/rate"

	"github.com/madello/paarvai/internal/detection"
	"github.com/madello/paarvai/internal/errors"
	"github.com/madello/paarvai/internal/feed"
	"github.com/madello/paarvai/internal/logger"
)

const (
	// DefaultInterval is the minimum spacing between delivered alerts.
	DefaultInterval = 30 * time.Second
	// DefaultBurst is the number of alerts allowed back to back.
	DefaultBurst     = 3
	DefaultQueueSize = 32
	DefaultTimeout   = 10 * time.Second

	providerName = "shoutrrr"
)

// Sender delivers one message to every configured service.
// *router.ServiceRouter satisfies it.
type Sender interface {
	Send(message string, params *stypes.Params) []error
}

// Recorder receives delivery metrics.
type Recorder interface {
	RecordDelivery(provider string, err error, took time.Duration)
	RecordThrottled()
	SetQueueDepth(n int)
}

// Config configures a Dispatcher.
type Config struct {
	URLs []string
	// MinPriority is the lowest priority that raises an alert.
	MinPriority detection.Priority
	// IncludeValid also alerts on recognized people.
	IncludeValid bool
	Interval     time.Duration
	Burst        int
	QueueSize    int
	Timeout      time.Duration
	// Location formats alert timestamps. Nil uses time.Local.
	Location *time.Location
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSender replaces the shoutrrr router built from Config.URLs.
func WithSender(s Sender) Option {
	return func(d *Dispatcher) {
		d.sender = s
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(l logger.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// WithMetrics sets the delivery recorder.
func WithMetrics(m Recorder) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// Dispatcher queues qualifying detections and delivers them at a limited rate.
type Dispatcher struct {
	cfg     Config
	sender  Sender
	limiter *rate.Limiter
	queue   chan detection.Record
	log     logger.Logger
	metrics Recorder

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewDispatcher validates cfg and builds the shoutrrr sender unless one was
// supplied with WithSender.
func NewDispatcher(cfg Config, opts ...Option) (*Dispatcher, error) {
	if cfg.MinPriority == "" {
		cfg.MinPriority = detection.PriorityHigh
	}
	if cfg.MinPriority.Rank() == 0 {
		return nil, configError(fmt.Errorf("unknown minimum priority %q", cfg.MinPriority))
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Burst < 1 {
		cfg.Burst = DefaultBurst
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	d := &Dispatcher{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.Interval), cfg.Burst),
		queue:   make(chan detection.Record, cfg.QueueSize),
		log:     logger.Global().Module("alert"),
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.sender == nil {
		s, err := newShoutrrrSender(cfg.URLs, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		d.sender = s
	}
	return d, nil
}

func newShoutrrrSender(urls []string, timeout time.Duration) (Sender, error) {
	urls = slices.DeleteFunc(slices.Clone(urls), func(u string) bool {
		return strings.TrimSpace(u) == ""
	})
	if len(urls) == 0 {
		return nil, configError(errors.NewStd("at least one alert URL is required"))
	}

	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, configError(errors.NewStd(errors.ScrubMessage(err.Error())))
	}
	sender.Timeout = timeout
	sender.SetLogger(log.New(io.Discard, "", 0))
	return sender, nil
}

func configError(err error) error {
	return errors.New(err).
		Component("alert").
		Category(errors.CategoryConfiguration).
		Build()
}

// Qualifies reports whether r raises an alert.
func (d *Dispatcher) Qualifies(r *detection.Record) bool {
	if !r.IsStranger() && !d.cfg.IncludeValid {
		return false
	}
	return r.Priority.Rank() >= d.cfg.MinPriority.Rank()
}

// ObserveIngest queues accepted qualifying records. It never blocks; a full
// queue drops the alert. It is meant for feed.Service.OnIngest.
func (d *Dispatcher) ObserveIngest(res feed.IngestResult) {
	if !res.Accepted || !d.Qualifies(&res.Record) {
		return
	}

	select {
	case d.queue <- res.Record:
		d.setQueueDepth()
	default:
		d.throttled(&res.Record, "queue full")
	}
}

// Start launches the delivery goroutine. It is a no-op while running.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	d.running = true

	go d.run(runCtx, d.done)
	d.log.Info("alert dispatcher started",
		logger.String("min_priority", string(d.cfg.MinPriority)),
		logger.Duration("interval", d.cfg.Interval))
}

// Stop ends delivery and waits for an in-flight send. Queued alerts stay
// queued for a later Start.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	cancel, done := d.cancel, d.done
	d.mu.Unlock()

	cancel()
	<-done
	d.log.Info("alert dispatcher stopped", logger.Int("queued", len(d.queue)))
}

func (d *Dispatcher) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case r := <-d.queue:
			d.setQueueDepth()
			if !d.limiter.Allow() {
				d.throttled(&r, "rate limited")
				continue
			}
			d.deliver(&r)
		}
	}
}

func (d *Dispatcher) deliver(r *detection.Record) {
	params := stypes.Params{}
	params.SetTitle(Title(r))

	start := time.Now()
	err := firstError(d.sender.Send(Message(r, d.cfg.Location), &params))
	took := time.Since(start)

	if d.metrics != nil {
		d.metrics.RecordDelivery(providerName, err, took)
	}

	if err != nil {
		enhanced := errors.New(errors.NewStd(errors.ScrubMessage(err.Error()))).
			Component("alert").
			Category(errors.CategoryAlert).
			Context("id", r.ID).
			Build()
		d.log.Warn("alert delivery failed",
			logger.String("id", r.ID),
			logger.Error(enhanced))
		return
	}

	d.log.Info("alert delivered",
		logger.String("id", r.ID),
		logger.String("location", r.LocationLabel),
		logger.Duration("took", took))
}

func (d *Dispatcher) throttled(r *detection.Record, reason string) {
	if d.metrics != nil {
		d.metrics.RecordThrottled()
	}
	d.log.Debug("alert skipped",
		logger.String("id", r.ID),
		logger.String("reason", reason))
}

func (d *Dispatcher) setQueueDepth() {
	if d.metrics != nil {
		d.metrics.SetQueueDepth(len(d.queue))
	}
}

func firstError(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Title returns the notification title for r.
func Title(r *detection.Record) string {
	if r.IsStranger() {
		return fmt.Sprintf("%s priority stranger alert", r.Priority)
	}
	return fmt.Sprintf("%s priority detection", r.Priority)
}

// Message returns the notification body for r.
func Message(r *detection.Record, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s at %s", r.DisplayName(), r.LocationLabel)
	if r.CameraName != "" {
		fmt.Fprintf(&b, " (%s)", r.CameraName)
	}
	fmt.Fprintf(&b, "\n%s, confidence %.0f%%, id %s",
		r.ObservedAt.In(loc).Format(time.DateTime), r.Confidence, r.ID)
	return b.String()
}
