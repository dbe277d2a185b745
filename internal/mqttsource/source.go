// Package mqttsource feeds detections published on an MQTT topic into the
// detection feed. Each message is ingested at most once per dedup window.
package mqttsource

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/patrickmn/go-cache"

	"github.com/madello/paarvai/internal/detection"
	"github.com/madello/paarvai/internal/errors"
	"github.com/madello/paarvai/internal/feed"
	"github.com/madello/paarvai/internal/logger"
)

const (
	DefaultTopic          = "paarvai/detections"
	DefaultDedupTTL       = 10 * time.Minute
	DefaultConnectTimeout = 30 * time.Second
	DefaultHandleTimeout  = 5 * time.Second

	disconnectQuiesceMs = 250
)

// Sink receives decoded records. feed.Service satisfies it.
type Sink interface {
	Ingest(ctx context.Context, r detection.Record) (feed.IngestResult, error)
}

// Recorder receives MQTT metrics.
type Recorder interface {
	UpdateConnectionStatus(connected bool)
	RecordMessage(outcome string, size int)
	IncrementReconnectAttempts()
}

// Config holds the broker connection settings.
type Config struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
	QoS      byte
	// DedupTTL is how long a seen id is remembered.
	DedupTTL       time.Duration
	ConnectTimeout time.Duration
	// HandleTimeout bounds one Ingest call.
	HandleTimeout time.Duration
}

// ClientFactory builds the paho client. Tests replace it.
type ClientFactory func(opts *mqtt.ClientOptions) mqtt.Client

// Option configures a Source.
type Option func(*Source)

// WithClientFactory replaces mqtt.NewClient.
func WithClientFactory(f ClientFactory) Option {
	return func(s *Source) {
		if f != nil {
			s.newClient = f
		}
	}
}

// WithLogger sets the source logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Source) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics sets the MQTT recorder.
func WithMetrics(m Recorder) Option {
	return func(s *Source) {
		s.metrics = m
	}
}

// WithClock replaces time.Now for records without observedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Source) {
		if now != nil {
			s.now = now
		}
	}
}

// Source subscribes to a topic and ingests every decoded detection.
type Source struct {
	cfg       Config
	sink      Sink
	newClient ClientFactory
	seen      *cache.Cache
	log       logger.Logger
	metrics   Recorder
	now       func() time.Time

	mu      sync.Mutex
	client  mqtt.Client
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// New validates cfg and creates a stopped source.
func New(sink Sink, cfg Config, opts ...Option) (*Source, error) {
	if sink == nil {
		return nil, configError(errors.NewStd("mqtt source requires a sink"))
	}
	if err := validateBroker(cfg.Broker); err != nil {
		return nil, err
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "paarvai"
	}
	if cfg.QoS > 2 {
		return nil, configError(fmt.Errorf("invalid mqtt qos %d", cfg.QoS))
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = DefaultDedupTTL
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.HandleTimeout <= 0 {
		cfg.HandleTimeout = DefaultHandleTimeout
	}

	s := &Source{
		cfg:       cfg,
		sink:      sink,
		newClient: mqtt.NewClient,
		seen:      cache.New(cfg.DedupTTL, 2*cfg.DedupTTL),
		log:       logger.Global().Module("mqtt"),
		now:       time.Now,
		ctx:       context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func validateBroker(broker string) error {
	if strings.TrimSpace(broker) == "" {
		return configError(errors.NewStd("mqtt broker is required"))
	}
	u, err := url.Parse(broker)
	if err != nil {
		return configError(err)
	}
	switch u.Scheme {
	case "tcp", "ssl", "tls", "mqtt", "mqtts", "ws", "wss":
	default:
		return configError(fmt.Errorf("unsupported mqtt broker scheme %q", u.Scheme))
	}
	if u.Hostname() == "" {
		return configError(fmt.Errorf("mqtt broker %q has no host", broker))
	}
	return nil
}

func configError(err error) error {
	return errors.New(err).
		Component("mqttsource").
		Category(errors.CategoryConfiguration).
		Build()
}

// Start connects to the broker and subscribes on every (re)connect. When the
// broker does not answer within the connect timeout, paho keeps retrying in
// the background and Start returns nil.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.cfg.Broker)
	opts.SetClientID(s.cfg.ClientID)
	opts.SetUsername(s.cfg.Username)
	opts.SetPassword(s.cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(s.cfg.ConnectTimeout)
	opts.SetOnConnectHandler(s.onConnect)
	opts.SetConnectionLostHandler(s.onConnectionLost)
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		if s.metrics != nil {
			s.metrics.IncrementReconnectAttempts()
		}
	})

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.client = s.newClient(opts)
	s.running = true

	token := s.client.Connect()
	if !token.WaitTimeout(s.cfg.ConnectTimeout) {
		s.log.Warn("mqtt broker not reachable yet, retrying in background",
			logger.String("broker", s.cfg.Broker))
		return nil
	}
	if err := token.Error(); err != nil {
		s.client.Disconnect(disconnectQuiesceMs)
		s.cancel()
		s.running = false
		return errors.New(err).
			Component("mqttsource").
			Category(errors.CategoryMQTTConnection).
			NetworkContext(s.cfg.Broker, s.cfg.ConnectTimeout).
			Build()
	}
	return nil
}

// Stop disconnects from the broker. It is idempotent.
func (s *Source) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	s.client.Disconnect(disconnectQuiesceMs)
	s.cancel()
	s.seen.Flush()

	if s.metrics != nil {
		s.metrics.UpdateConnectionStatus(false)
	}
	s.log.Info("mqtt source stopped", logger.String("broker", s.cfg.Broker))
}

// Connected reports whether the broker connection is up.
func (s *Source) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running && s.client.IsConnected()
}

func (s *Source) onConnect(c mqtt.Client) {
	if s.metrics != nil {
		s.metrics.UpdateConnectionStatus(true)
	}
	s.log.Info("connected to mqtt broker",
		logger.String("broker", s.cfg.Broker),
		logger.String("topic", s.cfg.Topic))

	// paho handlers must not wait on tokens
	token := c.Subscribe(s.cfg.Topic, s.cfg.QoS, s.handleMessage)
	go func() {
		if token.WaitTimeout(s.cfg.ConnectTimeout) && token.Error() != nil {
			s.log.Error("mqtt subscribe failed",
				logger.String("topic", s.cfg.Topic),
				logger.Error(token.Error()))
		}
	}()
}

func (s *Source) onConnectionLost(_ mqtt.Client, err error) {
	if s.metrics != nil {
		s.metrics.UpdateConnectionStatus(false)
	}
	s.log.Warn("mqtt connection lost",
		logger.String("broker", s.cfg.Broker),
		logger.Error(err))
}

func (s *Source) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *Source) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	_, _ = s.Handle(s.runContext(), msg.Payload())
}

// Handle decodes one payload and ingests it unless its id was seen within
// the dedup window. It returns the outcome recorded in metrics.
func (s *Source) Handle(ctx context.Context, payload []byte) (string, error) {
	outcome, err := s.handle(ctx, payload)
	if s.metrics != nil {
		s.metrics.RecordMessage(outcome, len(payload))
	}
	return outcome, err
}

func (s *Source) handle(ctx context.Context, payload []byte) (string, error) {
	r, err := Decode(payload, s.now())
	if err != nil {
		s.log.Warn("discarding mqtt message",
			logger.Int("size", len(payload)),
			logger.Error(err))
		return "invalid", err
	}

	if err := s.seen.Add(r.ID, struct{}{}, cache.DefaultExpiration); err != nil {
		s.log.Debug("duplicate mqtt message", logger.String("id", r.ID))
		return "duplicate", nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.HandleTimeout)
	defer cancel()

	res, err := s.sink.Ingest(ctx, r)
	if err != nil {
		// allow a redelivery once the feed is back
		s.seen.Delete(r.ID)
		s.log.Warn("mqtt detection not ingested",
			logger.String("id", r.ID),
			logger.Error(err))
		return "error", err
	}
	if !res.Accepted {
		return string(res.Dropped), nil
	}

	s.log.Debug("mqtt detection ingested",
		logger.String("id", r.ID),
		logger.String("classification", string(r.Classification)))
	return "accepted", nil
}
