// Package app assembles the detection feed, its sources and its HTTP front
// end from Settings and runs them until the context ends.
package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/madello/paarvai/internal/alert"
	"github.com/madello/paarvai/internal/api"
	"github.com/madello/paarvai/internal/camera"
	"github.com/madello/paarvai/internal/conf"
	"github.com/madello/paarvai/internal/detection"
	"github.com/madello/paarvai/internal/errors"
	"github.com/madello/paarvai/internal/feed"
	"github.com/madello/paarvai/internal/logger"
	"github.com/madello/paarvai/internal/mqttsource"
	"github.com/madello/paarvai/internal/observability"
	"github.com/madello/paarvai/internal/seed"
	"github.com/madello/paarvai/internal/simulator"
)

const (
	componentApp = "app"

	// feedStopTimeout bounds the wait for the feed goroutine on shutdown.
	feedStopTimeout = 5 * time.Second
)

// Option configures an App.
type Option func(*App)

// WithLogger sets the application logger.
func WithLogger(l logger.Logger) Option {
	return func(a *App) {
		if l != nil {
			a.log = l
		}
	}
}

// WithClock replaces time.Now for seed generation.
func WithClock(now func() time.Time) Option {
	return func(a *App) {
		if now != nil {
			a.now = now
		}
	}
}

// WithMQTTClientFactory replaces the paho client constructor.
func WithMQTTClientFactory(f mqttsource.ClientFactory) Option {
	return func(a *App) {
		a.mqttFactory = f
	}
}

// App holds the wired components. Optional components are nil when disabled.
type App struct {
	settings *conf.Settings
	loc      *time.Location
	log      logger.Logger
	now      func() time.Time

	mqttFactory mqttsource.ClientFactory
	seed        []detection.Record

	Metrics   *observability.Metrics
	Feed      *feed.Service
	Cameras   *camera.Registry
	Alerts    *alert.Dispatcher
	MQTT      *mqttsource.Source
	Simulator *simulator.Simulator
	Server    *api.Server
}

// New builds every enabled component. Nothing runs until Run.
func New(settings *conf.Settings, opts ...Option) (*App, error) {
	if settings == nil {
		return nil, errors.Newf("app requires settings").
			Component(componentApp).
			Category(errors.CategoryConfiguration).
			Build()
	}

	a := &App{
		settings: settings,
		log:      logger.Global().Module(componentApp),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}

	loc, err := settings.TimeLocation()
	if err != nil {
		return nil, errors.New(err).
			Component(componentApp).
			Category(errors.CategoryConfiguration).
			Context("timezone", settings.Main.Timezone).
			Build()
	}
	a.loc = loc

	if settings.Metrics.Enabled {
		if a.Metrics, err = observability.NewMetrics(); err != nil {
			return nil, errors.New(err).
				Component(componentApp).
				Category(errors.CategoryGeneric).
				Build()
		}
	}

	a.buildFeed()
	a.buildCameras()

	if err := a.loadSeed(); err != nil {
		return nil, err
	}

	builders := []func() error{a.buildAlerts, a.buildMQTT, a.buildSimulator, a.buildServer}
	for _, build := range builders {
		if err := build(); err != nil {
			return nil, err
		}
	}

	return a, nil
}

func (a *App) buildFeed() {
	s := a.settings.Feed
	policy, _ := feed.ParseDuplicatePolicy(s.DuplicatePolicy)
	match, _ := feed.ParseLocationMatch(s.LocationMatch)

	store := feed.NewStore(feed.Options{
		Capacity:                s.Capacity,
		DuplicatePolicy:         policy,
		LocationMatch:           match,
		SelectFirstOnInitialize: s.SelectFirst,
		Location:                a.loc,
	})

	opts := []feed.ServiceOption{feed.WithLogger(a.log.Module("feed"))}
	if a.Metrics != nil {
		opts = append(opts, feed.WithMetrics(a.Metrics.Feed))
	}
	a.Feed = feed.NewService(store, opts...)
}

func (a *App) buildCameras() {
	cams := make([]camera.Camera, 0, len(a.settings.Cameras))
	for _, c := range a.settings.Cameras {
		cams = append(cams, camera.Camera{ID: c.ID, Name: c.Name, StreamURL: c.StreamURL})
	}
	a.Cameras = camera.NewRegistry(cams, camera.WithQuietPeriod(a.settings.Camera.QuietPeriod))
	a.Feed.OnIngest(a.Cameras.ObserveIngest)
}

// loadSeed reads the seed file when one is configured and generates the
// seed otherwise.
func (a *App) loadSeed() error {
	if path := a.settings.Seed.File; path != "" {
		records, err := seed.Load(path)
		if err != nil {
			return err
		}
		a.seed = records
		a.log.Info("seed loaded", logger.String("path", path), logger.Int("records", len(records)))
		return nil
	}

	src := simulator.NewSource(a.settings.Simulator.RandomSeed)
	gen := simulator.NewGenerator(simulator.DefaultPools(), src, simulator.DefaultSeedStart)
	a.seed = gen.Seed(a.settings.Simulator.SeedCount, a.now())
	return nil
}

func (a *App) buildAlerts() error {
	s := a.settings.Alerts
	if !s.Enabled {
		return nil
	}

	minPriority, err := detection.ParsePriority(s.MinPriority)
	if err != nil {
		return err
	}

	opts := []alert.Option{alert.WithLogger(a.log.Module("alert"))}
	if a.Metrics != nil {
		opts = append(opts, alert.WithMetrics(a.Metrics.Alert))
	}
	d, err := alert.NewDispatcher(alert.Config{
		URLs:         s.URLs,
		MinPriority:  minPriority,
		IncludeValid: s.IncludeValid,
		Interval:     s.Interval,
		Burst:        s.Burst,
		Location:     a.loc,
	}, opts...)
	if err != nil {
		return err
	}

	a.Alerts = d
	a.Feed.OnIngest(d.ObserveIngest)
	return nil
}

func (a *App) buildMQTT() error {
	s := a.settings.MQTT
	if !s.Enabled {
		return nil
	}

	opts := []mqttsource.Option{mqttsource.WithLogger(a.log.Module("mqtt"))}
	if a.Metrics != nil {
		opts = append(opts, mqttsource.WithMetrics(a.Metrics.MQTT))
	}
	if a.mqttFactory != nil {
		opts = append(opts, mqttsource.WithClientFactory(a.mqttFactory))
	}

	src, err := mqttsource.New(a.Feed, mqttsource.Config{
		Broker:   s.Broker,
		Topic:    s.Topic,
		ClientID: s.ClientID,
		Username: s.Username,
		Password: s.Password,
		QoS:      byte(s.QoS),
		DedupTTL: s.DedupTTL,
	}, opts...)
	if err != nil {
		return err
	}
	a.MQTT = src
	return nil
}

func (a *App) buildSimulator() error {
	s := a.settings.Simulator
	if !s.Enabled {
		return nil
	}

	opts := []simulator.Option{simulator.WithLogger(a.log.Module("simulator"))}
	if a.Metrics != nil {
		opts = append(opts, simulator.WithMetrics(a.Metrics.Simulator))
	}

	sim, err := simulator.New(a.Feed, simulator.Config{
		Interval: s.Interval,
		Source:   simulator.NewSource(a.settings.Simulator.RandomSeed),
		StartID:  simulator.NextIDAfter(a.seed),
	}, opts...)
	if err != nil {
		return err
	}
	a.Simulator = sim
	return nil
}

func (a *App) buildServer() error {
	s := a.settings.WebServer
	if !s.Enabled {
		return nil
	}

	opts := []api.Option{
		api.WithLogger(a.log.Module("api")),
		api.WithCameras(a.Cameras),
	}
	if a.Metrics != nil {
		opts = append(opts,
			api.WithMetrics(a.Metrics.HTTP),
			api.WithMetricsHandler(a.Metrics.Handler(a.log.Module("metrics"))))
	}

	srv, err := api.New(a.Feed, api.Config{
		Listen:         s.Listen,
		SSEHeartbeat:   s.SSEHeartbeat,
		RateLimit:      s.RateLimit,
		RateBurst:      s.RateBurst,
		AllowedOrigins: s.AllowedOrigins,
		Location:       a.loc,
	}, opts...)
	if err != nil {
		return err
	}
	a.Server = srv
	return nil
}

// Seed returns the records the feed is initialized with.
func (a *App) Seed() []detection.Record {
	return a.seed
}

// Location returns the configured time zone.
func (a *App) Location() *time.Location {
	return a.loc
}

// Start starts the feed, initializes it with the seed and starts every
// enabled producer. Stop must be called even when Start fails.
func (a *App) Start(ctx context.Context) error {
	// the feed outlives ctx so producers can drain on shutdown
	if err := a.Feed.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	if err := a.Feed.Initialize(ctx, a.seed); err != nil {
		return err
	}

	if a.Alerts != nil {
		a.Alerts.Start(ctx)
	}
	if a.MQTT != nil {
		if err := a.MQTT.Start(ctx); err != nil {
			return err
		}
	}
	if a.Simulator != nil {
		a.Simulator.Start(ctx)
	}

	a.log.Info("detection feed running",
		logger.Int("seed", len(a.seed)),
		logger.Bool("simulator", a.Simulator != nil),
		logger.Bool("mqtt", a.MQTT != nil),
		logger.Bool("alerts", a.Alerts != nil),
		logger.Bool("webserver", a.Server != nil))
	return nil
}

// Stop stops producers first, then the feed. It is safe to call more than once.
func (a *App) Stop() error {
	if a.Simulator != nil {
		a.Simulator.Stop()
	}
	if a.MQTT != nil {
		a.MQTT.Stop()
	}
	if a.Alerts != nil {
		a.Alerts.Stop()
	}
	return a.Feed.Stop(feedStopTimeout)
}

// Run starts the app and serves HTTP until ctx ends or the server fails.
func (a *App) Run(ctx context.Context) (err error) {
	defer func() {
		if stopErr := a.Stop(); stopErr != nil {
			a.log.Warn("shutdown incomplete", logger.Error(stopErr))
			if err == nil {
				err = stopErr
			}
		}
	}()

	if err := a.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if a.Server != nil {
		g.Go(func() error { return a.Server.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err = g.Wait()
	a.log.Info("shutting down")
	return err
}
