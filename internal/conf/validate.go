package conf

import (
	"fmt"
	"net"
	"strings"

	"github.com/madello/paarvai/internal/detection"
	"github.com/madello/paarvai/internal/feed"
)

// MaxFeedCapacity bounds feed.capacity.
const MaxFeedCapacity = 10000

// ValidationError collects every settings problem.
type ValidationError struct {
	Errors []string
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %s", strings.Join(ve.Errors, "; "))
}

// ValidateSettings checks s and reports all problems in one ValidationError.
func ValidateSettings(s *Settings) error {
	ve := ValidationError{}
	add := func(format string, args ...any) {
		ve.Errors = append(ve.Errors, fmt.Sprintf(format, args...))
	}

	if _, err := s.TimeLocation(); err != nil {
		add("main.timezone: %v", err)
	}

	validateFeedSettings(&s.Feed, add)
	validateSimulatorSettings(&s.Simulator, &s.Feed, add)
	validateCameraSettings(s.Cameras, add)
	validateMQTTSettings(&s.MQTT, add)
	validateAlertSettings(&s.Alerts, add)
	validateWebServerSettings(&s.WebServer, add)

	if s.Camera.QuietPeriod <= 0 {
		add("camera.quiet_period must be positive")
	}
	if s.Sentry.Enabled && s.Sentry.DSN == "" {
		add("sentry.dsn is required when sentry is enabled")
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

type addFunc func(format string, args ...any)

func validateFeedSettings(f *FeedSettings, add addFunc) {
	if f.Capacity < 1 || f.Capacity > MaxFeedCapacity {
		add("feed.capacity must be between 1 and %d, got %d", MaxFeedCapacity, f.Capacity)
	}
	if _, ok := feed.ParseDuplicatePolicy(f.DuplicatePolicy); !ok {
		add("feed.duplicate_policy must be ignore or replace, got %q", f.DuplicatePolicy)
	}
	if _, ok := feed.ParseLocationMatch(f.LocationMatch); !ok {
		add("feed.location_match must be exact or site, got %q", f.LocationMatch)
	}
}

func validateSimulatorSettings(s *SimulatorSettings, f *FeedSettings, add addFunc) {
	if s.Enabled && s.Interval <= 0 {
		add("simulator.interval must be positive")
	}
	if s.SeedCount < 0 {
		add("simulator.seed_count must not be negative")
	}
	if f.Capacity > 0 && s.SeedCount > f.Capacity {
		add("simulator.seed_count %d exceeds feed.capacity %d", s.SeedCount, f.Capacity)
	}
}

func validateCameraSettings(cams []CameraSettings, add addFunc) {
	seen := make(map[string]bool, len(cams))
	for i, c := range cams {
		id := strings.TrimSpace(c.ID)
		if id == "" {
			add("cameras[%d].id is empty", i)
			continue
		}
		if seen[id] {
			add("cameras[%d].id %q is duplicated", i, id)
		}
		seen[id] = true
	}
}

func validateMQTTSettings(m *MQTTSettings, add addFunc) {
	if !m.Enabled {
		return
	}
	if m.Broker == "" {
		add("mqtt.broker is required when mqtt is enabled")
	}
	if m.Topic == "" {
		add("mqtt.topic is required when mqtt is enabled")
	}
	if m.QoS < 0 || m.QoS > 2 {
		add("mqtt.qos must be 0, 1 or 2, got %d", m.QoS)
	}
	if m.DedupTTL <= 0 {
		add("mqtt.dedup_ttl must be positive")
	}
}

func validateAlertSettings(a *AlertSettings, add addFunc) {
	if !a.Enabled {
		return
	}
	if len(a.URLs) == 0 {
		add("alerts.urls needs at least one URL when alerts are enabled")
	}
	if _, err := detection.ParsePriority(a.MinPriority); err != nil {
		add("alerts.min_priority: %v", err)
	}
	if a.Interval <= 0 {
		add("alerts.interval must be positive")
	}
	if a.Burst < 1 {
		add("alerts.burst must be at least 1")
	}
}

func validateWebServerSettings(w *WebServerSettings, add addFunc) {
	if !w.Enabled {
		return
	}
	if _, _, err := net.SplitHostPort(w.Listen); err != nil {
		add("webserver.listen %q: %v", w.Listen, err)
	}
	if w.SSEHeartbeat <= 0 {
		add("webserver.sse_heartbeat must be positive")
	}
	if w.RateLimit < 0 {
		add("webserver.rate_limit must not be negative")
	}
	if w.RateLimit > 0 && w.RateBurst < 1 {
		add("webserver.rate_burst must be at least 1 when rate limiting")
	}
}
