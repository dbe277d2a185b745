package conf

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaultConfig registers every key so environment variables resolve
// even when the config file omits a section.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("main.name", "paarvai")
	v.SetDefault("main.timezone", "Local")

	v.SetDefault("feed.capacity", 120)
	v.SetDefault("feed.duplicate_policy", "ignore")
	v.SetDefault("feed.location_match", "exact")
	v.SetDefault("feed.select_first", true)

	v.SetDefault("simulator.enabled", true)
	v.SetDefault("simulator.interval", 4500*time.Millisecond)
	v.SetDefault("simulator.seed_count", 40)
	v.SetDefault("simulator.random_seed", 0)

	v.SetDefault("seed.file", "")

	v.SetDefault("camera.quiet_period", 30*time.Second)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic", "paarvai/detections")
	v.SetDefault("mqtt.client_id", "paarvai")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.dedup_ttl", 10*time.Minute)

	v.SetDefault("alerts.enabled", false)
	v.SetDefault("alerts.urls", []string{})
	v.SetDefault("alerts.min_priority", "High")
	v.SetDefault("alerts.include_valid", false)
	v.SetDefault("alerts.interval", 30*time.Second)
	v.SetDefault("alerts.burst", 3)

	v.SetDefault("webserver.enabled", true)
	v.SetDefault("webserver.listen", ":8080")
	v.SetDefault("webserver.sse_heartbeat", 15*time.Second)
	v.SetDefault("webserver.rate_limit", 20.0)
	v.SetDefault("webserver.rate_burst", 40)
	v.SetDefault("webserver.allowed_origins", []string{})

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", "logs/paarvai.log")
	v.SetDefault("logging.file_output.level", "info")

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "production")
}
