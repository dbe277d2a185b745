package conf

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/madello/paarvai/internal/detection"
	"github.com/madello/paarvai/internal/feed"
)

// envBinding ties a config key to its environment variable.
type envBinding struct {
	ConfigKey string
	EnvVar    string
	Validate  func(string) error
}

func getEnvBindings() []envBinding {
	return []envBinding{
		{"main.name", "PAARVAI_MAIN_NAME", nil},
		{"main.timezone", "PAARVAI_MAIN_TIMEZONE", validateEnvTimezone},

		{"feed.capacity", "PAARVAI_FEED_CAPACITY", validateEnvPositiveInt},
		{"feed.duplicate_policy", "PAARVAI_FEED_DUPLICATE_POLICY", validateEnvDuplicatePolicy},
		{"feed.location_match", "PAARVAI_FEED_LOCATION_MATCH", validateEnvLocationMatch},
		{"feed.select_first", "PAARVAI_FEED_SELECT_FIRST", validateEnvBool},

		{"simulator.enabled", "PAARVAI_SIMULATOR_ENABLED", validateEnvBool},
		{"simulator.interval", "PAARVAI_SIMULATOR_INTERVAL", validateEnvDuration},
		{"simulator.seed_count", "PAARVAI_SIMULATOR_SEED_COUNT", validateEnvNonNegativeInt},
		{"simulator.random_seed", "PAARVAI_SIMULATOR_RANDOM_SEED", validateEnvUint},
		{"seed.file", "PAARVAI_SEED_FILE", nil},

		{"mqtt.enabled", "PAARVAI_MQTT_ENABLED", validateEnvBool},
		{"mqtt.broker", "PAARVAI_MQTT_BROKER", validateEnvURL},
		{"mqtt.topic", "PAARVAI_MQTT_TOPIC", nil},
		{"mqtt.username", "PAARVAI_MQTT_USERNAME", nil},
		{"mqtt.password", "PAARVAI_MQTT_PASSWORD", nil},

		{"alerts.enabled", "PAARVAI_ALERTS_ENABLED", validateEnvBool},
		{"alerts.urls", "PAARVAI_ALERTS_URLS", nil},
		{"alerts.min_priority", "PAARVAI_ALERTS_MIN_PRIORITY", validateEnvPriority},

		{"webserver.enabled", "PAARVAI_WEBSERVER_ENABLED", validateEnvBool},
		{"webserver.listen", "PAARVAI_WEBSERVER_LISTEN", validateEnvListen},
		{"metrics.enabled", "PAARVAI_METRICS_ENABLED", validateEnvBool},

		{"logging.default_level", "PAARVAI_LOG_LEVEL", nil},
		{"logging.console.level", "PAARVAI_LOG_LEVEL", nil},
		{"sentry.enabled", "PAARVAI_SENTRY_ENABLED", validateEnvBool},
		{"sentry.dsn", "SENTRY_DSN", nil},
	}
}

// bindEnvVars binds every variable and validates the ones that are set.
// All problems are reported together.
func bindEnvVars(v *viper.Viper) error {
	var problems []string

	for _, b := range getEnvBindings() {
		if err := v.BindEnv(b.ConfigKey, b.EnvVar); err != nil {
			problems = append(problems, fmt.Sprintf("failed to bind %s: %v", b.EnvVar, err))
			continue
		}
		if b.Validate == nil {
			continue
		}
		if value := os.Getenv(b.EnvVar); value != "" {
			if err := b.Validate(value); err != nil {
				problems = append(problems, fmt.Sprintf("invalid %s value %q: %v", b.EnvVar, value, err))
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

func configureEnvironmentVariables(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return bindEnvVars(v)
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return fmt.Errorf("must be a positive integer")
	}
	return nil
}

func validateEnvNonNegativeInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return fmt.Errorf("must be zero or a positive integer")
	}
	return nil
}

func validateEnvUint(value string) error {
	if _, err := strconv.ParseUint(value, 10, 64); err != nil {
		return fmt.Errorf("must be an unsigned integer")
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	if d <= 0 {
		return fmt.Errorf("must be positive")
	}
	return nil
}

func validateEnvTimezone(value string) error {
	s := Settings{Main: MainSettings{Timezone: value}}
	_, err := s.TimeLocation()
	return err
}

func validateEnvDuplicatePolicy(value string) error {
	if _, ok := feed.ParseDuplicatePolicy(value); !ok {
		return fmt.Errorf("must be ignore or replace")
	}
	return nil
}

func validateEnvLocationMatch(value string) error {
	if _, ok := feed.ParseLocationMatch(value); !ok {
		return fmt.Errorf("must be exact or site")
	}
	return nil
}

func validateEnvPriority(value string) error {
	_, err := detection.ParsePriority(value)
	return err
}

func validateEnvURL(value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("must include scheme and host")
	}
	return nil
}

func validateEnvListen(value string) error {
	_, _, err := net.SplitHostPort(value)
	return err
}
