// Package conf loads paarvai settings from the embedded defaults, an
// optional YAML file, PAARVAI_* environment variables and command flags,
// in increasing precedence.
package conf

import (
	"bytes"
	_ "embed"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/madello/paarvai/internal/errors"
	"github.com/madello/paarvai/internal/logger"
)

//go:embed config.yaml
var defaultConfig []byte

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "PAARVAI"

// Settings is the complete application configuration.
type Settings struct {
	Main      MainSettings         `mapstructure:"main" yaml:"main"`
	Feed      FeedSettings         `mapstructure:"feed" yaml:"feed"`
	Simulator SimulatorSettings    `mapstructure:"simulator" yaml:"simulator"`
	Seed      SeedSettings         `mapstructure:"seed" yaml:"seed"`
	Cameras   []CameraSettings     `mapstructure:"cameras" yaml:"cameras"`
	Camera    CameraStatusSettings `mapstructure:"camera" yaml:"camera"`
	MQTT      MQTTSettings         `mapstructure:"mqtt" yaml:"mqtt"`
	Alerts    AlertSettings        `mapstructure:"alerts" yaml:"alerts"`
	WebServer WebServerSettings    `mapstructure:"webserver" yaml:"webserver"`
	Metrics   MetricsSettings      `mapstructure:"metrics" yaml:"metrics"`
	Logging   logger.LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Sentry    SentrySettings       `mapstructure:"sentry" yaml:"sentry"`
}

// MainSettings holds node identity and the display time zone.
type MainSettings struct {
	Name     string `mapstructure:"name" yaml:"name"`
	Timezone string `mapstructure:"timezone" yaml:"timezone"` // "Local", "UTC" or an IANA name
}

// FeedSettings configures the detection feed store.
type FeedSettings struct {
	Capacity        int    `mapstructure:"capacity" yaml:"capacity"`
	DuplicatePolicy string `mapstructure:"duplicate_policy" yaml:"duplicate_policy"` // ignore or replace
	LocationMatch   string `mapstructure:"location_match" yaml:"location_match"`     // exact or site
	SelectFirst     bool   `mapstructure:"select_first" yaml:"select_first"`
}

// SimulatorSettings configures the synthetic detection stream.
type SimulatorSettings struct {
	Enabled   bool          `mapstructure:"enabled" yaml:"enabled"`
	Interval  time.Duration `mapstructure:"interval" yaml:"interval"`
	SeedCount int           `mapstructure:"seed_count" yaml:"seed_count"`
	// RandomSeed fixes the generator; 0 seeds from the clock.
	RandomSeed uint64 `mapstructure:"random_seed" yaml:"random_seed"`
}

// SeedSettings points at an optional seed file used instead of generation.
type SeedSettings struct {
	File string `mapstructure:"file" yaml:"file"`
}

// CameraSettings registers one camera.
type CameraSettings struct {
	ID        string `mapstructure:"id" yaml:"id"`
	Name      string `mapstructure:"name" yaml:"name"`
	StreamURL string `mapstructure:"stream_url" yaml:"stream_url"`
}

// CameraStatusSettings configures live status tracking.
type CameraStatusSettings struct {
	QuietPeriod time.Duration `mapstructure:"quiet_period" yaml:"quiet_period"`
}

// MQTTSettings configures the MQTT detection source.
type MQTTSettings struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Broker   string        `mapstructure:"broker" yaml:"broker"`
	Topic    string        `mapstructure:"topic" yaml:"topic"`
	ClientID string        `mapstructure:"client_id" yaml:"client_id"`
	Username string        `mapstructure:"username" yaml:"username"`
	Password string        `mapstructure:"password" yaml:"password"`
	QoS      int           `mapstructure:"qos" yaml:"qos"`
	DedupTTL time.Duration `mapstructure:"dedup_ttl" yaml:"dedup_ttl"`
}

// AlertSettings configures stranger push alerts.
type AlertSettings struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	URLs         []string      `mapstructure:"urls" yaml:"urls"` // shoutrrr service URLs
	MinPriority  string        `mapstructure:"min_priority" yaml:"min_priority"`
	IncludeValid bool          `mapstructure:"include_valid" yaml:"include_valid"`
	Interval     time.Duration `mapstructure:"interval" yaml:"interval"`
	Burst        int           `mapstructure:"burst" yaml:"burst"`
}

// WebServerSettings configures the HTTP API.
type WebServerSettings struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	Listen       string        `mapstructure:"listen" yaml:"listen"`
	SSEHeartbeat time.Duration `mapstructure:"sse_heartbeat" yaml:"sse_heartbeat"`
	RateLimit    float64       `mapstructure:"rate_limit" yaml:"rate_limit"` // requests per second per client, 0 disables
	RateBurst    int           `mapstructure:"rate_burst" yaml:"rate_burst"`
	// AllowedOrigins lists CORS origins; empty allows any origin.
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// MetricsSettings toggles the Prometheus endpoint.
type MetricsSettings struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// SentrySettings configures error telemetry.
type SentrySettings struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	DSN         string `mapstructure:"dsn" yaml:"dsn"`
	Environment string `mapstructure:"environment" yaml:"environment"`
}

// TimeLocation resolves Main.Timezone.
func (s *Settings) TimeLocation() (*time.Location, error) {
	switch tz := strings.TrimSpace(s.Main.Timezone); {
	case tz == "" || strings.EqualFold(tz, "local"):
		return time.Local, nil
	case strings.EqualFold(tz, "utc"):
		return time.UTC, nil
	default:
		return time.LoadLocation(tz)
	}
}

// LoadOptions controls where Load looks for configuration.
type LoadOptions struct {
	// ConfigFile is an explicit file; when set it must exist.
	ConfigFile string
	// SearchPaths are directories searched for config.yaml when ConfigFile
	// is empty. Nil uses DefaultConfigPaths.
	SearchPaths []string
	// Flags are bound by FlagKeys.
	Flags *pflag.FlagSet
	// FlagKeys maps config keys to flag names in Flags.
	FlagKeys map[string]string
}

// DefaultConfigPaths returns the directories searched for config.yaml.
func DefaultConfigPaths() []string {
	paths := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "paarvai"))
	}
	return append(paths, "/etc/paarvai")
}

// Load builds Settings and validates them. It returns the settings with the
// path of the config file used, or "" when only defaults applied.
func Load(opts LoadOptions) (*Settings, string, error) {
	v := viper.New()
	setDefaultConfig(v)

	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaultConfig)); err != nil {
		return nil, "", configError(err, "read embedded defaults")
	}

	used, err := mergeConfigFile(v, opts)
	if err != nil {
		return nil, "", err
	}

	if err := configureEnvironmentVariables(v); err != nil {
		return nil, used, configError(err, "environment")
	}

	if opts.Flags != nil {
		for key, name := range opts.FlagKeys {
			flag := opts.Flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, used, configError(err, "bind flag "+name)
			}
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, used, configError(err, "unmarshal")
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, used, errors.New(err).
			Component("conf").
			Category(errors.CategoryValidation).
			Context("config_file", used).
			Build()
	}
	return settings, used, nil
}

func mergeConfigFile(v *viper.Viper, opts LoadOptions) (string, error) {
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.MergeInConfig(); err != nil {
			return "", configError(err, "read "+opts.ConfigFile)
		}
		return opts.ConfigFile, nil
	}

	paths := opts.SearchPaths
	if paths == nil {
		paths = DefaultConfigPaths()
	}
	for _, dir := range paths {
		candidate := filepath.Join(dir, "config.yaml")
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		v.SetConfigFile(candidate)
		if err := v.MergeInConfig(); err != nil {
			return "", configError(err, "read "+candidate)
		}
		return candidate, nil
	}
	return "", nil
}

func configError(err error, stage string) error {
	return errors.New(err).
		Component("conf").
		Category(errors.CategoryConfiguration).
		Context("stage", stage).
		Build()
}

// DefaultConfig returns the embedded default configuration file.
func DefaultConfig() []byte {
	return bytes.Clone(defaultConfig)
}
