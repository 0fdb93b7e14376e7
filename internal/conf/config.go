// Package conf handles loading and validation of jackbridge settings.
package conf

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/openaudio/jackbridge/internal/errors"
)

// EngineSettings selects and configures the capture engine client.
type EngineSettings struct {
	ClientName  string `yaml:"clientname"`  // name the client registers under
	Device      string `yaml:"device"`      // device identifier or match string
	Channels    int    `yaml:"channels"`    // number of input ports to register
	StartServer bool   `yaml:"startserver"` // permit starting the audio server if absent
	SampleRate  int    `yaml:"samplerate"`  // capture sample rate in Hz
	PeriodSize  int    `yaml:"periodsize"`  // capture period size in frames
}

// ConsumerSettings configures the transfer worker.
type ConsumerSettings struct {
	PollIntervalMs int `yaml:"pollintervalms"` // idle poll interval in milliseconds
}

// WavSinkSettings configures the WAV file sink.
type WavSinkSettings struct {
	Path string `yaml:"path"` // output file path
}

// MQTTSinkSettings configures the MQTT level telemetry sink.
type MQTTSinkSettings struct {
	Broker   string `yaml:"broker"`   // broker URL, e.g. tcp://localhost:1883
	Topic    string `yaml:"topic"`    // topic to publish block levels to
	ClientID string `yaml:"clientid"` // MQTT client identifier
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// SinkSettings selects the downstream sink.
type SinkSettings struct {
	Type string           `yaml:"type"` // "wav", "mqtt" or "discard"
	Wav  WavSinkSettings  `yaml:"wav"`
	MQTT MQTTSinkSettings `yaml:"mqtt"`
}

// MetricsSettings configures the optional Prometheus endpoint.
type MetricsSettings struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"` // host:port for the /metrics endpoint
}

// Settings is the root configuration for jackbridge.
type Settings struct {
	Debug    bool             `yaml:"debug"`
	Engine   EngineSettings   `yaml:"engine"`
	Consumer ConsumerSettings `yaml:"consumer"`
	Sink     SinkSettings     `yaml:"sink"`
	Metrics  MetricsSettings  `yaml:"metrics"`
}

// PollInterval returns the consumer poll interval as a duration.
func (s *Settings) PollInterval() time.Duration {
	return time.Duration(s.Consumer.PollIntervalMs) * time.Millisecond
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into a new
// Settings instance and stores it as the package-level instance.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// Setting returns the current settings instance, or nil if Load has not been
// called successfully.
func Setting() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.config/jackbridge")
	viper.AddConfigPath("/etc/jackbridge")

	viper.SetEnvPrefix("jackbridge")
	viper.AutomaticEnv()

	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// No config file present, run with defaults and flags
			return nil
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// ValidateSettings checks settings for values the session cannot run with.
func ValidateSettings(settings *Settings) error {
	if settings.Engine.Channels <= 0 {
		return errors.Newf("invalid channel count: %d, must be greater than 0", settings.Engine.Channels).
			Component("conf").
			Category(errors.CategoryValidation).
			Context("channels", settings.Engine.Channels).
			Build()
	}
	if settings.Engine.SampleRate <= 0 || settings.Engine.PeriodSize <= 0 {
		return errors.Newf("invalid capture format: %d Hz / %d frames", settings.Engine.SampleRate, settings.Engine.PeriodSize).
			Component("conf").
			Category(errors.CategoryValidation).
			Context("samplerate", settings.Engine.SampleRate).
			Context("periodsize", settings.Engine.PeriodSize).
			Build()
	}
	if settings.Consumer.PollIntervalMs <= 0 {
		return errors.Newf("invalid poll interval: %d ms, must be greater than 0", settings.Consumer.PollIntervalMs).
			Component("conf").
			Category(errors.CategoryValidation).
			Context("poll_interval_ms", settings.Consumer.PollIntervalMs).
			Build()
	}
	switch settings.Sink.Type {
	case "wav", "mqtt", "discard":
	default:
		return errors.Newf("unknown sink type: %q", settings.Sink.Type).
			Component("conf").
			Category(errors.CategoryValidation).
			Context("sink_type", settings.Sink.Type).
			Build()
	}
	return nil
}
