package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	LogLevel   string        `mapstructure:"log_level"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	MaxParticipants    int           `mapstructure:"max_participants"`
	SignalRetention    int           `mapstructure:"signal_retention"`
	Moderators         []string      `mapstructure:"moderators"`
	SignalRateLimit    int           `mapstructure:"signal_rate_limit"`
	SignalRateInterval time.Duration `mapstructure:"signal_rate_interval"`
	PushBackpressure   string        `mapstructure:"push_backpressure"`

	Session SessionConfig `mapstructure:"session"`
}

// SessionConfig configures a headless participant.
type SessionConfig struct {
	RelayURL           string        `mapstructure:"relay_url"`
	UserID             string        `mapstructure:"user_id"`
	ReconcileInterval  time.Duration `mapstructure:"reconcile_interval"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	RenegotiateDelay   time.Duration `mapstructure:"renegotiate_delay"`
	MaxRetries         int           `mapstructure:"renegotiate_max_retries"`
	SpeakingThreshold  float64       `mapstructure:"speaking_threshold"`
	SpeakingInterval   time.Duration `mapstructure:"speaking_interval"`
	AutoCameraFallback bool          `mapstructure:"auto_camera_fallback"`
	ICEServers         []string      `mapstructure:"ice_servers"`
	PushSignals        bool          `mapstructure:"push_signals"`
	ToneHz             float64       `mapstructure:"tone_hz"`
	Display            bool          `mapstructure:"display"`
}

// New returns a viper instance with defaults and MESHVOICE_ env overrides.
// path selects the config file; empty means config/config.<CONFIG_ENV>.yaml.
func New(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")

	if path == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		path = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(path)

	v.SetEnvPrefix("MESHVOICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "meshvoice-dev-secret")
	v.SetDefault("max_participants", 0)
	v.SetDefault("signal_retention", 4096)
	v.SetDefault("moderators", []string{})
	v.SetDefault("signal_rate_limit", 200)
	v.SetDefault("signal_rate_interval", "1s")
	v.SetDefault("push_backpressure", "drop")

	v.SetDefault("session.relay_url", "http://localhost:8080")
	v.SetDefault("session.user_id", "")
	v.SetDefault("session.reconcile_interval", "1s")
	v.SetDefault("session.poll_interval", "1s")
	v.SetDefault("session.renegotiate_delay", "250ms")
	v.SetDefault("session.renegotiate_max_retries", 40)
	v.SetDefault("session.speaking_threshold", 0.08)
	v.SetDefault("session.speaking_interval", "16ms")
	v.SetDefault("session.auto_camera_fallback", false)
	v.SetDefault("session.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("session.push_signals", true)
	v.SetDefault("session.tone_hz", 0)
	v.SetDefault("session.display", false)
	return v
}

// Read loads the config file of v if it exists and decodes the result.
func Read(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", v.ConfigFileUsed()).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", v.ConfigFileUsed()).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Msg("config ready")
	return &cfg, nil
}

func Load() (*Config, error) {
	return Read(New(""))
}

// ApplyLogLevel sets the global zerolog level. Unknown levels fall back to info.
func ApplyLogLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	return lvl
}

// Watch reapplies log_level whenever the config file changes.
func Watch(v *viper.Viper, onChange func(*Config)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			log.Error().Err(err).Str("module", "config").Str("file", e.Name).Msg("reload config")
			return
		}
		lvl := ApplyLogLevel(cfg.LogLevel)
		log.Info().Str("module", "config").Str("file", e.Name).Str("level", lvl.String()).Msg("config reloaded")
		if onChange != nil {
			onChange(&cfg)
		}
	})
	v.WatchConfig()
}
