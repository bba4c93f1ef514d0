// Package config loads the client configuration from defaults, an optional
// YAML file, DUET_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Keys shared by the config file, the environment and the CLI flags.
const (
	KeyRelayURL            = "relay_url"
	KeyName                = "name"
	KeyReconnectAttempts   = "reconnect_attempts"
	KeyReconnectBackoff    = "reconnect_backoff"
	KeyReconnectMaxBackoff = "reconnect_max_backoff"
	KeyPingPeriod          = "ping_period"
	KeyTypingQuietPeriod   = "typing_quiet_period"
	KeySTUNServers         = "stun_servers"
	KeyAudioFile           = "audio_file"
	KeyVideoFile           = "video_file"
	KeyProfileAPI          = "profile_api"
	KeyProfileToken        = "profile_token"
	KeyStatsInterval       = "stats_interval"
	KeyDebug               = "debug"
)

// DefaultSTUNServers are used when no STUN servers are configured.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Config is the resolved client configuration.
type Config struct {
	RelayURL            string        `mapstructure:"relay_url"`
	Name                string        `mapstructure:"name"`
	ReconnectAttempts   int           `mapstructure:"reconnect_attempts"`
	ReconnectBackoff    time.Duration `mapstructure:"reconnect_backoff"`
	ReconnectMaxBackoff time.Duration `mapstructure:"reconnect_max_backoff"`
	PingPeriod          time.Duration `mapstructure:"ping_period"`
	TypingQuietPeriod   time.Duration `mapstructure:"typing_quiet_period"`
	STUNServers         []string      `mapstructure:"stun_servers"`
	AudioFile           string        `mapstructure:"audio_file"`
	VideoFile           string        `mapstructure:"video_file"`
	ProfileAPI          string        `mapstructure:"profile_api"`
	ProfileToken        string        `mapstructure:"profile_token"`
	StatsInterval       time.Duration `mapstructure:"stats_interval"`
	Debug               bool          `mapstructure:"debug"`
}

// SetDefaults registers every key with its default value. Keys must be
// registered for environment overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyRelayURL, "")
	v.SetDefault(KeyName, "")
	v.SetDefault(KeyReconnectAttempts, 5)
	v.SetDefault(KeyReconnectBackoff, "500ms")
	v.SetDefault(KeyReconnectMaxBackoff, "5s")
	v.SetDefault(KeyPingPeriod, "25s")
	v.SetDefault(KeyTypingQuietPeriod, "3s")
	v.SetDefault(KeySTUNServers, DefaultSTUNServers)
	v.SetDefault(KeyAudioFile, "")
	v.SetDefault(KeyVideoFile, "")
	v.SetDefault(KeyProfileAPI, "")
	v.SetDefault(KeyProfileToken, "")
	v.SetDefault(KeyStatsInterval, "10s")
	v.SetDefault(KeyDebug, false)
}

// Load resolves the configuration held by v. When file is empty, duet.yaml
// is looked up in the working directory and in $HOME/.config/duet; a missing
// file is not an error then. An explicitly named file must exist.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix("DUET")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("duet")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "duet"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if len(cfg.STUNServers) == 0 {
		cfg.STUNServers = DefaultSTUNServers
	}
	return &cfg, nil
}

// Validate checks the values the client cannot run without. The relay URL is
// normalised in place.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RelayURL) == "" {
		return errors.New("relay_url is required")
	}
	u, err := NormalizeRelayURL(c.RelayURL)
	if err != nil {
		return err
	}
	c.RelayURL = u

	if c.ReconnectAttempts <= 0 {
		return fmt.Errorf("reconnect_attempts must be positive, got %d", c.ReconnectAttempts)
	}
	if c.ReconnectBackoff <= 0 || c.ReconnectMaxBackoff < c.ReconnectBackoff {
		return fmt.Errorf("invalid reconnect backoff %s..%s", c.ReconnectBackoff, c.ReconnectMaxBackoff)
	}
	return nil
}

// NormalizeRelayURL turns a host or URL into a ws(s) URL. A bare host gets
// wss, http(s) is mapped to ws(s), and an empty path becomes /ws.
func NormalizeRelayURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "wss://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid relay URL: %s", raw)
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("relay URL must use ws or wss, got %q", u.Scheme)
	}

	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}
