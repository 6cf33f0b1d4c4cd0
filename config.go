package proxvoice

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// PositioningType selects who supplies positions: the server (via the
// MCComm/MCWSS bridges) or each client.
type PositioningType uint8

const (
	PositioningServer PositioningType = iota
	PositioningClient
)

func (p PositioningType) String() string {
	if p == PositioningClient {
		return "client"
	}
	return "server"
}

// DBConfig selects and parameterizes the persistence backend.
type DBConfig struct {
	Driver   string `yaml:"driver"` // "sqlite3" (default) or "postgres"
	Name     string `yaml:"name"`
	Host     string `yaml:"host"`
	Port     uint16 `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// A Config is the full server configuration, loaded from
// config/proxvoice.yml.
type Config struct {
	Host        string `yaml:"host"`
	MOTD        string `yaml:"motd"`
	MaxClients  int    `yaml:"max_clients"`
	LoginToken  string `yaml:"login_token"` // empty = open server
	Positioning string `yaml:"positioning"` // "server" or "client"

	ProximityDistance float32 `yaml:"proximity_distance"`
	ProximityEnabled  bool    `yaml:"proximity_toggle"`
	VoiceEffects      bool    `yaml:"voice_effects"`

	Channels []*Channel `yaml:"channels"`

	UnconnectedRate int `yaml:"unconnected_rate"` // pkts/sec per addr
	TimeoutSeconds  int `yaml:"timeout"`

	AudioQueue       int  `yaml:"audio_queue"`
	DrainAudioOnStop bool `yaml:"drain_audio_on_stop"`

	Database DBConfig `yaml:"database"`

	MCCommListen string `yaml:"mccomm_listen"` // empty = bridge off
	MCCommToken  string `yaml:"mccomm_token"`
	MCWSSListen  string `yaml:"mcwss_listen"` // empty = bridge off

	Debug bool `yaml:"debug"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Host:              "0.0.0.0:9050",
		MOTD:              "proxvoice server",
		MaxClients:        32,
		Positioning:       "server",
		ProximityDistance: 30,
		ProximityEnabled:  true,
		VoiceEffects:      true,
		Channels:          []*Channel{{Name: "Main"}},
		AudioQueue:        256,
		Database:          DBConfig{Driver: "sqlite3", Name: "proxvoice.sqlite"},
	}
}

// LoadConfig reads and validates the configuration file. A missing
// file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	} else if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if len(cfg.Channels) == 0 {
		cfg.Channels = []*Channel{{Name: "Main"}}
	}
	if cfg.Channels[0].IsLocked() {
		return nil, fmt.Errorf("%s: the default channel can't be locked or hidden", path)
	}
	if cfg.AudioQueue <= 0 {
		cfg.AudioQueue = 256
	}

	return cfg, nil
}

// PositioningType maps the configured positioning string.
func (c *Config) PositioningType() PositioningType {
	if c.Positioning == "client" {
		return PositioningClient
	}
	return PositioningServer
}

// Timeout returns the configured peer inactivity timeout, or zero for
// the transport default.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Defaults returns the server-wide proximity settings.
func (c *Config) Defaults() ProximitySettings {
	return ProximitySettings{
		ProximityEnabled:  c.ProximityEnabled,
		ProximityDistance: c.ProximityDistance,
		VoiceEffects:      c.VoiceEffects,
	}
}
