// Package config loads the CLI configuration from a TOML file, overlaying
// file values onto built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that unmarshals from TOML strings like "5s".
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds everything the CLI needs to run one session.
type Config struct {
	Transport string `toml:"transport"` // tcp, rfcomm, ws or webrtc
	Addr      string `toml:"addr"`      // dial target (client) or listen address (host)
	Channel   int    `toml:"channel"`   // RFCOMM channel
	PIN       string `toml:"pin"`       // shared link PIN for ws and webrtc transports

	HeartbeatInterval Duration `toml:"heartbeat_interval"`
	MaxAttempts       int      `toml:"max_attempts"`
	BackoffBase       Duration `toml:"backoff_base"`
	BackoffCap        Duration `toml:"backoff_cap"`
	ReplayBytes       int      `toml:"replay_bytes"`

	TransferWindow  int      `toml:"transfer_window"`
	TransferTimeout Duration `toml:"transfer_timeout"`

	KeystorePath string `toml:"keystore_path"`
	DownloadDir  string `toml:"download_dir"`
}

// Default returns the built-in configuration.
func Default() Config {
	keys := "keys.toml"
	if dir, err := os.UserConfigDir(); err == nil {
		keys = filepath.Join(dir, "bluewire", "keys.toml")
	}
	return Config{
		Transport:         "tcp",
		Channel:           4,
		HeartbeatInterval: Duration(5 * time.Second),
		MaxAttempts:       5,
		BackoffBase:       Duration(500 * time.Millisecond),
		BackoffCap:        Duration(15 * time.Second),
		ReplayBytes:       4 * 1024 * 1024,
		TransferWindow:    8,
		TransferTimeout:   Duration(60 * time.Second),
		KeystorePath:      keys,
		DownloadDir:       ".",
	}
}

// Load reads a TOML config file on top of the defaults. Keys absent from
// the file keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}
