// Package config loads optional Manager defaults from a TOML file,
// following the same read-validate-defaults shape the teacher's own
// ghost/seed config loader used.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/flowsock/flowsock/internal/manager"
	"github.com/pelletier/go-toml/v2"
)

// ManagerDefaults mirrors the subset of manager.Config a deployment may
// want to pin from a file rather than from call-site options.
type ManagerDefaults struct {
	Path                 string        `toml:"path"`
	ReconnectionDelay    tomlDuration  `toml:"reconnectionDelay"`
	ReconnectionDelayMax tomlDuration  `toml:"reconnectionDelayMax"`
	RandomizationFactor  float64       `toml:"randomizationFactor"`
	ReconnectionAttempts int           `toml:"reconnectionAttempts"`
	Timeout              *tomlDuration `toml:"timeout"`
}

// tomlDuration unmarshals a TOML string field ("1500ms", "5s") using
// the same syntax time.ParseDuration accepts.
type tomlDuration time.Duration

func (d *tomlDuration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", text, err)
	}
	*d = tomlDuration(parsed)
	return nil
}

func (d tomlDuration) Duration() time.Duration { return time.Duration(d) }

// LoadManagerDefaults reads path, applies the same defaults
// manager.DefaultConfig uses for any field left unset, and validates
// the result.
func LoadManagerDefaults(path string) (ManagerDefaults, error) {
	var cfg ManagerDefaults
	if err := loadToml(path, &cfg); err != nil {
		return ManagerDefaults{}, err
	}

	if cfg.Path == "" {
		cfg.Path = "/socket.io"
	}
	if cfg.ReconnectionDelay == 0 {
		cfg.ReconnectionDelay = tomlDuration(time.Second)
	}
	if cfg.ReconnectionDelayMax == 0 {
		cfg.ReconnectionDelayMax = tomlDuration(5 * time.Second)
	}
	if cfg.RandomizationFactor == 0 {
		cfg.RandomizationFactor = 0.5
	}

	if err := Validate(cfg); err != nil {
		return ManagerDefaults{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config: parse failed (%s): %w", path, err)
	}
	return nil
}

// Options turns the loaded defaults into manager.Option values a
// caller can pass straight into manager.New or flowsock.Connect,
// alongside any per-call overrides (later options in the call still
// win, since manager.New applies them in order over DefaultConfig).
func (cfg ManagerDefaults) Options() []manager.Option {
	opts := []manager.Option{
		manager.WithPath(cfg.Path),
		manager.WithReconnectionDelay(cfg.ReconnectionDelay.Duration()),
		manager.WithReconnectionDelayMax(cfg.ReconnectionDelayMax.Duration()),
		manager.WithRandomizationFactor(cfg.RandomizationFactor),
		manager.WithReconnectionAttempts(cfg.ReconnectionAttempts),
	}
	if cfg.Timeout != nil {
		opts = append(opts, manager.WithTimeout(cfg.Timeout.Duration()))
	}
	return opts
}

// Validate rejects defaults that manager.New would otherwise accept
// silently but that can never produce useful behavior.
func Validate(cfg ManagerDefaults) error {
	if cfg.Path == "" {
		return fmt.Errorf("config: path must not be empty")
	}
	if cfg.ReconnectionDelay.Duration() <= 0 {
		return fmt.Errorf("config: reconnectionDelay must be positive")
	}
	if cfg.ReconnectionDelayMax.Duration() < cfg.ReconnectionDelay.Duration() {
		return fmt.Errorf("config: reconnectionDelayMax must be >= reconnectionDelay")
	}
	if cfg.RandomizationFactor < 0 || cfg.RandomizationFactor > 1 {
		return fmt.Errorf("config: randomizationFactor must be within [0,1]")
	}
	if cfg.ReconnectionAttempts < 0 {
		return fmt.Errorf("config: reconnectionAttempts must not be negative")
	}
	return nil
}
