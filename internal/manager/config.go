package manager

import (
	"net/url"
	"time"

	"github.com/flowsock/flowsock/internal/transport"
	"github.com/flowsock/flowsock/internal/wire"
)

// Config is the constructor surface recognized by New. Zero value is
// not meaningful on its own; start from DefaultConfig.
type Config struct {
	Path                 string
	Reconnection         bool
	ReconnectionAttempts int
	ReconnectionDelay    time.Duration
	ReconnectionDelayMax time.Duration
	RandomizationFactor  float64
	// Timeout is the connect-phase deadline. A nil Timeout disables it
	// entirely; a zero duration is a valid (if aggressive) timeout and
	// is distinct from disabled, matching the spec's own JS-Infinity-vs-
	// false-flavored distinction between "finite at zero" and "off".
	Timeout     *time.Duration
	AutoConnect bool
	Codec       wire.Codec
	NewTransport func(uri string) transport.Transport
}

// DefaultConfig matches the constructor-surface defaults: socket.io's
// own path, reconnection on, unbounded attempts, 1s/5s backoff bounds,
// 0.5 randomization, a 20s connect timeout, and autoConnect on.
func DefaultConfig() Config {
	timeout := 20 * time.Second
	return Config{
		Path:                 "/socket.io",
		Reconnection:         true,
		ReconnectionAttempts: 0, // 0 == unbounded
		ReconnectionDelay:    time.Second,
		ReconnectionDelayMax: 5 * time.Second,
		RandomizationFactor:  0.5,
		Timeout:              &timeout,
		AutoConnect:          true,
	}
}

// Option mutates a Config under construction.
type Option func(*Config)

func WithPath(path string) Option {
	return func(c *Config) { c.Path = path }
}

func WithReconnection(enabled bool) Option {
	return func(c *Config) { c.Reconnection = enabled }
}

// WithReconnectionAttempts sets the attempt cap; 0 means unbounded.
func WithReconnectionAttempts(n int) Option {
	return func(c *Config) { c.ReconnectionAttempts = n }
}

func WithReconnectionDelay(d time.Duration) Option {
	return func(c *Config) { c.ReconnectionDelay = d }
}

func WithReconnectionDelayMax(d time.Duration) Option {
	return func(c *Config) { c.ReconnectionDelayMax = d }
}

func WithRandomizationFactor(f float64) Option {
	return func(c *Config) { c.RandomizationFactor = f }
}

// WithTimeout sets the connect-phase deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = &d }
}

// WithNoTimeout disables the connect-phase deadline entirely.
func WithNoTimeout() Option {
	return func(c *Config) { c.Timeout = nil }
}

func WithAutoConnect(enabled bool) Option {
	return func(c *Config) { c.AutoConnect = enabled }
}

func WithCodec(codec wire.Codec) Option {
	return func(c *Config) { c.Codec = codec }
}

// WithTransportFactory overrides how the Manager constructs its engine
// transport; tests typically supply one that returns a *transport.Fake.
func WithTransportFactory(f func(uri string) transport.Transport) Option {
	return func(c *Config) { c.NewTransport = f }
}

// defaultTransportFactory builds the reference websocket Transport,
// rewriting the caller's http(s) scheme to ws(s) and appending path if
// the uri doesn't already carry one.
func defaultTransportFactory(path string) func(uri string) transport.Transport {
	return func(uri string) transport.Transport {
		return transport.NewWebsocketTransport(resolveWebsocketURL(uri, path), nil)
	}
}

func resolveWebsocketURL(rawurl, path string) string {
	u, err := url.Parse(rawurl)
	if err != nil {
		return rawurl
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "", "ws", "wss":
		if u.Scheme == "" {
			u.Scheme = "ws"
		}
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = path
	}
	return u.String()
}
