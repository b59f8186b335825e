// Package flowsock is the thin convenience entry point over
// internal/manager and internal/nsio: Connect parses a URL, reuses a
// cached Manager for repeat calls against the same endpoint, and hands
// back the namespace socket for the URL's path.
//
// Everything that actually matters — reconnection, packet framing, ack
// correlation, buffering — lives in the internal packages this package
// merely wires together.
package flowsock

import (
	"net/url"
	"sync"

	"github.com/flowsock/flowsock/internal/manager"
	"github.com/flowsock/flowsock/internal/nsio"
)

var managers sync.Map // cache key (string) -> *manager.Manager

// Connect parses rawurl, reuses (or dials) the Manager responsible for
// its scheme+host+port+path, and returns the namespace socket for that
// same path. Repeated calls with the same cache key and the same
// namespace return the same *nsio.Socket, mirroring socket.io-client's
// own module-level connection cache.
//
// The URL's path becomes the namespace (defaulting to "/" when empty);
// its raw query, if any, is carried as the namespace socket's
// handshake query rather than folded into the cache key.
func Connect(rawurl string, opts ...manager.Option) (*nsio.Socket, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, err
	}

	nsp := u.Path
	if nsp == "" {
		nsp = "/"
	}

	key := u.Scheme + "://" + u.Host + u.Path

	mgr := loadOrDial(key, rawurl, opts)

	s := nsio.New(mgr, nsp, nsio.Options{Query: u.RawQuery})
	return s, nil
}

// loadOrDial returns the cached Manager for key, dialing a new one only
// when none exists yet. manager.New may open a real connection as a side
// effect (AutoConnect), so a concurrent loser's Manager is closed rather
// than left to dangle.
func loadOrDial(key, rawurl string, opts []manager.Option) *manager.Manager {
	if v, ok := managers.Load(key); ok {
		return v.(*manager.Manager)
	}
	candidate := manager.New(rawurl, opts...)
	actual, loaded := managers.LoadOrStore(key, candidate)
	if loaded {
		candidate.Close()
	}
	return actual.(*manager.Manager)
}
