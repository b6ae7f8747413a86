// Package config holds the ambient, process-wide RuntimeConfig: timeouts,
// port ranges, the on-disk root directory, and transport selection. It
// follows the teacher's global-singleton-behind-a-mutex pattern
// (coreengine/config.GetCoreConfig/SetCoreConfig/ResetCoreConfig) rather than
// threading a config struct through every constructor by hand.
package config

import (
	"os"
	"sync"
	"time"
)

// Transport names the socket transport a process should use. The spec
// describes the wire framing and socket roles abstractly (§4.B/§4.C); this
// repository ships one concrete transport, "tcp", and leaves room for
// alternates to be registered without changing callers.
type Transport string

const (
	TransportTCP Transport = "tcp"
)

// RuntimeConfig collects every process-wide tunable read by the session,
// transport, discovery, and persistence layers. Subsystems hold a
// *RuntimeConfig (or read the process singleton) rather than package-level
// constants, so tests can exercise non-default timeouts without globals.
type RuntimeConfig struct {
	// Home is the root directory for cached configuration blocks and
	// persisted values (§6). Defaults from $MKTL_HOME, then $HOME/.mktl.
	Home string

	// Transport selects the socket transport implementation.
	Transport Transport

	// AckTimeout bounds how long a Request session waits for the ACK frame
	// after sending a request (§4.D default: 100ms).
	AckTimeout time.Duration

	// ReplyTimeout bounds how long a Request session waits for the REP frame
	// after the ACK (§4.D default: 60s).
	ReplyTimeout time.Duration

	// PortRangeLow/PortRangeHigh bound the auto-bind scan for REP/PUB
	// sockets (§4.C).
	PortRangeLow  int
	PortRangeHigh int

	// DiscoveryDebounce is the minimum interval between responses to the
	// same peer during UDP discovery (§5).
	DiscoveryDebounce time.Duration

	// PersistenceFlushInterval is the coalescing window for the background
	// persistence flush task (§6, default 5s).
	PersistenceFlushInterval time.Duration

	// RequestWorkers sizes the bounded worker pool a Request server
	// dispatches handler calls onto (§4.D, default 8).
	RequestWorkers int
}

// DefaultRuntimeConfig returns the configuration a process starts with
// before environment overrides are applied.
func DefaultRuntimeConfig() RuntimeConfig {
	home := os.Getenv("MKTL_HOME")
	if home == "" {
		if h, err := os.UserHomeDir(); err == nil {
			home = h + "/.mktl"
		} else {
			home = ".mktl"
		}
	}

	transport := Transport(os.Getenv("MKTL_TRANSPORT"))
	if transport == "" {
		transport = TransportTCP
	}

	return RuntimeConfig{
		Home:                     home,
		Transport:                transport,
		AckTimeout:               100 * time.Millisecond,
		ReplyTimeout:             60 * time.Second,
		PortRangeLow:             10100,
		PortRangeHigh:            10200,
		DiscoveryDebounce:        time.Second,
		PersistenceFlushInterval: 5 * time.Second,
		RequestWorkers:           8,
	}
}

var (
	mu      sync.RWMutex
	current = DefaultRuntimeConfig()
)

// Get returns a copy of the current process-wide RuntimeConfig.
func Get() RuntimeConfig {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Set installs cfg as the process-wide RuntimeConfig. Intended for use once,
// at process bootstrap (daemon or CLI entry point), or in tests via a
// deferred Reset.
func Set(cfg RuntimeConfig) {
	mu.Lock()
	defer mu.Unlock()
	current = cfg
}

// Reset restores the process-wide RuntimeConfig to its environment-derived
// default. Tests that call Set should defer Reset.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	current = DefaultRuntimeConfig()
}
