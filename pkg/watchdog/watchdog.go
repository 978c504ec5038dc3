// Package watchdog models the process-wide hardware watchdog that the
// Engine.IO and Socket.IO layers feed from inside their event loops: a
// single resource, gated behind the "watchdog" build tag so host-platform
// tests can disable it entirely.
package watchdog

import (
	"sync"
)

// Watchdog is kicked periodically to prove the caller's event loop is
// still alive. Kick must be safe to call from the poll-tick goroutines
// of both [engineio.Session] and the Socket.IO reconnect alarm.
type Watchdog interface {
	Kick()
}

type noop struct{}

func (noop) Kick() {}

// Noop returns a [Watchdog] that does nothing, the default used by both
// [engineio.Session] and the Socket.IO client until SetWatchdog is called.
func Noop() Watchdog {
	return noop{}
}

var (
	defaultOnce sync.Once
	defaultWD   Watchdog = noop{}
)

// SetDefault installs the process-wide watchdog singleton. Only the
// first call has any effect; later calls are no-ops, since the hardware
// watchdog device can only be opened once per process.
func SetDefault(w Watchdog) {
	defaultOnce.Do(func() {
		defaultWD = w
	})
}

// Default returns the process-wide watchdog singleton, or [Noop] if
// [SetDefault] was never called.
func Default() Watchdog {
	return defaultWD
}