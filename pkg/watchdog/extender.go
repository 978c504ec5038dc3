package watchdog

import (
	"sync"
	"time"
)

// extendInterval and maxExtensions implement the Socket.IO "watchdog
// extender": a repeating one-shot alarm that pets the hardware watchdog
// up to 3 times at ~7.33 s intervals, buying ~30 s of grace for a
// (re)connect to complete before the device would otherwise reset for
// lack of a kick.
const (
	extendInterval = 7330 * time.Millisecond
	maxExtensions  = 3
)

// Extender arms a bounded series of watchdog kicks across a (re)connect
// attempt, standing in for the hardware heartbeat while the client has
// no event loop of its own yet running to kick it directly.
type Extender struct {
	wd Watchdog

	mu      sync.Mutex
	timer   *time.Timer
	fired   int
	stopped bool
}

// NewExtender creates an [Extender] that kicks w. It does not start
// ticking until [Extender.Start] is called.
func NewExtender(w Watchdog) *Extender {
	return &Extender{wd: w}
}

// Start arms (or re-arms) the alarm. Calling Start again before it is
// exhausted restarts the 3-kick budget, so every reconnect attempt gets
// its own ~30 s grace window.
func (e *Extender) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.timer != nil {
		e.timer.Stop()
	}
	e.fired = 0
	e.stopped = false
	e.timer = time.AfterFunc(extendInterval, e.tick)
}

func (e *Extender) tick() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.fired++
	wd := e.wd
	rearm := e.fired < maxExtensions
	if rearm {
		e.timer = time.AfterFunc(extendInterval, e.tick)
	}
	e.mu.Unlock()

	wd.Kick()
}

// Stop cancels the alarm. Called as soon as on_open fires: once the
// session is open, the regular heartbeat kicks the watchdog instead.
func (e *Extender) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopped = true
	if e.timer != nil {
		e.timer.Stop()
	}
}
