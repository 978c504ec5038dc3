//go:build watchdog

package watchdog

import (
	"os"
	"sync"
)

// device kicks a Linux software watchdog character device by writing a
// single byte to it, per the kernel's watchdog driver ABI: any write
// resets the countdown, and a final "V" byte before Close asks the
// driver to disarm it instead of letting the machine reset.
type device struct {
	mu sync.Mutex
	f  *os.File
}

// Process opens a Linux watchdog device (conventionally /dev/watchdog)
// and returns a [Watchdog] that kicks it on every Kick call. Built only
// with the "watchdog" build tag, so platforms and test binaries that
// never touch a real device don't link against it; use [Noop] there
// instead.
func Process(path string) (Watchdog, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, err
	}
	return &device{f: f}, nil
}

func (d *device) Kick() {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, _ = d.f.Write([]byte{0})
}

// Close disarms the watchdog device (best-effort) and releases its file
// handle. Not part of the [Watchdog] interface: callers that open a real
// device are responsible for closing it during shutdown.
func (d *device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, _ = d.f.Write([]byte("V"))
	return d.f.Close()
}
