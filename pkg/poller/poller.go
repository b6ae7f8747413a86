// Package poller implements periodic invocation of a daemon-side polled
// method (spec.md §4.I): one goroutine per registered method, holding its
// target only weakly so registering a poll does not keep an otherwise
// collectible object alive, and a next = last_tick + period catch-up
// schedule so a delayed tick does not queue a burst of back-to-back calls.
//
// The ticker/done-channel/panic-recovery shape is grounded on the teacher's
// coreengine/kernel/cleanup.go CleanupLoop, generalized from one fixed
// cleanup cycle to an arbitrary number of independently scheduled methods.
package poller

import (
	"sync"
	"time"

	"github.com/KeckObservatory/mktl-go/internal/logging"
	"github.com/KeckObservatory/mktl-go/pkg/weakref"
)

// caller is satisfied by weakref.MethodHandle[T] for any T, letting Poller
// hold polled methods bound to unrelated receiver types in one map.
type caller interface {
	Call() bool
}

// Poller owns a set of independently scheduled polled methods, each
// identified by a caller-supplied id so Stop can target one without
// stopping the others.
type Poller struct {
	logger logging.Logger

	mu      sync.Mutex
	entries map[string]chan struct{}
}

// New builds an empty Poller.
func New(logger logging.Logger) *Poller {
	return &Poller{
		logger:  logging.OrDefault(logger),
		entries: make(map[string]chan struct{}),
	}
}

// Start registers target's method to run every period, under id, replacing
// whatever was previously registered under that id. The scheduling goroutine
// exits on its own once target is collected; Stop is only needed to end
// polling while target is still alive.
func Start[T any](p *Poller, id string, target *T, period time.Duration, method func(*T)) {
	handle := weakref.BindMethod(target, method)
	stop := make(chan struct{})

	p.mu.Lock()
	if existing, ok := p.entries[id]; ok {
		close(existing)
	}
	p.entries[id] = stop
	p.mu.Unlock()

	go p.run(id, handle, period, stop)
}

// run fires handle every period, correcting for scheduling delay by basing
// the next tick on the last one rather than on time.Since(start): a tick that
// ran late still schedules its successor at last+period, so a slow method
// does not pile up a queue of immediate re-runs.
func (p *Poller) run(id string, c caller, period time.Duration, stop chan struct{}) {
	next := time.Now().Add(period)
	for {
		wait := time.Until(next)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		if !p.tick(id, c) {
			p.mu.Lock()
			if p.entries[id] == stop {
				delete(p.entries, id)
			}
			p.mu.Unlock()
			return
		}
		next = next.Add(period)
		if next.Before(time.Now()) {
			next = time.Now().Add(period)
		}
	}
}

// tick invokes c.Call(), recovering from a panic inside the polled method so
// one bad poll does not kill the goroutine, and reports whether the target
// is still alive (false once it has been collected).
func (p *Poller) tick(id string, c caller) (alive bool) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("poller_method_panic_recovered", "id", id, "panic", r)
			alive = true
		}
	}()
	return c.Call()
}

// Stop ends the polled method registered under id, if any.
func (p *Poller) Stop(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if stop, ok := p.entries[id]; ok {
		close(stop)
		delete(p.entries, id)
	}
}

// StopAll ends every registered polled method.
func (p *Poller) StopAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, stop := range p.entries {
		close(stop)
	}
	p.entries = make(map[string]chan struct{})
}
