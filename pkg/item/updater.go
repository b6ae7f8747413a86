package item

import (
	"github.com/KeckObservatory/mktl-go/internal/logging"
)

// caller is satisfied by weakref.MethodHandle[T] for any T: Call resolves
// the weakly-held receiver and invokes the bound callback, reporting false
// if the receiver has already been collected.
type caller interface {
	Call() bool
}

// updateEvent is one value change queued for delivery to subscribers.
type updateEvent struct {
	value any
	time  float64
}

// Updater is an Item's private callback-dispatch worker (§4.N): a single
// goroutine drains a per-item queue of value updates and invokes every
// still-alive subscriber callback, recovering from a panicking callback so
// one bad subscriber cannot take down the Item's update stream. This
// mirrors the teacher's cleanup-loop panic-recovery idiom
// (coreengine/kernel/cleanup.go runCleanupCycle), adapted from a ticker to
// a work queue.
type Updater struct {
	queue  chan updateEvent
	done   chan struct{}
	logger logging.Logger

	getCallbacks func() []caller
}

// NewUpdater starts the background dispatch goroutine. getCallbacks is
// called fresh on every delivered event so newly registered or collected
// subscribers are picked up without the Updater holding its own stale copy.
func NewUpdater(getCallbacks func() []caller, logger logging.Logger) *Updater {
	u := &Updater{
		queue:        make(chan updateEvent, 64),
		done:         make(chan struct{}),
		logger:       logging.OrDefault(logger),
		getCallbacks: getCallbacks,
	}
	go u.run()
	return u
}

// Enqueue schedules value/time for delivery to every live subscriber. It
// never blocks the caller beyond the channel buffer; a full queue drops the
// oldest-pending update rather than stalling the publisher.
func (u *Updater) Enqueue(value any, timestamp float64) {
	select {
	case u.queue <- updateEvent{value: value, time: timestamp}:
	default:
		select {
		case <-u.queue:
		default:
		}
		u.queue <- updateEvent{value: value, time: timestamp}
	}
}

func (u *Updater) run() {
	for {
		select {
		case ev := <-u.queue:
			u.dispatch(ev)
		case <-u.done:
			return
		}
	}
}

func (u *Updater) dispatch(ev updateEvent) {
	for _, cb := range u.getCallbacks() {
		u.invoke(cb)
	}
}

func (u *Updater) invoke(cb caller) {
	defer func() {
		if r := recover(); r != nil {
			u.logger.Error("item_callback_panic_recovered", "error", r)
		}
	}()
	cb.Call()
}

// Stop terminates the dispatch goroutine.
func (u *Updater) Stop() {
	close(u.done)
}
