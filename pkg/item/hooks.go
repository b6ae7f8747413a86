package item

import (
	"context"
	"sync"

	"github.com/KeckObservatory/mktl-go/pkg/message"
)

// AuthoritativeHooks is the seam a daemon-side Item's owner overrides to
// supply real behavior for a key, the Go analogue of subclassing Item in
// the original multi-inheritance design (§9, §4.K step 5's setup()/
// add_item). A caller that only needs a plain in-memory value can leave all
// five hooks at their DefaultHooks implementation.
type AuthoritativeHooks interface {
	// ReqGet returns the current value, potentially without polling a live
	// source (a cheap read of whatever is cached).
	ReqGet(ctx context.Context) (*message.Payload, error)
	// ReqRefresh polls the authoritative source and returns a fresh value,
	// invoked when a client GET sets payload.Refresh.
	ReqRefresh(ctx context.Context) (*message.Payload, error)
	// ReqPoll is the periodic-poll hook (§4.I). No code in this module
	// calls it; pkg/daemon does not register it with a Poller.
	ReqPoll(ctx context.Context) (*message.Payload, error)
	// ReqSet applies an incoming SET and returns the value to publish.
	ReqSet(ctx context.Context, payload *message.Payload) (*message.Payload, error)
	// Validate rejects a SET before ReqSet is called; returning a non-nil
	// error surfaces as ValidationError in the REP (§9).
	Validate(ctx context.Context, payload *message.Payload) error
}

// DefaultHooks is a plain in-memory AuthoritativeHooks: ReqGet/ReqRefresh/
// ReqPoll all return the last value set via ReqSet, Validate always
// succeeds. Most daemon items start from this and only override the hooks
// they need.
type DefaultHooks struct {
	mu      sync.RWMutex
	payload *message.Payload
}

// NewDefaultHooks seeds the in-memory value.
func NewDefaultHooks(initial *message.Payload) *DefaultHooks {
	return &DefaultHooks{payload: initial}
}

func (h *DefaultHooks) ReqGet(ctx context.Context) (*message.Payload, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.payload, nil
}

func (h *DefaultHooks) ReqRefresh(ctx context.Context) (*message.Payload, error) {
	return h.ReqGet(ctx)
}

func (h *DefaultHooks) ReqPoll(ctx context.Context) (*message.Payload, error) {
	return h.ReqGet(ctx)
}

func (h *DefaultHooks) ReqSet(ctx context.Context, payload *message.Payload) (*message.Payload, error) {
	h.mu.Lock()
	h.payload = payload
	h.mu.Unlock()
	return payload, nil
}

func (h *DefaultHooks) Validate(ctx context.Context, payload *message.Payload) error {
	return nil
}
