package item

import (
	"context"
	"sync"
	"time"

	"github.com/KeckObservatory/mktl-go/internal/logging"
	"github.com/KeckObservatory/mktl-go/pkg/codec"
	"github.com/KeckObservatory/mktl-go/pkg/configcache"
	"github.com/KeckObservatory/mktl-go/pkg/message"
	"github.com/KeckObservatory/mktl-go/pkg/mktlerr"
	"github.com/KeckObservatory/mktl-go/pkg/session"
	"github.com/KeckObservatory/mktl-go/pkg/weakref"
	"github.com/KeckObservatory/mktl-go/pkg/wire"
)

// ClientBinding is the machinery a non-authoritative Item uses to reach the
// owning daemon: a request session for GET/SET/HASH, and the address of the
// daemon's Publish socket. The publish session itself is dialed lazily, on
// the Item's first Subscribe call, rather than up front for every Item
// whether or not anything ever subscribes to it (§4.G).
type ClientBinding struct {
	Req        *session.RequestSession
	PubAddress string
}

// DaemonBinding is the machinery an authoritative Item uses to serve and
// announce its own key: the hooks implementing its behavior and the
// publish socket used to announce new values (§4.G, §4.K).
type DaemonBinding struct {
	Hooks AuthoritativeHooks
	Pub   publisher
}

// publisher is the minimal surface DaemonBinding needs from a
// transport.PublishSocket, kept as an interface so tests can substitute a
// recorder without standing up a real socket.
type publisher interface {
	Publish(frames [][]byte)
}

// Item is one key's live state: its cached value/timestamp, whichever of
// ClientBinding/DaemonBinding applies to this process, its subscription
// state machine, and its callback-dispatch Updater.
type Item struct {
	mu sync.RWMutex

	store    string
	key      string
	clientID string
	cfg      configcache.ItemConfig

	authoritative bool
	client        *ClientBinding
	daemon        *DaemonBinding

	value     any
	valueTime float64

	subState SubscriptionState
	pubSess  *session.PublishSession

	callbacks     []caller
	settleWaiters []chan struct{}
	updater       *Updater

	logger logging.Logger
}

// NewClientItem builds a non-authoritative Item bound to a request session.
// clientID identifies this process as the source of outgoing requests.
func NewClientItem(store, key, clientID string, cfg configcache.ItemConfig, binding *ClientBinding, logger logging.Logger) *Item {
	it := &Item{
		store:    store,
		key:      key,
		clientID: clientID,
		cfg:      cfg,
		client:   binding,
		subState: StateUnsubscribed,
		logger:   logging.OrDefault(logger),
	}
	it.updater = NewUpdater(it.liveCallbacks, it.logger)
	return it
}

// NewDaemonItem builds an authoritative Item backed by hooks.
func NewDaemonItem(store, key string, cfg configcache.ItemConfig, binding *DaemonBinding, logger logging.Logger) *Item {
	it := &Item{
		store:         store,
		key:           key,
		cfg:           cfg,
		authoritative: true,
		daemon:        binding,
		subState:      StateSubscribed, // a daemon's own item is always "live"
		logger:        logging.OrDefault(logger),
	}
	it.updater = NewUpdater(it.liveCallbacks, it.logger)
	return it
}

// Store and Key identify this item.
func (it *Item) Store() string { return it.store }
func (it *Item) Key() string   { return it.key }

// Authoritative reports whether this process holds authority for the item.
func (it *Item) Authoritative() bool {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.authoritative
}

// Value returns the last known value and its timestamp without a wire round
// trip.
func (it *Item) Value() (any, float64) {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.value, it.valueTime
}

// Get returns the item's current value (§4.G). On a client Item that is
// Subscribed and already holds a value, a non-refresh Get returns the cached
// value without a round trip; otherwise it issues a GET request (setting
// payload.Refresh when refresh is true). On a daemon Item it calls ReqGet or
// ReqRefresh directly.
func (it *Item) Get(ctx context.Context, refresh bool) (*message.Payload, error) {
	it.mu.RLock()
	authoritative := it.authoritative
	it.mu.RUnlock()

	if authoritative {
		var (
			payload *message.Payload
			err     error
		)
		if refresh {
			payload, err = it.daemon.Hooks.ReqRefresh(ctx)
		} else {
			payload, err = it.daemon.Hooks.ReqGet(ctx)
		}
		if err != nil {
			return nil, err
		}
		it.recordValue(payload)
		return payload, nil
	}

	if !refresh {
		it.mu.RLock()
		subscribed := it.subState == StateSubscribed
		value, valueTime := it.value, it.valueTime
		it.mu.RUnlock()
		if subscribed && value != nil {
			return &message.Payload{Value: value, Time: valueTime}, nil
		}
	}

	if it.client == nil || it.client.Req == nil {
		return nil, &mktlerr.ConfigurationMissingError{Store: it.store}
	}

	req, err := message.NewRequest(message.TypeGet, it.clientID, it.key, &message.Payload{Refresh: refresh})
	if err != nil {
		return nil, err
	}
	payload, err := it.client.Req.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	it.recordValue(payload)
	return payload, nil
}

// Set applies a new value (§4.G, §9 post-SET freshness). On a client Item
// this sends SET to the daemon and waits briefly for the daemon's own PUB
// broadcast of the new value before returning, falling back to a bounded
// settle sleep if no PUB arrives (the one-shot broadcast future described
// in SPEC_FULL.md's Open Question decisions). On a daemon Item it runs
// Validate then ReqSet and publishes the result itself.
func (it *Item) Set(ctx context.Context, payload *message.Payload) error {
	it.mu.RLock()
	authoritative := it.authoritative
	it.mu.RUnlock()

	if authoritative {
		if err := it.daemon.Hooks.Validate(ctx, payload); err != nil {
			return &mktlerr.ValidationError{Store: it.store, Key: it.key, Reason: err.Error()}
		}
		result, err := it.daemon.Hooks.ReqSet(ctx, payload)
		if err != nil {
			return err
		}
		it.recordValue(result)
		return it.Publish(result)
	}

	if it.client == nil || it.client.Req == nil {
		return &mktlerr.ConfigurationMissingError{Store: it.store}
	}

	settled := it.armSettleWaiter()
	defer it.disarmSettleWaiter(settled)

	req, err := message.NewRequest(message.TypeSet, it.clientID, it.key, payload)
	if err != nil {
		return err
	}
	if _, err := it.client.Req.Send(ctx, req); err != nil {
		return err
	}

	select {
	case <-settled:
	case <-time.After(200 * time.Millisecond):
		// No confirming PUB arrived within the settle window; fall back to
		// trusting the REP alone rather than blocking indefinitely.
	case <-ctx.Done():
	}
	return nil
}

// armSettleWaiter registers a one-shot channel closed on this item's next
// recorded value, so Set can wait for a real confirmation instead of an
// unconditional sleep (§9).
func (it *Item) armSettleWaiter() chan struct{} {
	ch := make(chan struct{})
	it.mu.Lock()
	it.settleWaiters = append(it.settleWaiters, ch)
	it.mu.Unlock()
	return ch
}

// disarmSettleWaiter removes ch from the pending list if it was never
// fired, so a Set that hit its settle timeout does not leak a waiter.
func (it *Item) disarmSettleWaiter(ch chan struct{}) {
	it.mu.Lock()
	defer it.mu.Unlock()
	for i, w := range it.settleWaiters {
		if w == ch {
			it.settleWaiters = append(it.settleWaiters[:i], it.settleWaiters[i+1:]...)
			return
		}
	}
}

// recordValue updates the cached value/timestamp from a payload, fires any
// pending settle waiters, and wakes the Updater so registered subscribers
// see it.
func (it *Item) recordValue(payload *message.Payload) {
	if payload == nil {
		return
	}
	it.mu.Lock()
	it.value = payload.Value
	it.valueTime = payload.Time
	waiters := it.settleWaiters
	it.settleWaiters = nil
	it.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
	it.updater.Enqueue(payload.Value, payload.Time)
}

// Restore applies a persisted value directly via ReqSet, bypassing Validate
// and Publish, for daemon-startup replay of persisted state before the
// daemon announces on the fabric (§4.J, §4.K step 7). Only valid on a
// daemon Item.
func (it *Item) Restore(ctx context.Context, payload *message.Payload) error {
	it.mu.RLock()
	authoritative := it.authoritative
	it.mu.RUnlock()
	if !authoritative {
		return &mktlerr.NotAuthoritativeError{Store: it.store, Key: it.key}
	}

	result, err := it.daemon.Hooks.ReqSet(ctx, payload)
	if err != nil {
		return err
	}
	it.recordValue(result)
	return nil
}

// Publish announces payload as this item's new authoritative state (§4.G).
// Only valid on a daemon Item.
func (it *Item) Publish(payload *message.Payload) error {
	it.mu.RLock()
	authoritative := it.authoritative
	it.mu.RUnlock()
	if !authoritative {
		return &mktlerr.NotAuthoritativeError{Store: it.store, Key: it.key}
	}

	it.recordValue(payload)

	wirePayload, bulk := message.SplitPayloadBulk(payload)
	env := message.NewPublish(it.store, it.store+"."+it.key, wirePayload)
	frames, err := wire.EncodePublish(codec.Default, env, bulk)
	if err != nil {
		return err
	}
	it.daemon.Pub.Publish(frames)
	return nil
}

// Subscribe transitions a client Item from Unsubscribed to Priming, and
// registers receiver's callback to be invoked (weakly) on future updates.
// On the very first Subscribe call for this Item, it also dials the owning
// daemon's Publish socket and starts consuming it; later calls just add
// another callback to the same live session. The transition to Subscribed
// happens once the first PUB for this key is observed and fed back via
// NotifySubscribed.
func Subscribe[T any](it *Item, receiver *T, onUpdate func(*T)) error {
	it.mu.Lock()
	first := it.subState == StateUnsubscribed
	if first {
		next, err := transition(it.subState, StatePriming)
		if err != nil {
			it.mu.Unlock()
			return err
		}
		it.subState = next
	}
	h := weakref.BindMethod(receiver, onUpdate)
	it.callbacks = append(it.callbacks, h)
	it.mu.Unlock()

	if first {
		if err := it.startPublishConsumer(); err != nil {
			return err
		}
	}
	return nil
}

// startPublishConsumer dials this Item's owning daemon's Publish socket and
// spawns a goroutine feeding its updates into recordValue/NotifySubscribed.
// A no-op on a daemon Item, which is already authoritative for its own
// value and never needs to subscribe to itself.
func (it *Item) startPublishConsumer() error {
	it.mu.RLock()
	authoritative := it.authoritative
	client := it.client
	it.mu.RUnlock()
	if authoritative || client == nil || client.PubAddress == "" {
		return nil
	}

	sess, err := session.NewPublishSession(client.PubAddress, it.store+"."+it.key+".")
	if err != nil {
		return err
	}
	it.mu.Lock()
	it.pubSess = sess
	it.mu.Unlock()

	go it.consumePublishSession(sess)
	return nil
}

// consumePublishSession pumps sess.Updates() into the Item's cached value
// and callback dispatch until the session's connection fails and the
// channel closes. Bulk updates are reconstructed via message.RecreateValue
// before being recorded.
func (it *Item) consumePublishSession(sess *session.PublishSession) {
	for update := range sess.Updates() {
		payload := update.Envelope.Payload
		if payload == nil {
			continue
		}
		value, err := message.RecreateValue(payload, update.Bulk)
		if err != nil {
			it.logger.Warn("publish_recreate_value_failed", "store", it.store, "key", it.key, "error", err)
			continue
		}
		recorded := *payload
		recorded.Value = value
		it.recordValue(&recorded)

		if it.SubscriptionState() == StatePriming {
			if err := it.NotifySubscribed(); err != nil {
				it.logger.Warn("notify_subscribed_failed", "store", it.store, "key", it.key, "error", err)
			}
		}
	}
}

// NotifySubscribed transitions Priming -> Subscribed once the first live PUB
// has been observed for this item's key.
func (it *Item) NotifySubscribed() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	next, err := transition(it.subState, StateSubscribed)
	if err != nil {
		return err
	}
	it.subState = next
	return nil
}

// Unsubscribe transitions back to Unsubscribed from any state.
func (it *Item) Unsubscribe() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	next, err := transition(it.subState, StateUnsubscribed)
	if err != nil {
		return err
	}
	it.subState = next
	return nil
}

// SubscriptionState reports the item's current client subscription state.
func (it *Item) SubscriptionState() SubscriptionState {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.subState
}

func (it *Item) liveCallbacks() []caller {
	it.mu.RLock()
	defer it.mu.RUnlock()
	out := make([]caller, len(it.callbacks))
	copy(out, it.callbacks)
	return out
}

// Close stops the item's background Updater and, if a publish session was
// dialed, closes it too.
func (it *Item) Close() {
	it.updater.Stop()
	it.mu.Lock()
	sess := it.pubSess
	it.pubSess = nil
	it.mu.Unlock()
	if sess != nil {
		sess.Close()
	}
}
