// Package item implements the mKTL Item: the unit a Store hands out for a
// single key, in both its client (subscribing, possibly-stale cache) and
// daemon (authoritative, hook-backed) roles (spec.md §4.G, §9's
// capability-variant redesign of the original's single-class design).
package item

import "fmt"

// SubscriptionState is a client-side Item's subscription lifecycle (§4.G,
// §8): Unsubscribed (no live feed, value is stale-by-definition),
// Priming (a subscribe request was sent but no confirming PUB has arrived
// yet), Subscribed (a PUB has been received and the cached value tracks the
// daemon in near-real-time).
type SubscriptionState string

const (
	StateUnsubscribed SubscriptionState = "unsubscribed"
	StatePriming      SubscriptionState = "priming"
	StateSubscribed   SubscriptionState = "subscribed"
)

// validTransitions mirrors the teacher's kernel lifecycle valid-state-table
// idiom: an explicit allow-list rather than permitting any state to follow
// any other.
var validTransitions = map[SubscriptionState]map[SubscriptionState]bool{
	StateUnsubscribed: {StatePriming: true},
	StatePriming:       {StateSubscribed: true, StateUnsubscribed: true},
	StateSubscribed:    {StateUnsubscribed: true},
}

// transition validates and returns next, or an error if from->next is not an
// allowed step.
func transition(from, next SubscriptionState) (SubscriptionState, error) {
	if from == next {
		return from, nil
	}
	if validTransitions[from][next] {
		return next, nil
	}
	return from, fmt.Errorf("item: invalid subscription transition %s -> %s", from, next)
}
