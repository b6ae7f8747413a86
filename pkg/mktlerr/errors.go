// Package mktlerr provides the typed error taxonomy for the mKTL fabric.
//
// Each kind is a distinct struct rather than a shared sentinel so callers can
// carry structured detail (timeouts, the offending key, the remote error
// payload) while still participating in errors.Is/As via Unwrap.
//
// Constitutional reference: spec.md §7 (Error Handling Design).
package mktlerr

import "fmt"

// TimeoutError is raised when no ACK arrives within the client ACK timeout,
// or no REP arrives within the client REP timeout.
type TimeoutError struct {
	Op      string // "ack" or "rep"
	Key     string
	Seconds float64
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("mktl: timeout waiting for %s on %q after %.3fs", e.Op, e.Key, e.Seconds)
}

// PortError is raised when no port is available to bind within the
// configured range (and the avoid-set retry also failed).
type PortError struct {
	RangeLow, RangeHigh int
	Role                string // "rep" or "pub"
}

func (e *PortError) Error() string {
	return fmt.Sprintf("mktl: no %s port available in range %d-%d", e.Role, e.RangeLow, e.RangeHigh)
}

// ConnectionError wraps a failure to connect, or a reset, on an underlying
// socket.
type ConnectionError struct {
	Address string
	Cause   error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("mktl: connection error to %s: %v", e.Address, e.Cause)
}

func (e *ConnectionError) Unwrap() error { return e.Cause }

// ProtocolVersionMismatchError is synthesized by a receiver whose decoded
// version byte differs from its own; it is carried as a REP error payload
// rather than raised directly on the sender that detects it remotely (see
// pkg/wire), but remains a raw error on the side that decodes its own frame.
type ProtocolVersionMismatchError struct {
	Got, Want byte
}

func (e *ProtocolVersionMismatchError) Error() string {
	return fmt.Sprintf("mKTL protocol %c, expected %c", e.Got, e.Want)
}

// ConfigurationMissingError is raised when no local or remote configuration
// could be found for a store.
type ConfigurationMissingError struct {
	Store string
}

func (e *ConfigurationMissingError) Error() string {
	return fmt.Sprintf("mktl: no configuration available for store %q", e.Store)
}

// DuplicateItemError is raised when an authoritative holder already exists
// for a key, either locally (Store.register) or because a second Daemon
// attempted to claim the same key.
type DuplicateItemError struct {
	Store, Key string
}

func (e *DuplicateItemError) Error() string {
	return fmt.Sprintf("mktl: %s.%s already has an authoritative or registered item", e.Store, e.Key)
}

// NotAuthoritativeError is raised when a write-like daemon operation
// (publish, req_set, ...) is attempted on a non-authoritative item.
type NotAuthoritativeError struct {
	Store, Key string
}

func (e *NotAuthoritativeError) Error() string {
	return fmt.Sprintf("mktl: %s.%s is not authoritative in this process", e.Store, e.Key)
}

// NotSupportedError is raised by disallowed Store mutation methods.
type NotSupportedError struct {
	Operation string
}

func (e *NotSupportedError) Error() string {
	return fmt.Sprintf("mktl: store does not support %s; writes go through Items", e.Operation)
}

// ValidationError is raised when Item.validate() rejects a SET.
type ValidationError struct {
	Store, Key string
	Reason     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("mktl: %s.%s rejected value: %s", e.Store, e.Key, e.Reason)
}

// RemoteError represents a handler error that was captured server-side,
// serialized into a REP payload, and re-raised client-side. Type/Text/Debug
// mirror the wire error object {type, text, debug} from spec.md §4.A/§7.
type RemoteError struct {
	Type  string
	Text  string
	Debug string
}

func (e *RemoteError) Error() string {
	if e.Debug != "" {
		return fmt.Sprintf("mktl: remote %s: %s (%s)", e.Type, e.Text, e.Debug)
	}
	return fmt.Sprintf("mktl: remote %s: %s", e.Type, e.Text)
}

// NotAvailableError is raised by the top-level get() facade when none of its
// four resolution sources (in-memory Store cache, in-memory config blocks,
// disk cache + refresh, discovery broadcast) produced a configuration for
// the requested store (§4.L).
type NotAvailableError struct {
	Store string
}

func (e *NotAvailableError) Error() string {
	return fmt.Sprintf("mktl: store %q is not available from any known source", e.Store)
}

// KeyError mirrors the reference implementation's KeyError, raised e.g. by
// enumerated formatted-value lookups on an unknown label.
type KeyError struct {
	Key string
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("mktl: key error: %q", e.Key)
}
