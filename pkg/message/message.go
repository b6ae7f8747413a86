// Package message defines the mKTL Envelope and Payload types (spec.md §4.A)
// and the wire-level MessageType enum, following the teacher's typed-string
// enum idiom (coreengine/envelope.TerminalReason et al.) generalized to the
// fabric's request/response/publish vocabulary.
package message

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type is the envelope's message type, carried on the wire as a short
// string (§4.A).
type Type string

const (
	TypeGet    Type = "GET"
	TypeSet    Type = "SET"
	TypeHash   Type = "HASH"
	TypeConfig Type = "CONFIG"
	TypeAck    Type = "ACK"
	TypeRep    Type = "REP"
	TypePub    Type = "PUB"
)

// knownTypes backs FromString with an explicit allow-list rather than
// accepting any string, mirroring TerminalReason/RiskLevel's closed-set
// validation idiom.
var knownTypes = map[Type]struct{}{
	TypeGet: {}, TypeSet: {}, TypeHash: {}, TypeConfig: {},
	TypeAck: {}, TypeRep: {}, TypePub: {},
}

// FromString validates s against the known envelope types.
func FromString(s string) (Type, error) {
	t := Type(s)
	if _, ok := knownTypes[t]; !ok {
		return "", fmt.Errorf("message: unknown envelope type %q", s)
	}
	return t, nil
}

// Valid reports whether t is one of the known envelope types.
func (t Type) Valid() bool {
	_, ok := knownTypes[t]
	return ok
}

// IsRequest reports whether t initiates a request/response exchange
// (GET, SET, HASH, CONFIG), as opposed to a session reply or publish.
func (t Type) IsRequest() bool {
	switch t {
	case TypeGet, TypeSet, TypeHash, TypeConfig:
		return true
	default:
		return false
	}
}

// ErrorInfo is the wire-level error object carried in a Payload when a
// handler raised during request processing (§7).
type ErrorInfo struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Debug string `json:"debug,omitempty"`
}

// Payload is the value half of a Get/Set/Pub exchange (§4.A).
type Payload struct {
	// Value holds the item's value. Its concrete JSON shape is
	// item-specific; numeric, string, bool, array, and object values are
	// all legal.
	Value any `json:"value,omitempty"`

	// Time is the value's own timestamp (UTC, seconds since epoch with
	// fractional precision), distinct from the Envelope's transport Time.
	Time float64 `json:"time,omitempty"`

	// Refresh, if set by a client HASH/GET request, asks the responder to
	// bypass any cached value and poll the authoritative source.
	Refresh bool `json:"refresh,omitempty"`

	// Error is present only on a REP that reports a handler failure.
	Error *ErrorInfo `json:"error,omitempty"`

	// Shape and Dtype describe a bulk (binary) payload's array shape and
	// element type, when Bulk is true (§4.A bulk-data pairing).
	Shape []int  `json:"shape,omitempty"`
	Dtype string `json:"dtype,omitempty"`
	Bulk  bool   `json:"bulk,omitempty"`
}

// Envelope is the header accompanying every mKTL message (§4.A): a message
// type, identity/correlation fields, the key it concerns, and a nested
// Payload.
type Envelope struct {
	Type     Type     `json:"type"`
	TransID  string   `json:"id"`
	SourceID string   `json:"source"`
	DestID   string   `json:"dest,omitempty"`
	Key      string   `json:"key,omitempty"`
	Time     float64  `json:"time"`
	Payload  *Payload `json:"payload,omitempty"`
	// Meta carries store-defined or protocol-extension fields that do not
	// warrant a dedicated struct field.
	Meta map[string]any `json:"meta,omitempty"`
}

// NewTransID generates a fresh transaction id for a new request envelope.
func NewTransID() string {
	return uuid.NewString()
}

// NewRequest builds a request-type Envelope (GET/SET/HASH/CONFIG), stamping
// a fresh TransID and the current time.
func NewRequest(typ Type, sourceID, key string, payload *Payload) (Envelope, error) {
	if !typ.IsRequest() {
		return Envelope{}, fmt.Errorf("message: %q is not a request type", typ)
	}
	return Envelope{
		Type:     typ,
		TransID:  NewTransID(),
		SourceID: sourceID,
		Key:      key,
		Time:     nowSeconds(),
		Payload:  payload,
	}, nil
}

// NewAck builds the immediate acknowledgement envelope a Request server
// sends before dispatching a handler (§4.D).
func NewAck(request Envelope, sourceID string) Envelope {
	return Envelope{
		Type:     TypeAck,
		TransID:  request.TransID,
		SourceID: sourceID,
		DestID:   request.SourceID,
		Key:      request.Key,
		Time:     nowSeconds(),
	}
}

// NewReply builds the REP envelope carrying a handler's result or error
// (§4.D).
func NewReply(request Envelope, sourceID string, payload *Payload) Envelope {
	return Envelope{
		Type:     TypeRep,
		TransID:  request.TransID,
		SourceID: sourceID,
		DestID:   request.SourceID,
		Key:      request.Key,
		Time:     nowSeconds(),
		Payload:  payload,
	}
}

// NewErrorReply builds a REP envelope whose Payload carries an ErrorInfo,
// the wire representation of a handler exception (§7).
func NewErrorReply(request Envelope, sourceID string, errType, errText, errDebug string) Envelope {
	return NewReply(request, sourceID, &Payload{
		Error: &ErrorInfo{Type: errType, Text: errText, Debug: errDebug},
	})
}

// NewPublish builds a PUB envelope announcing an item's current value
// (§4.C).
func NewPublish(sourceID, key string, payload *Payload) Envelope {
	return Envelope{
		Type:     TypePub,
		TransID:  NewTransID(),
		SourceID: sourceID,
		Key:      key,
		Time:     nowSeconds(),
		Payload:  payload,
	}
}

// Message pairs an Envelope with an optional raw binary blob, used when
// Payload.Bulk is true and the value travels as a trailing frame rather than
// inline JSON (§4.A/§4.B).
type Message struct {
	Envelope Envelope
	Bulk     []byte
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
