// Package message defines the envelope exchanged by every RPC call path.
//
// RPCMessage holds four fields: an opaque payload, an ordered list of blob
// handles, a MessageType and a correlation id. Call sites build one, the
// transport assigns the id and converts it to a tagged tuple (ToTuple) for the
// codec layer, and the receiving side rebuilds it with FromTuple. The type and
// id let the dispatcher route a message and pair a response to its request.
//
// RPCMessage does no locking. Build it on one goroutine, then hand it off with
// Move (or by passing the pointer and not touching it again).
package message

import (
	"bytes"
	"fmt"
	"slices"

	"dist-rpc/blob"
)

// UnsetID is the correlation id of a message the transport has not numbered yet.
const UnsetID int64 = -1

// RPCMessage is the envelope for a single request or response.
//
// The zero value reads as a ScriptCall with id 0; use Empty for a placeholder.
// Both are safe to overwrite with Assign or AssignMove.
type RPCMessage struct {
	payload []byte
	handles []blob.Handle
	typ     MessageType
	id      int64
}

// Empty returns a message with no payload, no handles, type Unknown and an
// unset id.
func Empty() *RPCMessage {
	return &RPCMessage{typ: Unknown, id: UnsetID}
}

// New builds a message with an unset id. It takes ownership of payload and
// handles; the caller must not modify them afterwards.
func New(payload []byte, handles []blob.Handle, typ MessageType) *RPCMessage {
	return NewWithID(payload, handles, typ, UnsetID)
}

// NewWithID builds a fully populated message, taking ownership of payload and
// handles.
func NewWithID(payload []byte, handles []blob.Handle, typ MessageType, id int64) *RPCMessage {
	return &RPCMessage{
		payload: payload,
		handles: handles,
		typ:     typ,
		id:      id,
	}
}

// Copy returns an independent duplicate. Payload bytes and the handle slice are
// copied; the blobs the handles refer to are shared.
func (m *RPCMessage) Copy() *RPCMessage {
	return NewWithID(bytes.Clone(m.payload), slices.Clone(m.handles), m.typ, m.id)
}

// Move transfers all fields into a new message and leaves m empty, as if it
// had been created by Empty.
func (m *RPCMessage) Move() *RPCMessage {
	out := NewWithID(m.payload, m.handles, m.typ, m.id)
	m.Reset()
	return out
}

// Reset returns m to the Empty state.
func (m *RPCMessage) Reset() {
	*m = RPCMessage{typ: Unknown, id: UnsetID}
}

// Swap exchanges every field of m and other.
func (m *RPCMessage) Swap(other *RPCMessage) {
	m.payload, other.payload = other.payload, m.payload
	m.handles, other.handles = other.handles, m.handles
	m.typ, other.typ = other.typ, m.typ
	m.id, other.id = other.id, m.id
}

// Assign makes m an independent copy of src. The copy is built first and
// swapped in, so m is untouched if building it fails.
func (m *RPCMessage) Assign(src *RPCMessage) *RPCMessage {
	tmp := src.Copy()
	tmp.Swap(m)
	return m
}

// AssignMove moves src into m, leaving src empty. Moving a message into
// itself is a no-op.
func (m *RPCMessage) AssignMove(src *RPCMessage) *RPCMessage {
	if src == m {
		return m
	}
	tmp := src.Move()
	tmp.Swap(m)
	return m
}

// Payload returns the payload buffer. It is shared with m: writes through it
// modify the message, and callers that do not own m must treat it as read-only.
func (m *RPCMessage) Payload() []byte {
	return m.payload
}

// TakePayload transfers the payload to the caller and clears it on m.
func (m *RPCMessage) TakePayload() []byte {
	p := m.payload
	m.payload = nil
	return p
}

// Handles returns the handle slice, shared with m like Payload.
func (m *RPCMessage) Handles() []blob.Handle {
	return m.handles
}

// TakeHandles transfers the handle slice to the caller and clears it on m.
func (m *RPCMessage) TakeHandles() []blob.Handle {
	hs := m.handles
	m.handles = nil
	return hs
}

func (m *RPCMessage) Type() MessageType {
	return m.typ
}

func (m *RPCMessage) IsRequest() bool {
	return m.typ.IsRequest()
}

func (m *RPCMessage) IsResponse() bool {
	return m.typ.IsResponse()
}

// ID returns the correlation id, or UnsetID.
func (m *RPCMessage) ID() int64 {
	return m.id
}

// SetID stores the correlation id. The transport calls it once per request.
func (m *RPCMessage) SetID(id int64) {
	m.id = id
}

// Equal reports whether m and other hold the same payload bytes, the same
// handles in the same order, the same type and the same id.
func (m *RPCMessage) Equal(other *RPCMessage) bool {
	if m.typ != other.typ || m.id != other.id || !bytes.Equal(m.payload, other.payload) {
		return false
	}
	return slices.EqualFunc(m.handles, other.handles, blob.Handle.Same)
}

func (m *RPCMessage) String() string {
	return fmt.Sprintf("RPCMessage{type: %s, id: %d, payload: %d bytes, handles: %d}",
		m.typ, m.id, len(m.payload), len(m.handles))
}
