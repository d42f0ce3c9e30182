package message

import (
	"errors"
	"fmt"

	"dist-rpc/ivalue"
)

// Slot positions of a message tuple: (payload, handles, type, id).
const (
	slotPayload = iota
	slotHandles
	slotType
	slotID
	tupleSize // must be last
)

var slotNames = [tupleSize]string{"payload", "handles", "type", "id"}

var (
	// ErrStructural means the value is not a tuple of the expected arity.
	ErrStructural = errors.New("message: malformed tuple")
	// ErrType means a tuple slot holds the wrong kind of value.
	ErrType = errors.New("message: wrong slot type")
)

// ValidationError describes why FromTuple rejected a value. Kind is
// ErrStructural or ErrType; errors.Is matches either through Unwrap.
type ValidationError struct {
	Kind     error
	Slot     int // -1 when the tuple as a whole is at fault
	Expected string
	Got      string
}

func (e *ValidationError) Error() string {
	if e.Slot < 0 {
		return fmt.Sprintf("%v: expected %s, got %s", e.Kind, e.Expected, e.Got)
	}
	return fmt.Sprintf("%v: expected %s to be %s, got %s", e.Kind, slotNames[e.Slot], e.Expected, e.Got)
}

func (e *ValidationError) Unwrap() error {
	return e.Kind
}

func structuralError(expected, got string) error {
	return &ValidationError{Kind: ErrStructural, Slot: -1, Expected: expected, Got: got}
}

func typeError(slot int, expected, got string) error {
	return &ValidationError{Kind: ErrType, Slot: slot, Expected: expected, Got: got}
}

// ToTuple converts m into the four-slot tuple (payload, handles, type, id).
// The payload is copied into the String slot; m is not modified.
func (m *RPCMessage) ToTuple() ivalue.Value {
	return ivalue.Tuple(
		ivalue.Bytes(m.payload),
		ivalue.HandleList(m.handles),
		ivalue.Int(int64(m.typ)),
		ivalue.Int(m.id),
	)
}

// FromTuple rebuilds a message from a tuple produced by ToTuple.
//
// Every shape and type check is a precondition: the first one that fails
// aborts the conversion with a *ValidationError naming the slot. A type tag
// outside the known MessageType values is rejected with ErrType.
func FromTuple(v ivalue.Value) (*RPCMessage, error) {
	if !v.IsTuple() {
		return nil, structuralError("tuple", v.Tag().String())
	}
	values, _ := v.ToTuple()
	if len(values) != tupleSize {
		return nil, structuralError(fmt.Sprintf("%d elements in tuple", tupleSize), fmt.Sprintf("%d", len(values)))
	}

	payloadValue := values[slotPayload]
	if !payloadValue.IsString() {
		return nil, typeError(slotPayload, "String", payloadValue.Tag().String())
	}
	payloadString, _ := payloadValue.ToStringRef()
	payload := []byte(payloadString)

	handlesValue := values[slotHandles]
	if !handlesValue.IsList() {
		return nil, typeError(slotHandles, "List", handlesValue.Tag().String())
	}
	handles, err := handlesValue.ToHandleVector()
	if err != nil {
		return nil, typeError(slotHandles, "List of Handle", "List of "+handlesValue.ElemTag().String())
	}

	typeValue := values[slotType]
	if !typeValue.IsInt() {
		return nil, typeError(slotType, "Int", typeValue.Tag().String())
	}
	rawType, _ := typeValue.ToInt()
	typ := MessageType(rawType)
	if !typ.Valid() {
		return nil, typeError(slotType, "a known message type", fmt.Sprintf("%d", rawType))
	}

	idValue := values[slotID]
	if !idValue.IsInt() {
		return nil, typeError(slotID, "Int", idValue.Tag().String())
	}
	id, _ := idValue.ToInt()

	return NewWithID(payload, handles, typ, id), nil
}

// MustFromTuple is FromTuple for callers that treat a malformed tuple as an
// internal invariant violation. It panics with the *ValidationError.
func MustFromTuple(v ivalue.Value) *RPCMessage {
	m, err := FromTuple(v)
	if err != nil {
		panic(err)
	}
	return m
}
