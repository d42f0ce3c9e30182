// Package blob defines the handle used to carry large binary data next to an
// RPC payload.
//
// A Handle is a reference: copying it shares the underlying Blob. Where the
// data lives, how it moves between devices and when it is released is owned by
// whoever created the Blob, not by the messages that carry the handle.
package blob

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/google/uuid"
)

// Blob is the externally owned data a Handle points to.
type Blob struct {
	ID     uuid.UUID
	DType  string  // Element type label, e.g. "float32". Opaque to this package.
	Shape  []int64 // Optional logical shape
	Device string  // Placement label, e.g. "cpu" or "cuda:0"
	Data   []byte
}

// Handle is a copyable reference to a Blob.
// The zero Handle refers to nothing and cannot be encoded.
type Handle struct {
	b *Blob
}

// Option configures a Blob created by New.
type Option func(*Blob)

func WithDType(dtype string) Option {
	return func(b *Blob) { b.DType = dtype }
}

func WithShape(shape ...int64) Option {
	return func(b *Blob) { b.Shape = shape }
}

func WithDevice(device string) Option {
	return func(b *Blob) { b.Device = device }
}

// New creates a Blob around data (not copied) and returns a handle to it.
func New(data []byte, opts ...Option) Handle {
	b := &Blob{
		ID:     uuid.New(),
		DType:  "uint8",
		Device: "cpu",
		Data:   data,
	}
	for _, opt := range opts {
		opt(b)
	}
	return Handle{b: b}
}

// FromBlob wraps an existing Blob. A nil blob yields the zero Handle.
func FromBlob(b *Blob) Handle {
	return Handle{b: b}
}

func (h Handle) IsZero() bool {
	return h.b == nil
}

// Blob returns the referent. Callers share it with every other copy of h.
func (h Handle) Blob() *Blob {
	return h.b
}

func (h Handle) ID() uuid.UUID {
	if h.b == nil {
		return uuid.Nil
	}
	return h.b.ID
}

func (h Handle) Data() []byte {
	if h.b == nil {
		return nil
	}
	return h.b.Data
}

// Same reports whether h and o refer to the same Blob.
func (h Handle) Same(o Handle) bool {
	return h.b == o.b
}

// SameContent reports whether h and o refer to blobs with equal id, metadata
// and data. A handle decoded from the wire is SameContent as its source but
// never Same.
func (h Handle) SameContent(o Handle) bool {
	if h.b == nil || o.b == nil {
		return h.b == o.b
	}
	return h.b.ID == o.b.ID &&
		h.b.DType == o.b.DType &&
		h.b.Device == o.b.Device &&
		slices.Equal(h.b.Shape, o.b.Shape) &&
		bytes.Equal(h.b.Data, o.b.Data)
}

func (h Handle) String() string {
	if h.b == nil {
		return "blob.Handle(nil)"
	}
	return fmt.Sprintf("blob.Handle(%s, %s%v, %s, %d bytes)", h.b.ID, h.b.DType, h.b.Shape, h.b.Device, len(h.b.Data))
}
