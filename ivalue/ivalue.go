// Package ivalue implements the tagged value used to move messages across a
// process or language boundary.
//
// A Value is a small sum type: exactly one of None, Int, String, List, Tuple or
// Handle. Readers must test the variant before extracting it; extractors on the
// wrong variant return ErrWrongTag instead of guessing.
package ivalue

import (
	"errors"
	"fmt"
	"strings"

	"dist-rpc/blob"
)

// Tag identifies the variant held by a Value.
type Tag uint8

const (
	TagNone Tag = iota
	TagInt
	TagString
	TagList
	TagTuple
	TagHandle
)

func (t Tag) String() string {
	switch t {
	case TagNone:
		return "None"
	case TagInt:
		return "Int"
	case TagString:
		return "String"
	case TagList:
		return "List"
	case TagTuple:
		return "Tuple"
	case TagHandle:
		return "Handle"
	}
	return fmt.Sprintf("Tag(%d)", uint8(t))
}

// Valid reports whether t is one of the known variants.
func (t Tag) Valid() bool {
	return t <= TagHandle
}

// ErrWrongTag is returned by extractors and constructors on a variant mismatch.
var ErrWrongTag = errors.New("ivalue: wrong tag")

// Value is an immutable tagged value. The zero Value is None.
type Value struct {
	tag   Tag
	i     int64
	s     string
	elem  Tag // element tag, lists only
	elems []Value
	h     blob.Handle
}

func None() Value {
	return Value{}
}

func Int(i int64) Value {
	return Value{tag: TagInt, i: i}
}

func String(s string) Value {
	return Value{tag: TagString, s: s}
}

// Bytes builds a String value holding raw bytes. Go strings are byte strings,
// so non-UTF-8 content survives unchanged.
func Bytes(b []byte) Value {
	return Value{tag: TagString, s: string(b)}
}

func FromHandle(h blob.Handle) Value {
	return Value{tag: TagHandle, h: h}
}

// NewList builds a homogeneous list whose elements all carry tag elem.
func NewList(elem Tag, vs ...Value) (Value, error) {
	if !elem.Valid() {
		return Value{}, fmt.Errorf("%w: invalid list element tag %d", ErrWrongTag, uint8(elem))
	}
	for i, v := range vs {
		if v.tag != elem {
			return Value{}, fmt.Errorf("%w: list element %d is %s, expected %s", ErrWrongTag, i, v.tag, elem)
		}
	}
	return Value{tag: TagList, elem: elem, elems: vs}, nil
}

// List is NewList for statically known elements. It panics on a mismatch.
func List(elem Tag, vs ...Value) Value {
	v, err := NewList(elem, vs...)
	if err != nil {
		panic(err)
	}
	return v
}

// HandleList encodes an ordered handle sequence as a list of Handle values.
func HandleList(hs []blob.Handle) Value {
	elems := make([]Value, len(hs))
	for i, h := range hs {
		elems[i] = FromHandle(h)
	}
	return Value{tag: TagList, elem: TagHandle, elems: elems}
}

func Tuple(vs ...Value) Value {
	return Value{tag: TagTuple, elems: vs}
}

func (v Value) Tag() Tag { return v.tag }

func (v Value) IsNone() bool   { return v.tag == TagNone }
func (v Value) IsInt() bool    { return v.tag == TagInt }
func (v Value) IsString() bool { return v.tag == TagString }
func (v Value) IsList() bool   { return v.tag == TagList }
func (v Value) IsTuple() bool  { return v.tag == TagTuple }
func (v Value) IsHandle() bool { return v.tag == TagHandle }

func (v Value) wrongTag(want Tag) error {
	return fmt.Errorf("%w: expected %s, got %s", ErrWrongTag, want, v.tag)
}

func (v Value) ToInt() (int64, error) {
	if v.tag != TagInt {
		return 0, v.wrongTag(TagInt)
	}
	return v.i, nil
}

// ToStringRef returns the string (or raw bytes) held by a String value.
func (v Value) ToStringRef() (string, error) {
	if v.tag != TagString {
		return "", v.wrongTag(TagString)
	}
	return v.s, nil
}

func (v Value) ToHandle() (blob.Handle, error) {
	if v.tag != TagHandle {
		return blob.Handle{}, v.wrongTag(TagHandle)
	}
	return v.h, nil
}

// ElemTag returns the element tag of a List value, TagNone otherwise.
func (v Value) ElemTag() Tag {
	return v.elem
}

// ToList returns the elements of a List value. The slice is shared; callers
// must not modify it.
func (v Value) ToList() ([]Value, error) {
	if v.tag != TagList {
		return nil, v.wrongTag(TagList)
	}
	return v.elems, nil
}

// ToTuple returns the elements of a Tuple value. The slice is shared; callers
// must not modify it.
func (v Value) ToTuple() ([]Value, error) {
	if v.tag != TagTuple {
		return nil, v.wrongTag(TagTuple)
	}
	return v.elems, nil
}

// ToHandleVector decodes a List of Handle values into a new, order-preserving
// handle slice. An empty list yields an empty (non-nil) slice.
func (v Value) ToHandleVector() ([]blob.Handle, error) {
	elems, err := v.ToList()
	if err != nil {
		return nil, err
	}
	hs := make([]blob.Handle, len(elems))
	for i, e := range elems {
		h, err := e.ToHandle()
		if err != nil {
			return nil, fmt.Errorf("list element %d: %w", i, err)
		}
		hs[i] = h
	}
	return hs, nil
}

// Len returns the element count of a List or Tuple, the byte length of a
// String, and 0 otherwise.
func (v Value) Len() int {
	switch v.tag {
	case TagList, TagTuple:
		return len(v.elems)
	case TagString:
		return len(v.s)
	}
	return 0
}

// Equal reports whether a and b hold the same variant and contents. Handles
// compare by identity.
func Equal(a, b Value) bool {
	if a.tag != b.tag {
		return false
	}
	switch a.tag {
	case TagNone:
		return true
	case TagInt:
		return a.i == b.i
	case TagString:
		return a.s == b.s
	case TagHandle:
		return a.h.Same(b.h)
	case TagList:
		if a.elem != b.elem {
			return false
		}
		fallthrough
	case TagTuple:
		if len(a.elems) != len(b.elems) {
			return false
		}
		for i := range a.elems {
			if !Equal(a.elems[i], b.elems[i]) {
				return false
			}
		}
		return true
	}
	return false
}

func (v Value) String() string {
	switch v.tag {
	case TagNone:
		return "None"
	case TagInt:
		return fmt.Sprintf("%d", v.i)
	case TagString:
		return fmt.Sprintf("%q", v.s)
	case TagHandle:
		return v.h.String()
	case TagList, TagTuple:
		parts := make([]string, len(v.elems))
		for i, e := range v.elems {
			parts[i] = e.String()
		}
		if v.tag == TagList {
			return "[" + strings.Join(parts, ", ") + "]"
		}
		return "(" + strings.Join(parts, ", ") + ")"
	}
	return v.tag.String()
}
