package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"dist-rpc/blob"
	"dist-rpc/ivalue"
)

// JSONCodec uses Go's standard library encoding/json for serialization.
// Pros: human-readable, cross-language, easy to debug.
// Cons: slower due to reflection + string parsing, larger payload (field names repeated).
//
// String values are written as base64 bytes so raw payloads survive.
type JSONCodec struct{}

type jsonValue struct {
	Tag    ivalue.Tag   `json:"t"`
	Int    int64        `json:"i,omitempty"`
	Str    []byte       `json:"s,omitempty"`
	Elem   ivalue.Tag   `json:"e,omitempty"`
	Elems  []jsonValue  `json:"l,omitempty"`
	Handle *blob.Handle `json:"h,omitempty"`
}

func (c *JSONCodec) Encode(v ivalue.Value) ([]byte, error) {
	jv, err := toJSONValue(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(jv)
}

func (c *JSONCodec) Decode(data []byte) (ivalue.Value, error) {
	var jv jsonValue
	if err := json.Unmarshal(data, &jv); err != nil {
		return ivalue.Value{}, err
	}
	return fromJSONValue(&jv, 0)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}

func toJSONValue(v ivalue.Value) (jsonValue, error) {
	jv := jsonValue{Tag: v.Tag()}
	switch v.Tag() {
	case ivalue.TagNone:
	case ivalue.TagInt:
		jv.Int, _ = v.ToInt()
	case ivalue.TagString:
		s, _ := v.ToStringRef()
		jv.Str = []byte(s)
	case ivalue.TagHandle:
		h, _ := v.ToHandle()
		if h.IsZero() {
			return jv, blob.ErrNilHandle
		}
		jv.Handle = &h
	case ivalue.TagList, ivalue.TagTuple:
		var elems []ivalue.Value
		if v.IsList() {
			jv.Elem = v.ElemTag()
			elems, _ = v.ToList()
		} else {
			elems, _ = v.ToTuple()
		}
		jv.Elems = make([]jsonValue, len(elems))
		for i, e := range elems {
			var err error
			if jv.Elems[i], err = toJSONValue(e); err != nil {
				return jv, err
			}
		}
	default:
		return jv, fmt.Errorf("JSONCodec: unsupported tag %s", v.Tag())
	}
	return jv, nil
}

func fromJSONValue(jv *jsonValue, depth int) (ivalue.Value, error) {
	if depth > maxDepth {
		return ivalue.Value{}, errors.New("JSONCodec: value nested too deeply")
	}
	switch jv.Tag {
	case ivalue.TagNone:
		return ivalue.None(), nil
	case ivalue.TagInt:
		return ivalue.Int(jv.Int), nil
	case ivalue.TagString:
		return ivalue.Bytes(jv.Str), nil
	case ivalue.TagHandle:
		if jv.Handle == nil {
			return ivalue.Value{}, errors.New("JSONCodec: handle value without blob")
		}
		return ivalue.FromHandle(*jv.Handle), nil
	case ivalue.TagList, ivalue.TagTuple:
		elems := make([]ivalue.Value, len(jv.Elems))
		for i := range jv.Elems {
			var err error
			if elems[i], err = fromJSONValue(&jv.Elems[i], depth+1); err != nil {
				return ivalue.Value{}, err
			}
		}
		if jv.Tag == ivalue.TagTuple {
			return ivalue.Tuple(elems...), nil
		}
		return ivalue.NewList(jv.Elem, elems...)
	}
	return ivalue.Value{}, fmt.Errorf("JSONCodec: unsupported tag %d", uint8(jv.Tag))
}
