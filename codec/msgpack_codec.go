package codec

import (
	"bytes"
	"errors"
	"fmt"

	"dist-rpc/blob"
	"dist-rpc/ivalue"

	"github.com/vmihailenco/msgpack/v5"
)

// MsgpackCodec writes each value as a MessagePack array headed by its tag:
// [tag], [tag, int], [tag, bin], [tag, blob], [tag, elemTag, [...]] for lists
// and [tag, [...]] for tuples.
type MsgpackCodec struct{}

func (c *MsgpackCodec) Encode(v ivalue.Value) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := encodeMsgpackValue(enc, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *MsgpackCodec) Decode(data []byte) (ivalue.Value, error) {
	r := bytes.NewReader(data)
	dec := msgpack.NewDecoder(r)
	v, err := decodeMsgpackValue(dec, 0)
	if err != nil {
		return ivalue.Value{}, fmt.Errorf("MsgpackCodec: %w", err)
	}
	if r.Len() != 0 {
		return ivalue.Value{}, fmt.Errorf("MsgpackCodec: %d trailing bytes", r.Len())
	}
	return v, nil
}

func (c *MsgpackCodec) Type() CodecType {
	return CodecTypeMsgpack
}

func encodeMsgpackValue(enc *msgpack.Encoder, v ivalue.Value) error {
	switch v.Tag() {
	case ivalue.TagNone:
		if err := enc.EncodeArrayLen(1); err != nil {
			return err
		}
		return enc.EncodeUint8(uint8(v.Tag()))
	case ivalue.TagInt:
		i, _ := v.ToInt()
		if err := encodeHead(enc, v.Tag(), 2); err != nil {
			return err
		}
		return enc.EncodeInt(i)
	case ivalue.TagString:
		s, _ := v.ToStringRef()
		if err := encodeHead(enc, v.Tag(), 2); err != nil {
			return err
		}
		return enc.EncodeBytes([]byte(s))
	case ivalue.TagHandle:
		h, _ := v.ToHandle()
		if err := encodeHead(enc, v.Tag(), 2); err != nil {
			return err
		}
		return enc.Encode(h)
	case ivalue.TagList:
		elems, _ := v.ToList()
		if err := encodeHead(enc, v.Tag(), 3); err != nil {
			return err
		}
		if err := enc.EncodeUint8(uint8(v.ElemTag())); err != nil {
			return err
		}
		return encodeMsgpackElems(enc, elems)
	case ivalue.TagTuple:
		elems, _ := v.ToTuple()
		if err := encodeHead(enc, v.Tag(), 2); err != nil {
			return err
		}
		return encodeMsgpackElems(enc, elems)
	}
	return fmt.Errorf("MsgpackCodec: unsupported tag %s", v.Tag())
}

func encodeHead(enc *msgpack.Encoder, tag ivalue.Tag, n int) error {
	if err := enc.EncodeArrayLen(n); err != nil {
		return err
	}
	return enc.EncodeUint8(uint8(tag))
}

func encodeMsgpackElems(enc *msgpack.Encoder, elems []ivalue.Value) error {
	if err := enc.EncodeArrayLen(len(elems)); err != nil {
		return err
	}
	for _, e := range elems {
		if err := encodeMsgpackValue(enc, e); err != nil {
			return err
		}
	}
	return nil
}

func decodeMsgpackValue(dec *msgpack.Decoder, depth int) (ivalue.Value, error) {
	if depth > maxDepth {
		return ivalue.Value{}, errors.New("value nested too deeply")
	}
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return ivalue.Value{}, err
	}
	if n < 1 {
		return ivalue.Value{}, fmt.Errorf("expected tagged array, got length %d", n)
	}
	rawTag, err := dec.DecodeUint8()
	if err != nil {
		return ivalue.Value{}, err
	}
	tag := ivalue.Tag(rawTag)

	want := 2
	switch tag {
	case ivalue.TagNone:
		want = 1
	case ivalue.TagList:
		want = 3
	}
	if n != want {
		return ivalue.Value{}, fmt.Errorf("%s: expected array of %d, got %d", tag, want, n)
	}

	switch tag {
	case ivalue.TagNone:
		return ivalue.None(), nil
	case ivalue.TagInt:
		i, err := dec.DecodeInt64()
		if err != nil {
			return ivalue.Value{}, err
		}
		return ivalue.Int(i), nil
	case ivalue.TagString:
		b, err := dec.DecodeBytes()
		if err != nil {
			return ivalue.Value{}, err
		}
		return ivalue.Bytes(b), nil
	case ivalue.TagHandle:
		var h blob.Handle
		if err := dec.Decode(&h); err != nil {
			return ivalue.Value{}, err
		}
		return ivalue.FromHandle(h), nil
	case ivalue.TagList:
		elem, err := dec.DecodeUint8()
		if err != nil {
			return ivalue.Value{}, err
		}
		elems, err := decodeMsgpackElems(dec, depth)
		if err != nil {
			return ivalue.Value{}, err
		}
		return ivalue.NewList(ivalue.Tag(elem), elems...)
	case ivalue.TagTuple:
		elems, err := decodeMsgpackElems(dec, depth)
		if err != nil {
			return ivalue.Value{}, err
		}
		return ivalue.Tuple(elems...), nil
	}
	return ivalue.Value{}, fmt.Errorf("unsupported tag %d", rawTag)
}

func decodeMsgpackElems(dec *msgpack.Decoder, depth int) ([]ivalue.Value, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	elems := make([]ivalue.Value, 0, min(n, 1024))
	for i := 0; i < n; i++ {
		e, err := decodeMsgpackValue(dec, depth+1)
		if err != nil {
			return nil, err
		}
		elems = append(elems, e)
	}
	return elems, nil
}
