package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"dist-rpc/blob"
	"dist-rpc/ivalue"
)

// BinaryCodec writes values in a compact big-endian layout:
//
//	None    tag
//	Int     tag | int64
//	String  tag | len uint32 | bytes
//	Handle  tag | len uint32 | blob.Handle.MarshalBinary bytes
//	List    tag | elemTag | count uint32 | elements...
//	Tuple   tag | count uint32 | elements...
type BinaryCodec struct{}

var ErrTruncated = errors.New("BinaryCodec: truncated input")

func (c *BinaryCodec) Encode(v ivalue.Value) ([]byte, error) {
	return appendValue(make([]byte, 0, 64), v)
}

func (c *BinaryCodec) Decode(data []byte) (ivalue.Value, error) {
	r := &binaryReader{data: data}
	v, err := r.readValue(0)
	if err != nil {
		return ivalue.Value{}, err
	}
	if r.offset != len(data) {
		return ivalue.Value{}, fmt.Errorf("BinaryCodec: %d trailing bytes", len(data)-r.offset)
	}
	return v, nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

func appendValue(buf []byte, v ivalue.Value) ([]byte, error) {
	buf = append(buf, byte(v.Tag()))
	switch v.Tag() {
	case ivalue.TagNone:
	case ivalue.TagInt:
		i, _ := v.ToInt()
		buf = binary.BigEndian.AppendUint64(buf, uint64(i))
	case ivalue.TagString:
		s, _ := v.ToStringRef()
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
		buf = append(buf, s...)
	case ivalue.TagHandle:
		h, _ := v.ToHandle()
		data, err := h.MarshalBinary()
		if err != nil {
			return nil, err
		}
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(data)))
		buf = append(buf, data...)
	case ivalue.TagList, ivalue.TagTuple:
		var elems []ivalue.Value
		if v.IsList() {
			buf = append(buf, byte(v.ElemTag()))
			elems, _ = v.ToList()
		} else {
			elems, _ = v.ToTuple()
		}
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(elems)))
		for _, e := range elems {
			var err error
			if buf, err = appendValue(buf, e); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("BinaryCodec: unsupported tag %s", v.Tag())
	}
	return buf, nil
}

type binaryReader struct {
	data   []byte
	offset int
}

func (r *binaryReader) next(n int) ([]byte, error) {
	if n < 0 || len(r.data)-r.offset < n {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d", ErrTruncated, n, r.offset)
	}
	b := r.data[r.offset : r.offset+n]
	r.offset += n
	return b, nil
}

func (r *binaryReader) readByte() (byte, error) {
	b, err := r.next(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *binaryReader) readUint32() (uint32, error) {
	b, err := r.next(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *binaryReader) readValue(depth int) (ivalue.Value, error) {
	if depth > maxDepth {
		return ivalue.Value{}, errors.New("BinaryCodec: value nested too deeply")
	}
	tagByte, err := r.readByte()
	if err != nil {
		return ivalue.Value{}, err
	}

	switch tag := ivalue.Tag(tagByte); tag {
	case ivalue.TagNone:
		return ivalue.None(), nil
	case ivalue.TagInt:
		b, err := r.next(8)
		if err != nil {
			return ivalue.Value{}, err
		}
		return ivalue.Int(int64(binary.BigEndian.Uint64(b))), nil
	case ivalue.TagString, ivalue.TagHandle:
		n, err := r.readUint32()
		if err != nil {
			return ivalue.Value{}, err
		}
		b, err := r.next(int(n))
		if err != nil {
			return ivalue.Value{}, err
		}
		if tag == ivalue.TagString {
			return ivalue.Bytes(b), nil
		}
		var h blob.Handle
		if err := h.UnmarshalBinary(b); err != nil {
			return ivalue.Value{}, err
		}
		return ivalue.FromHandle(h), nil
	case ivalue.TagList, ivalue.TagTuple:
		var elem ivalue.Tag
		if tag == ivalue.TagList {
			b, err := r.readByte()
			if err != nil {
				return ivalue.Value{}, err
			}
			elem = ivalue.Tag(b)
		}
		count, err := r.readUint32()
		if err != nil {
			return ivalue.Value{}, err
		}
		// Every element takes at least one byte, so a larger count is corrupt.
		if int(count) > len(r.data)-r.offset {
			return ivalue.Value{}, fmt.Errorf("%w: %d elements declared, %d bytes left", ErrTruncated, count, len(r.data)-r.offset)
		}
		elems := make([]ivalue.Value, count)
		for i := range elems {
			if elems[i], err = r.readValue(depth + 1); err != nil {
				return ivalue.Value{}, err
			}
		}
		if tag == ivalue.TagTuple {
			return ivalue.Tuple(elems...), nil
		}
		return ivalue.NewList(elem, elems...)
	default:
		return ivalue.Value{}, fmt.Errorf("BinaryCodec: unsupported tag %d", tagByte)
	}
}
