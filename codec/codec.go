// Package codec turns tagged values into bytes and back.
//
// The transport never hands an RPCMessage to a codec directly: it converts the
// message with ToTuple first, so every codec only has to understand the
// ivalue variants. Marshal and Unmarshal wrap that two-step conversion.
package codec

import (
	"fmt"
	"strings"

	"dist-rpc/ivalue"
	"dist-rpc/message"
)

type CodecType byte

const (
	CodecTypeJSON    CodecType = 0
	CodecTypeBinary  CodecType = 1
	CodecTypeMsgpack CodecType = 2
)

// maxDepth bounds nesting when decoding untrusted input.
const maxDepth = 32

type Codec interface {
	Encode(v ivalue.Value) ([]byte, error)
	Decode(data []byte) (ivalue.Value, error)
	Type() CodecType // 0=JSON, 1=Binary, 2=MessagePack
}

func (t CodecType) Valid() bool {
	return t <= CodecTypeMsgpack
}

func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeBinary:
		return "binary"
	case CodecTypeMsgpack:
		return "msgpack"
	}
	return fmt.Sprintf("CodecType(%d)", byte(t))
}

// ParseCodecType maps a codec name ("json", "binary", "msgpack") to its type.
func ParseCodecType(name string) (CodecType, error) {
	switch strings.ToLower(name) {
	case "json":
		return CodecTypeJSON, nil
	case "binary":
		return CodecTypeBinary, nil
	case "msgpack", "messagepack":
		return CodecTypeMsgpack, nil
	}
	return 0, fmt.Errorf("unknown codec %q", name)
}

func GetCodec(codecType CodecType) Codec {
	switch codecType {
	case CodecTypeJSON:
		return &JSONCodec{}
	case CodecTypeMsgpack:
		return &MsgpackCodec{}
	}
	return &BinaryCodec{}
}

// Marshal encodes msg's tuple form with c.
func Marshal(c Codec, msg *message.RPCMessage) ([]byte, error) {
	return c.Encode(msg.ToTuple())
}

// Unmarshal decodes data with c and rebuilds the message. A body that decodes
// but has the wrong shape fails with a *message.ValidationError.
func Unmarshal(c Codec, data []byte) (*message.RPCMessage, error) {
	v, err := c.Decode(data)
	if err != nil {
		return nil, err
	}
	return message.FromTuple(v)
}
