// Package protocol implements the binary frame protocol for dist-rpc.
//
// It solves TCP's sticky packet problem by using a fixed-size 18-byte header
// followed by a variable-length body. The receiver reads the header first to
// determine the body length, then reads exactly that many bytes. The body is a
// message tuple encoded with the codec named in the header.
//
// Frame format:
//
//	0      3  4  5  6                  14        18
//	┌──────┬──┬──┬──┬──────────────────┬─────────┬───────────────┐
//	│magic │v │ct│fk│        id        │ bodyLen │    body ...    │
//	│ drp  │02│  │  │      int64       │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴──────────────────┴─────────┴───────────────┘
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"dist-rpc/codec"
	"dist-rpc/message"
)

// Magic number bytes: "drp" (dist-rpc protocol).
// Used to quickly identify whether the incoming data is a valid frame,
// rejecting non-protocol connections (e.g., HTTP clients hitting the wrong port).
const (
	MagicNumber byte = 0x64 // 'd'
	MagicByte2  byte = 0x72 // 'r'
	MagicByte3  byte = 0x70 // 'p'
	Version     byte = 0x02
	HeaderSize  int  = 18 // 3 (magic) + 1 (version) + 1 (codec) + 1 (frameKind) + 8 (id) + 4 (bodyLen)

	// MaxBodyLen caps the body a peer may announce.
	MaxBodyLen uint32 = 256 << 20
)

// FrameKind distinguishes request, response, and heartbeat frames.
type FrameKind byte

const (
	FrameRequest   FrameKind = 0 // Caller → callee message
	FrameResponse  FrameKind = 1 // Callee → caller message
	FrameHeartbeat FrameKind = 2 // KeepAlive probe (no body)
)

func (k FrameKind) String() string {
	switch k {
	case FrameRequest:
		return "request"
	case FrameResponse:
		return "response"
	case FrameHeartbeat:
		return "heartbeat"
	}
	return fmt.Sprintf("FrameKind(%d)", byte(k))
}

// FrameKindFor returns the frame kind that carries messages of type t.
// Types that are neither requests nor responses cannot be framed.
func FrameKindFor(t message.MessageType) (FrameKind, error) {
	switch {
	case t.IsRequest():
		return FrameRequest, nil
	case t.IsResponse():
		return FrameResponse, nil
	}
	return 0, fmt.Errorf("message type %s is neither a request nor a response", t)
}

// Header represents the fixed 18-byte frame header.
// It carries metadata needed to decode the following body correctly.
type Header struct {
	CodecType codec.CodecType // Serialization format of the body
	Kind      FrameKind       // Request, Response, or Heartbeat
	ID        int64           // Correlation id, equal to the id inside the body
	BodyLen   uint32          // Body length in bytes — solves TCP sticky packet problem
}

// Encode writes a complete frame (header + body) to w. BodyLen is taken from
// len(body).
// The caller must hold a write lock if multiple goroutines share the same writer,
// otherwise frames from different requests will interleave and corrupt the stream.
func Encode(w io.Writer, h *Header, body []byte) error {
	if uint64(len(body)) > uint64(MaxBodyLen) {
		return fmt.Errorf("body too large: %d bytes", len(body))
	}
	h.BodyLen = uint32(len(body))

	buf := make([]byte, HeaderSize, HeaderSize+len(body))

	// Magic number: 3 bytes — protocol identification
	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	// Version: 1 byte — for future protocol upgrades
	buf[3] = Version
	buf[4] = byte(h.CodecType)
	buf[5] = byte(h.Kind)
	// Correlation id: 8 bytes, big-endian (network byte order)
	binary.BigEndian.PutUint64(buf[6:14], uint64(h.ID))
	binary.BigEndian.PutUint32(buf[14:18], h.BodyLen)

	// One Write per frame, so a frame is never split by a concurrent writer
	// that forgot the lock.
	buf = append(buf, body...)
	_, err := w.Write(buf)
	return err
}

// Decode reads a complete frame (header + body) from r.
// It validates the magic number, version, codec type, frame kind and body length.
// Uses io.ReadFull to guarantee exactly N bytes are read, preventing partial reads.
func Decode(r io.Reader) (*Header, []byte, error) {
	// Step 1: Read the fixed header
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	// Step 2: Validate magic number — reject non-protocol connections
	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:3])
	}

	// Step 3: Validate version
	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", headerBuf[3])
	}

	// Step 4: Validate codec type
	codecType := codec.CodecType(headerBuf[4])
	if !codecType.Valid() {
		return nil, nil, fmt.Errorf("unsupported codec type: %d", headerBuf[4])
	}

	// Step 5: Validate frame kind
	kind := FrameKind(headerBuf[5])
	if kind != FrameRequest && kind != FrameResponse && kind != FrameHeartbeat {
		return nil, nil, fmt.Errorf("unsupported frame kind: %d", headerBuf[5])
	}

	// Step 6: Parse id and body length
	id := int64(binary.BigEndian.Uint64(headerBuf[6:14]))
	bodyLen := binary.BigEndian.Uint32(headerBuf[14:18])
	if bodyLen > MaxBodyLen {
		return nil, nil, fmt.Errorf("body too large: %d bytes", bodyLen)
	}

	// Step 7: Read exactly bodyLen bytes — this is how we solve TCP sticky packet
	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	return &Header{
		CodecType: codecType,
		Kind:      kind,
		ID:        id,
		BodyLen:   bodyLen,
	}, body, nil
}

// WriteMessage encodes msg with c and writes it as one frame. The frame kind
// follows msg's type and the header id is msg's id.
func WriteMessage(w io.Writer, c codec.Codec, msg *message.RPCMessage) error {
	kind, err := FrameKindFor(msg.Type())
	if err != nil {
		return err
	}
	body, err := codec.Marshal(c, msg)
	if err != nil {
		return err
	}
	return Encode(w, &Header{CodecType: c.Type(), Kind: kind, ID: msg.ID()}, body)
}

// ReadMessage decodes the body of a non-heartbeat frame into a message and
// checks that the message agrees with its header.
func ReadMessage(h *Header, body []byte) (*message.RPCMessage, error) {
	msg, err := codec.Unmarshal(codec.GetCodec(h.CodecType), body)
	if err != nil {
		return nil, err
	}
	if msg.ID() != h.ID {
		return nil, fmt.Errorf("frame id %d does not match message id %d", h.ID, msg.ID())
	}
	kind, err := FrameKindFor(msg.Type())
	if err != nil {
		return nil, err
	}
	if kind != h.Kind {
		return nil, fmt.Errorf("%s frame carries %s message", h.Kind, msg.Type())
	}
	return msg, nil
}
