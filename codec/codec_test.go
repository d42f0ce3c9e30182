package codec

import (
	"bytes"
	"errors"
	"testing"

	"dist-rpc/blob"
	"dist-rpc/ivalue"
	"dist-rpc/message"
)

func newTestMessage() *message.RPCMessage {
	handles := []blob.Handle{
		blob.New([]byte{1, 2, 3, 4}, blob.WithDType("float32"), blob.WithShape(1)),
		blob.New([]byte("second"), blob.WithDevice("cuda:0")),
		blob.New(nil),
	}
	return message.NewWithID([]byte("{\"a\":1,\"b\":2}\x00\xff"), handles, message.PythonCall, 123456789)
}

func checkRoundTrip(t *testing.T, cdc Codec) {
	originalMsg := newTestMessage()

	data, err := Marshal(cdc, originalMsg)
	if err != nil {
		t.Fatalf("%s Marshal failed: %v", cdc.Type(), err)
	}

	decodedMsg, err := Unmarshal(cdc, data)
	if err != nil {
		t.Fatalf("%s Unmarshal failed: %v", cdc.Type(), err)
	}

	if !bytes.Equal(originalMsg.Payload(), decodedMsg.Payload()) {
		t.Errorf("Payload mismatch: got %q, want %q", decodedMsg.Payload(), originalMsg.Payload())
	}
	if originalMsg.Type() != decodedMsg.Type() {
		t.Errorf("Type mismatch: got %s, want %s", decodedMsg.Type(), originalMsg.Type())
	}
	if originalMsg.ID() != decodedMsg.ID() {
		t.Errorf("ID mismatch: got %d, want %d", decodedMsg.ID(), originalMsg.ID())
	}
	if len(originalMsg.Handles()) != len(decodedMsg.Handles()) {
		t.Fatalf("Handles length mismatch: got %d, want %d", len(decodedMsg.Handles()), len(originalMsg.Handles()))
	}
	for i, h := range originalMsg.Handles() {
		if !h.SameContent(decodedMsg.Handles()[i]) {
			t.Errorf("Handle %d mismatch: got %s, want %s", i, decodedMsg.Handles()[i], h)
		}
	}
}

func TestJSONCodec(t *testing.T) {
	checkRoundTrip(t, &JSONCodec{})
}

func TestBinaryCodec(t *testing.T) {
	checkRoundTrip(t, &BinaryCodec{})
}

func TestMsgpackCodec(t *testing.T) {
	checkRoundTrip(t, &MsgpackCodec{})
}

func TestEmptyAndExceptionMessages(t *testing.T) {
	msgs := []*message.RPCMessage{
		message.Empty(),
		message.CreateExceptionResponse("boom", 42),
		message.NewWithID(nil, nil, message.RRefAck, 0),
	}
	for _, ct := range []CodecType{CodecTypeJSON, CodecTypeBinary, CodecTypeMsgpack} {
		cdc := GetCodec(ct)
		for _, msg := range msgs {
			data, err := Marshal(cdc, msg)
			if err != nil {
				t.Fatalf("%s: Marshal %s failed: %v", ct, msg, err)
			}
			out, err := Unmarshal(cdc, data)
			if err != nil {
				t.Fatalf("%s: Unmarshal %s failed: %v", ct, msg, err)
			}
			if out.Type() != msg.Type() || out.ID() != msg.ID() || !bytes.Equal(out.Payload(), msg.Payload()) || len(out.Handles()) != 0 {
				t.Errorf("%s: got %s, want %s", ct, out, msg)
			}
		}
	}
}

func TestUnmarshalRejectsWrongShape(t *testing.T) {
	for _, ct := range []CodecType{CodecTypeJSON, CodecTypeBinary, CodecTypeMsgpack} {
		cdc := GetCodec(ct)
		data, err := cdc.Encode(ivalue.Tuple(ivalue.Int(1), ivalue.HandleList(nil), ivalue.Int(0), ivalue.Int(0)))
		if err != nil {
			t.Fatalf("%s: Encode failed: %v", ct, err)
		}
		_, err = Unmarshal(cdc, data)
		if !errors.Is(err, message.ErrType) {
			t.Errorf("%s: expect ErrType, got %v", ct, err)
		}
	}
}

func TestBinaryCodecTruncated(t *testing.T) {
	cdc := &BinaryCodec{}
	data, err := Marshal(cdc, newTestMessage())
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range []int{0, 1, 5, len(data) / 2, len(data) - 1} {
		if _, err := cdc.Decode(data[:n]); !errors.Is(err, ErrTruncated) {
			t.Errorf("decode of %d/%d bytes: expect ErrTruncated, got %v", n, len(data), err)
		}
	}
	if _, err := cdc.Decode(append(data, 0)); err == nil {
		t.Error("expect error for trailing bytes")
	}
}

func TestBinaryCodecHugeCount(t *testing.T) {
	// Tuple tag followed by a count far larger than the input.
	data := []byte{byte(ivalue.TagTuple), 0xff, 0xff, 0xff, 0xff}
	if _, err := (&BinaryCodec{}).Decode(data); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expect ErrTruncated, got %v", err)
	}
}

func TestMsgpackCodecGarbage(t *testing.T) {
	if _, err := (&MsgpackCodec{}).Decode([]byte{0xc1}); err == nil {
		t.Fatal("expect error for garbage input")
	}
}

func TestEncodeZeroHandle(t *testing.T) {
	msg := message.New(nil, []blob.Handle{{}}, message.PythonCall)
	for _, ct := range []CodecType{CodecTypeJSON, CodecTypeBinary, CodecTypeMsgpack} {
		if _, err := Marshal(GetCodec(ct), msg); !errors.Is(err, blob.ErrNilHandle) {
			t.Errorf("%s: expect ErrNilHandle, got %v", ct, err)
		}
	}
}

func TestParseCodecType(t *testing.T) {
	for name, want := range map[string]CodecType{"json": CodecTypeJSON, "Binary": CodecTypeBinary, "msgpack": CodecTypeMsgpack} {
		got, err := ParseCodecType(name)
		if err != nil || got != want {
			t.Errorf("ParseCodecType(%q) = %v, %v; want %v", name, got, err, want)
		}
	}
	if _, err := ParseCodecType("gob"); err == nil {
		t.Error("expect error for unknown codec")
	}
}
