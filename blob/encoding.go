package blob

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrNilHandle is returned when encoding the zero Handle.
var ErrNilHandle = errors.New("blob: nil handle")

// wireBlob is the on-the-wire form shared by every encoding of a Handle.
type wireBlob struct {
	ID     string  `json:"id" msgpack:"id"`
	DType  string  `json:"dtype" msgpack:"dt"`
	Shape  []int64 `json:"shape,omitempty" msgpack:"sh,omitempty"`
	Device string  `json:"device,omitempty" msgpack:"dev,omitempty"`
	Data   []byte  `json:"data" msgpack:"d"`
}

func (h Handle) toWire() (*wireBlob, error) {
	if h.b == nil {
		return nil, ErrNilHandle
	}
	return &wireBlob{
		ID:     h.b.ID.String(),
		DType:  h.b.DType,
		Shape:  h.b.Shape,
		Device: h.b.Device,
		Data:   h.b.Data,
	}, nil
}

func (w *wireBlob) toHandle() (Handle, error) {
	id, err := uuid.Parse(w.ID)
	if err != nil {
		return Handle{}, fmt.Errorf("blob: invalid id %q: %w", w.ID, err)
	}
	return Handle{b: &Blob{
		ID:     id,
		DType:  w.DType,
		Shape:  w.Shape,
		Device: w.Device,
		Data:   w.Data,
	}}, nil
}

// MarshalBinary encodes the handle's blob as MessagePack.
func (h Handle) MarshalBinary() ([]byte, error) {
	w, err := h.toWire()
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(w)
}

// UnmarshalBinary replaces h with a handle to a freshly decoded blob.
func (h *Handle) UnmarshalBinary(data []byte) error {
	var w wireBlob
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("blob: %w", err)
	}
	decoded, err := w.toHandle()
	if err != nil {
		return err
	}
	*h = decoded
	return nil
}

func (h Handle) MarshalJSON() ([]byte, error) {
	w, err := h.toWire()
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

func (h *Handle) UnmarshalJSON(data []byte) error {
	var w wireBlob
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	decoded, err := w.toHandle()
	if err != nil {
		return err
	}
	*h = decoded
	return nil
}

var (
	_ msgpack.CustomEncoder = Handle{}
	_ msgpack.CustomDecoder = (*Handle)(nil)
)

func (h Handle) EncodeMsgpack(enc *msgpack.Encoder) error {
	w, err := h.toWire()
	if err != nil {
		return err
	}
	return enc.Encode(w)
}

func (h *Handle) DecodeMsgpack(dec *msgpack.Decoder) error {
	var w wireBlob
	if err := dec.Decode(&w); err != nil {
		return err
	}
	decoded, err := w.toHandle()
	if err != nil {
		return err
	}
	*h = decoded
	return nil
}
