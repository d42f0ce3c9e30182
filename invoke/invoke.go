// Package invoke defines the payload of user-function call messages.
//
// A ScriptCall or PythonCall message carries a JSON Request naming the target
// as "Service.Method" plus its JSON-encoded arguments. The matching ScriptRet
// or PythonRet carries the JSON-encoded reply.
package invoke

import (
	"encoding/json"
	"fmt"
	"strings"

	"dist-rpc/blob"
	"dist-rpc/message"
)

type Request struct {
	Method string          `json:"method"` // Format: "ServiceName.MethodName", e.g., "Arith.Add"
	Args   json.RawMessage `json:"args,omitempty"`
}

// ResponseKind maps a call type to the type of its successful return.
func ResponseKind(kind message.MessageType) (message.MessageType, bool) {
	switch kind {
	case message.ScriptCall:
		return message.ScriptRet, true
	case message.PythonCall:
		return message.PythonRet, true
	}
	return message.Unknown, false
}

// NewCall builds an unnumbered call message of the given kind. handles are
// attached in order and owned by the message afterwards.
func NewCall(kind message.MessageType, method string, args any, handles ...blob.Handle) (*message.RPCMessage, error) {
	if _, ok := ResponseKind(kind); !ok {
		return nil, fmt.Errorf("invoke: %s is not a call type", kind)
	}
	if _, _, err := SplitMethod(method); err != nil {
		return nil, err
	}
	rawArgs, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(&Request{Method: method, Args: rawArgs})
	if err != nil {
		return nil, err
	}
	return message.New(payload, handles, kind), nil
}

// DecodeRequest parses the payload of a call message.
func DecodeRequest(payload []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("invoke: malformed call payload: %w", err)
	}
	if _, _, err := SplitMethod(req.Method); err != nil {
		return nil, err
	}
	return &req, nil
}

// SplitMethod splits "Service.Method".
func SplitMethod(serviceMethod string) (service, method string, err error) {
	split := strings.Split(serviceMethod, ".")
	if len(split) != 2 || split[0] == "" || split[1] == "" {
		return "", "", fmt.Errorf("invalid serviceMethod format: %q", serviceMethod)
	}
	return split[0], split[1], nil
}

// DecodeReply unmarshals the payload of a ScriptRet or PythonRet into reply.
// Any other type is an error; Exception messages report their description.
func DecodeReply(resp *message.RPCMessage, reply any) error {
	if text, ok := resp.ExceptionText(); ok {
		return fmt.Errorf("remote error: %s", text)
	}
	if resp.Type() != message.ScriptRet && resp.Type() != message.PythonRet {
		return fmt.Errorf("invoke: unexpected reply type %s", resp.Type())
	}
	return json.Unmarshal(resp.Payload(), reply)
}
