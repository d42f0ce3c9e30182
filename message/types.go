package message

import "fmt"

// MessageType tags the purpose of an RPCMessage. The numeric values are part
// of the wire format and must not be renumbered.
type MessageType int64

const (
	ScriptCall                 MessageType = 0  // call on a builtin operator
	ScriptRet                  MessageType = 1  // return of a builtin operator call
	PythonCall                 MessageType = 2  // call on a user function
	PythonRet                  MessageType = 3  // return of a user function call
	ScriptRemoteCall           MessageType = 4  // remote-reference creation on a builtin operator
	PythonRemoteCall           MessageType = 5  // remote-reference creation on a user function
	RemoteRet                  MessageType = 6  // return of a remote-reference creation
	ScriptRRefFetchCall        MessageType = 7  // fetch the value of a builtin-owned remote reference
	PythonRRefFetchCall        MessageType = 8  // fetch the value of a user-function-owned remote reference
	ScriptRRefFetchRet         MessageType = 9  // return of ScriptRRefFetchCall
	PythonRRefFetchRet         MessageType = 10 // return of PythonRRefFetchCall
	RRefUserDelete             MessageType = 11 // a user of a remote reference went away
	RRefForkRequest            MessageType = 12 // ask the owner to register a forked user
	RRefChildAccept            MessageType = 13 // the owner confirmed a forked user
	RRefAck                    MessageType = 14 // generic acknowledgement of remote-reference messages
	ForwardAutogradReq         MessageType = 15
	ForwardAutogradResp        MessageType = 16
	BackwardAutogradReq        MessageType = 17
	BackwardAutogradResp       MessageType = 18
	CleanupAutogradContextReq  MessageType = 19
	CleanupAutogradContextResp MessageType = 20
	RunWithProfilingReq        MessageType = 21
	RunWithProfilingResp       MessageType = 22

	// Exception carries the text of a failed call back to the caller.
	Exception MessageType = 55

	// Unknown marks an empty message. It is neither a request nor a response.
	Unknown MessageType = 60
)

var typeNames = map[MessageType]string{
	ScriptCall:                 "ScriptCall",
	ScriptRet:                  "ScriptRet",
	PythonCall:                 "PythonCall",
	PythonRet:                  "PythonRet",
	ScriptRemoteCall:           "ScriptRemoteCall",
	PythonRemoteCall:           "PythonRemoteCall",
	RemoteRet:                  "RemoteRet",
	ScriptRRefFetchCall:        "ScriptRRefFetchCall",
	PythonRRefFetchCall:        "PythonRRefFetchCall",
	ScriptRRefFetchRet:         "ScriptRRefFetchRet",
	PythonRRefFetchRet:         "PythonRRefFetchRet",
	RRefUserDelete:             "RRefUserDelete",
	RRefForkRequest:            "RRefForkRequest",
	RRefChildAccept:            "RRefChildAccept",
	RRefAck:                    "RRefAck",
	ForwardAutogradReq:         "ForwardAutogradReq",
	ForwardAutogradResp:        "ForwardAutogradResp",
	BackwardAutogradReq:        "BackwardAutogradReq",
	BackwardAutogradResp:       "BackwardAutogradResp",
	CleanupAutogradContextReq:  "CleanupAutogradContextReq",
	CleanupAutogradContextResp: "CleanupAutogradContextResp",
	RunWithProfilingReq:        "RunWithProfilingReq",
	RunWithProfilingResp:       "RunWithProfilingResp",
	Exception:                  "Exception",
	Unknown:                    "Unknown",
}

// AllMessageTypes returns every known type in ascending tag order.
func AllMessageTypes() []MessageType {
	types := make([]MessageType, 0, len(typeNames))
	for t := ScriptCall; t <= RunWithProfilingResp; t++ {
		types = append(types, t)
	}
	return append(types, Exception, Unknown)
}

// Valid reports whether t is one of the enumerated types.
func (t MessageType) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

func (t MessageType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("MessageType(%d)", int64(t))
}

// IsRequest reports whether t initiates a call or action that expects a reply.
//
// IsRequest and IsResponse must stay disjoint. A new type has to be added to
// one of them (or deliberately to neither, like Unknown).
func (t MessageType) IsRequest() bool {
	switch t {
	case ScriptCall, // rpc on builtin ops
		PythonCall,          // rpc on user functions
		ScriptRemoteCall,    // remote on builtin ops
		PythonRemoteCall,    // remote on user functions
		ScriptRRefFetchCall, // remote-reference internals
		PythonRRefFetchCall,
		RRefUserDelete,
		RRefChildAccept,
		RRefForkRequest,
		BackwardAutogradReq,
		ForwardAutogradReq,
		CleanupAutogradContextReq,
		RunWithProfilingReq:
		return true
	}
	return false
}

// IsResponse reports whether t represents a completed outcome.
func (t MessageType) IsResponse() bool {
	switch t {
	case ScriptRet, // ret of rpc on builtin ops
		PythonRet,          // ret of rpc on user functions
		RemoteRet,          // ret of remote
		ScriptRRefFetchRet, // ret of fetching a remote reference
		PythonRRefFetchRet,
		Exception, // propagated failure of any call
		RRefAck,
		BackwardAutogradResp,
		ForwardAutogradResp,
		CleanupAutogradContextResp,
		RunWithProfilingResp:
		return true
	}
	return false
}
