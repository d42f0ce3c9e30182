package message

import "dist-rpc/blob"

// CreateExceptionResponse builds the Exception message a failed call path
// sends back: the description as payload, no handles, the request's id.
func CreateExceptionResponse(description string, id int64) *RPCMessage {
	return NewWithID([]byte(description), []blob.Handle{}, Exception, id)
}

// CreateExceptionResponseFromError is CreateExceptionResponse with err.Error()
// as the description. A nil err produces an empty description.
func CreateExceptionResponseFromError(err error, id int64) *RPCMessage {
	if err == nil {
		return CreateExceptionResponse("", id)
	}
	return CreateExceptionResponse(err.Error(), id)
}

// ExceptionText returns the description carried by an Exception message.
// ok is false for every other type.
func (m *RPCMessage) ExceptionText() (text string, ok bool) {
	if m.typ != Exception {
		return "", false
	}
	return string(m.payload), true
}
