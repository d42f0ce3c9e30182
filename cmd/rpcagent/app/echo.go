package app

import "encoding/json"

// Echo is the service every rpcagent worker exposes.
type Echo struct{}

// Echo answers with its arguments unchanged.
func (e *Echo) Echo(args *json.RawMessage, reply *json.RawMessage) error {
	*reply = append((*reply)[:0], *args...)
	return nil
}

// Ping answers "pong".
func (e *Echo) Ping(args *struct{}, reply *string) error {
	*reply = "pong"
	return nil
}
