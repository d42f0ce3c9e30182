package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"dist-rpc/codec"
	"dist-rpc/invoke"
	"dist-rpc/message"
	"dist-rpc/middleware"
	"dist-rpc/protocol"
	"dist-rpc/registry"
)

type Args struct {
	A, B int
}

type Reply struct {
	Result int
}

type Arith struct{}

func (a *Arith) Add(args *Args, reply *Reply) error {
	reply.Result = args.A + args.B
	return nil
}

func (a *Arith) Fail(args *Args, reply *Reply) error {
	return errors.New("always fails")
}

func (a *Arith) Crash(args *Args, reply *Reply) error {
	var m map[string]int
	m["boom"] = 1
	return nil
}

func startServer(t *testing.T, svr *Server) net.Conn {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go svr.ServeListener(l, "", nil)
	t.Cleanup(func() { svr.Shutdown(time.Second) })

	conn, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn net.Conn, ct codec.CodecType, req *message.RPCMessage) (*protocol.Header, *message.RPCMessage) {
	t.Helper()
	if err := protocol.WriteMessage(conn, codec.GetCodec(ct), req); err != nil {
		t.Fatal(err)
	}
	header, body, err := protocol.Decode(conn)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := protocol.ReadMessage(header, body)
	if err != nil {
		t.Fatal(err)
	}
	return header, resp
}

func TestServer(t *testing.T) {
	svr := NewServer()
	if err := svr.Register(&Arith{}); err != nil {
		t.Fatalf("Failed to register service: %v", err)
	}
	conn := startServer(t, svr)

	req, err := invoke.NewCall(message.ScriptCall, "Arith.Add", &Args{1, 2})
	if err != nil {
		t.Fatal(err)
	}
	req.SetID(123)

	replyHeader, resp := roundTrip(t, conn, codec.CodecTypeJSON, req)

	if replyHeader.ID != 123 || resp.ID() != 123 {
		t.Fatalf("Expect reply with id 123, got header %d, message %d", replyHeader.ID, resp.ID())
	}
	if replyHeader.CodecType != codec.CodecTypeJSON {
		t.Fatalf("Expect reply with CodecType %v, got %v", codec.CodecTypeJSON, replyHeader.CodecType)
	}
	if replyHeader.Kind != protocol.FrameResponse {
		t.Fatalf("Expect response frame, got %v", replyHeader.Kind)
	}
	if resp.Type() != message.ScriptRet {
		t.Fatalf("Expect ScriptRet, got %v", resp.Type())
	}

	var reply Reply
	if err := json.Unmarshal(resp.Payload(), &reply); err != nil {
		t.Fatal(err)
	}
	if reply.Result != 3 {
		t.Fatalf("Expect result = 3, got %v", reply.Result)
	}
}

func TestServerPythonCallAnswersPythonRet(t *testing.T) {
	svr := NewServer()
	svr.Register(&Arith{})
	conn := startServer(t, svr)

	req, _ := invoke.NewCall(message.PythonCall, "Arith.Add", &Args{5, 7})
	req.SetID(9)
	_, resp := roundTrip(t, conn, codec.CodecTypeMsgpack, req)
	if resp.Type() != message.PythonRet {
		t.Fatalf("Expect PythonRet, got %v", resp.Type())
	}
	var reply Reply
	if err := invoke.DecodeReply(resp, &reply); err != nil || reply.Result != 12 {
		t.Fatalf("Expect 12, got %v (%v)", reply.Result, err)
	}
}

// Every failure is answered with an Exception that carries the request's id.
func TestServerExceptions(t *testing.T) {
	svr := NewServer()
	svr.Register(&Arith{})
	conn := startServer(t, svr)

	call := func(method string) *message.RPCMessage {
		req, err := invoke.NewCall(message.ScriptCall, method, &Args{})
		if err != nil {
			t.Fatal(err)
		}
		return req
	}

	cases := []struct {
		name string
		req  *message.RPCMessage
		want string
	}{
		{"method error", call("Arith.Fail"), "always fails"},
		{"panic", call("Arith.Crash"), "panicked"},
		{"unknown service", call("Nope.Add"), "can't find service Nope"},
		{"unknown method", call("Arith.Nope"), "can't find method Arith.Nope"},
		{"malformed payload", message.New([]byte("{"), nil, message.ScriptCall), "malformed call payload"},
		{"no handler", message.New(nil, nil, message.RRefForkRequest), "no handler for message type"},
		{"not a request", message.New(nil, nil, message.ScriptRet), "unexpected message type"},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id := int64(100 + i)
			tc.req.SetID(id)
			_, resp := roundTrip(t, conn, codec.CodecTypeBinary, tc.req)
			text, ok := resp.ExceptionText()
			if !ok {
				t.Fatalf("Expect Exception, got %v", resp)
			}
			if resp.ID() != id {
				t.Fatalf("Expect id %d, got %d", id, resp.ID())
			}
			if !strings.Contains(text, tc.want) {
				t.Fatalf("Expect %q in %q", tc.want, text)
			}
		})
	}
}

func TestServerHandle(t *testing.T) {
	svr := NewServer()
	if err := svr.Handle(message.RRefAck, nil); err == nil {
		t.Fatal("Expect Handle to reject a response type")
	}
	svr.Handle(message.RRefForkRequest, func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
		// The server stamps the request id; the handler need not.
		return message.New(append([]byte("ack:"), req.Payload()...), nil, message.RRefAck)
	})
	svr.Handle(message.RRefUserDelete, func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
		return message.New(nil, nil, message.RRefUserDelete)
	})
	svr.Handle(message.RRefChildAccept, func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
		return nil
	})
	conn := startServer(t, svr)

	_, resp := roundTrip(t, conn, codec.CodecTypeJSON, message.NewWithID([]byte("x"), nil, message.RRefForkRequest, 7))
	if resp.Type() != message.RRefAck || resp.ID() != 7 || string(resp.Payload()) != "ack:x" {
		t.Fatalf("unexpected response %v %q", resp, resp.Payload())
	}

	_, resp = roundTrip(t, conn, codec.CodecTypeJSON, message.NewWithID(nil, nil, message.RRefUserDelete, 8))
	if text, ok := resp.ExceptionText(); !ok || resp.ID() != 8 || !strings.Contains(text, "non-response") {
		t.Fatalf("Expect non-response Exception, got %v", resp)
	}

	_, resp = roundTrip(t, conn, codec.CodecTypeJSON, message.NewWithID(nil, nil, message.RRefChildAccept, 9))
	if text, ok := resp.ExceptionText(); !ok || resp.ID() != 9 || !strings.Contains(text, "no response") {
		t.Fatalf("Expect no-response Exception, got %v", resp)
	}
}

func TestServerDispatchUnknownType(t *testing.T) {
	svr := NewServer()
	resp := svr.dispatch(context.Background(), message.NewWithID(nil, nil, message.Unknown, 4))
	if resp.Type() != message.Exception || resp.ID() != 4 {
		t.Fatalf("Expect Exception for id 4, got %v", resp)
	}
}

func TestServerMiddleware(t *testing.T) {
	svr := NewServer()
	svr.Register(&Arith{})
	order := make(chan string, 2)
	svr.Use(func(next middleware.HandlerFunc) middleware.HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			order <- "outer"
			return next(ctx, req)
		}
	})
	svr.Use(func(next middleware.HandlerFunc) middleware.HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			order <- "inner"
			return next(ctx, req)
		}
	})
	conn := startServer(t, svr)

	req, _ := invoke.NewCall(message.ScriptCall, "Arith.Add", &Args{1, 1})
	req.SetID(1)
	roundTrip(t, conn, codec.CodecTypeBinary, req)
	if first, second := <-order, <-order; first != "outer" || second != "inner" {
		t.Fatalf("Expect outer,inner got %s,%s", first, second)
	}
}

// A frame whose body cannot be decoded closes the connection.
func TestServerDropsMalformedFrame(t *testing.T) {
	svr := NewServer()
	svr.Register(&Arith{})
	conn := startServer(t, svr)

	err := protocol.Encode(conn, &protocol.Header{CodecType: codec.CodecTypeBinary, Kind: protocol.FrameRequest, ID: 1}, []byte{0xff})
	if err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := protocol.Decode(conn); err == nil {
		t.Fatal("Expect the connection to be closed")
	}
}

func TestServerRegistry(t *testing.T) {
	svr := NewServer()
	if err := svr.Register(&Arith{}); err != nil {
		t.Fatal(err)
	}
	if err := svr.Register(&Arith{}); err == nil {
		t.Fatal("Expect duplicate service to be rejected")
	}

	reg := registry.NewMemoryRegistry()
	watch := reg.Watch("Arith")
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	served := make(chan error, 1)
	go func() { served <- svr.ServeListener(l, l.Addr().String(), reg) }()

	select {
	case workers := <-watch:
		if len(workers) != 1 || workers[0].Addr != l.Addr().String() || workers[0].Name != "Arith" {
			t.Fatalf("unexpected registration %v", workers)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never registered")
	}

	if err := svr.Shutdown(time.Second); err != nil {
		t.Fatal(err)
	}
	if err := <-served; err != nil {
		t.Fatalf("Serve returned %v after shutdown", err)
	}
	if workers, _ := reg.Discover("Arith"); len(workers) != 0 {
		t.Fatalf("Expect deregistration, still have %v", workers)
	}
}

// Shutdown waits for a request that is already being handled.
func TestServerShutdownWaitsForInFlight(t *testing.T) {
	svr := NewServer()
	started := make(chan struct{})
	release := make(chan struct{})
	svr.Handle(message.RRefForkRequest, func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
		close(started)
		<-release
		return message.New(nil, nil, message.RRefAck)
	})
	conn := startServer(t, svr)

	if err := protocol.WriteMessage(conn, codec.GetCodec(codec.CodecTypeBinary), message.NewWithID(nil, nil, message.RRefForkRequest, 1)); err != nil {
		t.Fatal(err)
	}
	<-started

	if err := svr.Shutdown(50 * time.Millisecond); err == nil {
		t.Fatal("Expect Shutdown to time out while a request is in flight")
	}
	close(release)
	if err := svr.Shutdown(time.Second); err != nil {
		t.Fatalf("Expect Shutdown to finish once the request completes, got %v", err)
	}
}
