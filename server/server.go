// Package server implements the RPC server: message dispatch by type,
// reflect-based user functions, a middleware chain, parallel request
// processing, and graceful shutdown.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (single goroutine reads frames)
//	  → for each request: go handleRequest (parallel processing)
//	    → decode tuple → Middleware Chain → dispatch (by MessageType) → encode tuple → write response
//
// A failed call is answered with an Exception message carrying the request's
// id; it is never turned into a protocol error. A frame that cannot be decoded
// is: the connection is closed.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"dist-rpc/codec"
	"dist-rpc/invoke"
	"dist-rpc/message"
	"dist-rpc/middleware"
	"dist-rpc/protocol"
	"dist-rpc/registry"

	"go.uber.org/zap"
)

// Server is the RPC server that registers services and handles incoming requests.
type Server struct {
	serviceMap    map[string]*service                            // Registered services: "Arith" → *service
	handlers      map[message.MessageType]middleware.HandlerFunc // Request type → handler
	mu            sync.Mutex                                     // Guards listener
	listener      net.Listener                                   // TCP listener
	wg            sync.WaitGroup                                 // Tracks in-flight requests for graceful shutdown
	shutdown      atomic.Bool                                    // Set to true during shutdown to suppress Accept errors
	middlewares   []middleware.Middleware                        // Registered middlewares (applied in order)
	handler       middleware.HandlerFunc                         // middleware(middleware(...(dispatch)))
	registry      registry.Registry                              // Worker registry, nil if not using discovery
	advertiseAddr string                                         // Address registered in the registry (e.g., "127.0.0.1:8080")
	// Different from listen address (":8080") because peers need a routable IP
}

// NewServer creates a server that answers ScriptCall and PythonCall with the
// registered services. Other request types need a handler installed with Handle.
func NewServer() *Server {
	s := new(Server)
	s.serviceMap = make(map[string]*service)
	s.handlers = make(map[message.MessageType]middleware.HandlerFunc)
	s.handlers[message.ScriptCall] = s.callHandler
	s.handlers[message.PythonCall] = s.callHandler
	return s
}

// Register registers a service receiver (e.g., &Arith{}) with the server.
// The struct's exported methods that match the RPC signature will be available for remote calls.
// Register must be called before Serve.
func (svr *Server) Register(rcvr any) error {
	svc, err := NewService(rcvr)
	if err != nil {
		return err
	}
	if _, dup := svr.serviceMap[svc.name]; dup {
		return fmt.Errorf("rpc: service already defined: %s", svc.name)
	}
	svr.serviceMap[svc.name] = svc
	return nil
}

// Handle installs h for requests of type kind, replacing any previous handler.
// h must answer with a response type; the server stamps the request's id on it.
// Handle must be called before Serve.
func (svr *Server) Handle(kind message.MessageType, h middleware.HandlerFunc) error {
	if !kind.IsRequest() {
		return fmt.Errorf("rpc: %s is not a request type", kind)
	}
	svr.handlers[kind] = h
	return nil
}

// Use registers a middleware. Middlewares are applied in the order they are added.
// Use must be called before Serve.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// Serve listens on the given address and serves it, see ServeListener.
func (svr *Server) Serve(network, address string, advertiseAddr string, reg registry.Registry) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return svr.ServeListener(listener, advertiseAddr, reg)
}

// ServeListener optionally registers the services with the registry and enters
// the Accept loop.
//
// Parameters:
//   - advertiseAddr: the address to register (e.g., "127.0.0.1:8080").
//     This differs from the listen address because ":8080" resolves to "[::]:8080" locally.
//   - reg: the registry implementation. Pass nil to skip service discovery.
func (svr *Server) ServeListener(listener net.Listener, advertiseAddr string, reg registry.Registry) error {
	svr.mu.Lock()
	svr.listener = listener
	svr.mu.Unlock()

	// Build the middleware chain once at startup (not per-request)
	// Chain(A, B, C)(handler) → A(B(C(handler)))
	svr.handler = middleware.Chain(svr.middlewares...)(svr.dispatch)

	svr.advertiseAddr = advertiseAddr
	if reg != nil {
		svr.registry = reg
		for serviceName := range svr.serviceMap {
			err := svr.registry.Register(serviceName, registry.WorkerInfo{
				Name: serviceName,
				Addr: advertiseAddr,
			}, 10) // TTL = 10 seconds, KeepAlive renews automatically
			if err != nil {
				return fmt.Errorf("register %s: %w", serviceName, err)
			}
		}
	}

	zap.L().Info("rpc server listening", zap.Stringer("addr", listener.Addr()))

	// Accept loop: one goroutine per connection
	for {
		conn, err := listener.Accept()
		if err != nil {
			// During shutdown, listener.Close() causes Accept to return an error.
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		go svr.handleConn(conn)
	}
}

// Addr returns the listener address, or nil before Serve has started.
func (svr *Server) Addr() net.Addr {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.listener == nil {
		return nil
	}
	return svr.listener.Addr()
}

// handleConn processes a single TCP connection.
// It runs a read loop in a single goroutine (reads must be sequential to parse frame boundaries),
// but dispatches each request to its own goroutine for parallel processing.
//
// A per-connection write mutex (writeMu) is shared among all request goroutines on this connection.
func (svr *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	writeMu := &sync.Mutex{}
	for {
		header, body, err := protocol.Decode(conn)
		if err != nil {
			break // Connection closed or protocol error
		}

		// Skip heartbeat frames — they exist only to keep the connection alive
		if header.Kind == protocol.FrameHeartbeat {
			continue
		}

		req, err := protocol.ReadMessage(header, body)
		if err != nil {
			// A body we cannot decode means the stream is corrupt; nothing
			// after it can be trusted.
			zap.L().Error("dropping connection on malformed frame",
				zap.Stringer("remote", conn.RemoteAddr()),
				zap.Int64("id", header.ID),
				zap.Error(err))
			return
		}

		// Counted here, not in the goroutine, so Shutdown cannot miss a
		// request that was already read.
		svr.wg.Add(1)
		// Without `go`, a slow handler on request 1 would block all subsequent
		// requests on the same connection.
		go svr.handleRequest(codec.GetCodec(header.CodecType), req, conn, writeMu)
	}
}

// handleRequest runs one request through the middleware chain and writes the
// response with the codec the request arrived in.
func (svr *Server) handleRequest(c codec.Codec, req *message.RPCMessage, conn net.Conn, writeMu *sync.Mutex) {
	// Counted by handleConn; wg.Wait in Shutdown waits for this to finish
	defer svr.wg.Done()

	id := req.ID()
	resp := svr.handler(context.Background(), req)
	resp = svr.checkResponse(resp, id)

	writeMu.Lock()
	defer writeMu.Unlock()

	err := protocol.WriteMessage(conn, c, resp)
	if err != nil {
		zap.L().Error("failed to write response", zap.Int64("id", id), zap.Error(err))
	}
}

// checkResponse pairs resp with the request id and replaces anything that is
// not a response type with an Exception.
func (svr *Server) checkResponse(resp *message.RPCMessage, id int64) *message.RPCMessage {
	if resp == nil {
		return message.CreateExceptionResponse("rpc: handler returned no response", id)
	}
	if !resp.IsResponse() {
		return message.CreateExceptionResponse(fmt.Sprintf("rpc: handler answered with non-response type %s", resp.Type()), id)
	}
	resp.SetID(id)
	return resp
}

// Shutdown performs graceful shutdown:
//  1. Deregister all services (clients stop routing to this server)
//  2. Set shutdown flag (so Accept error is recognized as intentional)
//  3. Close the listener (stop accepting new connections)
//  4. Wait for in-flight requests to finish (with timeout)
func (svr *Server) Shutdown(timeout time.Duration) error {
	if svr.registry != nil {
		for serviceName := range svr.serviceMap {
			if err := svr.registry.Deregister(serviceName, svr.advertiseAddr); err != nil {
				zap.L().Warn("deregister failed", zap.String("service", serviceName), zap.Error(err))
			}
		}
	}

	// Set the flag BEFORE closing the listener, otherwise Serve returns the
	// Accept error instead of nil.
	svr.shutdown.Store(true)
	svr.mu.Lock()
	if svr.listener != nil {
		svr.listener.Close()
	}
	svr.mu.Unlock()

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for ongoing requests to finish")
	}
}

// dispatch routes a request to the handler for its type. It has the HandlerFunc
// signature so the middleware chain can wrap it.
func (svr *Server) dispatch(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
	if !req.IsRequest() {
		return message.CreateExceptionResponse(fmt.Sprintf("rpc: unexpected message type %s", req.Type()), req.ID())
	}
	h, ok := svr.handlers[req.Type()]
	if !ok {
		return message.CreateExceptionResponse(fmt.Sprintf("rpc: no handler for message type %s", req.Type()), req.ID())
	}
	return h(ctx, req)
}

// callHandler answers ScriptCall and PythonCall with the registered services.
//
// Flow: decode invoke.Request → find service → find method → reflect.New(args) →
// json.Unmarshal(args) → reflect.Call → json.Marshal(reply) → ScriptRet/PythonRet
func (svr *Server) callHandler(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
	call, err := invoke.DecodeRequest(req.Payload())
	if err != nil {
		return message.CreateExceptionResponseFromError(err, req.ID())
	}
	serviceName, methodName, _ := invoke.SplitMethod(call.Method)

	svc, ok := svr.serviceMap[serviceName]
	if !ok {
		return message.CreateExceptionResponse("rpc: can't find service "+serviceName, req.ID())
	}
	method, ok := svc.method[methodName]
	if !ok {
		return message.CreateExceptionResponse("rpc: can't find method "+call.Method, req.ID())
	}

	argv := reflect.New(method.ArgType)
	replyv := reflect.New(method.ReplyType)

	if len(call.Args) > 0 {
		if err := json.Unmarshal(call.Args, argv.Interface()); err != nil {
			return message.CreateExceptionResponseFromError(fmt.Errorf("rpc: decode args of %s: %w", call.Method, err), req.ID())
		}
	}

	if err := svc.Call(method, argv, replyv); err != nil {
		return message.CreateExceptionResponseFromError(err, req.ID())
	}

	replyPayload, err := json.Marshal(replyv.Interface())
	if err != nil {
		return message.CreateExceptionResponseFromError(fmt.Errorf("rpc: encode reply of %s: %w", call.Method, err), req.ID())
	}

	kind, _ := invoke.ResponseKind(req.Type())
	return message.NewWithID(replyPayload, nil, kind, req.ID())
}
