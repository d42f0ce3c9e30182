// Package client sends RPC messages to workers found through a registry.
//
// Each Send discovers the workers of a service, lets the balancer pick one and
// multiplexes the request over a small pool of transports to that worker. Any
// failure on the way (no workers, dial errors, a lost connection, a cancelled
// context) comes back as an Exception message, the same shape a remote failure
// has, so middleware such as retry sees one kind of result.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"dist-rpc/codec"
	"dist-rpc/invoke"
	"dist-rpc/loadbalance"
	"dist-rpc/message"
	"dist-rpc/middleware"
	"dist-rpc/registry"
	"dist-rpc/transport"

	"go.uber.org/zap"
)

// RemoteError is an Exception message turned into a Go error.
type RemoteError struct {
	ID   int64
	Text string
}

func (e *RemoteError) Error() string {
	return "remote error: " + e.Text
}

type serviceKey struct{}

// ServiceFromContext returns the service name a Send is routed to. Client
// middlewares can use it for logging or per-service policies.
func ServiceFromContext(ctx context.Context) string {
	s, _ := ctx.Value(serviceKey{}).(string)
	return s
}

type Client struct {
	registry   registry.Registry // find service workers from registry
	balancer   loadbalance.Balancer
	codecType  codec.CodecType
	poolSize   int
	mu         sync.Mutex
	transports map[string]chan *transport.ClientTransport // transport pool for each worker address

	dialFn func(network, addr string) (net.Conn, error)

	middlewares []middleware.Middleware
	handlerOnce sync.Once
	handler     middleware.HandlerFunc
}

func NewClient(reg registry.Registry, bal loadbalance.Balancer, codecType codec.CodecType, poolSize int) *Client {
	if poolSize <= 0 {
		poolSize = 1
	}
	return &Client{
		registry:   reg,
		balancer:   bal,
		codecType:  codecType,
		poolSize:   poolSize,
		transports: make(map[string]chan *transport.ClientTransport),
		dialFn:     net.Dial,
	}
}

// Use registers a middleware around every Send. Middlewares must be added
// before the first Send.
func (c *Client) Use(mw middleware.Middleware) {
	c.middlewares = append(c.middlewares, mw)
}

// Send delivers msg to a worker of service and returns its response. The result
// is never nil: failures are Exception messages. Send takes ownership of msg.
func (c *Client) Send(ctx context.Context, service string, msg *message.RPCMessage) *message.RPCMessage {
	c.handlerOnce.Do(func() {
		c.handler = middleware.Chain(c.middlewares...)(c.roundTrip)
	})
	return c.handler(context.WithValue(ctx, serviceKey{}, service), msg)
}

// Call is Send with Exception responses returned as *RemoteError.
func (c *Client) Call(ctx context.Context, service string, msg *message.RPCMessage) (*message.RPCMessage, error) {
	resp := c.Send(ctx, service, msg)
	if text, ok := resp.ExceptionText(); ok {
		return nil, &RemoteError{ID: resp.ID(), Text: text}
	}
	return resp, nil
}

// CallFunc calls the user function method ("Service.Method") with JSON args
// and decodes its result into reply.
func (c *Client) CallFunc(ctx context.Context, service, method string, args, reply any) error {
	msg, err := invoke.NewCall(message.PythonCall, method, args)
	if err != nil {
		return err
	}
	resp, err := c.Call(ctx, service, msg)
	if err != nil {
		return err
	}
	return invoke.DecodeReply(resp, reply)
}

// roundTrip is the innermost handler: pick a worker, send, wait.
func (c *Client) roundTrip(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
	service := ServiceFromContext(ctx)
	workers, err := c.registry.Discover(service)
	if err != nil {
		return message.CreateExceptionResponseFromError(fmt.Errorf("discover %s: %w", service, err), req.ID())
	}
	worker, err := c.balancer.Pick(workers)
	if err != nil {
		return message.CreateExceptionResponseFromError(fmt.Errorf("%s: %w", service, err), req.ID())
	}

	t, err := c.getTransport(worker.Addr)
	if err != nil {
		return message.CreateExceptionResponseFromError(err, req.ID())
	}
	id, ch, err := t.SendContext(ctx, req)
	// The transport is multiplexed, so it goes back to the pool before the wait.
	c.putTransport(worker.Addr, t)
	if err != nil {
		return message.CreateExceptionResponseFromError(err, req.ID())
	}

	select {
	case resp := <-ch:
		return resp
	case <-ctx.Done():
		t.Cancel(id)
		return message.CreateExceptionResponseFromError(ctx.Err(), id)
	}
}

// getTransport borrows a transport to addr, creating the pool on first use and
// redialing transports whose connection was lost.
func (c *Client) getTransport(addr string) (*transport.ClientTransport, error) {
	c.mu.Lock()
	pool, ok := c.transports[addr]
	c.mu.Unlock()
	if !ok {
		var err error
		if pool, err = c.newPool(addr); err != nil {
			return nil, err
		}
	}

	t := <-pool
	if !t.Closed() {
		return t, nil
	}
	zap.L().Debug("redialing lost transport", zap.String("addr", addr))
	fresh, err := c.dial(addr)
	if err != nil {
		pool <- t // keep the pool size; the next borrower retries the dial
		return nil, err
	}
	return fresh, nil
}

// newPool dials a full pool to addr without holding mu and installs it. When
// another caller installed one first, the fresh pool is closed and theirs is used.
func (c *Client) newPool(addr string) (chan *transport.ClientTransport, error) {
	pool := make(chan *transport.ClientTransport, c.poolSize)
	for i := 0; i < c.poolSize; i++ {
		t, err := c.dial(addr)
		if err != nil {
			closePool(pool)
			return nil, err
		}
		pool <- t
	}

	c.mu.Lock()
	existing, ok := c.transports[addr]
	if !ok {
		c.transports[addr] = pool
	}
	c.mu.Unlock()
	if ok {
		closePool(pool)
		return existing, nil
	}
	return pool, nil
}

// closePool closes the idle transports in pool.
func closePool(pool chan *transport.ClientTransport) []error {
	var errs []error
	for {
		select {
		case t := <-pool:
			errs = append(errs, t.Close())
		default:
			return errs
		}
	}
}

func (c *Client) putTransport(addr string, t *transport.ClientTransport) {
	c.mu.Lock()
	pool, ok := c.transports[addr]
	c.mu.Unlock()
	if !ok {
		t.Close() // client closed meanwhile
		return
	}
	select {
	case pool <- t:
	default:
		t.Close() // pool was rebuilt after Close and is full
	}
}

func (c *Client) dial(addr string) (*transport.ClientTransport, error) {
	conn, err := c.dialFn("tcp", addr)
	if err != nil {
		return nil, err
	}
	return transport.NewClientTransport(conn, c.codecType), nil
}

// Close closes every pooled transport. Calls still waiting for a response get
// an Exception.
func (c *Client) Close() error {
	c.mu.Lock()
	pools := c.transports
	c.transports = make(map[string]chan *transport.ClientTransport)
	c.mu.Unlock()

	var errs []error
	for _, pool := range pools {
		errs = append(errs, closePool(pool)...)
	}
	return errors.Join(errs...)
}
