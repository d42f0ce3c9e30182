// Package transport implements the client-side transport layer with multiplexing and heartbeat.
//
// ClientTransport enables multiple concurrent RPC calls over a single TCP connection.
// Each request message is stamped with a unique id, and a background goroutine (recvLoop)
// continuously reads response messages and routes them to the correct caller via pending channels.
//
//	goroutine-1 ──Send(id=1)──┐
//	goroutine-2 ──Send(id=2)──┼──→ single TCP conn ──→ Server
//	goroutine-3 ──Send(id=3)──┘
//
//	recvLoop:  ←── response(id=2) → pending[2] chan ← response → goroutine-2 wakes up
//
// A caller always gets exactly one message on its channel: the response, or an
// Exception carrying its id if the connection fails first.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"dist-rpc/codec"
	"dist-rpc/message"
	"dist-rpc/protocol"

	"go.uber.org/zap"
)

// ErrClosed is reported for calls on, or still pending on, a closed transport.
var ErrClosed = errors.New("transport closed")

// HeartbeatInterval is how often an idle-or-not transport sends a heartbeat frame.
const HeartbeatInterval = 30 * time.Second

// ClientTransport manages a single multiplexed TCP connection.
type ClientTransport struct {
	conn    net.Conn      // Underlying TCP connection
	codec   codec.Codec   // Serialization format for this transport
	nextID  int64         // Last id handed out (protected by the write slot)
	pending sync.Map      // map[int64]chan *message.RPCMessage — each request waits on its own channel
	writeMu chan struct{} // Write slot of capacity 1 — multiple goroutines share one conn, writes must be serialized
	//                       to prevent frame interleaving (req A's header + req B's body = corruption).
	//                       A channel instead of a mutex so waiters can give up on ctx or close.
	deadlineMu sync.Mutex // Guards writing against the cancel callback in SendContext
	writing    bool
	closed     atomic.Bool
	done       chan struct{}
	closeOnce  sync.Once
}

// NewClientTransport creates a transport for the given connection and starts two background goroutines:
//   - recvLoop: continuously reads responses from the connection and dispatches to pending callers
//   - heartbeatLoop: sends periodic heartbeat frames to detect dead connections
func NewClientTransport(conn net.Conn, codecType codec.CodecType) *ClientTransport {
	transport := &ClientTransport{
		conn:    conn,
		codec:   codec.GetCodec(codecType),
		writeMu: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go transport.recvLoop()
	go transport.heartbeatLoop(HeartbeatInterval)
	return transport
}

// Send is SendContext without a deadline.
func (t *ClientTransport) Send(msg *message.RPCMessage) (int64, <-chan *message.RPCMessage, error) {
	return t.SendContext(context.Background(), msg)
}

// SendContext stamps msg with a fresh id and writes it as one frame. It returns
// the id and a channel that receives exactly one message: the matching response
// or an Exception.
//
// msg must be a request type. SendContext takes ownership of msg; callers that
// need the request afterwards should send a Copy.
//
// Cancelling ctx stops the wait for the write slot and interrupts a write that
// is stuck on a peer that does not read. A write cut short leaves a partial
// frame on the stream, so the transport closes.
func (t *ClientTransport) SendContext(ctx context.Context, msg *message.RPCMessage) (int64, <-chan *message.RPCMessage, error) {
	if !msg.IsRequest() {
		return message.UnsetID, nil, fmt.Errorf("transport: cannot send %s, not a request type", msg.Type())
	}
	if err := t.lock(ctx); err != nil {
		return message.UnsetID, nil, err
	}

	if t.closed.Load() {
		t.unlock()
		return message.UnsetID, nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		t.unlock()
		return message.UnsetID, nil, err
	}

	t.nextID++
	id := t.nextID
	msg.SetID(id)

	// Encoding failures leave the stream untouched, only write failures close it.
	body, err := codec.Marshal(t.codec, msg)
	if err == nil && uint64(len(body)) > uint64(protocol.MaxBodyLen) {
		err = fmt.Errorf("transport: body too large: %d bytes", len(body))
	}
	if err != nil {
		t.unlock()
		return message.UnsetID, nil, err
	}
	header := &protocol.Header{CodecType: t.codec.Type(), Kind: protocol.FrameRequest, ID: id}

	// Register a response channel BEFORE sending (avoid race with recvLoop)
	respChan := make(chan *message.RPCMessage, 1) // Buffered to prevent recvLoop from blocking
	t.pending.Store(id, respChan)

	err = t.write(ctx, func() error {
		return protocol.Encode(t.conn, header, body)
	})
	t.unlock()
	if err != nil {
		t.pending.Delete(id) // Clean up on failure
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		t.fail(err)
		return message.UnsetID, nil, err
	}
	return id, respChan, nil
}

// lock takes the write slot, giving up when ctx ends or the transport closes.
func (t *ClientTransport) lock(ctx context.Context) error {
	select {
	case t.writeMu <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return ErrClosed
	}
}

func (t *ClientTransport) unlock() {
	<-t.writeMu
}

// write runs fn with the connection's write deadline tied to ctx. Must hold
// the write slot.
func (t *ClientTransport) write(ctx context.Context, fn func() error) error {
	t.deadlineMu.Lock()
	t.writing = true
	t.deadlineMu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		t.deadlineMu.Lock()
		defer t.deadlineMu.Unlock()
		if t.writing {
			t.conn.SetWriteDeadline(time.Unix(1, 0))
		}
	})
	err := fn()
	stop()

	t.deadlineMu.Lock()
	t.writing = false
	t.conn.SetWriteDeadline(time.Time{})
	t.deadlineMu.Unlock()
	return err
}

// Cancel forgets a pending call. A response that arrives later is dropped.
func (t *ClientTransport) Cancel(id int64) {
	t.pending.Delete(id)
}

// recvLoop runs in a dedicated goroutine, continuously reading responses from the connection.
// For each response, it looks up the id in the pending map, finds the caller's
// channel, and sends the response. This is the core of multiplexing — responses can arrive
// in any order, and each one is routed to the correct waiting goroutine.
//
// A frame that cannot be decoded corrupts the stream, so the transport closes.
func (t *ClientTransport) recvLoop() {
	for {
		header, body, err := protocol.Decode(t.conn)
		if err != nil {
			t.fail(err)
			return
		}
		if header.Kind == protocol.FrameHeartbeat {
			continue
		}
		if header.Kind != protocol.FrameResponse {
			t.fail(fmt.Errorf("transport: unexpected %s frame from server", header.Kind))
			return
		}

		resp, err := protocol.ReadMessage(header, body)
		if err != nil {
			zap.L().Error("closing transport on malformed response",
				zap.Stringer("remote", t.conn.RemoteAddr()),
				zap.Int64("id", header.ID),
				zap.Error(err))
			t.fail(err)
			return
		}

		// Route the response to the correct caller using the id
		if channel, ok := t.pending.LoadAndDelete(resp.ID()); ok {
			channel.(chan *message.RPCMessage) <- resp
		} else {
			zap.L().Debug("dropping response with no pending call", zap.Int64("id", resp.ID()))
		}
	}
}

// fail closes the transport and answers every pending caller with an
// Exception carrying its id.
func (t *ClientTransport) fail(cause error) {
	t.shutdown()
	if errors.Is(cause, ErrClosed) || errors.Is(cause, net.ErrClosed) {
		cause = ErrClosed
	} else {
		cause = fmt.Errorf("%w: %v", ErrClosed, cause)
	}
	t.pending.Range(func(key, _ any) bool {
		if channel, ok := t.pending.LoadAndDelete(key); ok {
			id := key.(int64)
			channel.(chan *message.RPCMessage) <- message.CreateExceptionResponseFromError(cause, id)
		}
		return true
	})
}

// shutdown marks the transport closed and closes the connection, which
// unblocks a writer stuck on a peer that stopped reading. Taking the write slot
// afterwards waits out any Send that passed its closed check, so no call is
// registered after the pending map is drained.
func (t *ClientTransport) shutdown() {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		close(t.done)
		t.conn.Close()
		t.writeMu <- struct{}{}
		t.unlock()
	})
}

// Close closes the connection. Calls still pending receive an Exception.
func (t *ClientTransport) Close() error {
	t.fail(ErrClosed)
	return nil
}

// Closed reports whether the transport can no longer send.
func (t *ClientTransport) Closed() bool {
	return t.closed.Load()
}

// Conn returns the underlying TCP connection.
func (t *ClientTransport) Conn() net.Conn {
	return t.conn
}

// heartbeatLoop sends periodic heartbeat frames to keep the connection alive.
// If the server doesn't receive any data for a long time, it may close the connection.
// Heartbeat frames have Kind=Heartbeat and no body, so they're very lightweight.
func (t *ClientTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}
		header := &protocol.Header{
			CodecType: t.codec.Type(),
			Kind:      protocol.FrameHeartbeat,
			ID:        message.UnsetID,
		}
		// Heartbeat writes also need the write slot to avoid frame interleaving
		if err := t.lock(context.Background()); err != nil {
			return
		}
		err := protocol.Encode(t.conn, header, nil)
		t.unlock()
		if err != nil {
			t.fail(err)
			return
		}
	}
}
