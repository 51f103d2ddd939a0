// Package rpc implements the Iris RPC client: request-id allocation and
// correlation, typed wrappers for every Iris method this module calls, and
// the dispatch glue that makes the client double as the transport's reply
// handler.
package rpc

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cornea-tools/cornea/internal/iriserr"
	"github.com/cornea-tools/cornea/internal/logging"
	"github.com/cornea-tools/cornea/internal/transport"
	"github.com/cornea-tools/cornea/internal/wire"
)

// DefaultCallTimeout is the deadline CallWithTimeout applies. Call and the
// typed wrappers add no deadline of their own; they are bounded only by the
// caller's ctx.
const DefaultCallTimeout = 5 * time.Second

// EventHandler receives every callback frame the transport delivers; the
// RPC client forwards events verbatim rather than interpreting them, since
// that is the event router's job (C4).
type EventHandler interface {
	HandleEvent(method string, params json.RawMessage)
}

type pending struct {
	resultCh chan json.RawMessage
	errCh    chan *iriserr.Error
}

// Client correlates Iris request ids to waiting callers and exposes typed
// wrappers for the Iris methods this module uses. One Client owns exactly
// one Transport and one registering instance id.
type Client struct {
	tr       *transport.Transport
	events   EventHandler
	instID   uint32
	mu       sync.Mutex
	counter  uint64
	pendings map[uint64]*pending
	closed   bool
	closeErr *iriserr.Error
	done     chan struct{}
}

// New wraps an already-handshaken Transport in a Client, and starts the
// transport's background reader with the Client as its Handler. events
// receives every server-initiated callback.
func New(tr *transport.Transport, instID uint32, events EventHandler) *Client {
	c := &Client{
		tr:       tr,
		events:   events,
		instID:   instID,
		pendings: make(map[uint64]*pending),
		done:     make(chan struct{}),
	}
	tr.Start(c)
	return c
}

// nextID allocates the next request id for this connection: the instID
// given to New in the high 32 bits and a per-connection counter, starting
// at 1, in the low bits.
func (c *Client) nextID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counter++
	return uint64(c.instID)<<32 | c.counter
}

// Call issues one Iris RPC and blocks until a reply arrives, ctx is
// cancelled, or the connection closes. result, if non-nil, receives the
// decoded result payload.
func (c *Client) Call(ctx context.Context, method string, params any, result any) error {
	id := c.nextID()
	p := &pending{resultCh: make(chan json.RawMessage, 1), errCh: make(chan *iriserr.Error, 1)}

	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		return err
	}
	c.pendings[id] = p
	c.mu.Unlock()

	start := time.Now()
	frame, err := wire.EncodeRequest(id, method, params)
	if err != nil {
		c.dropPending(id)
		return err
	}
	if err := c.tr.Send(frame); err != nil {
		c.dropPending(id)
		return err
	}

	var callErr error
	select {
	case raw := <-p.resultCh:
		if result != nil && len(raw) > 0 {
			if jErr := json.Unmarshal(raw, result); jErr != nil {
				callErr = iriserr.Wrap(iriserr.KindMalformedFrame, "decode result for "+method, jErr)
			}
		}
	case rpcErr := <-p.errCh:
		callErr = rpcErr
	case <-ctx.Done():
		c.dropPending(id)
		callErr = iriserr.New(iriserr.KindTimeout, "rpc call "+method+" timed out")
	}
	logging.LogRPCCall(method, id, time.Since(start), callErr)
	return callErr
}

// CallWithTimeout is a convenience wrapper around Call using
// DefaultCallTimeout.
func (c *Client) CallWithTimeout(method string, params any, result any) error {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultCallTimeout)
	defer cancel()
	return c.Call(ctx, method, params, result)
}

func (c *Client) dropPending(id uint64) {
	c.mu.Lock()
	delete(c.pendings, id)
	c.mu.Unlock()
}

// HandleReply implements transport.Handler. It is invoked from the
// transport's single reader goroutine, so it must never block.
func (c *Client) HandleReply(id uint64, result, rpcErr []byte) {
	c.mu.Lock()
	p, ok := c.pendings[id]
	if ok {
		delete(c.pendings, id)
	}
	c.mu.Unlock()

	if !ok {
		logging.Warn("reply for unknown or already-resolved request id")
		return
	}

	if len(rpcErr) > 0 {
		code, msg := decodeRPCError(rpcErr)
		p.errCh <- &iriserr.Error{Kind: iriserr.KindRPCError, Code: code, Message: msg}
		return
	}
	p.resultCh <- json.RawMessage(result)
}

// HandleEvent implements transport.Handler, forwarding every callback to
// the registered EventHandler unchanged.
func (c *Client) HandleEvent(method string, params []byte) {
	if c.events != nil {
		c.events.HandleEvent(method, json.RawMessage(params))
	}
}

// HandleDisconnect implements transport.Handler: every pending call fails
// with Disconnected, the client refuses further calls, and Done's channel
// closes so anything selecting on it (the GDB bridge's Serve loop) learns
// the Iris connection is gone.
func (c *Client) HandleDisconnect(cause error) {
	de := iriserr.Disconnected(cause)

	c.mu.Lock()
	c.closed = true
	c.closeErr = de
	pendings := c.pendings
	c.pendings = make(map[uint64]*pending)
	c.mu.Unlock()

	for _, p := range pendings {
		p.errCh <- de
	}
	close(c.done)
}

// Done returns a channel that closes exactly once, when the underlying
// transport disconnects for any reason.
func (c *Client) Done() <-chan struct{} { return c.done }

func decodeRPCError(raw []byte) (int, string) {
	var typed struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &typed); err == nil && typed.Message != "" {
		return typed.Code, typed.Message
	}
	return 0, string(raw)
}

// Close releases the underlying transport. Any still-pending calls observe
// Disconnected via HandleDisconnect.
func (c *Client) Close() error {
	return c.tr.Close()
}
