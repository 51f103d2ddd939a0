// Package transport owns the single TCP connection to the Iris Debug
// Server: the handshake, a background reader that demultiplexes incoming
// frames, and a mutex-guarded writer that emits whole frames atomically.
package transport

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cornea-tools/cornea/internal/iriserr"
	"github.com/cornea-tools/cornea/internal/logging"
	"github.com/cornea-tools/cornea/internal/wire"
	"go.uber.org/zap"
)

// Handler receives every decoded frame the background reader produces. It
// is implemented by the RPC client, which resolves replies itself and
// forwards callbacks to the event router, so both share one socket.
type Handler interface {
	HandleReply(id uint64, result, rpcErr []byte)
	HandleEvent(method string, params []byte)
	// HandleDisconnect is called exactly once, when the reader loop exits
	// for any reason (EOF, read error, or explicit Close).
	HandleDisconnect(cause error)
}

// Transport owns one Iris TCP connection. The background reader and the
// writer may proceed concurrently; writes are serialized by writeMu so a
// whole frame is always emitted atomically.
type Transport struct {
	conn    net.Conn
	addr    string
	reader  *bufio.Reader
	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

// DialTimeout is how long Dial waits for the TCP connect and handshake
// combined.
const DialTimeout = 5 * time.Second

// Dial opens a TCP connection to addr, performs the Iris handshake
// (CONNECT line, Supported-Formats negotiation), and returns a Transport
// ready to have its reader started via Start. It does not itself start the
// background reader, so callers can register a Handler first.
func Dial(ctx context.Context, addr string) (*Transport, error) {
	dialer := net.Dialer{Timeout: DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, iriserr.Wrap(iriserr.KindDisconnected, "dial iris server", err)
	}

	t := &Transport{conn: conn, addr: addr, closed: make(chan struct{})}
	if err := t.handshake(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	logging.LogConnection(addr, "handshake_complete")
	return t, nil
}

func (t *Transport) handshake() error {
	if _, err := io.WriteString(t.conn, "CONNECT / IrisRpc/1.0\r\nSupported-Formats: IrisJson\r\n\r\n"); err != nil {
		return iriserr.Wrap(iriserr.KindDisconnected, "write iris handshake", err)
	}

	r := bufio.NewReader(t.conn)
	line, err := r.ReadString('\n')
	if err != nil {
		return iriserr.Wrap(iriserr.KindDisconnected, "read iris handshake response", err)
	}
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "Supported-Formats: ") {
		return iriserr.New(iriserr.KindMalformedFrame, "handshake response missing Supported-Formats")
	}
	formats := strings.Split(strings.TrimPrefix(line, "Supported-Formats: "), ", ")
	found := false
	for _, f := range formats {
		if strings.TrimSpace(f) == "IrisJson" {
			found = true
			break
		}
	}
	if !found {
		return iriserr.New(iriserr.KindMalformedFrame, "server does not support IrisJson")
	}

	// Start reuses this same bufio.Reader so nothing buffered beyond the
	// handshake line is lost.
	t.reader = r
	return nil
}

// Start launches the background reader goroutine, which decodes frames
// with the wire codec and dispatches them to h until the connection
// closes, at which point h.HandleDisconnect is called exactly once.
func (t *Transport) Start(h Handler) {
	go t.readLoop(h)
}

func (t *Transport) readLoop(h Handler) {
	var finalErr error
	defer func() {
		t.closeOnce.Do(func() {
			close(t.closed)
			_ = t.conn.Close()
		})
		logging.LogConnection(t.addr, "closed")
		h.HandleDisconnect(finalErr)
	}()

	for {
		line, err := t.reader.ReadBytes('\n')
		if len(line) > 0 {
			logging.LogFrame("recv", line)
			if f, decErr := wire.Decode(line); decErr != nil {
				logging.Warn("malformed iris frame, dropping connection", zap.Error(decErr))
				finalErr = iriserr.Wrap(iriserr.KindMalformedFrame, "decode iris frame", decErr)
				return
			} else if f.Kind == wire.KindEvent {
				h.HandleEvent(f.Method, f.Params)
			} else {
				h.HandleReply(f.ID, f.Result, f.Error)
			}
		}
		if err != nil {
			if err == io.EOF {
				finalErr = iriserr.Disconnected(err)
			} else {
				finalErr = iriserr.Wrap(iriserr.KindDisconnected, "iris read failed", err)
			}
			return
		}
	}
}

// Send writes one already-framed Iris message atomically. It fails with a
// KindDisconnected error once the connection has closed.
func (t *Transport) Send(frame []byte) error {
	select {
	case <-t.closed:
		return iriserr.New(iriserr.KindDisconnected, "transport is closed")
	default:
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	logging.LogFrame("send", frame)
	if _, err := t.conn.Write(frame); err != nil {
		return iriserr.Wrap(iriserr.KindDisconnected, "iris write failed", err)
	}
	return nil
}

// Close terminates the connection. Any in-flight reader goroutine observes
// the resulting error or EOF and calls HandleDisconnect.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
	})
	return t.conn.Close()
}

// Addr returns the remote address this transport was dialed against, for
// logging and error messages.
func (t *Transport) Addr() string { return t.addr }
