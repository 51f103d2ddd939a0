package transport

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/cornea-tools/cornea/internal/iriserr"
)

// fakeIrisServer accepts exactly one connection, performs the handshake,
// and closes the connection on stop. It does not hand the connection to
// the test: the returned conn is always nil.
func fakeIrisServer(t *testing.T) (addr string, conn net.Conn, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	connCh := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		buf := make([]byte, 4096)
		n, _ := c.Read(buf) // consume the CONNECT handshake line(s)
		_ = n
		_, _ = c.Write([]byte("Supported-Formats: IrisJson, IrisXml\n"))
		connCh <- c
	}()
	stop = func() {
		_ = ln.Close()
		select {
		case c := <-connCh:
			_ = c.Close()
		case <-time.After(time.Second):
		}
	}
	return ln.Addr().String(), nil, stop
}

type recordingHandler struct {
	mu        sync.Mutex
	replies   []uint64
	events    []string
	disconnects int
}

func (h *recordingHandler) HandleReply(id uint64, result, rpcErr []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.replies = append(h.replies, id)
}

func (h *recordingHandler) HandleEvent(method string, params []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, method)
}

func (h *recordingHandler) HandleDisconnect(cause error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnects++
}

func TestDialHandshake(t *testing.T) {
	addr, _, stop := fakeIrisServer(t)
	defer stop()

	tr, err := Dial(context.Background(), addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer tr.Close()

	if tr.Addr() != addr {
		t.Errorf("Addr() = %q, want %q", tr.Addr(), addr)
	}
}

func TestDialRejectsUnsupportedFormat(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		buf := make([]byte, 4096)
		_, _ = c.Read(buf)
		_, _ = c.Write([]byte("Supported-Formats: IrisXml\n"))
	}()

	_, err = Dial(context.Background(), ln.Addr().String())
	if err == nil {
		t.Fatal("expected an error for a server that does not speak IrisJson")
	}
	if !iriserr.Is(err, iriserr.KindMalformedFrame) {
		t.Errorf("expected KindMalformedFrame, got %v", err)
	}
}

func TestReadLoopDropsConnectionOnMalformedFrame(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	connCh := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		buf := make([]byte, 4096)
		_, _ = c.Read(buf)
		_, _ = c.Write([]byte("Supported-Formats: IrisJson\n"))
		connCh <- c
	}()

	tr, err := Dial(context.Background(), ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	serverConn := <-connCh
	defer serverConn.Close()

	h := &recordingHandler{}
	tr.Start(h)

	_, _ = serverConn.Write([]byte("IrisJson:not-a-length:{}\n"))

	deadline := time.After(2 * time.Second)
	for {
		h.mu.Lock()
		n := h.disconnects
		h.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("malformed frame never triggered a disconnect")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if err := tr.Send([]byte("IrisJson:2:{}\n")); err == nil {
		t.Fatal("expected Send to fail once the reader dropped the connection")
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	addr, _, stop := fakeIrisServer(t)
	defer stop()

	tr, err := Dial(context.Background(), addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	h := &recordingHandler{}
	tr.Start(h)
	tr.Close()

	// Give the reader goroutine a moment to observe the close.
	time.Sleep(50 * time.Millisecond)

	if err := tr.Send([]byte("IrisJson:2:{}\n")); err == nil {
		t.Fatal("expected Send to fail after Close")
	}
}
