package bridge

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/cornea-tools/cornea/internal/catalog"
	"github.com/cornea-tools/cornea/internal/events"
	"github.com/cornea-tools/cornea/internal/gdbproto"
	"github.com/cornea-tools/cornea/internal/iriserr"
	"github.com/cornea-tools/cornea/internal/rpc"
	"github.com/cornea-tools/cornea/internal/transport"
)

func TestDetectArchMapSelectsAArch64WhenX30Present(t *testing.T) {
	arch, err := DetectArchMap(map[string]bool{"X0": true, "X30": true})
	if err != nil {
		t.Fatalf("DetectArchMap: %v", err)
	}
	if arch.Name != "aarch64" {
		t.Errorf("got arch %q, want aarch64", arch.Name)
	}
}

func TestDetectArchMapFallsBackToARMv6M(t *testing.T) {
	arch, err := DetectArchMap(map[string]bool{"R0": true, "PC": true})
	if err != nil {
		t.Fatalf("DetectArchMap: %v", err)
	}
	if arch.Name != "armv6m" {
		t.Errorf("got arch %q, want armv6m", arch.Name)
	}
}

func TestWidthBytesDefaultsToWordSize(t *testing.T) {
	arch, err := AArch64()
	if err != nil {
		t.Fatalf("AArch64: %v", err)
	}
	if got := arch.WidthBytes(RegSlot{Slot: 0, Resource: "X0"}); got != 8 {
		t.Errorf("X0 width = %d, want 8", got)
	}
	if got := arch.WidthBytes(RegSlot{Slot: 33, WidthBits: 32, PadBits: 32}); got != 8 {
		t.Errorf("CPSR slot width = %d, want 8 (4 value + 4 pad)", got)
	}
}

func TestWidthBytesPadOnlySlot(t *testing.T) {
	arch, err := ARMv6M()
	if err != nil {
		t.Fatalf("ARMv6M: %v", err)
	}
	if got := arch.WidthBytes(RegSlot{Slot: 16, PadBits: 64}); got != 8 {
		t.Errorf("pad-only slot width = %d, want 8", got)
	}
}

// TestAArch64RegisterTableMatches98SlotLayout pins the decoded register
// table's structure against GDB's aarch64 target description: 98 slots,
// of which only 0-33 carry a backing resource, plus a 4-byte trailing pad
// applied once after the whole table rather than per-slot.
func TestAArch64RegisterTableMatches98SlotLayout(t *testing.T) {
	arch, err := AArch64()
	if err != nil {
		t.Fatalf("AArch64: %v", err)
	}
	if len(arch.Registers) != 98 {
		t.Fatalf("len(Registers) = %d, want 98", len(arch.Registers))
	}
	if arch.TrailingPadBytes != 4 {
		t.Fatalf("TrailingPadBytes = %d, want 4", arch.TrailingPadBytes)
	}

	wantNamed := make([]RegSlot, 0, 34)
	for i := 0; i < 31; i++ {
		wantNamed = append(wantNamed, RegSlot{Slot: i, Resource: "X" + itoa(i)})
	}
	wantNamed = append(wantNamed,
		RegSlot{Slot: 31, Resource: "SP"},
		RegSlot{Slot: 32, Resource: "PC"},
		RegSlot{Slot: 33, Resource: "CPSR", Fallback: "XPSR"},
	)
	if diff := cmp.Diff(wantNamed, arch.Registers[:34]); diff != "" {
		t.Fatalf("named register slots mismatch (-want +got):\n%s", diff)
	}

	totalWidth := 0
	for _, slot := range arch.Registers {
		totalWidth += arch.WidthBytes(slot)
		if slot.Slot >= 34 && slot.Resource != "" {
			t.Fatalf("slot %d has resource %q, want unnamed (always zero)", slot.Slot, slot.Resource)
		}
	}
	if got, want := totalWidth+arch.TrailingPadBytes, 98*8+4; got != want {
		t.Fatalf("serialized g-packet byte length = %d, want %d", got, want)
	}
}

func TestParseAddrLen(t *testing.T) {
	addr, length, err := parseAddrLen("1000,4")
	if err != nil {
		t.Fatalf("parseAddrLen: %v", err)
	}
	if addr != 0x1000 || length != 4 {
		t.Errorf("got addr=%#x length=%d, want addr=0x1000 length=4", addr, length)
	}
}

func TestParseAddrLenMalformed(t *testing.T) {
	if _, _, err := parseAddrLen("1000"); err == nil {
		t.Error("expected error for missing comma")
	}
}

func TestParseBreakArgCode(t *testing.T) {
	typ, addr, size, rwMode, ok := parseBreakArg("0,2000,4")
	if !ok {
		t.Fatal("parseBreakArg returned ok=false")
	}
	if typ != '0' || addr != 0x2000 || size != 4 || rwMode != "" {
		t.Errorf("got typ=%c addr=%#x size=%d rwMode=%q", typ, addr, size, rwMode)
	}
}

func TestParseBreakArgWatchpointDerivesRwMode(t *testing.T) {
	typ, _, _, rwMode, ok := parseBreakArg("2,3000,4")
	if !ok || typ != '2' || rwMode != "Write" {
		t.Errorf("got typ=%c rwMode=%q ok=%v, want typ=2 rwMode=Write ok=true", typ, rwMode, ok)
	}
	_, _, _, rwMode, _ = parseBreakArg("3,3000,4")
	if rwMode != "Read" {
		t.Errorf("Z3 rwMode = %q, want Read", rwMode)
	}
	_, _, _, rwMode, _ = parseBreakArg("4,3000,4")
	if rwMode != "ReadWrite" {
		t.Errorf("Z4 rwMode = %q, want ReadWrite", rwMode)
	}
}

func TestParseBreakArgTooShort(t *testing.T) {
	if _, _, _, _, ok := parseBreakArg("0"); ok {
		t.Error("expected ok=false for truncated argument")
	}
}

// fakeIrisServer performs the Iris handshake then answers exactly the
// requests fed to it through replies in order, mirroring
// internal/catalog/catalog_test.go's fakeServer helper.
func fakeIrisServer(t *testing.T, replies []string) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		buf := make([]byte, 4096)
		_, _ = c.Read(buf)
		_, _ = c.Write([]byte("Supported-Formats: IrisJson\n"))

		r := make([]byte, 4096)
		for _, reply := range replies {
			_, _ = c.Read(r)
			_, _ = c.Write([]byte(reply))
		}
		time.Sleep(2 * time.Second)
	}()
	return ln.Addr().String(), func() { _ = ln.Close() }
}

func frame(payload string) string {
	return "IrisJson:" + itoa(len(payload)) + ":" + payload + "\n"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

// readRSPPacket reads one `$<payload>#<checksum>` frame off conn, skipping
// anything before the leading '$' (such as a '+' ack byte). It sends no ack
// of its own; tests that run the codec with acks enabled send them
// themselves.
func readRSPPacket(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	for {
		b, err := r.ReadByte()
		if err != nil {
			t.Fatalf("readRSPPacket: %v", err)
		}
		if b == '$' {
			break
		}
	}
	raw, err := r.ReadBytes('#')
	if err != nil {
		t.Fatalf("readRSPPacket body: %v", err)
	}
	payload := raw[:len(raw)-1]
	if _, err := r.Discard(2); err != nil { // checksum bytes
		t.Fatalf("readRSPPacket checksum: %v", err)
	}
	return string(payload)
}

// TestServeMemoryReadRoundTrip exercises the `m<addr>,<len>` path end to
// end: bridge.New's session-start resolution (SimulationEngine instance,
// resource list, memory spaces), then one GDB read packet translated into
// one Iris memory_read call and hex-encoded back out.
func TestServeMemoryReadRoundTrip(t *testing.T) {
	replies := []string{
		frame(`{"result":{"instId":3,"instName":"framework.SimulationEngine"},"id":1}`),
		frame(`{"result":[{"rscId":1,"name":"R0","bitWidth":32}],"id":2}`),
		frame(`{"result":[{"spaceId":1,"name":"DRAM"}],"id":3}`),
		frame(`{"result":{"data":[170,187,204,221]},"id":4}`),
	}
	addr, stop := fakeIrisServer(t, replies)
	t.Cleanup(stop)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	tr, err := transport.Dial(ctx, addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })

	router := events.New()
	client := rpc.New(tr, 0, router)
	t.Cleanup(func() { _ = client.Close() })
	cat := catalog.New(client)
	sink := router.Subscribe(7, 0)

	gdbSide, testSide := net.Pipe()
	t.Cleanup(func() { _ = gdbSide.Close(); _ = testSide.Close() })

	codec := gdbproto.New(bufio.NewReader(gdbSide), bufio.NewWriter(gdbSide))
	codec.NoAck = true

	br, err := New(ctx, client, cat, codec, sink, 7)
	if err != nil {
		t.Fatalf("bridge.New: %v", err)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- br.Serve(ctx) }()

	testR := bufio.NewReader(testSide)

	if _, err := testSide.Write([]byte("$m1000,4#8e")); err != nil {
		t.Fatalf("write gdb packet: %v", err)
	}

	got := readRSPPacket(t, testR)
	if got != "aabbccdd" {
		t.Errorf("memory read reply = %q, want %q", got, "aabbccdd")
	}

	cancel()
	select {
	case <-serveErr:
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after ctx cancellation")
	}
}

// TestServeQSupportedAndNoAckNegotiation exercises the q-packet family used
// during a real GDB session's setup handshake, including the
// QStartNoAckMode toggle.
func TestServeQSupportedAndNoAckNegotiation(t *testing.T) {
	replies := []string{
		frame(`{"result":{"instId":3,"instName":"framework.SimulationEngine"},"id":1}`),
		frame(`{"result":[{"rscId":1,"name":"R0","bitWidth":32}],"id":2}`),
		frame(`{"result":[{"spaceId":1,"name":"DRAM"}],"id":3}`),
	}
	addr, stop := fakeIrisServer(t, replies)
	t.Cleanup(stop)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	tr, err := transport.Dial(ctx, addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })

	router := events.New()
	client := rpc.New(tr, 0, router)
	t.Cleanup(func() { _ = client.Close() })
	cat := catalog.New(client)
	sink := router.Subscribe(7, 0)

	gdbSide, testSide := net.Pipe()
	t.Cleanup(func() { _ = gdbSide.Close(); _ = testSide.Close() })

	codec := gdbproto.New(bufio.NewReader(gdbSide), bufio.NewWriter(gdbSide))
	// Negotiation happens before NoAck is set, so acks must flow normally
	// on both sides for this test.

	br, err := New(ctx, client, cat, codec, sink, 7)
	if err != nil {
		t.Fatalf("bridge.New: %v", err)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- br.Serve(ctx) }()

	testR := bufio.NewReader(testSide)

	// writeAcked sends one acked request packet and returns its reply
	// payload. replyNeedsAck must be false when the request is expected to
	// flip the bridge's codec into NoAck mode before it writes its reply
	// (QStartNoAckMode), since that reply is sent without waiting for an
	// ack back.
	writeAcked := func(pkt string, replyNeedsAck bool) string {
		t.Helper()
		sum := uint8(0)
		for i := 0; i < len(pkt); i++ {
			sum += pkt[i]
		}
		if _, err := testSide.Write([]byte("$" + pkt + "#")); err != nil {
			t.Fatalf("write: %v", err)
		}
		hexSum := []byte{hexDigit(sum >> 4), hexDigit(sum & 0xf)}
		if _, err := testSide.Write(hexSum); err != nil {
			t.Fatalf("write checksum: %v", err)
		}
		ack, err := testR.ReadByte()
		if err != nil {
			t.Fatalf("read ack: %v", err)
		}
		if ack != '+' {
			t.Fatalf("got ack byte %q, want '+'", ack)
		}
		reply := readRSPPacket(t, testR)
		if replyNeedsAck {
			if _, err := testSide.Write([]byte("+")); err != nil {
				t.Fatalf("ack reply: %v", err)
			}
		}
		return reply
	}

	if got := writeAcked("qSupported:multiprocess+", true); !strings.Contains(got, "QStartNoAckMode+") {
		t.Errorf("qSupported reply = %q, missing QStartNoAckMode+", got)
	}
	if got := writeAcked("QStartNoAckMode", false); got != "OK" {
		t.Errorf("QStartNoAckMode reply = %q, want OK", got)
	}
	if !codec.NoAck {
		t.Error("codec.NoAck was not set after QStartNoAckMode")
	}

	cancel()
	select {
	case <-serveErr:
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after ctx cancellation")
	}
}

// TestServeEndsSessionOnIrisDisconnect covers the case where the Iris
// server vanishes mid-session: Serve must return a KindDisconnected error
// via the RPC client's Done channel rather than run forever translating
// every subsequent GDB packet into a swallowed reply.
func TestServeEndsSessionOnIrisDisconnect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	replies := []string{
		frame(`{"result":{"instId":3,"instName":"framework.SimulationEngine"},"id":1}`),
		frame(`{"result":[{"rscId":1,"name":"R0","bitWidth":32}],"id":2}`),
		frame(`{"result":[{"spaceId":1,"name":"DRAM"}],"id":3}`),
	}
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		buf := make([]byte, 4096)
		_, _ = c.Read(buf)
		_, _ = c.Write([]byte("Supported-Formats: IrisJson\n"))
		r := make([]byte, 4096)
		for _, reply := range replies {
			_, _ = c.Read(r)
			_, _ = c.Write([]byte(reply))
		}
		_ = c.Close()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	tr, err := transport.Dial(ctx, ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })

	router := events.New()
	client := rpc.New(tr, 0, router)
	t.Cleanup(func() { _ = client.Close() })
	cat := catalog.New(client)
	sink := router.Subscribe(7, 0)

	gdbSide, testSide := net.Pipe()
	t.Cleanup(func() { _ = gdbSide.Close(); _ = testSide.Close() })

	codec := gdbproto.New(bufio.NewReader(gdbSide), bufio.NewWriter(gdbSide))
	codec.NoAck = true

	br, err := New(ctx, client, cat, codec, sink, 7)
	if err != nil {
		t.Fatalf("bridge.New: %v", err)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- br.Serve(ctx) }()

	select {
	case err := <-serveErr:
		if !iriserr.IsDisconnected(err) {
			t.Errorf("Serve returned %v, want a KindDisconnected error", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after the iris connection closed")
	}
}

func hexDigit(v uint8) byte {
	if v < 10 {
		return '0' + v
	}
	return 'a' + (v - 10)
}
