// Package gdbproto implements the server side of the GDB Remote Serial
// Protocol framing used by the GDB bridge (C6): checksum, ack/nak, escaping
// and run-length decoding. Unlike a client-side implementation that sends a
// command and awaits one reply, this package receives a command packet,
// acks it, and sends a reply packet instead.
package gdbproto

import (
	"bufio"
	"fmt"
	"strconv"

	"github.com/cornea-tools/cornea/internal/iriserr"
)

// Codec frames and unframes GDB Remote Serial Protocol packets on a single
// byte stream. It is not safe for concurrent reads, nor concurrent writes;
// the bridge serializes all codec use through its single event loop.
type Codec struct {
	r *bufio.Reader
	w *bufio.Writer

	// NoAck disables +/- acknowledgements once the session has negotiated
	// QStartNoAckMode.
	NoAck bool
}

// New wraps rw's reader and writer sides in a Codec.
func New(r *bufio.Reader, w *bufio.Writer) *Codec {
	return &Codec{r: r, w: w}
}

func checksum(data []byte) uint8 {
	var sum uint8
	for _, b := range data {
		sum += b
	}
	return sum
}

// needsEscape reports whether b is one of the four bytes the GDB Remote
// Serial Protocol requires escaping on the wire: '#', '$', '}', and '*'.
func needsEscape(b byte) bool {
	return b == '#' || b == '$' || b == '}' || b == '*'
}

func escape(in []byte) []byte {
	out := make([]byte, 0, len(in))
	for _, b := range in {
		if needsEscape(b) {
			out = append(out, '}', b^0x20)
		} else {
			out = append(out, b)
		}
	}
	return out
}

// unescape reverses escape: a '}' byte means the following byte was XORed
// with 0x20 on the wire.
func unescape(in []byte) []byte {
	out := make([]byte, 0, len(in))
	for i := 0; i < len(in); i++ {
		if in[i] == '}' && i+1 < len(in) {
			i++
			out = append(out, in[i]^0x20)
		} else {
			out = append(out, in[i])
		}
	}
	return out
}

// rleDecode expands '*<n>' run-length sequences: the byte preceding '*' is
// repeated n-29 additional times, per the GDB Remote Serial Protocol spec.
func rleDecode(in []byte) ([]byte, error) {
	var out []byte
	for i := 0; i < len(in); i++ {
		if in[i] != '*' {
			out = append(out, in[i])
			continue
		}
		if i == 0 || i+1 >= len(in) {
			return nil, iriserr.New(iriserr.KindGDBProtocolError, "invalid run-length sequence")
		}
		rep := in[i+1] - 29
		for j := 0; j < int(rep); j++ {
			out = append(out, in[i-1])
		}
		i++
	}
	return out, nil
}

// ReadPacket blocks for the next well-formed `$<payload>#<checksum>`
// packet, sending '+' on success (unless NoAck) and '-' and retrying on a
// checksum mismatch. A malformed framing (no '$', stream closed mid-packet)
// is reported as KindGDBProtocolError; the caller decides whether to retry
// or drop the connection.
func (c *Codec) ReadPacket() ([]byte, error) {
	for {
		if err := c.skipToStart(); err != nil {
			return nil, err
		}

		raw, err := c.r.ReadBytes('#')
		if err != nil {
			return nil, iriserr.Wrap(iriserr.KindGDBProtocolError, "read packet body", err)
		}
		payload := raw[:len(raw)-1]

		sumBuf := make([]byte, 2)
		if _, err := c.r.Read(sumBuf); err != nil {
			return nil, iriserr.Wrap(iriserr.KindGDBProtocolError, "read checksum", err)
		}
		want, err := strconv.ParseUint(string(sumBuf), 16, 8)
		if err != nil {
			return nil, iriserr.Wrap(iriserr.KindGDBProtocolError, "parse checksum", err)
		}

		if checksum(payload) != uint8(want) {
			if !c.NoAck {
				if err := c.w.WriteByte('-'); err == nil {
					_ = c.w.Flush()
				}
			}
			continue
		}
		if !c.NoAck {
			if err := c.w.WriteByte('+'); err != nil {
				return nil, err
			}
			if err := c.w.Flush(); err != nil {
				return nil, err
			}
		}

		decoded, err := rleDecode(unescape(payload))
		if err != nil {
			return nil, err
		}
		return decoded, nil
	}
}

// skipToStart discards bytes up to and including the next '$', treating a
// Ctrl-C (0x03) byte seen while skipping as a standalone interrupt signal
// the caller can detect by checking the returned error with IsInterrupt.
func (c *Codec) skipToStart() error {
	for {
		b, err := c.r.ReadByte()
		if err != nil {
			return iriserr.Wrap(iriserr.KindGDBProtocolError, "wait for packet start", err)
		}
		if b == 0x03 {
			return errInterrupt
		}
		if b == '$' {
			return nil
		}
	}
}

var errInterrupt = fmt.Errorf("gdb: interrupt byte received")

// IsInterrupt reports whether err is the sentinel returned by ReadPacket
// when a lone Ctrl-C byte (0x03) was seen outside any packet.
func IsInterrupt(err error) bool { return err == errInterrupt }

// WritePacket frames payload as `$<escaped payload>#<checksum>` and sends
// it, then waits for '+' unless NoAck is set. A '-' response causes one
// retransmission; a non-ack/nak byte is a protocol error.
func (c *Codec) WritePacket(payload []byte) error {
	escaped := escape(payload)
	csum := checksum(escaped)

	for attempt := 0; attempt < 3; attempt++ {
		if _, err := fmt.Fprintf(c.w, "$%s#%02x", escaped, csum); err != nil {
			return err
		}
		if err := c.w.Flush(); err != nil {
			return err
		}
		if c.NoAck {
			return nil
		}

		ack, err := c.r.ReadByte()
		if err != nil {
			return iriserr.Wrap(iriserr.KindGDBProtocolError, "read ack", err)
		}
		switch ack {
		case '+':
			return nil
		case '-':
			continue
		default:
			return iriserr.New(iriserr.KindGDBProtocolError, fmt.Sprintf("unexpected ack byte %#x", ack))
		}
	}
	return iriserr.New(iriserr.KindGDBProtocolError, "packet not acknowledged after 3 attempts")
}
