package main

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// groupByStep maps the --group-by flag to a byte width, accepting both
// the u8/u16/u32/u64 spellings and the common C type aliases.
func groupByStep(s string) (int, error) {
	switch s {
	case "u8", "char", "uint8_t":
		return 1, nil
	case "u16", "short", "uint16_t":
		return 2, nil
	case "u32", "int", "uint32_t":
		return 4, nil
	case "u64", "long", "uint64_t":
		return 8, nil
	default:
		return 0, fmt.Errorf("unknown --group-by value %q (want u8, u16, u32, or u64)", s)
	}
}

// hexDumpHeader renders the column header for a given group size.
func hexDumpHeader(step int) string {
	switch step {
	case 1:
		return "         0  1  2  3  4  5  6  7  8  9  a  b  c  d  e  f\n"
	case 2:
		return "         0    2    4    6    8    a    c    e\n"
	case 4:
		return "         0        4        8        c\n"
	default:
		return "         0                8\n"
	}
}

// hexDump renders buf (bytes starting at address) as a 16-byte-per-row
// hex dump grouped into step-byte columns, plus an ASCII column.
//
// Each group's bytes are printed in their stored (memory) order rather
// than reassembled into an integer and re-rendered via little-endian
// formatting: that reassembly would reverse a group's byte order relative
// to memory on output, which doesn't match what a dump of raw memory
// bytes should show.
func hexDump(address uint64, buf []byte, step int) string {
	var sb strings.Builder
	sb.WriteString(hexDumpHeader(step))

	base := address &^ 0xf
	end := address + uint64(len(buf))

	for rowStart := base; rowStart < end; rowStart += 0x10 {
		fmt.Fprintf(&sb, "%08x", rowStart)

		for groupStart := rowStart; groupStart < rowStart+0x10; groupStart += uint64(step) {
			sb.WriteByte(' ')
			for b := groupStart; b < groupStart+uint64(step); b++ {
				if b >= address && b < end {
					fmt.Fprintf(&sb, "%02x", buf[b-address])
				} else {
					sb.WriteString("  ")
				}
			}
		}

		sb.WriteByte(' ')
		for b := rowStart; b < rowStart+0x10; b++ {
			switch {
			case b < address || b >= end:
				sb.WriteByte(' ')
			case isASCIIGraphic(buf[b-address]):
				sb.WriteByte(buf[b-address])
			default:
				sb.WriteByte('.')
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func isASCIIGraphic(b byte) bool {
	return b > 0x20 && b < 0x7f
}

// wordsToBytes flattens a memory_read reply's words into their
// little-endian byte representation, step bytes per word.
func wordsToBytes(words []uint64, step int) []byte {
	out := make([]byte, 0, len(words)*step)
	var tmp [8]byte
	for _, w := range words {
		binary.LittleEndian.PutUint64(tmp[:], w)
		out = append(out, tmp[:step]...)
	}
	return out
}
