package events

import "encoding/json"

// Decoders for the two callback shapes the GDB bridge (C7) cares about:
// breakpoint hits and data watchpoint triggers. These pull typed values
// out of a Record's raw Fields rather than hand-rolling field extraction
// at each call site.

// BreakpointHit is the decoded form of an ecInstanceBreakpointHit /
// ec_IRIS_BREAKPOINT_HIT record.
type BreakpointHit struct {
	Address uint64
}

// DecodeBreakpointHit extracts the hit address from a Record's fields.
func DecodeBreakpointHit(rec Record) (BreakpointHit, bool) {
	raw, ok := rec.Fields["addr"]
	if !ok {
		raw, ok = rec.Fields["PC"]
	}
	if !ok {
		return BreakpointHit{}, false
	}
	var addr uint64
	if err := json.Unmarshal(raw, &addr); err != nil {
		return BreakpointHit{}, false
	}
	return BreakpointHit{Address: addr}, true
}

// WatchAccessKind is the rw mode carried by a data-watchpoint event.
type WatchAccessKind string

const (
	WatchAccessRead  WatchAccessKind = "Read"
	WatchAccessWrite WatchAccessKind = "Write"
)

// WatchTrigger is the decoded form of a data-watchpoint hit, carrying the
// access kind, address, and size fields named ACCESS_RW/ACCESS_ADDR/
// ACCESS_SIZE in Iris's event payload.
type WatchTrigger struct {
	Kind WatchAccessKind
	Addr uint64
	Size uint64
}

// DecodeWatchTrigger extracts a WatchTrigger from a Record's fields.
func DecodeWatchTrigger(rec Record) (WatchTrigger, bool) {
	kindRaw, ok := rec.Fields["ACCESS_RW"]
	if !ok {
		return WatchTrigger{}, false
	}
	var kind string
	if err := json.Unmarshal(kindRaw, &kind); err != nil {
		return WatchTrigger{}, false
	}

	var addr, size uint64
	if raw, ok := rec.Fields["ACCESS_ADDR"]; ok {
		_ = json.Unmarshal(raw, &addr)
	}
	if raw, ok := rec.Fields["ACCESS_SIZE"]; ok {
		_ = json.Unmarshal(raw, &size)
	}

	return WatchTrigger{Kind: WatchAccessKind(kind), Addr: addr, Size: size}, true
}
