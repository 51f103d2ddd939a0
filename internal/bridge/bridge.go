// Package bridge implements the GDB bridge (C7): a single-CPU-target GDB
// Remote Serial Protocol server backed by Iris RPC calls. Packet handlers
// are implemented directly against internal/gdbproto's codec, covering the
// run-control, register, memory, and breakpoint subset GDB needs for the
// aarch64 and armv6-m targets.
package bridge

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cornea-tools/cornea/internal/catalog"
	"github.com/cornea-tools/cornea/internal/events"
	"github.com/cornea-tools/cornea/internal/gdbproto"
	"github.com/cornea-tools/cornea/internal/iriserr"
	"github.com/cornea-tools/cornea/internal/logging"
	"github.com/cornea-tools/cornea/internal/rpc"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ResumePollInterval is the sleep between simulationTime_get polls while a
// resume is in flight.
const ResumePollInterval = 100 * time.Millisecond

// sigTrap is the GDB signal number reported on breakpoint hits and step
// completion (SIGTRAP).
const sigTrap = 5

type watchpoint struct {
	addr uint64
	size uint64
	kind string // "r", "w", or "rw"
	bpIDs []uint64
}

// Bridge serves one GDB Remote Serial Protocol session against one fixed
// Iris CPU instance for its lifetime.
type Bridge struct {
	codec  *gdbproto.Codec
	client *rpc.Client
	cat    *catalog.Catalog
	sink   *events.Sink

	instID uint32
	simID  uint32
	arch   *ArchMap

	memSpaces      []rpc.MemorySpace
	hasMemSpaceRes bool // true when a <REG>_MEMSPACE resource exists (aarch64-style fan-out)

	breakpoints map[uint64][]uint64 // addr -> breakpoint ids, one per memory space
	watchpoints []*watchpoint

	running    bool
	singleStep bool
	runDone    chan struct{}
}

// New resolves the bridge's session-start state: the SimulationEngine
// instance id, the register table for instID's declared architecture, and
// the memory spaces visible from instID.
func New(ctx context.Context, client *rpc.Client, cat *catalog.Catalog, codec *gdbproto.Codec, sink *events.Sink, instID uint32) (*Bridge, error) {
	sim, err := cat.Resolve(ctx, "framework.SimulationEngine")
	if err != nil {
		return nil, err
	}

	resources, err := cat.Resources(ctx, instID)
	if err != nil {
		return nil, err
	}
	names := make(map[string]bool, len(resources))
	for _, r := range resources {
		names[r.Name] = true
	}

	arch, err := DetectArchMap(names)
	if err != nil {
		return nil, err
	}

	spaces, err := client.MemoryGetMemorySpaces(ctx, instID)
	if err != nil {
		return nil, err
	}

	b := &Bridge{
		codec:          codec,
		client:         client,
		cat:            cat,
		sink:           sink,
		instID:         instID,
		simID:          sim.ID,
		arch:           arch,
		memSpaces:      spaces,
		hasMemSpaceRes: names["PC_MEMSPACE"],
		breakpoints:    make(map[uint64][]uint64),
		runDone:        make(chan struct{}, 1),
	}
	return b, nil
}

// Serve runs the bridge's serialized event loop until a GDB `D`etach,
// stream EOF, Iris disconnect, or ctx cancellation: one goroutine reads GDB
// packets, the event router delivers stop events, and both feed this
// single loop. An Iris-side disconnect is observed via the RPC client's
// Done channel rather than the event sink, since the sink only ever
// carries breakpoint/watchpoint callbacks and is never closed on
// teardown.
func (b *Bridge) Serve(ctx context.Context) error {
	pktCh := make(chan []byte)
	intrCh := make(chan struct{}, 1)
	errCh := make(chan error, 1)

	go b.readLoop(ctx, pktCh, intrCh, errCh)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-b.client.Done():
			return iriserr.New(iriserr.KindDisconnected, "iris connection closed during gdb session")

		case err := <-errCh:
			return err

		case <-intrCh:
			if b.running {
				if err := b.stopSimulation(ctx); err != nil {
					logging.Warn("iris stop during gdb interrupt failed")
				}
				b.running = false
				if err := b.codec.WritePacket([]byte("S02")); err != nil {
					return err
				}
			}

		case rec, ok := <-b.sink.C():
			if !ok {
				return nil
			}
			if !b.running {
				continue
			}
			if err := b.sendStopReply(&rec); err != nil {
				return err
			}

		case <-b.runDone:
			if !b.running {
				continue
			}
			if err := b.sendStopReply(nil); err != nil {
				return err
			}

		case pkt, ok := <-pktCh:
			if !ok {
				return nil
			}
			detach, err := b.handlePacket(ctx, pkt)
			if err != nil {
				return err
			}
			if detach {
				return nil
			}
		}
	}
}

func (b *Bridge) readLoop(ctx context.Context, pktCh chan<- []byte, intrCh chan<- struct{}, errCh chan<- error) {
	defer close(pktCh)
	retries := 0
	for {
		pkt, err := b.codec.ReadPacket()
		if err != nil {
			if gdbproto.IsInterrupt(err) {
				select {
				case intrCh <- struct{}{}:
				default:
				}
				continue
			}
			retries++
			if retries > 3 {
				errCh <- err
				return
			}
			continue
		}
		retries = 0
		select {
		case pktCh <- pkt:
		case <-ctx.Done():
			return
		}
	}
}

// handlePacket dispatches one received GDB packet and writes at most one
// reply, except for run-resuming packets which send no immediate reply and
// instead rely on a later stop event. Returns detach=true on `D`.
func (b *Bridge) handlePacket(ctx context.Context, pkt []byte) (detach bool, err error) {
	if len(pkt) == 0 {
		return false, b.codec.WritePacket(nil)
	}

	switch pkt[0] {
	case '?':
		return false, b.replyStopStatus(ctx)

	case 'g':
		return false, b.readAllRegisters(ctx)

	case 'G':
		return false, b.writeAllRegisters(ctx, pkt[1:])

	case 'p':
		return false, b.readOneRegister(ctx, string(pkt[1:]))

	case 'P':
		return false, b.writeOneRegister(ctx, string(pkt[1:]))

	case 'm':
		return false, b.readMemory(ctx, string(pkt[1:]))

	case 'M':
		return false, b.writeMemory(ctx, string(pkt[1:]))

	case 'Z':
		return false, b.setBreakpoint(ctx, string(pkt[1:]))

	case 'z':
		return false, b.clearBreakpoint(ctx, string(pkt[1:]))

	case 'c':
		return false, b.resume(ctx, false)

	case 's':
		return false, b.resume(ctx, true)

	case 'v':
		return false, b.handleVPacket(ctx, string(pkt))

	case 'q', 'Q':
		return false, b.handleQPacket(ctx, string(pkt))

	case 'H':
		return false, b.codec.WritePacket([]byte("OK"))

	case '!':
		return false, b.codec.WritePacket([]byte("OK"))

	case 'D':
		if b.running {
			_ = b.stopSimulation(ctx)
		}
		return true, b.codec.WritePacket([]byte("OK"))

	default:
		return false, b.codec.WritePacket(nil)
	}
}

func (b *Bridge) stopSimulation(ctx context.Context) error {
	return b.client.SimulationTimeStop(ctx, b.simID)
}

// replyStopStatus implements `?`: force a known state by stopping the
// simulator first if it is running, then report the current stop reason.
func (b *Bridge) replyStopStatus(ctx context.Context) error {
	if b.running {
		if err := b.stopSimulation(ctx); err != nil {
			return b.replyError(err)
		}
		b.running = false
	}
	return b.codec.WritePacket([]byte(fmt.Sprintf("S%02x", sigTrap)))
}

func (b *Bridge) replyError(err error) error {
	logging.Warn("gdb-bridge: iris call failed, replying E01")
	return b.codec.WritePacket([]byte("E01"))
}

// readAllRegisters implements `g`: read every resource named in the arch
// table and serialize in slot order, little-endian, with declared padding.
func (b *Bridge) readAllRegisters(ctx context.Context) error {
	var out []byte
	for _, slot := range b.arch.Registers {
		width := b.arch.WidthBytes(slot)
		val, err := b.readSlotValue(ctx, slot)
		if err != nil {
			return b.replyError(err)
		}
		out = append(out, leBytes(val, width)...)
	}
	out = append(out, make([]byte, b.arch.TrailingPadBytes)...)
	return b.codec.WritePacket([]byte(hex.EncodeToString(out)))
}

func (b *Bridge) readSlotValue(ctx context.Context, slot RegSlot) (uint64, error) {
	name := slot.Resource
	if name == "" {
		return 0, nil
	}
	res, err := b.cat.Resource(ctx, b.instID, name)
	if err != nil && slot.Fallback != "" {
		res, err = b.cat.Resource(ctx, b.instID, slot.Fallback)
	}
	if err != nil {
		return 0, nil // unresolved optional register reads as zero
	}
	result, err := b.client.ResourceRead(ctx, b.instID, []uint64{res.ID})
	if err != nil || len(result.Data) == 0 {
		return 0, err
	}
	return result.Data[0], nil
}

func leBytes(v uint64, width int) []byte {
	out := make([]byte, width)
	for i := 0; i < width && i < 8; i++ {
		out[i] = byte(v >> (8 * i))
	}
	return out
}

// writeAllRegisters implements `G` with real resource_write calls so a
// register write from GDB actually takes effect on the simulated CPU.
func (b *Bridge) writeAllRegisters(ctx context.Context, hexPayload []byte) error {
	raw, err := hex.DecodeString(string(hexPayload))
	if err != nil {
		return b.codec.WritePacket([]byte("E01"))
	}
	offset := 0
	for _, slot := range b.arch.Registers {
		width := b.arch.WidthBytes(slot)
		if offset+width > len(raw) {
			break
		}
		if slot.Resource != "" {
			val := leValue(raw[offset : offset+width])
			if err := b.writeRegisterByName(ctx, slot.Resource, slot.Fallback, val); err != nil {
				return b.replyError(err)
			}
		}
		offset += width
	}
	return b.codec.WritePacket([]byte("OK"))
}

func leValue(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0 && i < 8; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func (b *Bridge) writeRegisterByName(ctx context.Context, name, fallback string, val uint64) error {
	res, err := b.cat.Resource(ctx, b.instID, name)
	if err != nil && fallback != "" {
		res, err = b.cat.Resource(ctx, b.instID, fallback)
	}
	if err != nil {
		return nil
	}
	return b.client.ResourceWrite(ctx, b.instID, []uint64{res.ID}, []uint64{val})
}

// readOneRegister implements `p<n>`.
func (b *Bridge) readOneRegister(ctx context.Context, arg string) error {
	n, err := strconv.ParseInt(arg, 16, 32)
	if err != nil {
		return b.codec.WritePacket([]byte("E01"))
	}
	slot, ok := b.slotByIndex(int(n))
	if !ok {
		return b.codec.WritePacket([]byte("E01"))
	}
	val, err := b.readSlotValue(ctx, slot)
	if err != nil {
		return b.replyError(err)
	}
	width := b.arch.WidthBytes(slot)
	return b.codec.WritePacket([]byte(hex.EncodeToString(leBytes(val, width))))
}

// writeOneRegister implements `P<n>=<value>`.
func (b *Bridge) writeOneRegister(ctx context.Context, arg string) error {
	parts := strings.SplitN(arg, "=", 2)
	if len(parts) != 2 {
		return b.codec.WritePacket([]byte("E01"))
	}
	n, err := strconv.ParseInt(parts[0], 16, 32)
	if err != nil {
		return b.codec.WritePacket([]byte("E01"))
	}
	slot, ok := b.slotByIndex(int(n))
	if !ok {
		return b.codec.WritePacket([]byte("E01"))
	}
	raw, err := hex.DecodeString(parts[1])
	if err != nil {
		return b.codec.WritePacket([]byte("E01"))
	}
	if slot.Resource != "" {
		if err := b.writeRegisterByName(ctx, slot.Resource, slot.Fallback, leValue(raw)); err != nil {
			return b.replyError(err)
		}
	}
	return b.codec.WritePacket([]byte("OK"))
}

func (b *Bridge) slotByIndex(n int) (RegSlot, bool) {
	for _, s := range b.arch.Registers {
		if s.Slot == n {
			return s, true
		}
	}
	return RegSlot{}, false
}

// defaultMemSpace resolves the active memory space for m/M packets by
// reading the PC_MEMSPACE resource when one exists.
func (b *Bridge) defaultMemSpace(ctx context.Context) (uint64, error) {
	if !b.hasMemSpaceRes {
		if len(b.memSpaces) > 0 {
			return b.memSpaces[0].SpaceID, nil
		}
		return 0, nil
	}
	res, err := b.cat.Resource(ctx, b.instID, "PC_MEMSPACE")
	if err != nil {
		return 0, err
	}
	result, err := b.client.ResourceRead(ctx, b.instID, []uint64{res.ID})
	if err != nil || len(result.Data) == 0 {
		return 0, err
	}
	return result.Data[0], nil
}

// readMemory implements `m<addr>,<len>`.
func (b *Bridge) readMemory(ctx context.Context, arg string) error {
	addr, length, err := parseAddrLen(arg)
	if err != nil {
		return b.codec.WritePacket([]byte("E01"))
	}
	space, err := b.defaultMemSpace(ctx)
	if err != nil {
		return b.replyError(err)
	}
	result, err := b.client.MemoryRead(ctx, b.instID, space, addr, 1, length)
	if err != nil {
		return b.replyError(err)
	}
	out := make([]byte, 0, len(result.Data))
	for _, v := range result.Data {
		out = append(out, byte(v))
	}
	return b.codec.WritePacket([]byte(hex.EncodeToString(out)))
}

// writeMemory implements `M<addr>,<len>:<data>`.
func (b *Bridge) writeMemory(ctx context.Context, arg string) error {
	head, dataHex, ok := strings.Cut(arg, ":")
	if !ok {
		return b.codec.WritePacket([]byte("E01"))
	}
	addr, length, err := parseAddrLen(head)
	if err != nil {
		return b.codec.WritePacket([]byte("E01"))
	}
	raw, err := hex.DecodeString(dataHex)
	if err != nil || uint64(len(raw)) != length {
		return b.codec.WritePacket([]byte("E01"))
	}
	space, err := b.defaultMemSpace(ctx)
	if err != nil {
		return b.replyError(err)
	}
	data := make([]uint64, len(raw))
	for i, bb := range raw {
		data[i] = uint64(bb)
	}
	if err := b.client.MemoryWrite(ctx, b.instID, space, addr, 1, data); err != nil {
		return b.replyError(err)
	}
	return b.codec.WritePacket([]byte("OK"))
}

func parseAddrLen(s string) (addr, length uint64, err error) {
	parts := strings.SplitN(s, ",", 2)
	if len(parts) != 2 {
		return 0, 0, iriserr.New(iriserr.KindGDBProtocolError, "malformed addr,len")
	}
	addr, err = strconv.ParseUint(parts[0], 16, 64)
	if err != nil {
		return 0, 0, err
	}
	length, err = strconv.ParseUint(parts[1], 16, 64)
	return addr, length, err
}

// setBreakpoint implements `Z<type>,<addr>,<kind>`.
//
// Z0 (software) and Z1 (hardware) are handled identically: both install a
// hardware breakpoint on the simulated CPU since software breakpoint
// patching is not exposed over Iris. Z2/Z3/Z4 install data watchpoints.
func (b *Bridge) setBreakpoint(ctx context.Context, arg string) error {
	typ, addr, size, rwMode, ok := parseBreakArg(arg)
	if !ok {
		return b.codec.WritePacket([]byte("E01"))
	}

	switch typ {
	case '0', '1':
		ok, err := b.addCodeBreakpoint(ctx, addr)
		if err != nil {
			return b.replyError(err)
		}
		if !ok {
			return b.codec.WritePacket(nil)
		}
		return b.codec.WritePacket([]byte("OK"))

	case '2', '3', '4':
		ok, err := b.addWatchpoint(ctx, addr, size, rwMode)
		if err != nil {
			return b.replyError(err)
		}
		if !ok {
			return b.codec.WritePacket(nil)
		}
		return b.codec.WritePacket([]byte("OK"))

	default:
		return b.codec.WritePacket(nil)
	}
}

func (b *Bridge) clearBreakpoint(ctx context.Context, arg string) error {
	typ, addr, _, _, ok := parseBreakArg(arg)
	if !ok {
		return b.codec.WritePacket([]byte("E01"))
	}

	switch typ {
	case '0', '1':
		if err := b.removeCodeBreakpoint(ctx, addr); err != nil {
			return b.replyError(err)
		}
		return b.codec.WritePacket([]byte("OK"))

	case '2', '3', '4':
		if err := b.removeWatchpoint(ctx, addr); err != nil {
			return b.replyError(err)
		}
		return b.codec.WritePacket([]byte("OK"))

	default:
		return b.codec.WritePacket(nil)
	}
}

func parseBreakArg(arg string) (typ byte, addr, size uint64, rwMode string, ok bool) {
	if len(arg) < 2 {
		return 0, 0, 0, "", false
	}
	typ = arg[0]
	rest := arg[2:] // skip "<type>,"
	parts := strings.SplitN(rest, ",", 2)
	if len(parts) != 2 {
		return 0, 0, 0, "", false
	}
	a, err := strconv.ParseUint(parts[0], 16, 64)
	if err != nil {
		return 0, 0, 0, "", false
	}
	s, err := strconv.ParseUint(parts[1], 16, 64)
	if err != nil {
		return 0, 0, 0, "", false
	}
	switch typ {
	case '2':
		rwMode = "Write"
	case '3':
		rwMode = "Read"
	case '4':
		rwMode = "ReadWrite"
	}
	return typ, a, s, rwMode, true
}

// addCodeBreakpoint fans one breakpoint out to every memory space when the
// session has a per-space memory model (aarch64-style), or installs a
// single breakpoint on space 0 otherwise (armv6-m-style, one address
// space).
func (b *Bridge) addCodeBreakpoint(ctx context.Context, addr uint64) (bool, error) {
	if _, exists := b.breakpoints[addr]; exists {
		return true, nil
	}

	var ids []uint64
	var errs error
	if b.hasMemSpaceRes && len(b.memSpaces) > 0 {
		for _, space := range b.memSpaces {
			id, err := b.client.BreakpointCode(ctx, b.instID, addr, nil, space.SpaceID)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("memory space %d: %w", space.SpaceID, err))
				continue
			}
			ids = append(ids, id)
		}
	} else {
		id, err := b.client.BreakpointCode(ctx, b.instID, addr, nil, 0)
		if err != nil {
			errs = multierr.Append(errs, err)
		} else {
			ids = append(ids, id)
		}
	}

	if errs != nil {
		logging.Warn("breakpoint failed to arm in one or more memory spaces", zap.Error(errs))
	}
	if len(ids) == 0 {
		return false, errs
	}
	b.breakpoints[addr] = ids
	return true, nil
}

func (b *Bridge) removeCodeBreakpoint(ctx context.Context, addr uint64) error {
	ids, ok := b.breakpoints[addr]
	if !ok {
		return nil
	}
	for _, id := range ids {
		if err := b.client.BreakpointDelete(ctx, b.instID, id); err != nil {
			return err
		}
	}
	delete(b.breakpoints, addr)
	return nil
}

// addWatchpoint installs a data watchpoint, tracked by address range so a
// later IRIS_BREAKPOINT_HIT-shaped event carrying ACCESS_RW/ACCESS_ADDR/
// ACCESS_SIZE fields can be matched back to it.
func (b *Bridge) addWatchpoint(ctx context.Context, addr, size uint64, rwMode string) (bool, error) {
	for _, w := range b.watchpoints {
		if w.addr == addr {
			return true, nil
		}
	}

	var ids []uint64
	var errs error
	spaces := b.memSpaces
	if len(spaces) == 0 {
		spaces = []rpc.MemorySpace{{SpaceID: 0}}
	}
	for _, space := range spaces {
		sz := size
		id, err := b.client.BreakpointSet(ctx, b.instID, "Data", addr, &sz, rwMode, space.SpaceID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("memory space %d: %w", space.SpaceID, err))
			continue
		}
		ids = append(ids, id)
	}
	if errs != nil {
		logging.Warn("watchpoint failed to arm in one or more memory spaces", zap.Error(errs))
	}
	if len(ids) == 0 {
		return false, errs
	}

	w := &watchpoint{addr: addr, size: size, kind: rwModeToKind(rwMode), bpIDs: ids}
	b.watchpoints = append(b.watchpoints, w)
	sort.Slice(b.watchpoints, func(i, j int) bool { return b.watchpoints[i].addr < b.watchpoints[j].addr })
	return true, nil
}

func (b *Bridge) removeWatchpoint(ctx context.Context, addr uint64) error {
	for i, w := range b.watchpoints {
		if w.addr != addr {
			continue
		}
		for _, id := range w.bpIDs {
			if err := b.client.BreakpointDelete(ctx, b.instID, id); err != nil {
				return err
			}
		}
		b.watchpoints = append(b.watchpoints[:i], b.watchpoints[i+1:]...)
		return nil
	}
	return nil
}

func rwModeToKind(rwMode string) string {
	switch rwMode {
	case "Write":
		return "w"
	case "Read":
		return "r"
	default:
		return "rw"
	}
}

// handleVPacket implements the subset of the `v` packet family this
// session needs: vCont?, vCont;c, vCont;s.
func (b *Bridge) handleVPacket(ctx context.Context, pkt string) error {
	switch {
	case pkt == "vCont?":
		return b.codec.WritePacket([]byte("vCont;c;s"))
	case strings.HasPrefix(pkt, "vCont;c"):
		return b.resume(ctx, false)
	case strings.HasPrefix(pkt, "vCont;s"):
		return b.resume(ctx, true)
	default:
		return b.codec.WritePacket(nil)
	}
}

// handleQPacket implements the `q` packet family this session needs.
func (b *Bridge) handleQPacket(ctx context.Context, pkt string) error {
	switch {
	case pkt == "qSupported" || strings.HasPrefix(pkt, "qSupported:"):
		return b.codec.WritePacket([]byte("PacketSize=4000;QStartNoAckMode+;vContSupported+"))
	case pkt == "qAttached":
		return b.codec.WritePacket([]byte("1"))
	case pkt == "qC":
		return b.codec.WritePacket([]byte("QC1"))
	case pkt == "QStartNoAckMode":
		b.codec.NoAck = true
		return b.codec.WritePacket([]byte("OK"))
	case strings.HasPrefix(pkt, "qRcmd,"):
		return b.handleMonitorCmd(ctx, pkt[len("qRcmd,"):])
	default:
		return b.codec.WritePacket(nil)
	}
}

// handleMonitorCmd implements qRcmd: "reset" resets and waits for the
// SimulationEngine instance to reinstantiate; anything else is reported
// back to the user as an informational O-encoded message.
func (b *Bridge) handleMonitorCmd(ctx context.Context, hexCmd string) error {
	raw, err := hex.DecodeString(hexCmd)
	if err != nil {
		return b.codec.WritePacket([]byte("E01"))
	}
	cmd := string(raw)

	if cmd == "reset" {
		if err := b.client.SimulationReset(ctx, b.simID, false); err != nil {
			return b.replyError(err)
		}
		if err := b.client.SimulationWaitForInstantiation(ctx, b.simID); err != nil {
			return b.replyError(err)
		}
		return b.codec.WritePacket([]byte("OK"))
	}

	msg := fmt.Sprintf("Monitor command %s not supported\n", cmd)
	return b.codec.WritePacket([]byte("O" + hex.EncodeToString([]byte(msg))))
}

// resume implements `c`/`s`/vCont's continue and step actions: arm a
// single step if requested, issue simulationTime_run, then poll
// simulationTime_get(sim).running on a short interval until it completes.
// Sends no immediate reply; the bridge's Serve loop replies with a
// stop-reply once the poll completes.
func (b *Bridge) resume(ctx context.Context, step bool) error {
	b.singleStep = step
	if step {
		if err := b.client.StepSetup(ctx, b.instID, 1, rpc.StepUnitInstruction); err != nil {
			return b.replyError(err)
		}
	}
	if err := b.client.SimulationTimeRun(ctx, b.simID); err != nil {
		return b.replyError(err)
	}
	b.running = true

	go b.pollUntilStopped(ctx)
	return nil
}

// pollUntilStopped polls simulationTime_get until the run completes, then
// signals runDone so Serve's single loop sends a stop-reply if one hasn't
// already gone out for an Iris breakpoint/watchpoint event observed in the
// meantime. This keeps run-state observation off the Serve goroutine while
// still serializing state mutation through it.
func (b *Bridge) pollUntilStopped(ctx context.Context) {
	for {
		st, err := b.client.SimulationTimeGet(ctx, b.simID)
		if err != nil || !st.Running {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(ResumePollInterval):
		}
	}
	select {
	case b.runDone <- struct{}{}:
	default:
	}
}

// sendStopReply converts either an Iris stop event (rec != nil, delivered
// through the breakpoint/watchpoint event sink) or a plain run-completion
// (rec == nil, from pollUntilStopped) into a GDB stop-reply.
func (b *Bridge) sendStopReply(rec *events.Record) error {
	b.running = false

	if rec != nil {
		if wt, ok := events.DecodeWatchTrigger(*rec); ok {
			tag := "watch"
			if wt.Kind == events.WatchAccessRead {
				tag = "rwatch"
			}
			addr := wt.Addr
			for _, w := range b.watchpoints {
				if wt.Addr >= w.addr && wt.Addr < w.addr+w.size {
					addr = w.addr
					if w.kind == "rw" {
						tag = "awatch"
					}
					break
				}
			}
			reply := fmt.Sprintf("T%02x%s:%x;", sigTrap, tag, addr)
			return b.codec.WritePacket([]byte(reply))
		}
	}

	if b.singleStep {
		b.singleStep = false
		return b.codec.WritePacket([]byte(fmt.Sprintf("T%02xswbreak:;", sigTrap)))
	}

	return b.codec.WritePacket([]byte(fmt.Sprintf("T%02xhwbreak:;", sigTrap)))
}
