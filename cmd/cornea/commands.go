package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cornea-tools/cornea/internal/bridge"
	"github.com/cornea-tools/cornea/internal/gdbproto"
	"github.com/cornea-tools/cornea/internal/iriserr"
)

// Command flags, registered on their owning subcommand in init() below.
var (
	groupBy       string
	gdbProxyPort  int
	gdbProxyNoAck bool
)

func init() {
	rootCmd.PersistentFlags().IntVar(&portFlag, "port", 0, "Iris port (overrides CORNEA_IRIS_PORT and the 7100-7104 fallback)")

	memoryReadCmd.Flags().StringVar(&groupBy, "group-by", "u8", "hex dump group size: u8, u16, u32, or u64")

	gdbProxyCmd.Flags().IntVarP(&gdbProxyPort, "port", "p", 0, "listen for one GDB connection on this TCP port instead of stdio")
	gdbProxyCmd.Flags().BoolVar(&gdbProxyNoAck, "no-ack", false, "start the session with RSP acknowledgments already disabled")

	rootCmd.AddCommand(childListCmd)
	rootCmd.AddCommand(resourceListCmd)
	rootCmd.AddCommand(resourceReadCmd)
	rootCmd.AddCommand(memoryReadCmd)
	rootCmd.AddCommand(eventSourcesCmd)
	rootCmd.AddCommand(eventFieldsCmd)
	rootCmd.AddCommand(eventLogCmd)
	rootCmd.AddCommand(gdbProxyCmd)
	rootCmd.AddCommand(checkpointSaveCmd)
	rootCmd.AddCommand(checkpointRestoreCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(breakCmd)
}

var childListCmd = &cobra.Command{
	Use:   "child-list [INSTANCE]",
	Short: "List the children of an instance, or every root instance",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runChildList,
}

// runChildList lists children of the resolved instance (the root when no
// argument is given), printing each child's name with the parent's own
// name trimmed off the front -- which, for a non-root parent, leaves the
// connecting '.' in place.
func runChildList(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	ctx := cmd.Context()

	sess, err := connect(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	name := ""
	if len(args) == 1 {
		inst, err := sess.cat.Resolve(ctx, args[0])
		if err != nil {
			return err
		}
		name = inst.Name
	}

	children, err := sess.cat.Children(ctx, name)
	if err != nil {
		return err
	}
	for _, c := range children {
		if c == name {
			continue
		}
		fmt.Println(strings.TrimPrefix(c, name))
	}
	return nil
}

var resourceListCmd = &cobra.Command{
	Use:   "resource-list INSTANCE",
	Short: "Print every resource descriptor for an instance",
	Args:  cobra.ExactArgs(1),
	RunE:  runResourceList,
}

func runResourceList(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	ctx := cmd.Context()

	sess, err := connect(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	inst, err := sess.cat.Resolve(ctx, args[0])
	if err != nil {
		return err
	}
	resources, err := sess.cat.Resources(ctx, inst.ID)
	if err != nil {
		return err
	}

	fmt.Printf("%-6s│%6s│ %20s │ %s\n", "type", "bits", "name", "description")
	fmt.Println(strings.Repeat("═", 6) + "╪" + strings.Repeat("═", 6) + "╪═" + strings.Repeat("═", 20) + "═╪═" + strings.Repeat("═", 20))
	for _, r := range resources {
		typ := "Reg"
		if r.IsParameter() {
			typ = "Param"
		}
		desc := ""
		if r.Description != nil {
			desc = *r.Description
		}
		fmt.Printf("%-6s│%6d│ %20s │ %s\n", typ, r.BitWidth, r.Name, desc)
	}
	return nil
}

var resourceReadCmd = &cobra.Command{
	Use:   "resource-read INSTANCE NAME",
	Short: "Read every resource on an instance whose name matches a prefix",
	Args:  cobra.ExactArgs(2),
	RunE:  runResourceRead,
}

func runResourceRead(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	ctx := cmd.Context()

	sess, err := connect(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	inst, err := sess.cat.Resolve(ctx, args[0])
	if err != nil {
		return err
	}
	matches, err := sess.cat.ResourcesByPrefix(ctx, inst.ID, args[1])
	if err != nil {
		return err
	}

	fmt.Printf("%8s │ %s\n", "value", "name")
	fmt.Println(strings.Repeat("═", 8) + "═╪═" + strings.Repeat("═", 35))
	for _, r := range matches {
		res, err := sess.client.ResourceRead(ctx, inst.ID, []uint64{r.ID})
		if err != nil {
			return err
		}
		if len(res.Data) > 0 {
			fmt.Printf("%8x │ %s\n", res.Data[0], r.Name)
		}
	}
	return nil
}

var memoryReadCmd = &cobra.Command{
	Use:   "memory-read INSTANCE ADDR LEN",
	Short: "Hex-dump memory as seen from an instance",
	Long: `Hex-dump LEN bytes of memory starting at ADDR, as seen from INSTANCE.

ADDR and LEN are hexadecimal, without a leading "0x". --group-by controls
how many bytes are read per word and how the dump's columns are grouped;
LEN must be a multiple of the group size.`,
	Args: cobra.ExactArgs(3),
	RunE: runMemoryRead,
}

func runMemoryRead(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	ctx := cmd.Context()

	step, err := groupByStep(groupBy)
	if err != nil {
		return err
	}
	addr, err := strconv.ParseUint(args[1], 16, 64)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", args[1], err)
	}
	length, err := strconv.ParseUint(args[2], 16, 64)
	if err != nil {
		return fmt.Errorf("invalid length %q: %w", args[2], err)
	}
	if length%uint64(step) != 0 {
		return fmt.Errorf("length 0x%x is not a multiple of the group size (%d bytes)", length, step)
	}

	sess, err := connect(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	inst, err := sess.cat.Resolve(ctx, args[0])
	if err != nil {
		return err
	}

	// The CLI always reads from memory space 0. Per-register default-space
	// resolution (reading PC_MEMSPACE to find the CPU's active view) is a
	// GDB bridge concern (internal/bridge), not this direct subcommand.
	res, err := sess.client.MemoryRead(ctx, inst.ID, 0, addr, uint64(step), length/uint64(step))
	if err != nil {
		return err
	}

	buf := wordsToBytes(res.Data, step)
	fmt.Print(hexDump(addr, buf, step))
	return nil
}

var eventSourcesCmd = &cobra.Command{
	Use:   "event-sources INSTANCE",
	Short: "List the event sources available on an instance",
	Args:  cobra.ExactArgs(1),
	RunE:  runEventSources,
}

func runEventSources(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	ctx := cmd.Context()

	sess, err := connect(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	inst, err := sess.cat.Resolve(ctx, args[0])
	if err != nil {
		return err
	}
	sources, err := sess.cat.EventSources(ctx, inst.ID)
	if err != nil {
		return err
	}
	for _, s := range sources {
		fmt.Println(s.Name)
	}
	return nil
}

var eventFieldsCmd = &cobra.Command{
	Use:   "event-fields INSTANCE SOURCE",
	Short: "Describe the fields of one event source",
	Args:  cobra.ExactArgs(2),
	RunE:  runEventFields,
}

func runEventFields(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	ctx := cmd.Context()

	sess, err := connect(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	inst, err := sess.cat.Resolve(ctx, args[0])
	if err != nil {
		return err
	}
	fields, err := sess.client.EventGetEventFields(ctx, inst.ID, args[1])
	if err != nil {
		return err
	}
	for _, f := range fields {
		desc := ""
		if f.Description != nil {
			desc = *f.Description
		}
		fmt.Printf("%-24s %-10s %4d  %s\n", f.Name, f.Type, f.Size, desc)
	}
	return nil
}

var eventLogCmd = &cobra.Command{
	Use:   "event-log INSTANCE SOURCE",
	Short: "Stream events from one event source as one JSON object per line",
	Args:  cobra.ExactArgs(2),
	RunE:  runEventLog,
}

// runEventLog streams decoded events.Record values as newline-delimited
// JSON, one object per line, until interrupted. It resolves and subscribes
// to a caller-chosen event source, unlike the bridge's fixed subscription
// to IRIS_BREAKPOINT_HIT.
func runEventLog(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	sess, err := connect(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	inst, err := sess.cat.Resolve(ctx, args[0])
	if err != nil {
		return err
	}
	src, err := sess.cat.EventSource(ctx, inst.ID, args[1])
	if err != nil {
		return err
	}

	sink := sess.router.Subscribe(inst.ID, src.ID)
	defer sess.router.Unsubscribe(inst.ID, src.ID, sink)

	streamID, err := sess.client.EventStreamCreate(ctx, inst.ID, src.ID, sess.selfID, false, true)
	if err != nil {
		return err
	}
	defer func() { _ = sess.client.EventStreamDestroy(context.Background(), inst.ID, src.ID, sess.selfID) }()
	_ = streamID

	enc := json.NewEncoder(os.Stdout)
	for {
		select {
		case <-ctx.Done():
			return nil
		case rec, ok := <-sink.C():
			if !ok {
				return nil
			}
			if err := enc.Encode(rec); err != nil {
				return err
			}
		case <-sink.Dropped():
			fmt.Fprintln(os.Stderr, "cornea: event dropped (sink overflow)")
		}
	}
}

var checkpointSaveCmd = &cobra.Command{
	Use:   "checkpoint-save INSTANCE PATH",
	Short: "Save a simulation checkpoint to a directory",
	Args:  cobra.ExactArgs(2),
	RunE:  runCheckpointSave,
}

func runCheckpointSave(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	ctx := cmd.Context()

	sess, err := connect(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	inst, err := sess.cat.Resolve(ctx, args[0])
	if err != nil {
		return err
	}
	if err := sess.client.CheckpointSave(ctx, inst.ID, args[1]); err != nil {
		return err
	}
	fmt.Printf("checkpoint saved to %s\n", args[1])
	return nil
}

var checkpointRestoreCmd = &cobra.Command{
	Use:   "checkpoint-restore INSTANCE PATH",
	Short: "Restore a simulation checkpoint from a directory",
	Args:  cobra.ExactArgs(2),
	RunE:  runCheckpointRestore,
}

func runCheckpointRestore(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	ctx := cmd.Context()

	sess, err := connect(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	inst, err := sess.cat.Resolve(ctx, args[0])
	if err != nil {
		return err
	}
	if err := sess.client.CheckpointRestore(ctx, inst.ID, args[1]); err != nil {
		return err
	}
	fmt.Printf("checkpoint restored from %s\n", args[1])
	return nil
}

var resetCmd = &cobra.Command{
	Use:   "reset [INSTANCE]",
	Short: "Reset the simulation",
	Long: `Reset the simulation engine and wait for the platform to finish
reinstantiating. INSTANCE is accepted but unused: there is exactly one
simulation engine per FVP invocation.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReset,
}

func runReset(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	ctx := cmd.Context()

	sess, err := connect(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	sim, err := sess.cat.Resolve(ctx, "framework.SimulationEngine")
	if err != nil {
		return err
	}
	if err := sess.client.SimulationReset(ctx, sim.ID, false); err != nil {
		return err
	}
	if err := sess.client.SimulationWaitForInstantiation(ctx, sim.ID); err != nil {
		return err
	}
	fmt.Println("simulation reset")
	return nil
}

var breakCmd = &cobra.Command{
	Use:   "break INSTANCE ADDR [LEN]",
	Short: "Set a one-shot breakpoint, run, and stop when it fires",
	Long: `Set a code breakpoint at ADDR on INSTANCE, run the simulation, and
block until the breakpoint fires, then delete it. ADDR and LEN are
hexadecimal.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runBreak,
}

func runBreak(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	ctx := cmd.Context()

	sess, err := connect(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	sim, err := sess.cat.Resolve(ctx, "framework.SimulationEngine")
	if err != nil {
		return err
	}
	inst, err := sess.cat.Resolve(ctx, args[0])
	if err != nil {
		return err
	}
	addr, err := strconv.ParseUint(args[1], 16, 64)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", args[1], err)
	}
	var size *uint64
	if len(args) == 3 {
		s, err := strconv.ParseUint(args[2], 16, 64)
		if err != nil {
			return fmt.Errorf("invalid length %q: %w", args[2], err)
		}
		size = &s
	}

	bp, err := sess.client.BreakpointCode(ctx, inst.ID, addr, size, 0)
	if err != nil {
		return err
	}
	if err := sess.client.SimulationTimeRun(ctx, sim.ID); err != nil {
		return err
	}
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		st, err := sess.client.SimulationTimeGet(ctx, sim.ID)
		if err != nil {
			return err
		}
		if !st.Running {
			break
		}
	}
	if err := sess.client.BreakpointDelete(ctx, inst.ID, bp); err != nil {
		return err
	}
	fmt.Printf("stopped at breakpoint 0x%x\n", addr)
	return nil
}

var gdbProxyCmd = &cobra.Command{
	Use:   "gdb-proxy INSTANCE",
	Short: "Bridge a GDB Remote Serial Protocol session to an Iris instance",
	Long: `Serve GDB's Remote Serial Protocol against INSTANCE, translating
packets into Iris RPCs. With --port, listens for one TCP connection (as
GDB's "target remote host:port" expects); otherwise serves on stdio, for
use as a gdbserver-style subprocess launched directly by GDB.

Exit codes: 0 on a clean GDB detach, 1 on an I/O error, 2 on a malformed
GDB packet the bridge could not recover from.`,
	Args: cobra.ExactArgs(1),
	RunE: runGdbProxy,
}

// runGdbProxy resolves the event source the bridge listens for, subscribes
// and creates its event stream, then hands the chosen byte stream to
// bridge.Serve. The exit code is set by calling os.Exit directly rather
// than returning an error, since cobra's own error path always exits 1 and
// callers need to tell a clean detach apart from an I/O failure or a
// protocol error.
func runGdbProxy(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	ctx := cmd.Context()

	sess, err := connect(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	inst, err := sess.cat.Resolve(ctx, args[0])
	if err != nil {
		return err
	}

	src, err := sess.cat.EventSource(ctx, inst.ID, "IRIS_BREAKPOINT_HIT")
	if err != nil {
		return err
	}
	sink := sess.router.Subscribe(inst.ID, src.ID)
	defer sess.router.Unsubscribe(inst.ID, src.ID, sink)

	if _, err := sess.client.EventStreamCreate(ctx, inst.ID, src.ID, sess.selfID, false, true); err != nil {
		return err
	}

	rw, closeConn, err := gdbProxyStream()
	if err != nil {
		return err
	}
	defer closeConn()

	codec := gdbproto.New(bufio.NewReader(rw), bufio.NewWriter(rw))
	codec.NoAck = gdbProxyNoAck

	br, err := bridge.New(ctx, sess.client, sess.cat, codec, sink, inst.ID)
	if err != nil {
		return err
	}

	serveErr := br.Serve(ctx)
	os.Exit(gdbExitCode(serveErr))
	return nil
}

// gdbProxyStream returns the byte stream gdb-proxy serves on: one
// accepted TCP connection when --port is set, stdin/stdout otherwise.
func gdbProxyStream() (rw readWriter, closeFn func(), err error) {
	if gdbProxyPort == 0 {
		return stdioConn{}, func() {}, nil
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", gdbProxyPort))
	if err != nil {
		return nil, nil, err
	}
	conn, err := ln.Accept()
	if err != nil {
		_ = ln.Close()
		return nil, nil, err
	}
	return conn, func() { _ = conn.Close(); _ = ln.Close() }, nil
}

type readWriter interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
}

// stdioConn adapts os.Stdin/os.Stdout to the bufio.Reader/Writer pair
// gdbproto.Codec expects, for a gdb-proxy session served directly over the
// process's own stdio.
type stdioConn struct{}

func (stdioConn) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdioConn) Write(p []byte) (int, error) { return os.Stdout.Write(p) }

// gdbExitCode maps Serve's return to the exit codes GDB's remote-target
// protocol callers expect to distinguish a clean detach from a real
// failure: 0 on a clean 'D', 1 on an I/O error, 2 on a malformed packet
// the bridge could not recover from.
func gdbExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case iriserr.Is(err, iriserr.KindGDBProtocolError):
		return 2
	default:
		return 1
	}
}
