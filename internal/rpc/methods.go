package rpc

import (
	"context"
	"encoding/json"
)

// This file groups the typed wrappers by Iris namespace (instance_registry,
// memory, resource, breakpoint, checkpoint, step, simulation_time,
// simulation, event_stream, event) as methods on Client, using the wire's
// exact underscore method names internally and Go-idiomatic camelCase call
// sites for callers.

// Instance is one entry from the instance registry.
type Instance struct {
	ID   uint32 `json:"instId"`
	Name string `json:"instName"`
}

// RegisterInstance registers this client as an Iris instance and returns
// the id the server assigned it. Called once, during the handshake.
func (c *Client) RegisterInstance(ctx context.Context, name string) (uint32, error) {
	var res Instance
	err := c.Call(ctx, "instanceRegistry_registerInstance", map[string]any{"instName": name, "uniquify": true}, &res)
	return res.ID, err
}

// InstanceRegistryGetList returns every registered instance whose name has
// the given prefix (an empty prefix matches everything).
func (c *Client) InstanceRegistryGetList(ctx context.Context, prefix string) ([]Instance, error) {
	var res []Instance
	err := c.Call(ctx, "instanceRegistry_getList", map[string]any{"prefix": prefix}, &res)
	return res, err
}

// InstanceRegistryGetInstanceInfoByName resolves one instance by its exact
// dotted path.
func (c *Client) InstanceRegistryGetInstanceInfoByName(ctx context.Context, name string) (Instance, error) {
	var res Instance
	err := c.Call(ctx, "instanceRegistry_getInstanceInfoByName", map[string]any{"instName": name}, &res)
	return res, err
}

// InstanceRegistryGetInstanceInfoByInstId resolves one instance by its
// numeric id.
func (c *Client) InstanceRegistryGetInstanceInfoByInstId(ctx context.Context, id uint32) (Instance, error) {
	var res Instance
	err := c.Call(ctx, "instanceRegistry_getInstanceInfoByInstId", map[string]any{"aInstId": id}, &res)
	return res, err
}

// ResourceInfo describes one resource (register or parameter) on an
// instance.
type ResourceInfo struct {
	ID            uint64          `json:"rscId"`
	Name          string          `json:"name"`
	BitWidth      uint64          `json:"bitWidth"`
	Description   *string         `json:"description,omitempty"`
	RwMode        *string         `json:"rwMode,omitempty"`
	ParameterInfo json.RawMessage `json:"parameterInfo,omitempty"`
	RegisterInfo  json.RawMessage `json:"registerInfo,omitempty"`
}

// IsParameter reports whether this resource is a simulation parameter
// rather than a hardware register.
func (r ResourceInfo) IsParameter() bool {
	return len(r.ParameterInfo) > 0 && string(r.ParameterInfo) != "null"
}

// ResourceGetList lists every resource on instID.
func (c *Client) ResourceGetList(ctx context.Context, instID uint32) ([]ResourceInfo, error) {
	var res []ResourceInfo
	err := c.Call(ctx, "resource_getList", map[string]any{"instId": instID}, &res)
	return res, err
}

// ResourceReadResult is the decoded form of a resource_read reply (a bare
// data array; the wire has no per-read error field).
type ResourceReadResult struct {
	Data []uint64 `json:"data"`
}

// ResourceRead reads one or more resources on instID by resource id.
func (c *Client) ResourceRead(ctx context.Context, instID uint32, resIDs []uint64) (ResourceReadResult, error) {
	var res ResourceReadResult
	err := c.Call(ctx, "resource_read", map[string]any{"instId": instID, "rscIds": resIDs}, &res)
	return res, err
}

// ResourceWrite writes one or more resources on instID by resource id, so
// the bridge's G/P packets actually take effect rather than being silently
// accepted. Field names follow resource_read's rscIds/data convention for
// consistency.
func (c *Client) ResourceWrite(ctx context.Context, instID uint32, resIDs []uint64, data []uint64) error {
	return c.Call(ctx, "resource_write", map[string]any{"instId": instID, "rscIds": resIDs, "data": data}, nil)
}

// MemorySpace describes one memory space as seen from a specific instance.
type MemorySpace struct {
	SpaceID     uint64  `json:"spaceId"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	MinAddr     *uint64 `json:"minAddr,omitempty"`
	MaxAddr     *uint64 `json:"maxAddr,omitempty"`
	Endianness  *string `json:"endianness,omitempty"`
}

// MemoryGetMemorySpaces lists the memory spaces visible from instID.
func (c *Client) MemoryGetMemorySpaces(ctx context.Context, instID uint32) ([]MemorySpace, error) {
	var res []MemorySpace
	err := c.Call(ctx, "memory_getMemorySpaces", map[string]any{"instId": instID}, &res)
	return res, err
}

// MemoryReadResult is the decoded form of a memory_read reply. data is
// byteWidth-sized units (count equal to count); error is an arbitrary
// JSON value on failure, not necessarily a string, so it is kept raw.
type MemoryReadResult struct {
	Data  []uint64        `json:"data"`
	Error json.RawMessage `json:"error,omitempty"`
}

// MemoryRead reads count units of byteWidth bytes each from address addr in
// spaceID, as seen from instID. Field names mirror memory::read's
// MemoryReadReq exactly (spaceId, address, byteWidth, count).
func (c *Client) MemoryRead(ctx context.Context, instID uint32, spaceID uint64, addr uint64, byteWidth, count uint64) (MemoryReadResult, error) {
	var res MemoryReadResult
	err := c.Call(ctx, "memory_read", map[string]any{
		"instId": instID, "spaceId": spaceID, "address": addr,
		"byteWidth": byteWidth, "count": count,
	}, &res)
	return res, err
}

// MemoryWrite writes data (byteWidth-sized units) to address addr in
// spaceID, as seen from instID, so the bridge's M packets actually take
// effect rather than being silently accepted. Follows memory_read's field
// naming.
func (c *Client) MemoryWrite(ctx context.Context, instID uint32, spaceID uint64, addr uint64, byteWidth uint64, data []uint64) error {
	return c.Call(ctx, "memory_write", map[string]any{
		"instId": instID, "spaceId": spaceID, "address": addr,
		"byteWidth": byteWidth, "data": data,
	}, nil)
}

// BreakpointSet installs a breakpoint on instID at the given memory space.
// typ is "Code", "Data", or "Register"; for Data breakpoints rwMode
// selects "Read", "Write", or "ReadWrite". size is optional (nil for code
// breakpoints).
func (c *Client) BreakpointSet(ctx context.Context, instID uint32, typ string, addr uint64, size *uint64, rwMode string, spaceID uint64) (uint64, error) {
	params := map[string]any{
		"instId": instID, "type": typ, "address": addr,
		"spaceId": spaceID, "syncEc": true, "dontStop": false,
	}
	if size != nil {
		params["size"] = *size
	}
	if rwMode != "" {
		params["rwMode"] = rwMode
	}
	var res uint64
	err := c.Call(ctx, "breakpoint_set", params, &res)
	return res, err
}

// BreakpointCode is the common case of BreakpointSet: a code breakpoint
// with no watch semantics.
func (c *Client) BreakpointCode(ctx context.Context, instID uint32, addr uint64, size *uint64, spaceID uint64) (uint64, error) {
	return c.BreakpointSet(ctx, instID, "Code", addr, size, "", spaceID)
}

// BreakpointDelete removes a previously set breakpoint by id.
func (c *Client) BreakpointDelete(ctx context.Context, instID uint32, bpID uint64) error {
	return c.Call(ctx, "breakpoint_delete", map[string]any{"instId": instID, "bptId": bpID}, nil)
}

// CheckpointSave saves simulator state to dir.
func (c *Client) CheckpointSave(ctx context.Context, simID uint32, dir string) error {
	return c.Call(ctx, "checkpoint_save", map[string]any{"instId": simID, "checkpointDir": dir}, nil)
}

// CheckpointRestore restores simulator state from dir.
func (c *Client) CheckpointRestore(ctx context.Context, simID uint32, dir string) error {
	return c.Call(ctx, "checkpoint_restore", map[string]any{"instId": simID, "checkpointDir": dir}, nil)
}

// StepUnit is the granularity of a single-step request.
type StepUnit string

const (
	StepUnitInstruction StepUnit = "Instruction"
	StepUnitCycle       StepUnit = "Cycle"
)

// StepSetup arms instID to stop after count units of the given granularity
// on its next run.
func (c *Client) StepSetup(ctx context.Context, instID uint32, count uint64, unit StepUnit) error {
	return c.Call(ctx, "step_setup", map[string]any{"instId": instID, "steps": count, "unit": string(unit)}, nil)
}

// SimulationTime is the decoded form of simulationTime_get.
type SimulationTime struct {
	Ticks   uint64 `json:"ticks"`
	TickHz  uint64 `json:"tickHz"`
	Running bool   `json:"running"`
}

// SimulationTimeRun resumes simID.
func (c *Client) SimulationTimeRun(ctx context.Context, simID uint32) error {
	return c.Call(ctx, "simulationTime_run", map[string]any{"instId": simID}, nil)
}

// SimulationTimeStop halts simID.
func (c *Client) SimulationTimeStop(ctx context.Context, simID uint32) error {
	return c.Call(ctx, "simulationTime_stop", map[string]any{"instId": simID}, nil)
}

// SimulationTimeGet reads simID's current run state.
func (c *Client) SimulationTimeGet(ctx context.Context, simID uint32) (SimulationTime, error) {
	var res SimulationTime
	err := c.Call(ctx, "simulationTime_get", map[string]any{"instId": simID}, &res)
	return res, err
}

// SimulationReset resets simID. allowPartial permits a partial reset when
// the simulation engine supports one; the bridge's monitor "reset" command
// always passes false for a clean full reset.
func (c *Client) SimulationReset(ctx context.Context, simID uint32, allowPartial bool) error {
	return c.Call(ctx, "simulation_reset", map[string]any{"instId": simID, "allowPartialReset": allowPartial}, nil)
}

// SimulationWaitForInstantiation blocks until simID finishes
// (re-)instantiating, used after SimulationReset.
func (c *Client) SimulationWaitForInstantiation(ctx context.Context, simID uint32) error {
	return c.Call(ctx, "simulation_waitForInstantiation", map[string]any{"instId": simID}, nil)
}

// EventStreamCreate subscribes toID (the execution-context instance that
// should receive the events) to sourceID's stream on instID, returning the
// id of the new event stream. disable tears a stream back down in place
// of a dedicated destroy call, which Iris does not have.
func (c *Client) EventStreamCreate(ctx context.Context, instID, sourceID, toID uint32, disable, buffer bool) (uint64, error) {
	var res uint64
	err := c.Call(ctx, "eventStream_create", map[string]any{
		"instId": instID, "evSrcId": sourceID, "ecInstId": toID, "disable": disable, "ringBuffer": buffer,
	}, &res)
	return res, err
}

// EventStreamDestroy releases a stream created by EventStreamCreate, for
// long-running consumers (event-log, gdb-proxy) that outlive a single
// short CLI invocation and need to unsubscribe cleanly.
func (c *Client) EventStreamDestroy(ctx context.Context, instID, sourceID, toID uint32) error {
	_, err := c.EventStreamCreate(ctx, instID, sourceID, toID, true, false)
	return err
}

// EventStreamSetTraceRanges restricts streamID to one or more address
// ranges flattened as alternating [start, end) pairs.
func (c *Client) EventStreamSetTraceRanges(ctx context.Context, instID uint32, streamID uint64, aspect string, ranges []uint64) error {
	return c.Call(ctx, "eventStream_setTraceRanges", map[string]any{
		"instId": instID, "esId": streamID, "aspect": aspect, "ranges": ranges,
	}, nil)
}

// EventFieldInfo describes one field of an event source's records.
type EventFieldInfo struct {
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	Size        uint64  `json:"size"`
	Description *string `json:"description,omitempty"`
}

// EventSourceInfo describes one event source on an instance.
type EventSourceInfo struct {
	ID          uint32           `json:"evSrcId"`
	Name        string           `json:"name"`
	Description *string          `json:"description,omitempty"`
	Fields      []EventFieldInfo `json:"fields"`
}

// EventGetEventSource resolves one named event source on instID.
func (c *Client) EventGetEventSource(ctx context.Context, instID uint32, name string) (EventSourceInfo, error) {
	var res EventSourceInfo
	err := c.Call(ctx, "event_getEventSource", map[string]any{"instId": instID, "name": name}, &res)
	return res, err
}

// EventGetEventSources lists every event source on instID.
func (c *Client) EventGetEventSources(ctx context.Context, instID uint32) ([]EventSourceInfo, error) {
	var res []EventSourceInfo
	err := c.Call(ctx, "event_getEventSources", map[string]any{"instId": instID}, &res)
	return res, err
}

// EventGetEventFields returns just the field descriptors for a named
// event source. Iris has no dedicated wire method for this; the fields
// are already embedded in event_getEventSource's result, so this is a
// thin projection rather than a second round trip.
func (c *Client) EventGetEventFields(ctx context.Context, instID uint32, sourceName string) ([]EventFieldInfo, error) {
	src, err := c.EventGetEventSource(ctx, instID, sourceName)
	if err != nil {
		return nil, err
	}
	return src.Fields, nil
}

// PerInstanceExecutionControlStep arms and runs a single step on instID,
// using sim as the simulation engine instance that simulationTime_run
// starts. This composes step_setup + simulationTime_run into one
// single-step call; it returns once the run has started and does not
// poll for the stop.
func (c *Client) PerInstanceExecutionControlStep(ctx context.Context, instID, sim uint32) error {
	if err := c.StepSetup(ctx, instID, 1, StepUnitInstruction); err != nil {
		return err
	}
	return c.SimulationTimeRun(ctx, sim)
}

// PerInstanceExecutionControlRun resumes sim without arming a step.
func (c *Client) PerInstanceExecutionControlRun(ctx context.Context, sim uint32) error {
	return c.SimulationTimeRun(ctx, sim)
}

// PerInstanceExecutionControlStop halts sim.
func (c *Client) PerInstanceExecutionControlStop(ctx context.Context, sim uint32) error {
	return c.SimulationTimeStop(ctx, sim)
}

// PerInstanceExecutionControlGetStopReason reports whether sim is
// currently running; the bridge derives the GDB stop reply from this plus
// whatever event last arrived.
func (c *Client) PerInstanceExecutionControlGetStopReason(ctx context.Context, sim uint32) (SimulationTime, error) {
	return c.SimulationTimeGet(ctx, sim)
}
