package scanrig

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/httprunner/scanrig/internal/device"
)

// Mode selects how a pair is captured.
type Mode string

const (
	// ModeSynchronized fires both cameras at once.
	ModeSynchronized Mode = "synchronized"
	// ModeSequential fires Primary, waits for it, then Secondary.
	ModeSequential Mode = "sequential"
)

// ParseMode accepts the mode names and their parallel/serial aliases.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "synchronized", "sync", "parallel", "":
		return ModeSynchronized, nil
	case "sequential", "serial":
		return ModeSequential, nil
	}
	return "", errors.Errorf("unknown capture mode %q", s)
}

// Toggle returns the other mode.
func (m Mode) Toggle() Mode {
	if m == ModeSequential {
		return ModeSynchronized
	}
	return ModeSequential
}

// OperationState is the lifecycle of one capture operation.
type OperationState string

const (
	StateIdle      OperationState = "idle"
	StateResolving OperationState = "resolving"
	StateCapturing OperationState = "capturing"
	StateCompleted OperationState = "completed"
	StateFailed    OperationState = "failed"
)

// Outcome is the result of one camera within an operation.
type Outcome struct {
	Role     Role
	Identity string
	Address  string
	Filename string
	Number   int
	Success  bool
	ExitCode int
	TimedOut bool
	Err      error
	Elapsed  time.Duration
}

func (o Outcome) describe() string {
	status := fmt.Sprintf("exit %d", o.ExitCode)
	switch {
	case o.TimedOut:
		status = "timed out"
	case o.Err != nil && o.ExitCode < 0:
		status = o.Err.Error()
	}
	return fmt.Sprintf("%s camera %s at %s %s", o.Role, o.Identity, o.Address, status)
}

// Report summarizes one capture operation.
type Report struct {
	OperationID string
	Roles       []Role
	Mode        Mode
	State       OperationState
	// Start is the first image number the operation used.
	Start      int
	Outcomes   []Outcome
	StartedAt  time.Time
	FinishedAt time.Time
}

// SnapshotSource is the device registry as seen by the coordinator.
type SnapshotSource interface {
	DiscoverAddresses(ctx context.Context) []string
	Snapshot(ctx context.Context) device.Snapshot
	SnapshotOf(ctx context.Context, addrs []string) device.Snapshot
}

// CoordinatorOptions configures a Coordinator.
type CoordinatorOptions struct {
	OutputDir string
	// CaptureTimeout bounds each capture process; zero waits indefinitely.
	CaptureTimeout time.Duration
	// SettleInterval is the pause between cameras in sequential mode.
	SettleInterval time.Duration
	Mode           Mode
	// VerifyIdentities re-identifies every camera before every operation.
	VerifyIdentities bool
	Observer         Observer
	Sleep            func(time.Duration)
	Clock            func() time.Time
}

// Coordinator drives capture operations against bound identities. Only one
// operation runs at a time.
type Coordinator struct {
	source   SnapshotSource
	agent    *Agent
	binding  *Binding
	seq      *Sequence
	observer Observer

	outputDir      string
	captureTimeout time.Duration
	settle         time.Duration
	sleep          func(time.Duration)
	now            func() time.Time

	opMu       sync.Mutex
	cache      device.Snapshot
	cacheValid bool

	mu       sync.Mutex
	mode     Mode
	verify   bool
	state    OperationState
	captured int
	lastAddr map[Role]string
}

// NewCoordinator wires a coordinator for a session.
func NewCoordinator(source SnapshotSource, agent *Agent, binding *Binding, seq *Sequence, opts CoordinatorOptions) (*Coordinator, error) {
	if source == nil {
		return nil, errors.New("coordinator: snapshot source is nil")
	}
	if agent == nil {
		return nil, errors.New("coordinator: capture agent is nil")
	}
	if binding == nil {
		return nil, errors.New("coordinator: binding is nil")
	}
	if seq == nil {
		return nil, errors.New("coordinator: sequence is nil")
	}
	mode := opts.Mode
	if mode == "" {
		mode = ModeSynchronized
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		source:         source,
		agent:          agent,
		binding:        binding,
		seq:            seq,
		observer:       opts.Observer,
		outputDir:      opts.OutputDir,
		captureTimeout: opts.CaptureTimeout,
		settle:         opts.SettleInterval,
		sleep:          sleep,
		now:            now,
		lastAddr:       make(map[Role]string, 2),
		mode:           mode,
		verify:         opts.VerifyIdentities,
		state:          StateIdle,
	}, nil
}

// Mode returns the current pair capture mode.
func (c *Coordinator) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// VerifyIdentities reports whether identities are re-resolved every capture.
func (c *Coordinator) VerifyIdentities() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.verify
}

// State returns the state of the current or last operation.
func (c *Coordinator) State() OperationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Captured returns the number of images captured successfully so far.
func (c *Coordinator) Captured() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.captured
}

// LastAddress returns the address role was last captured from.
func (c *Coordinator) LastAddress(role Role) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastAddr[role]
}

// ToggleMode switches between synchronized and sequential capture.
func (c *Coordinator) ToggleMode() Mode {
	c.mu.Lock()
	c.mode = c.mode.Toggle()
	mode := c.mode
	c.mu.Unlock()
	c.emit(Event{Kind: EventModeChanged, Mode: mode})
	return mode
}

// ToggleVerify switches identity verification before every capture.
func (c *Coordinator) ToggleVerify() bool {
	c.mu.Lock()
	c.verify = !c.verify
	verify := c.verify
	c.mu.Unlock()
	c.emit(Event{Kind: EventVerifyChanged, Verify: verify})
	return verify
}

// JumpTo moves the sequence to n rounded down to even.
func (c *Coordinator) JumpTo(n int) (int, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	next, err := c.seq.Override(n)
	if err != nil {
		return 0, err
	}
	c.emit(Event{Kind: EventSequenceJumped, Sequence: next})
	return next, nil
}

// CaptureBoth captures one page pair. On success the sequence advances by 2;
// on any failure it is left untouched so the same numbers are retried.
func (c *Coordinator) CaptureBoth(ctx context.Context) (Report, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	op := c.begin(Roles)
	snap := c.snapshot(ctx)
	addrs := make(map[Role]string, 2)
	for _, role := range Roles {
		addr, err := c.resolve(op, snap, role)
		if err != nil {
			return c.finish(op, err)
		}
		addrs[role] = addr
	}

	op.start = c.seq.Peek()
	c.setState(StateCapturing)
	if op.mode == ModeSequential {
		return c.captureSequential(ctx, op, addrs)
	}
	return c.captureSynchronized(op, addrs)
}

// CaptureRole captures a single image with one camera and advances the
// sequence by 1 on success.
func (c *Coordinator) CaptureRole(ctx context.Context, role Role) (Report, error) {
	if !role.valid() {
		return Report{}, errors.Errorf("coordinator: invalid role %d", role)
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()

	op := c.begin([]Role{role})
	snap := c.snapshot(ctx)
	addr, err := c.resolve(op, snap, role)
	if err != nil {
		return c.finish(op, err)
	}

	op.start = c.seq.Peek()
	c.setState(StateCapturing)
	out := c.captureOne(op, role, addr, op.start)
	if !out.Success {
		return c.finish(op, &CaptureError{
			Kind:     KindCaptureProcessFailure,
			Role:     role,
			Identity: out.Identity,
			Address:  out.Address,
			Failed:   []Outcome{out},
			Hint:     hintRetry,
		})
	}
	c.commit(1)
	return c.finish(op, nil)
}

func (c *Coordinator) captureSynchronized(op *operation, addrs map[Role]string) (Report, error) {
	handles := make([]*Handle, 0, len(Roles))
	for _, role := range Roles {
		handles = append(handles, c.start(op, role, addrs[role], op.start+role.Offset()))
	}
	var failed []Outcome
	for i, role := range Roles {
		out := c.complete(op, role, handles[i], op.start+role.Offset())
		if !out.Success {
			failed = append(failed, out)
		}
	}
	switch len(failed) {
	case 0:
		c.commit(len(Roles))
		return c.finish(op, nil)
	case 1:
		return c.finish(op, &CaptureError{
			Kind:     KindPartialPairFailure,
			Role:     failed[0].Role,
			Identity: failed[0].Identity,
			Address:  failed[0].Address,
			Failed:   failed,
			Hint:     hintSequential,
		})
	default:
		return c.finish(op, &CaptureError{
			Kind:     KindCaptureProcessFailure,
			Role:     failed[0].Role,
			Identity: failed[0].Identity,
			Address:  failed[0].Address,
			Failed:   failed,
			Hint:     hintSequential,
		})
	}
}

func (c *Coordinator) captureSequential(ctx context.Context, op *operation, addrs map[Role]string) (Report, error) {
	first := c.captureOne(op, RolePrimary, addrs[RolePrimary], op.start+RolePrimary.Offset())
	if !first.Success {
		return c.finish(op, &CaptureError{
			Kind:     KindCaptureProcessFailure,
			Role:     RolePrimary,
			Identity: first.Identity,
			Address:  first.Address,
			Failed:   []Outcome{first},
			Hint:     hintRetry,
		})
	}

	if c.settle > 0 {
		c.sleep(c.settle)
	}

	addr := addrs[RoleSecondary]
	if c.VerifyIdentities() {
		snap := c.source.Snapshot(ctx)
		c.remember(snap)
		resolved, err := c.resolve(op, snap, RoleSecondary)
		if err != nil {
			return c.finish(op, err)
		}
		addr = resolved
	}

	second := c.captureOne(op, RoleSecondary, addr, op.start+RoleSecondary.Offset())
	if !second.Success {
		return c.finish(op, &CaptureError{
			Kind:     KindCaptureProcessFailure,
			Role:     RoleSecondary,
			Identity: second.Identity,
			Address:  second.Address,
			Failed:   []Outcome{second},
			Hint:     hintRetry,
		})
	}
	c.commit(len(Roles))
	return c.finish(op, nil)
}

type operation struct {
	id        string
	roles     []Role
	mode      Mode
	start     int
	startedAt time.Time
	outcomes  []Outcome
}

func (c *Coordinator) begin(roles []Role) *operation {
	op := &operation{
		id:        uuid.NewString(),
		roles:     roles,
		mode:      c.Mode(),
		start:     c.seq.Peek(),
		startedAt: c.now(),
	}
	c.setState(StateResolving)
	c.emit(Event{OperationID: op.id, Kind: EventOperationStarted, Mode: op.mode, Sequence: op.start})
	return op
}

func (c *Coordinator) finish(op *operation, err error) (Report, error) {
	report := Report{
		OperationID: op.id,
		Roles:       op.roles,
		Mode:        op.mode,
		Start:       op.start,
		Outcomes:    op.outcomes,
		StartedAt:   op.startedAt,
		FinishedAt:  c.now(),
	}
	if err != nil {
		report.State = StateFailed
		c.setState(StateFailed)
		// A failed operation may mean the bus re-enumerated.
		c.cacheValid = false
		ev := Event{OperationID: op.id, Kind: EventOperationFailed, Mode: op.mode, Sequence: c.seq.Peek(), ErrorKind: KindOf(err), Error: err.Error()}
		var ce *CaptureError
		if errors.As(err, &ce) {
			ev.Role, ev.Identity, ev.Address = ce.Role, ce.Identity, ce.Address
		}
		c.emit(ev)
		return report, err
	}
	report.State = StateCompleted
	c.setState(StateCompleted)
	c.emit(Event{OperationID: op.id, Kind: EventOperationCompleted, Mode: op.mode, Sequence: c.seq.Peek()})
	return report, nil
}

func (c *Coordinator) commit(count int) {
	c.seq.Next(count)
	c.mu.Lock()
	c.captured += count
	c.mu.Unlock()
}

func (c *Coordinator) setState(state OperationState) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

// snapshot returns the devices to resolve against. With verification off
// the previous snapshot is reused while the set of attached addresses stays
// the same.
func (c *Coordinator) snapshot(ctx context.Context) device.Snapshot {
	if c.VerifyIdentities() || !c.cacheValid {
		snap := c.source.Snapshot(ctx)
		c.remember(snap)
		return snap
	}
	addrs := c.source.DiscoverAddresses(ctx)
	if c.cache.SameAddresses(addrs) {
		log.Debug().Strs("addresses", addrs).Msg("reusing cached camera identities")
		return c.cache
	}
	snap := c.source.SnapshotOf(ctx, addrs)
	c.remember(snap)
	return snap
}

func (c *Coordinator) remember(snap device.Snapshot) {
	c.cache = snap
	c.cacheValid = snap.Len() > 0
}

func (c *Coordinator) resolve(op *operation, snap device.Snapshot, role Role) (string, error) {
	if snap.Len() == 0 {
		return "", &CaptureError{Kind: KindDiscoveryFailure, Hint: hintReconnect}
	}
	identity, bound := c.binding.Identity(role)
	addr, ok := c.binding.Resolve(role, snap)
	if !ok {
		hint := hintReconnect
		if !bound {
			hint = "bind a serial number to the " + role.String() + " camera"
		}
		return "", &CaptureError{
			Kind:      KindIdentityUnresolved,
			Role:      role,
			Identity:  identity,
			Available: snap.Addresses(),
			Hint:      hint,
		}
	}
	c.mu.Lock()
	prev, seen := c.lastAddr[role]
	c.lastAddr[role] = addr
	c.mu.Unlock()
	if seen && prev != addr {
		log.Warn().
			Str("role", role.String()).
			Str("serial", identity).
			Str("from", prev).
			Str("to", addr).
			Msg("camera port changed")
		c.emit(Event{
			OperationID:     op.id,
			Kind:            EventPortReassigned,
			Role:            role,
			Identity:        identity,
			Address:         addr,
			PreviousAddress: prev,
		})
	}
	return addr, nil
}

func (c *Coordinator) filename(number int) string {
	name := c.seq.Filename(number)
	if c.outputDir == "" {
		return name
	}
	return filepath.Join(c.outputDir, name)
}

func (c *Coordinator) start(op *operation, role Role, addr string, number int) *Handle {
	identity, _ := c.binding.Identity(role)
	file := c.filename(number)
	c.emit(Event{
		OperationID: op.id,
		Kind:        EventCaptureStarted,
		Role:        role,
		Identity:    identity,
		Address:     addr,
		Filename:    file,
		Sequence:    number,
	})
	return c.agent.Start(addr, file)
}

func (c *Coordinator) complete(op *operation, role Role, h *Handle, number int) Outcome {
	identity, _ := c.binding.Identity(role)
	status := h.Wait(c.captureTimeout)
	out := Outcome{
		Role:     role,
		Identity: identity,
		Address:  h.Address,
		Filename: h.Filename,
		Number:   number,
		Success:  status.Success(),
		ExitCode: status.Code,
		TimedOut: status.TimedOut,
		Err:      status.Err,
		Elapsed:  status.Elapsed,
	}
	op.outcomes = append(op.outcomes, out)

	ev := Event{
		OperationID: op.id,
		Kind:        EventCaptureSucceeded,
		Role:        role,
		Identity:    identity,
		Address:     h.Address,
		Filename:    h.Filename,
		ExitCode:    status.Code,
		TimedOut:    status.TimedOut,
		Elapsed:     status.Elapsed,
		Sequence:    number,
	}
	if !out.Success {
		ev.Kind = EventCaptureFailed
		ev.ErrorKind = KindCaptureProcessFailure
		ev.Error = out.describe()
	}
	c.emit(ev)
	return out
}

func (c *Coordinator) captureOne(op *operation, role Role, addr string, number int) Outcome {
	return c.complete(op, role, c.start(op, role, addr, number), number)
}

func (c *Coordinator) emit(ev Event) {
	if c.observer == nil {
		return
	}
	ev.ID = newEventID()
	if ev.Time.IsZero() {
		ev.Time = c.now()
	}
	c.observer.Notify(ev)
}
