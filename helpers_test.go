package scanrig

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/httprunner/scanrig/internal/device"
)

type fakeProcess struct {
	code   int
	err    error
	delay  time.Duration
	killed chan struct{}
	once   sync.Once
}

func newFakeProcess(code int, delay time.Duration) *fakeProcess {
	return &fakeProcess{code: code, delay: delay, killed: make(chan struct{})}
}

func (p *fakeProcess) Wait() (int, error) {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-p.killed:
			return -1, errors.New("signal: killed")
		}
	}
	return p.code, p.err
}

func (p *fakeProcess) Kill() error {
	p.once.Do(func() { close(p.killed) })
	return nil
}

type startCall struct {
	address  string
	filename string
	serial   string
}

// fakeRig emulates cameras attached at changing addresses.
type fakeRig struct {
	mu        sync.Mutex
	addrs     []string
	serials   map[string]string // address -> serial
	exitCodes map[string]int    // serial -> exit code
	launchErr map[string]error  // serial -> launch error
	delay     time.Duration

	listCalls     int
	identifyCalls int
	starts        []startCall
}

func newFakeRig(pairs ...string) *fakeRig {
	r := &fakeRig{exitCodes: map[string]int{}, launchErr: map[string]error{}}
	r.attach(pairs...)
	return r
}

// attach replaces the attached devices with address/serial pairs.
func (r *fakeRig) attach(pairs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addrs = nil
	r.serials = map[string]string{}
	for i := 0; i+1 < len(pairs); i += 2 {
		r.addrs = append(r.addrs, pairs[i])
		r.serials[pairs[i]] = pairs[i+1]
	}
}

func (r *fakeRig) ListAddresses(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listCalls++
	return append([]string(nil), r.addrs...), nil
}

func (r *fakeRig) Identify(ctx context.Context, address string) (device.Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.identifyCalls++
	serial, ok := r.serials[address]
	if !ok {
		return device.Info{}, errors.New("no camera at " + address)
	}
	return device.Info{Address: address, Serial: serial, Model: "Test Cam"}, nil
}

func (r *fakeRig) StartCapture(address, filename string) (device.Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	serial := r.serials[address]
	r.starts = append(r.starts, startCall{address: address, filename: filename, serial: serial})
	if err := r.launchErr[serial]; err != nil {
		return nil, err
	}
	return newFakeProcess(r.exitCodes[serial], r.delay), nil
}

func (r *fakeRig) startCalls() []startCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]startCall(nil), r.starts...)
}

func (r *fakeRig) counts() (list, identify int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listCalls, r.identifyCalls
}

type coordinatorFixture struct {
	rig    *fakeRig
	coord  *Coordinator
	seq    *Sequence
	events *EventLog
	sleeps []time.Duration
}

// newFixture binds Primary to SN-B and Secondary to SN-A.
func newFixture(t *testing.T, rig *fakeRig, opts CoordinatorOptions) *coordinatorFixture {
	t.Helper()
	f := &coordinatorFixture{rig: rig, events: &EventLog{}}
	binding := &Binding{}
	if err := binding.Bind(RolePrimary, "SN-B"); err != nil {
		t.Fatalf("bind primary: %v", err)
	}
	if err := binding.Bind(RoleSecondary, "SN-A"); err != nil {
		t.Fatalf("bind secondary: %v", err)
	}
	f.seq = NewSequence("")
	opts.Observer = f.events
	opts.Sleep = func(d time.Duration) { f.sleeps = append(f.sleeps, d) }
	registry := device.NewRegistry(rig, device.Options{IdentifyTimeout: time.Second})
	coord, err := NewCoordinator(registry, NewAgent(rig), binding, f.seq, opts)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	f.coord = coord
	return f
}

func countKind(events []Event, kind EventKind) int {
	n := 0
	for _, ev := range events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}
