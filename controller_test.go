package scanrig

import (
	"context"
	"testing"
	"time"

	"github.com/httprunner/scanrig/internal/device"
)

func newTestSession(t *testing.T, rig *fakeRig, events *EventLog) *Session {
	t.Helper()
	snap := device.NewRegistry(rig, device.Options{}).Snapshot(context.Background())
	// Discovery order is addr1 (SN-A), addr2 (SN-B); the operator picks SN-B.
	binding, err := BindFromSnapshot(snap, 1)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	session, err := NewSession(device.NewRegistry(rig, device.Options{}), NewAgent(rig), binding, SessionOptions{
		Name:  "test-book",
		Start: 11,
		Coordinator: CoordinatorOptions{
			Mode:             ModeSynchronized,
			VerifyIdentities: true,
			Observer:         events,
			Sleep:            func(time.Duration) {},
		},
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	return session
}

func TestSessionRequiresCompleteBinding(t *testing.T) {
	rig := newFakeRig("addr1", "SN-A")
	b := &Binding{}
	_ = b.Bind(RolePrimary, "SN-A")
	if _, err := NewSession(device.NewRegistry(rig, device.Options{}), NewAgent(rig), b, SessionOptions{}); err == nil {
		t.Fatal("session should require both roles bound")
	}
}

func TestSessionRunDispatchesUntilQuit(t *testing.T) {
	rig := newFakeRig("addr1", "SN-A", "addr2", "SN-B")
	events := &EventLog{}
	session := newTestSession(t, rig, events)

	intents := make(chan Intent, 8)
	intents <- Intent{Kind: IntentCaptureBoth}
	intents <- Intent{Kind: IntentToggleMode}
	intents <- Intent{Kind: IntentJump, Number: 21}
	intents <- Intent{Kind: IntentCapturePrimary}
	intents <- Intent{Kind: IntentQuit}
	intents <- Intent{Kind: IntentCaptureBoth}

	if err := session.Run(context.Background(), intents); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(intents) != 1 {
		t.Fatal("intents after quit must not be consumed")
	}

	starts := rig.startCalls()
	if len(starts) != 3 {
		t.Fatalf("expected 3 captures, got %d", len(starts))
	}
	if starts[0].filename != "img00010.jpg" && starts[1].filename != "img00010.jpg" {
		t.Fatalf("start number 11 should round down to 10: %+v", starts[:2])
	}
	if starts[2].filename != "img00020.jpg" || starts[2].serial != "SN-B" {
		t.Fatalf("primary single capture after jump mismatch: %+v", starts[2])
	}

	st := session.Status()
	if st.Mode != ModeSequential {
		t.Fatalf("mode should be sequential, got %s", st.Mode)
	}
	if st.NextImage != 21 || st.Captured != 3 {
		t.Fatalf("status mismatch: next=%d captured=%d", st.NextImage, st.Captured)
	}
	if st.Roles[RolePrimary].Identity != "SN-B" || st.Roles[RolePrimary].LastAddress != "addr2" {
		t.Fatalf("primary status mismatch: %+v", st.Roles[RolePrimary])
	}
	if st.State != StateCompleted || st.LastError != "" {
		t.Fatalf("last operation should be completed: %+v", st)
	}
}

func TestSessionRunSurvivesFailures(t *testing.T) {
	rig := newFakeRig("addr1", "SN-A", "addr2", "SN-B")
	rig.exitCodes["SN-A"] = 1
	session := newTestSession(t, rig, &EventLog{})

	intents := make(chan Intent, 4)
	intents <- Intent{Kind: IntentCaptureBoth}
	intents <- Intent{Kind: IntentCaptureBoth}
	close(intents)
	if err := session.Run(context.Background(), intents); err != nil {
		t.Fatalf("run: %v", err)
	}
	if n := len(rig.startCalls()); n != 4 {
		t.Fatalf("both attempts should run, got %d captures", n)
	}
	st := session.Status()
	if st.State != StateFailed || st.LastError == "" || st.NextImage != 10 {
		t.Fatalf("failed status mismatch: %+v", st)
	}
}

func TestDispatchRejectsNegativeJump(t *testing.T) {
	rig := newFakeRig("addr1", "SN-A", "addr2", "SN-B")
	session := newTestSession(t, rig, &EventLog{})
	if _, err := session.Dispatch(context.Background(), Intent{Kind: IntentJump, Number: -4}); err == nil {
		t.Fatal("negative jump should fail")
	}
	if _, err := session.Dispatch(context.Background(), Intent{Kind: IntentKind(99)}); err == nil {
		t.Fatal("unknown intent should fail")
	}
}

func TestDispatchIgnoresCanceledContext(t *testing.T) {
	rig := newFakeRig("addr1", "SN-A", "addr2", "SN-B")
	session := newTestSession(t, rig, &EventLog{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := session.Dispatch(ctx, Intent{Kind: IntentCaptureBoth}); err != nil {
		t.Fatalf("an accepted capture should complete despite cancellation: %v", err)
	}
}

func TestRunPipeline(t *testing.T) {
	rig := newFakeRig("addr1", "SN-A", "addr2", "SN-B")
	session := newTestSession(t, rig, &EventLog{})

	trigger := IntentSource{Name: "trigger", Run: func(ctx context.Context, out chan<- Intent) error {
		out <- Intent{Kind: IntentCaptureBoth, Source: "test"}
		out <- Intent{Kind: IntentCaptureBoth, Source: "test"}
		out <- Intent{Kind: IntentQuit, Source: "test"}
		return nil
	}}
	blocked := IntentSource{Name: "stuck", Run: func(ctx context.Context, out chan<- Intent) error {
		<-ctx.Done()
		return nil
	}}

	done := make(chan error, 1)
	go func() {
		done <- RunPipeline(context.Background(), session, 100*time.Millisecond, trigger, blocked)
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("pipeline: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not stop after quit")
	}
	if st := session.Status(); st.Captured != 4 || st.NextImage != 14 {
		t.Fatalf("status mismatch: %+v", st)
	}
}

func TestRunPipelineRestartsPanickingSource(t *testing.T) {
	rig := newFakeRig("addr1", "SN-A", "addr2", "SN-B")
	session := newTestSession(t, rig, &EventLog{})

	attempts := 0
	flaky := IntentSource{Name: "flaky", Run: func(ctx context.Context, out chan<- Intent) error {
		attempts++
		if attempts == 1 {
			panic("reader exploded")
		}
		out <- Intent{Kind: IntentQuit}
		return nil
	}}
	if err := RunPipeline(context.Background(), session, time.Second, flaky); err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("source should be restarted once, attempts=%d", attempts)
	}
}
