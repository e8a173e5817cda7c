package scanrig

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/httprunner/scanrig/internal/device"
)

// ExitStatus is how one capture process ended.
type ExitStatus struct {
	Code     int
	TimedOut bool
	// Err is set when the process could not be launched or did not exit
	// normally.
	Err     error
	Elapsed time.Duration
}

// Success reports a clean exit with status 0.
func (s ExitStatus) Success() bool {
	return s.Err == nil && !s.TimedOut && s.Code == 0
}

// Agent launches capture processes through a device provider.
type Agent struct {
	provider device.Provider
	now      func() time.Time
}

// NewAgent builds an Agent.
func NewAgent(provider device.Provider) *Agent {
	return &Agent{provider: provider, now: time.Now}
}

// Handle tracks one in-flight capture.
type Handle struct {
	Address  string
	Filename string

	proc    device.Process
	started time.Time
	now     func() time.Time

	done     chan struct{}
	code     int
	err      error
	finished time.Time

	waitOnce sync.Once
	status   ExitStatus
}

// Start launches a capture of address into filename and returns without
// waiting. A launch failure is reported by Wait.
func (a *Agent) Start(address, filename string) *Handle {
	h := &Handle{
		Address:  address,
		Filename: filename,
		started:  a.now(),
		now:      a.now,
		done:     make(chan struct{}),
	}
	if a.provider == nil {
		h.fail(errors.New("capture: no device provider"))
		return h
	}
	proc, err := a.provider.StartCapture(address, filename)
	if err != nil {
		h.fail(errors.Wrapf(err, "capture: launch on %s", address))
		return h
	}
	h.proc = proc
	go func() {
		h.code, h.err = proc.Wait()
		h.finished = a.now()
		close(h.done)
	}()
	return h
}

func (h *Handle) fail(err error) {
	h.code = -1
	h.err = err
	h.finished = h.started
	close(h.done)
}

// Wait blocks until the capture exits. A positive timeout kills the process
// once it elapses; zero or negative waits for the tool to give up by itself.
// Wait may be called more than once.
func (h *Handle) Wait(timeout time.Duration) ExitStatus {
	h.waitOnce.Do(func() {
		timedOut := false
		if timeout > 0 {
			timer := time.NewTimer(timeout)
			select {
			case <-h.done:
			case <-timer.C:
				timedOut = true
				if h.proc != nil {
					_ = h.proc.Kill()
				}
				<-h.done
			}
			timer.Stop()
		} else {
			<-h.done
		}
		h.status = ExitStatus{
			Code:     h.code,
			TimedOut: timedOut,
			Err:      h.err,
			Elapsed:  h.finished.Sub(h.started),
		}
		if timedOut {
			h.status.Err = errors.Errorf("capture: timed out after %s", timeout)
		}
	})
	return h.status
}
