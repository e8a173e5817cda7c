package scanrig

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// SessionOptions configures a capture session.
type SessionOptions struct {
	Name            string
	FilenamePattern string
	// Start is the first image number; it is rounded down to even.
	Start       int
	Coordinator CoordinatorOptions
}

// Session owns the state of one scanning session: the role bindings, the
// image sequence and the coordinator flags.
type Session struct {
	name      string
	startedAt time.Time
	binding   *Binding
	seq       *Sequence
	coord     *Coordinator

	mu      sync.Mutex
	lastErr error
	lastRep Report
}

// NewSession builds a session over a complete binding.
func NewSession(source SnapshotSource, agent *Agent, binding *Binding, opts SessionOptions) (*Session, error) {
	if binding == nil || !binding.Complete() {
		return nil, errors.New("session: both cameras must be bound")
	}
	seq := NewSequence(opts.FilenamePattern)
	if opts.Start != 0 {
		if _, err := seq.Override(opts.Start); err != nil {
			return nil, errors.Wrap(err, "session: start number")
		}
	}
	coord, err := NewCoordinator(source, agent, binding, seq, opts.Coordinator)
	if err != nil {
		return nil, err
	}
	now := time.Now
	if opts.Coordinator.Clock != nil {
		now = opts.Coordinator.Clock
	}
	return &Session{
		name:      opts.Name,
		startedAt: now(),
		binding:   binding,
		seq:       seq,
		coord:     coord,
	}, nil
}

// Coordinator exposes the session's coordinator.
func (s *Session) Coordinator() *Coordinator {
	return s.coord
}

// RoleStatus is the view of one bound camera.
type RoleStatus struct {
	Identity    string
	LastAddress string
}

// Status is an immutable copy of the session state.
type Status struct {
	Name      string
	StartedAt time.Time
	Mode      Mode
	Verify    bool
	State     OperationState
	NextImage int
	Captured  int
	Roles     map[Role]RoleStatus
	LastError string
	LastOp    string
}

// Status returns a copy of the current session state.
func (s *Session) Status() Status {
	st := Status{
		Name:      s.name,
		StartedAt: s.startedAt,
		Mode:      s.coord.Mode(),
		Verify:    s.coord.VerifyIdentities(),
		State:     s.coord.State(),
		NextImage: s.seq.Peek(),
		Captured:  s.coord.Captured(),
		Roles:     make(map[Role]RoleStatus, len(Roles)),
	}
	for _, role := range Roles {
		id, _ := s.binding.Identity(role)
		st.Roles[role] = RoleStatus{Identity: id, LastAddress: s.coord.LastAddress(role)}
	}
	s.mu.Lock()
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	st.LastOp = s.lastRep.OperationID
	s.mu.Unlock()
	return st
}

func (s *Session) record(rep Report, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRep = rep
	s.lastErr = err
}
