package scanrig

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorKind classifies why a capture operation failed.
type ErrorKind string

const (
	KindDiscoveryFailure      ErrorKind = "discovery_failure"
	KindIdentityUnresolved    ErrorKind = "identity_unresolved"
	KindCaptureProcessFailure ErrorKind = "capture_process_failure"
	KindPartialPairFailure    ErrorKind = "partial_pair_failure"
)

var (
	ErrDiscoveryFailure      = errors.New("no cameras detected")
	ErrIdentityUnresolved    = errors.New("camera identity unresolved")
	ErrCaptureProcessFailure = errors.New("capture process failed")
	ErrPartialPairFailure    = errors.New("only one camera of the pair captured")
)

const (
	hintSequential = "switch to sequential mode"
	hintReconnect  = "check the camera is powered on and connected, then retry"
	hintRetry      = "retry the shot, the same image numbers will be reused"
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindDiscoveryFailure:
		return ErrDiscoveryFailure
	case KindIdentityUnresolved:
		return ErrIdentityUnresolved
	case KindCaptureProcessFailure:
		return ErrCaptureProcessFailure
	case KindPartialPairFailure:
		return ErrPartialPairFailure
	}
	return nil
}

// CaptureError is returned for every failed operation. It unwraps to the
// sentinel of its Kind.
type CaptureError struct {
	Kind ErrorKind
	// Role, Identity and Address name the camera at fault for unresolved
	// identities and single-device failures.
	Role     Role
	Identity string
	Address  string
	// Available lists the addresses identified when resolution failed.
	Available []string
	// Failed holds the unsuccessful outcomes of a capture.
	Failed []Outcome
	Hint   string
}

func (e *CaptureError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.sentinel().Error())
	switch e.Kind {
	case KindDiscoveryFailure:
	case KindIdentityUnresolved:
		fmt.Fprintf(&b, ": %s camera %s not found", e.Role, e.Identity)
		if len(e.Available) > 0 {
			fmt.Fprintf(&b, " (available: %s)", strings.Join(e.Available, ", "))
		} else {
			b.WriteString(" (no cameras identified)")
		}
	default:
		parts := make([]string, 0, len(e.Failed))
		for _, o := range e.Failed {
			parts = append(parts, o.describe())
		}
		if len(parts) > 0 {
			b.WriteString(": ")
			b.WriteString(strings.Join(parts, "; "))
		}
	}
	if e.Hint != "" {
		b.WriteString(" (hint: ")
		b.WriteString(e.Hint)
		b.WriteString(")")
	}
	return b.String()
}

func (e *CaptureError) Unwrap() error {
	return e.Kind.sentinel()
}

// KindOf extracts the failure kind of err, or "" when err is not a
// *CaptureError.
func KindOf(err error) ErrorKind {
	var ce *CaptureError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}
