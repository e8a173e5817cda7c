package device

import (
	"context"
	"strings"
)

// Info describes one camera as reported by the capture tool.
type Info struct {
	Address      string
	Serial       string
	Model        string
	Manufacturer string
}

// Label returns a short human readable description.
func (i Info) Label() string {
	name := strings.TrimSpace(strings.TrimSpace(i.Manufacturer) + " " + strings.TrimSpace(i.Model))
	if name == "" {
		return i.Serial
	}
	return name + " (" + i.Serial + ")"
}

// Process is one running capture started by a Provider.
type Process interface {
	// Wait blocks until the process exits. err is nil when the process ran to
	// completion, whatever its exit code.
	Wait() (exitCode int, err error)
	Kill() error
}

// Provider abstracts the external capture tool.
type Provider interface {
	// ListAddresses returns the connection addresses currently attached.
	ListAddresses(ctx context.Context) ([]string, error)
	// Identify asks the device at address for its hardware identity.
	Identify(ctx context.Context, address string) (Info, error)
	// StartCapture launches one capture to filename and returns immediately.
	StartCapture(address, filename string) (Process, error)
}
