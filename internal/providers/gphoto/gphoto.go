package gphoto

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/httprunner/scanrig/internal/device"
)

const (
	DefaultTool            = "gphoto2"
	DefaultDiscoverTimeout = 5 * time.Second
	batteryConfigKey       = "/main/status/batterylevel"
)

// holders are processes known to claim PTP cameras before gphoto2 can.
var holders = []string{
	"PTPCamera",
	"gvfs-gphoto2-volume-monitor",
	"gvfs-mtp-volume-monitor",
	"gvfsd-gphoto2",
}

// Options tunes a Provider.
type Options struct {
	Tool            string
	DiscoverTimeout time.Duration
	Runner          CommandRunner
	// ReleasePause is how long ReleaseHolders waits after killing holders.
	ReleasePause time.Duration
}

// Provider implements device.Provider over the gphoto2 command line.
type Provider struct {
	tool            string
	discoverTimeout time.Duration
	runner          CommandRunner
	releasePause    time.Duration
}

var _ device.Provider = (*Provider)(nil)

// New creates a Provider.
func New(opts Options) *Provider {
	tool := strings.TrimSpace(opts.Tool)
	if tool == "" {
		tool = DefaultTool
	}
	timeout := opts.DiscoverTimeout
	if timeout <= 0 {
		timeout = DefaultDiscoverTimeout
	}
	runner := opts.Runner
	if runner == nil {
		runner = ExecRunner{}
	}
	pause := opts.ReleasePause
	if pause <= 0 {
		pause = 500 * time.Millisecond
	}
	return &Provider{tool: tool, discoverTimeout: timeout, runner: runner, releasePause: pause}
}

// Tool returns the executable the provider invokes.
func (p *Provider) Tool() string {
	return p.tool
}

// ListAddresses runs --auto-detect.
func (p *Provider) ListAddresses(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.discoverTimeout)
	defer cancel()
	stdout, stderr, code, err := p.runner.Run(ctx, p.tool, "--auto-detect")
	if err != nil {
		return nil, errors.Wrapf(err, "gphoto: auto-detect exited %d: %s", code, strings.TrimSpace(string(stderr)))
	}
	return ParseAddresses(string(stdout)), nil
}

// Identify runs --summary against one port.
func (p *Provider) Identify(ctx context.Context, address string) (device.Info, error) {
	stdout, stderr, code, err := p.runner.Run(ctx, p.tool, "--port", address, "--summary")
	if err != nil {
		return device.Info{}, errors.Wrapf(err, "gphoto: summary on %s exited %d: %s", address, code, strings.TrimSpace(string(stderr)))
	}
	info := ParseSummary(string(stdout))
	if info.Serial == "" {
		return device.Info{}, errors.Errorf("gphoto: no serial number in summary for %s", address)
	}
	info.Address = address
	return info, nil
}

// StartCapture launches a capture-and-download into filename, replacing any
// existing file.
func (p *Provider) StartCapture(address, filename string) (device.Process, error) {
	cmd := exec.Command(p.tool,
		"--capture-image-and-download",
		"--force-overwrite",
		"--port", address,
		"--filename", filename,
	)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "gphoto: start capture on %s", address)
	}
	return &process{cmd: cmd, stderr: stderr}, nil
}

// BatteryLevel reads the battery percentage reported by the camera.
func (p *Provider) BatteryLevel(ctx context.Context, address string) (int, error) {
	stdout, stderr, code, err := p.runner.Run(ctx, p.tool, "--port="+address, "--get-config", batteryConfigKey)
	if err != nil {
		return 0, errors.Wrapf(err, "gphoto: battery on %s exited %d: %s", address, code, strings.TrimSpace(string(stderr)))
	}
	pct, ok := ParseBattery(string(stdout))
	if !ok {
		return 0, errors.Errorf("gphoto: unrecognized battery level for %s", address)
	}
	return pct, nil
}

// ReleaseHolders stops desktop services that grab cameras on hot plug. It is
// best effort; processes that are not running are ignored.
func (p *Provider) ReleaseHolders(ctx context.Context) {
	killed := 0
	for _, name := range holders {
		_, _, code, err := p.runner.Run(ctx, "killall", name)
		if err == nil && code == 0 {
			killed++
			log.Info().Str("process", name).Msg("released camera holder")
		}
	}
	if killed == 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(p.releasePause):
	}
}
