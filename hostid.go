package scanrig

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// HostID returns a best-effort stable identifier of the scanning station,
// recorded with every session. It falls back to the hostname.
func HostID() string {
	if id := hardwareUUID(); id != "" {
		return id
	}
	name, _ := os.Hostname()
	return strings.TrimSpace(name)
}

// hardwareUUID uses system_profiler on macOS and /etc/machine-id or the DMI
// product uuid on Linux.
func hardwareUUID() string {
	switch runtime.GOOS {
	case "darwin":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		out, err := exec.CommandContext(ctx, "bash", "-c", "system_profiler SPHardwareDataType | awk '/Hardware UUID/ {print $3}'").Output()
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(out))
	case "linux":
		for _, path := range []string{"/etc/machine-id", "/sys/class/dmi/id/product_uuid"} {
			if id := readSystemFile(path); id != "" {
				return id
			}
		}
	}
	return ""
}

func readSystemFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
