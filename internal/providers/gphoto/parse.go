package gphoto

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/httprunner/scanrig/internal/device"
)

var (
	portPattern         = regexp.MustCompile(`usb:\d*,\d*`)
	serialPattern       = regexp.MustCompile(`(?m)^\s*Serial Number:\s*(.+?)\s*$`)
	modelPattern        = regexp.MustCompile(`(?m)^\s*Model:\s*(.+?)\s*$`)
	manufacturerPattern = regexp.MustCompile(`(?m)^\s*Manufacturer:\s*(.+?)\s*$`)
	batteryPattern      = regexp.MustCompile(`(?m)^\s*Current:\s*(\S+)`)
)

// batteryWords maps the text levels some bodies report to percentages.
var batteryWords = map[string]int{
	"low":  20,
	"half": 50,
	"high": 80,
	"full": 100,
}

// ParseAddresses extracts the USB ports listed by --auto-detect.
func ParseAddresses(out string) []string {
	matches := portPattern.FindAllString(out, -1)
	seen := make(map[string]struct{}, len(matches))
	addrs := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		addrs = append(addrs, m)
	}
	return addrs
}

// ParseSummary reads the identity fields of a --summary listing.
func ParseSummary(out string) device.Info {
	return device.Info{
		Serial:       firstGroup(serialPattern, out),
		Model:        firstGroup(modelPattern, out),
		Manufacturer: firstGroup(manufacturerPattern, out),
	}
}

// ParseBattery reads the batterylevel config value as a percentage.
func ParseBattery(out string) (int, bool) {
	raw := firstGroup(batteryPattern, out)
	if raw == "" {
		return 0, false
	}
	if pct, err := strconv.Atoi(strings.TrimSuffix(raw, "%")); err == nil {
		return pct, true
	}
	pct, ok := batteryWords[strings.ToLower(raw)]
	return pct, ok
}

func firstGroup(re *regexp.Regexp, out string) string {
	m := re.FindStringSubmatch(out)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}
