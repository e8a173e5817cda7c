package device

import (
	"strings"
	"time"
)

// Snapshot maps the addresses seen during one discovery to their identities.
// It is only valid for the instant it was taken.
type Snapshot struct {
	TakenAt time.Time

	discovered []string
	order      []string
	byAddr     map[string]Info
}

// NewSnapshot builds a snapshot from discovered addresses and the subset that
// identified successfully. infos keep their discovery order.
func NewSnapshot(takenAt time.Time, discovered []string, infos []Info) Snapshot {
	snap := Snapshot{
		TakenAt:    takenAt,
		discovered: append([]string(nil), discovered...),
		order:      make([]string, 0, len(infos)),
		byAddr:     make(map[string]Info, len(infos)),
	}
	for _, info := range infos {
		addr := strings.TrimSpace(info.Address)
		if addr == "" || strings.TrimSpace(info.Serial) == "" {
			continue
		}
		if _, dup := snap.byAddr[addr]; dup {
			continue
		}
		info.Address = addr
		info.Serial = strings.TrimSpace(info.Serial)
		snap.order = append(snap.order, addr)
		snap.byAddr[addr] = info
	}
	return snap
}

// Len returns the number of identified devices.
func (s Snapshot) Len() int {
	return len(s.order)
}

// Addresses returns the identified addresses in discovery order.
func (s Snapshot) Addresses() []string {
	return append([]string(nil), s.order...)
}

// Discovered returns every address seen, identified or not.
func (s Snapshot) Discovered() []string {
	return append([]string(nil), s.discovered...)
}

// Devices returns the identified devices in discovery order.
func (s Snapshot) Devices() []Info {
	out := make([]Info, 0, len(s.order))
	for _, addr := range s.order {
		out = append(out, s.byAddr[addr])
	}
	return out
}

// Info returns the device identified at address.
func (s Snapshot) Info(address string) (Info, bool) {
	info, ok := s.byAddr[address]
	return info, ok
}

// Identity returns the serial reported at address.
func (s Snapshot) Identity(address string) (string, bool) {
	info, ok := s.byAddr[address]
	return info.Serial, ok
}

// Lookup returns the address currently holding identity. An identity reported
// by more than one address is ambiguous and resolves to nothing.
func (s Snapshot) Lookup(identity string) (string, bool) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return "", false
	}
	found := ""
	for _, addr := range s.order {
		if s.byAddr[addr].Serial != identity {
			continue
		}
		if found != "" {
			return "", false
		}
		found = addr
	}
	return found, found != ""
}

// SameAddresses reports whether addrs is exactly the set discovered when the
// snapshot was taken.
func (s Snapshot) SameAddresses(addrs []string) bool {
	if len(s.discovered) == 0 {
		return false
	}
	want := make(map[string]struct{}, len(s.discovered))
	for _, a := range s.discovered {
		want[a] = struct{}{}
	}
	got := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		if _, ok := want[a]; !ok {
			return false
		}
		got[a] = struct{}{}
	}
	return len(got) == len(want)
}
