package scanrig

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/httprunner/scanrig/internal/device"
)

// Role is the logical position of a camera on the rig.
type Role int

const (
	RoleNone Role = iota
	// RolePrimary shoots the left-hand page.
	RolePrimary
	// RoleSecondary shoots the right-hand page.
	RoleSecondary
)

// Roles lists the capture order of a pair.
var Roles = []Role{RolePrimary, RoleSecondary}

func (r Role) String() string {
	switch r {
	case RolePrimary:
		return "primary"
	case RoleSecondary:
		return "secondary"
	}
	return "none"
}

// Offset is the role's position inside an image pair.
func (r Role) Offset() int {
	if r == RoleSecondary {
		return 1
	}
	return 0
}

// Other returns the opposite role of a pair.
func (r Role) Other() Role {
	switch r {
	case RolePrimary:
		return RoleSecondary
	case RoleSecondary:
		return RolePrimary
	}
	return RoleNone
}

func (r Role) valid() bool {
	return r == RolePrimary || r == RoleSecondary
}

// ParseRole accepts primary/left and secondary/right.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "primary", "left", "l":
		return RolePrimary, nil
	case "secondary", "right", "r":
		return RoleSecondary, nil
	}
	return RoleNone, errors.Errorf("unknown role %q", s)
}

// Binding pins each role to a hardware identity for the whole session.
type Binding struct {
	identities [2]string
}

// Bind assigns identity to role. A role can only be bound once and both
// roles must hold different identities.
func (b *Binding) Bind(role Role, identity string) error {
	if !role.valid() {
		return errors.Errorf("binding: invalid role %d", role)
	}
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return errors.Errorf("binding: empty identity for %s", role)
	}
	if current := b.identities[role-1]; current != "" {
		return errors.Errorf("binding: %s already bound to %s", role, current)
	}
	if other := b.identities[role.Other()-1]; other == identity {
		return errors.Errorf("binding: %s already bound to %s", role.Other(), identity)
	}
	b.identities[role-1] = identity
	return nil
}

// Identity returns the identity bound to role.
func (b *Binding) Identity(role Role) (string, bool) {
	if b == nil || !role.valid() {
		return "", false
	}
	id := b.identities[role-1]
	return id, id != ""
}

// Complete reports whether both roles are bound.
func (b *Binding) Complete() bool {
	_, p := b.Identity(RolePrimary)
	_, s := b.Identity(RoleSecondary)
	return p && s
}

// Resolve finds the address holding role's identity in snap. There is no
// fallback to an address seen earlier.
func (b *Binding) Resolve(role Role, snap device.Snapshot) (string, bool) {
	id, ok := b.Identity(role)
	if !ok {
		return "", false
	}
	return snap.Lookup(id)
}

// BindFromSnapshot binds the operator's chosen camera as Primary and the other
// one as Secondary. primaryIndex indexes snap's discovery order and the
// snapshot must hold exactly two cameras.
func BindFromSnapshot(snap device.Snapshot, primaryIndex int) (*Binding, error) {
	devices := snap.Devices()
	if len(devices) != 2 {
		return nil, errors.Errorf("binding: need exactly 2 identified cameras, found %d", len(devices))
	}
	if primaryIndex < 0 || primaryIndex > 1 {
		return nil, errors.Errorf("binding: primary index %d out of range", primaryIndex)
	}
	b := &Binding{}
	if err := b.Bind(RolePrimary, devices[primaryIndex].Serial); err != nil {
		return nil, err
	}
	if err := b.Bind(RoleSecondary, devices[1-primaryIndex].Serial); err != nil {
		return nil, err
	}
	return b, nil
}
