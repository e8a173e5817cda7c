package scanrig

import (
	"testing"
	"time"

	"github.com/httprunner/scanrig/internal/device"
)

func TestBindingBindRules(t *testing.T) {
	b := &Binding{}
	if err := b.Bind(RolePrimary, " "); err == nil {
		t.Fatal("empty identity should be rejected")
	}
	if err := b.Bind(RoleNone, "SN-A"); err == nil {
		t.Fatal("invalid role should be rejected")
	}
	if err := b.Bind(RolePrimary, "SN-A"); err != nil {
		t.Fatalf("bind primary: %v", err)
	}
	if err := b.Bind(RolePrimary, "SN-C"); err == nil {
		t.Fatal("rebinding a role should be rejected")
	}
	if err := b.Bind(RoleSecondary, "SN-A"); err == nil {
		t.Fatal("same identity for both roles should be rejected")
	}
	if b.Complete() {
		t.Fatal("binding should not be complete yet")
	}
	if err := b.Bind(RoleSecondary, "SN-B"); err != nil {
		t.Fatalf("bind secondary: %v", err)
	}
	if !b.Complete() {
		t.Fatal("binding should be complete")
	}
	if id, ok := b.Identity(RolePrimary); !ok || id != "SN-A" {
		t.Fatalf("primary identity mismatch: %s", id)
	}
}

func TestBindingResolve(t *testing.T) {
	b := &Binding{}
	_ = b.Bind(RolePrimary, "SN-B")
	_ = b.Bind(RoleSecondary, "SN-A")

	snap := device.NewSnapshot(time.Now(), []string{"addr1", "addr2"}, []device.Info{
		{Address: "addr1", Serial: "SN-A"},
		{Address: "addr2", Serial: "SN-B"},
	})
	if addr, ok := b.Resolve(RolePrimary, snap); !ok || addr != "addr2" {
		t.Fatalf("primary should resolve to addr2, got %s %v", addr, ok)
	}
	if addr, ok := b.Resolve(RoleSecondary, snap); !ok || addr != "addr1" {
		t.Fatalf("secondary should resolve to addr1, got %s %v", addr, ok)
	}

	partial := device.NewSnapshot(time.Now(), []string{"addr1"}, []device.Info{{Address: "addr1", Serial: "SN-A"}})
	if _, ok := b.Resolve(RolePrimary, partial); ok {
		t.Fatal("absent identity should not resolve")
	}
}

func TestBindFromSnapshot(t *testing.T) {
	snap := device.NewSnapshot(time.Now(), []string{"addr1", "addr2"}, []device.Info{
		{Address: "addr1", Serial: "SN-A"},
		{Address: "addr2", Serial: "SN-B"},
	})
	b, err := BindFromSnapshot(snap, 1)
	if err != nil {
		t.Fatalf("bind from snapshot: %v", err)
	}
	if id, _ := b.Identity(RolePrimary); id != "SN-B" {
		t.Fatalf("primary should be the chosen camera, got %s", id)
	}
	if id, _ := b.Identity(RoleSecondary); id != "SN-A" {
		t.Fatalf("secondary should be the other camera, got %s", id)
	}
	if _, err := BindFromSnapshot(snap, 2); err == nil {
		t.Fatal("out of range index should fail")
	}

	one := device.NewSnapshot(time.Now(), []string{"addr1"}, []device.Info{{Address: "addr1", Serial: "SN-A"}})
	if _, err := BindFromSnapshot(one, 0); err == nil {
		t.Fatal("a single camera cannot be bound")
	}
}

func TestParseRole(t *testing.T) {
	for in, want := range map[string]Role{"left": RolePrimary, "Primary": RolePrimary, "r": RoleSecondary, "secondary": RoleSecondary} {
		got, err := ParseRole(in)
		if err != nil || got != want {
			t.Fatalf("ParseRole(%q) = %s, %v", in, got, err)
		}
	}
	if _, err := ParseRole("middle"); err == nil {
		t.Fatal("unknown role should fail")
	}
	if RolePrimary.Offset() != 0 || RoleSecondary.Offset() != 1 {
		t.Fatal("primary must take the even slot and secondary the odd slot")
	}
}
