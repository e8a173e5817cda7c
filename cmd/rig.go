package main

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/httprunner/scanrig"
	"github.com/httprunner/scanrig/internal/config"
	"github.com/httprunner/scanrig/internal/device"
	"github.com/httprunner/scanrig/internal/providers/gphoto"
)

// rig bundles the pieces every command needs.
type rig struct {
	cfg      config.Rig
	provider *gphoto.Provider
	registry *device.Registry
	agent    *scanrig.Agent
}

func loadRig(ctx context.Context, modeFlag string) (*rig, error) {
	cfg, err := config.Load(rootConfigPath)
	if err != nil {
		return nil, err
	}
	if m := strings.TrimSpace(modeFlag); m != "" {
		cfg.Mode = strings.ToLower(m)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	provider := gphoto.New(gphoto.Options{
		Tool:            cfg.Tool,
		DiscoverTimeout: cfg.DiscoverTimeout,
	})
	if cfg.ReleaseHolders {
		provider.ReleaseHolders(ctx)
	}
	registry := device.NewRegistry(provider, device.Options{IdentifyTimeout: cfg.IdentifyTimeout})
	log.Debug().
		Str("tool", provider.Tool()).
		Str("captures_dir", cfg.CapturesDir).
		Str("mode", cfg.Mode).
		Bool("verify_identities", cfg.VerifyIdentities).
		Msg("rig configured")
	return &rig{
		cfg:      cfg,
		provider: provider,
		registry: registry,
		agent:    scanrig.NewAgent(provider),
	}, nil
}

// battery returns the battery level of address, or nil when unknown.
func (r *rig) battery(ctx context.Context, address string) *int {
	pct, err := r.provider.BatteryLevel(ctx, address)
	if err != nil {
		log.Debug().Err(err).Str("address", address).Msg("battery level unavailable")
		return nil
	}
	return &pct
}
