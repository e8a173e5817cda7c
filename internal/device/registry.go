package device

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const DefaultIdentifyTimeout = 3 * time.Second

// Options tunes a Registry.
type Options struct {
	// IdentifyTimeout bounds every identify call.
	IdentifyTimeout time.Duration
	// MaxParallel caps concurrent identify calls; zero means one per address.
	MaxParallel int
	Clock       func() time.Time
}

// Registry discovers attached cameras and resolves their identities.
type Registry struct {
	provider        Provider
	identifyTimeout time.Duration
	maxParallel     int
	now             func() time.Time
}

// NewRegistry builds a registry over provider.
func NewRegistry(provider Provider, opts Options) *Registry {
	timeout := opts.IdentifyTimeout
	if timeout <= 0 {
		timeout = DefaultIdentifyTimeout
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Registry{
		provider:        provider,
		identifyTimeout: timeout,
		maxParallel:     opts.MaxParallel,
		now:             now,
	}
}

// DiscoverAddresses lists attached addresses. A failing discovery is logged
// and reported as no devices.
func (r *Registry) DiscoverAddresses(ctx context.Context) []string {
	if r == nil || r.provider == nil {
		return nil
	}
	addrs, err := r.provider.ListAddresses(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("device discovery failed")
		return nil
	}
	seen := make(map[string]struct{}, len(addrs))
	result := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		result = append(result, addr)
	}
	return result
}

// Identify queries one address, giving up after the identify timeout. It
// never fails: any error, timeout or empty serial yields ok=false.
func (r *Registry) Identify(ctx context.Context, address string) (Info, bool) {
	if r == nil || r.provider == nil {
		return Info{}, false
	}
	ctx, cancel := context.WithTimeout(ctx, r.identifyTimeout)
	defer cancel()

	type result struct {
		info Info
		err  error
	}
	done := make(chan result, 1)
	go func() {
		info, err := r.provider.Identify(ctx, address)
		done <- result{info: info, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			log.Debug().Err(res.err).Str("address", address).Msg("identify device failed")
			return Info{}, false
		}
		if strings.TrimSpace(res.info.Serial) == "" {
			log.Debug().Str("address", address).Msg("device reported no serial")
			return Info{}, false
		}
		res.info.Address = address
		res.info.Serial = strings.TrimSpace(res.info.Serial)
		return res.info, true
	case <-ctx.Done():
		log.Debug().Str("address", address).Dur("timeout", r.identifyTimeout).Msg("identify device timed out")
		return Info{}, false
	}
}

// Snapshot discovers addresses and identifies all of them concurrently.
func (r *Registry) Snapshot(ctx context.Context) Snapshot {
	return r.SnapshotOf(ctx, r.DiscoverAddresses(ctx))
}

// SnapshotOf identifies the given addresses concurrently. Addresses that fail
// to identify are left out of the snapshot.
func (r *Registry) SnapshotOf(ctx context.Context, addrs []string) Snapshot {
	takenAt := r.now()
	if len(addrs) == 0 {
		return NewSnapshot(takenAt, nil, nil)
	}
	limit := len(addrs)
	if r.maxParallel > 0 && r.maxParallel < limit {
		limit = r.maxParallel
	}

	results := make([]Info, len(addrs))
	identified := make([]bool, len(addrs))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, addr := range addrs {
		i, addr := i, addr
		g.Go(func() error {
			results[i], identified[i] = r.Identify(ctx, addr)
			return nil
		})
	}
	_ = g.Wait()

	infos := make([]Info, 0, len(addrs))
	for i := range addrs {
		if identified[i] {
			infos = append(infos, results[i])
		}
	}
	snap := NewSnapshot(takenAt, addrs, infos)
	log.Debug().
		Strs("discovered", addrs).
		Int("identified", snap.Len()).
		Msg("device snapshot taken")
	return snap
}
