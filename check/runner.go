package check

import (
	"context"
	"fmt"
	"sync"

	"github.com/optimode/mailsentry/types"
)

// AddressResolver resolves a mail host to an IPv4 address.
type AddressResolver interface {
	Resolve(ctx context.Context, host string) (ip string, ok bool)
}

// PTRResolver resolves an IP address to a host name.
type PTRResolver interface {
	Resolve(ctx context.Context, ip string) *string
}

// SMTPProber probes a mail host.
type SMTPProber interface {
	Probe(ctx context.Context, host string) types.SMTPResult
}

// ZoneProber checks an IP against a DNSBL zone.
type ZoneProber interface {
	Probe(ctx context.Context, ip, zone string) types.BlacklistResult
}

// Group runs tasks concurrently; Wait joins them. workpool.Batch
// implements it.
type Group interface {
	Go(task func())
	Wait() error
}

// HostRunnerConfig wires the checks a HostRunner combines.
type HostRunnerConfig struct {
	Addresses AddressResolver
	Reverse   PTRResolver
	SMTP      SMTPProber
	Zones     ZoneProber
	// ZoneList is probed in order; results keep this order.
	ZoneList []string
}

// HostRunner produces the HostDiagnostic of one mail host.
type HostRunner struct {
	cfg HostRunnerConfig
}

// NewHostRunner creates a HostRunner. The zone list is copied.
func NewHostRunner(cfg HostRunnerConfig) *HostRunner {
	cfg.ZoneList = append([]string(nil), cfg.ZoneList...)
	return &HostRunner{cfg: cfg}
}

// Zones returns the configured zone list.
func (r *HostRunner) Zones() []string {
	return append([]string(nil), r.cfg.ZoneList...)
}

// Run diagnoses host: resolve its address, then probe reverse DNS, SMTP and
// every zone concurrently. An unresolved host only carries IP "unresolved".
// The error is non-nil only if a check panicked.
func (r *HostRunner) Run(ctx context.Context, host string) (types.HostDiagnostic, error) {
	d := r.Resolve(ctx, host)
	if !d.Resolved() {
		return d, nil
	}
	return r.Inspect(ctx, host, d.IP, &localGroup{})
}

// Resolve performs only the address step.
func (r *HostRunner) Resolve(ctx context.Context, host string) types.HostDiagnostic {
	ip, ok := r.cfg.Addresses.Resolve(ctx, host)
	if !ok {
		return types.HostDiagnostic{IP: types.Unresolved}
	}
	return types.HostDiagnostic{IP: ip}
}

// Inspect runs the post-resolution checks of host at ip on g: one reverse
// lookup, one SMTP probe and one probe per zone. It returns after all of
// them finished. Each task writes only its own result slot.
func (r *HostRunner) Inspect(ctx context.Context, host, ip string, g Group) (types.HostDiagnostic, error) {
	var (
		reverse    *string
		smtp       types.SMTPResult
		blacklists = make([]types.BlacklistResult, len(r.cfg.ZoneList))
	)

	g.Go(func() {
		reverse = r.cfg.Reverse.Resolve(ctx, ip)
	})
	g.Go(func() {
		smtp = r.cfg.SMTP.Probe(ctx, host)
	})
	for i, zone := range r.cfg.ZoneList {
		g.Go(func() {
			blacklists[i] = r.cfg.Zones.Probe(ctx, ip, zone)
		})
	}

	if err := g.Wait(); err != nil {
		return types.HostDiagnostic{}, fmt.Errorf("inspect %s: %w", host, err)
	}

	return types.HostDiagnostic{
		IP:         ip,
		ReverseDNS: reverse,
		SMTP:       &smtp,
		Blacklists: blacklists,
	}, nil
}

// localGroup is an unbounded Group used when Run is called directly.
type localGroup struct {
	wg  sync.WaitGroup
	mu  sync.Mutex
	err error
}

func (g *localGroup) Go(task func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer func() {
			if v := recover(); v != nil {
				g.mu.Lock()
				if g.err == nil {
					g.err = fmt.Errorf("check panicked: %v", v)
				}
				g.mu.Unlock()
			}
		}()
		task()
	}()
}

func (g *localGroup) Wait() error {
	g.wg.Wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}
