package mailsentry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/optimode/mailsentry/check"
	"github.com/optimode/mailsentry/internal/dnscache"
	"github.com/optimode/mailsentry/internal/dnsclient"
	"github.com/optimode/mailsentry/internal/parse"
	"github.com/optimode/mailsentry/internal/workpool"
	"github.com/optimode/mailsentry/types"
)

// Record types collected for the dns_records section of a report.
var domainRecordTypes = []string{"A", "CNAME", "TXT"}

// Diagnoser runs domain diagnostics. Build it once with New and share it;
// it holds no per-run state and is safe for concurrent use.
type Diagnoser struct {
	opts   Options
	logger *log.Logger

	querier   dnsclient.Querier
	addresses check.AddressResolver
	reverse   check.PTRResolver
	smtp      check.SMTPProber
	zones     check.ZoneProber // nil: a ZoneProbe over the run's DNS memo
}

// New creates a Diagnoser. Optionally overrides the default Options.
// It fails only when no nameserver can be determined.
func New(opts ...Options) (*Diagnoser, error) {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	o = o.merge()

	client, err := dnsclient.New(dnsclient.Config{
		Servers: o.DNS.Servers,
		Timeout: o.DNS.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("mailsentry: dns client: %w", err)
	}

	// Address and PTR lookups follow the same nameserver when one was
	// configured explicitly; otherwise they use the system resolver.
	server := ""
	if len(o.DNS.Servers) > 0 {
		server = client.Servers()[0]
	}
	resolver := check.NetResolver(server, o.DNS.Timeout)

	return &Diagnoser{
		opts:      o,
		logger:    log.New(io.Discard),
		querier:   client,
		addresses: check.NewHostResolver(resolver),
		reverse:   check.NewReverseResolver(resolver),
		smtp: check.NewSMTPProbe(check.SMTPConfig{
			HeloName: o.SMTP.HeloName,
			Port:     o.SMTP.Port,
			Timeout:  o.SMTP.Timeout,
		}),
	}, nil
}

// WithLogger sets the logger used for run progress. Default: discard.
func (d *Diagnoser) WithLogger(l *log.Logger) *Diagnoser {
	if l != nil {
		d.logger = l
	}
	return d
}

// WithQuerier replaces the DNS client used for MX, record and zone queries.
func (d *Diagnoser) WithQuerier(q dnsclient.Querier) *Diagnoser {
	d.querier = q
	return d
}

// WithAddressResolver replaces the host to IPv4 resolver.
func (d *Diagnoser) WithAddressResolver(r check.AddressResolver) *Diagnoser {
	d.addresses = r
	return d
}

// WithReverseResolver replaces the reverse DNS resolver.
func (d *Diagnoser) WithReverseResolver(r check.PTRResolver) *Diagnoser {
	d.reverse = r
	return d
}

// WithSMTPProber replaces the SMTP probe.
func (d *Diagnoser) WithSMTPProber(p check.SMTPProber) *Diagnoser {
	d.smtp = p
	return d
}

// WithZoneProber replaces the DNSBL probe.
func (d *Diagnoser) WithZoneProber(p check.ZoneProber) *Diagnoser {
	d.zones = p
	return d
}

// Options returns the effective options, defaults included.
func (d *Diagnoser) Options() Options {
	o := d.opts
	o.Zones = append([]string{}, d.opts.Zones...)
	o.DNS.Servers = append([]string(nil), d.opts.DNS.Servers...)
	return o
}

// run is the state of one invocation: a fresh DNS memo and worker pool.
type run struct {
	records *check.RecordResolver
	hosts   *check.HostRunner
	pool    *workpool.Pool
}

func (d *Diagnoser) newRun() *run {
	memo := dnscache.New(d.querier)

	zones := d.zones
	if zones == nil {
		zones = check.NewZoneProbe(memo)
	}

	return &run{
		records: check.NewRecordResolver(memo),
		hosts: check.NewHostRunner(check.HostRunnerConfig{
			Addresses: d.addresses,
			Reverse:   d.reverse,
			SMTP:      d.smtp,
			Zones:     zones,
			ZoneList:  d.opts.Zones,
		}),
		pool: workpool.New(d.opts.Concurrency),
	}
}

// ResolveMX returns the mail exchangers of domain: unique hosts ordered by
// ascending priority. A domain without mail exchangers yields an error for
// which check.IsNotFound is true.
func (d *Diagnoser) ResolveMX(ctx context.Context, domain string) ([]MXRecord, error) {
	name := parse.NewDomain(domain)
	if name.Empty() {
		return nil, ErrEmptyDomain
	}

	mx, err := d.newRun().records.ResolveMX(ctx, name.ASCII)
	if err != nil {
		return nil, err
	}
	return uniqueMX(mx), nil
}

// Run diagnoses domain. Phases run one after another: mail exchangers,
// domain records, host addresses, per-host checks (one host at a time),
// then SPF and DMARC.
//
// Failed lookups and probes are recorded in the report. Run returns an
// error only for an empty domain (ErrEmptyDomain) or when a check panicked
// (ErrInternal), and never together with a report.
func (d *Diagnoser) Run(ctx context.Context, domain string) (report *DomainReport, err error) {
	name := parse.NewDomain(domain)
	if name.Empty() {
		return nil, ErrEmptyDomain
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("diagnostic run panicked", "domain", name.Name, "panic", r)
			report, err = nil, fmt.Errorf("%w: %v", ErrInternal, r)
		}
	}()

	start := time.Now()
	rn := d.newRun()
	logger := d.logger.With("domain", name.Name)

	report = &DomainReport{
		Domain:     name.Name,
		MXRecords:  []MXRecord{},
		DNSRecords: make(map[string][]string, len(domainRecordTypes)),
		Diagnostics: Diagnostics{
			UniqueHosts: []string{},
			Hosts:       make(map[string]HostDiagnostic),
		},
		Timestamp: start.UTC(),
	}

	// Phase 1: mail exchangers.
	mx, mxErr := rn.records.ResolveMX(ctx, name.ASCII)
	if mxErr != nil {
		report.Diagnostics.MXError = mxErr.Error()
		logger.Debug("mx lookup failed", "err", mxErr)
	} else {
		report.MXRecords = uniqueMX(mx)
	}
	hosts := make([]string, len(report.MXRecords))
	for i, r := range report.MXRecords {
		hosts[i] = r.Host
	}
	report.Diagnostics.UniqueHosts = hosts
	logger.Debug("mx resolved", "hosts", len(hosts))

	// Phase 2: domain records.
	for _, rtype := range domainRecordTypes {
		report.DNSRecords[rtype] = rn.records.Resolve(ctx, name.ASCII, rtype)
	}

	// Phase 3: host addresses, all at once.
	diags := make([]HostDiagnostic, len(hosts))
	batch := rn.pool.Batch()
	for i, host := range hosts {
		batch.Go(func() {
			diags[i] = rn.hosts.Resolve(ctx, host)
		})
	}
	if err := batch.Wait(); err != nil {
		return nil, internalError(err)
	}
	logger.Debug("host addresses resolved", "hosts", len(hosts))

	// Phase 4: per-host checks. Hosts never overlap.
	for i, host := range hosts {
		if !diags[i].Resolved() {
			logger.Debug("host unresolved", "host", host)
			continue
		}
		diag, err := rn.hosts.Inspect(ctx, host, diags[i].IP, rn.pool.Batch())
		if err != nil {
			return nil, internalError(err)
		}
		diags[i] = diag
		logger.Debug("host inspected", "host", host, "ip", diag.IP, "smtp", diag.SMTP.Status)
	}
	for i, host := range hosts {
		report.Diagnostics.Hosts[host] = diags[i]
	}

	// Phase 5: authentication records.
	report.Diagnostics.SPF = rn.records.ResolveSPF(ctx, name.ASCII)
	report.Diagnostics.DMARC = rn.records.ResolveDMARC(ctx, name.ASCII)

	logger.Debug("diagnostic run finished",
		"duration", time.Since(start),
		"peak", rn.pool.Peak(),
	)
	return report, nil
}

// ManyOptions configures RunMany.
type ManyOptions struct {
	// Workers is how many domains are diagnosed at once. Default: 2
	Workers int
}

// RunMany diagnoses several domains concurrently. Each domain gets its own
// run, with its own worker pool and DNS memo. Results keep input order;
// failed runs leave a nil report and the first error is returned.
func (d *Diagnoser) RunMany(ctx context.Context, domains []string, opts ...ManyOptions) ([]*DomainReport, error) {
	workers := 2
	if len(opts) > 0 && opts[0].Workers > 0 {
		workers = opts[0].Workers
	}

	reports := make([]*DomainReport, len(domains))
	jobs := make(chan int)
	go func() {
		for i := range domains {
			jobs <- i
		}
		close(jobs)
	}()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				r, err := d.Run(ctx, domains[i])
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = fmt.Errorf("diagnosing %q: %w", domains[i], err)
					}
					mu.Unlock()
					continue
				}
				reports[i] = r
			}
		}()
	}

	wg.Wait()
	return reports, firstErr
}

// uniqueMX keeps the first occurrence of every host, preserving order.
func uniqueMX(records []types.MXRecord) []MXRecord {
	seen := make(map[string]struct{}, len(records))
	out := make([]MXRecord, 0, len(records))
	for _, r := range records {
		if _, ok := seen[r.Host]; ok {
			continue
		}
		seen[r.Host] = struct{}{}
		out = append(out, r)
	}
	return out
}

func internalError(err error) error {
	var pe *workpool.PanicError
	if errors.As(err, &pe) {
		return fmt.Errorf("%w: %v", ErrInternal, pe.Value)
	}
	return fmt.Errorf("%w: %v", ErrInternal, err)
}
