package mailsentry

import (
	"time"

	"github.com/optimode/mailsentry/check"
	"github.com/optimode/mailsentry/internal/dnsclient"
	"github.com/optimode/mailsentry/internal/workpool"
)

// DefaultZones are the DNSBL zones every host address is checked against
// unless Options.Zones says otherwise.
var DefaultZones = []string{
	"zen.spamhaus.org",
	"b.barracudacentral.org",
	"dnsbl.sorbs.net",
	"bl.spamcop.net",
	"dnsbl-1.uceprotect.net",
	"cbl.abuseat.org",
	"dnsbl.dronebl.org",
	"psbl.surriel.com",
	"rbl.efnetrbl.org",
}

// DefaultConcurrency is the worker pool size of a run.
const DefaultConcurrency = workpool.DefaultSize

// Options configures a Diagnoser. The zero value uses every default.
type Options struct {
	// Concurrency is how many checks run at once. Default: 5
	Concurrency int
	// Zones are the DNSBL zones to query, in report order.
	// Default: DefaultZones. A non-nil empty slice disables DNSBL checks.
	Zones []string
	SMTP  SMTPOptions
	DNS   DNSOptions
}

// SMTPOptions configures the SMTP probe.
type SMTPOptions struct {
	// HeloName is sent in HELO and EHLO. Default: localhost
	HeloName string
	// Port is the SMTP port. Default: 25
	Port string
	// Timeout bounds connecting and greeting one host. Default: 10s
	Timeout time.Duration
}

// DNSOptions configures DNS lookups.
type DNSOptions struct {
	// Servers are the nameservers to ask, "host" or "host:port".
	// Default: the nameservers in /etc/resolv.conf.
	Servers []string
	// Timeout bounds one question. Default: 5s
	Timeout time.Duration
}

func defaultOptions() Options {
	return Options{
		Concurrency: DefaultConcurrency,
		Zones:       append([]string(nil), DefaultZones...),
		SMTP: SMTPOptions{
			HeloName: check.DefaultHeloName,
			Port:     check.DefaultSMTPPort,
			Timeout:  check.DefaultSMTPTimeout,
		},
		DNS: DNSOptions{
			Timeout: dnsclient.DefaultTimeout,
		},
	}
}

// merge fills the unset fields of o with defaults.
func (o Options) merge() Options {
	d := defaultOptions()
	if o.Concurrency > 0 {
		d.Concurrency = o.Concurrency
	}
	if o.Zones != nil {
		d.Zones = append([]string{}, o.Zones...)
	}
	if o.SMTP.HeloName != "" {
		d.SMTP.HeloName = o.SMTP.HeloName
	}
	if o.SMTP.Port != "" {
		d.SMTP.Port = o.SMTP.Port
	}
	if o.SMTP.Timeout > 0 {
		d.SMTP.Timeout = o.SMTP.Timeout
	}
	if len(o.DNS.Servers) > 0 {
		d.DNS.Servers = append([]string(nil), o.DNS.Servers...)
	}
	if o.DNS.Timeout > 0 {
		d.DNS.Timeout = o.DNS.Timeout
	}
	return d
}
