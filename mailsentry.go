// Package mailsentry diagnoses the mail-delivery infrastructure of a domain:
// its mail exchangers, their addresses, reverse DNS, SMTP reachability and
// DNSBL listings, plus the domain's SPF and DMARC records.
//
// Basic usage:
//
//	d, err := mailsentry.New()
//	if err != nil {
//	    return err
//	}
//	report, err := d.Run(ctx, "example.com")
//
// With options:
//
//	d, err := mailsentry.New(mailsentry.Options{
//	    Concurrency: 10,
//	    Zones:       []string{"zen.spamhaus.org", "bl.spamcop.net"},
//	    SMTP:        mailsentry.SMTPOptions{HeloName: "probe.example.net"},
//	    DNS:         mailsentry.DNSOptions{Servers: []string{"9.9.9.9"}},
//	})
//
// Network failures never abort a run. They are recorded in the report next
// to the checks that produced them.
package mailsentry

import "github.com/optimode/mailsentry/types"

// DomainReport is a re-export from the types package so that consumers
// don't need to import the types package directly.
type DomainReport = types.DomainReport

// MXRecord is a re-export.
type MXRecord = types.MXRecord

// Diagnostics is a re-export.
type Diagnostics = types.Diagnostics

// HostDiagnostic is a re-export.
type HostDiagnostic = types.HostDiagnostic

// SMTPResult is a re-export.
type SMTPResult = types.SMTPResult

// BlacklistResult is a re-export.
type BlacklistResult = types.BlacklistResult

// Constants re-exported.
const (
	Unresolved  = types.Unresolved
	SMTPSuccess = types.SMTPSuccess
	SMTPFailed  = types.SMTPFailed
)
