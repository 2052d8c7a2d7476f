// Package types contains the shared types for mailsentry.
// This package does not import anything from other mailsentry packages
// to avoid circular imports.
package types

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"
)

// Unresolved is the IP value recorded for a host whose address lookup failed.
const Unresolved = "unresolved"

// SMTPStatus is the outcome of an SMTP handshake probe.
type SMTPStatus = string

const (
	SMTPSuccess SMTPStatus = "success"
	SMTPFailed  SMTPStatus = "failed"
)

// MXRecord is one mail exchanger of a domain.
// Host is lower-cased without the trailing dot.
type MXRecord struct {
	Host     string `json:"host"`
	Priority uint16 `json:"priority"`
}

// SMTPResult is the outcome of connecting to a mail host.
type SMTPResult struct {
	Status SMTPStatus `json:"status"`
	Banner string     `json:"banner,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// BlacklistResult is the outcome of one DNSBL zone query.
// Listed is false both when the zone does not list the address and when
// the query failed; only Error tells the two apart.
type BlacklistResult struct {
	Zone   string `json:"zone"`
	Listed bool   `json:"listed"`
	Error  string `json:"error,omitempty"`
}

// HostDiagnostic holds every per-host check. When IP is Unresolved the
// remaining fields are never populated.
type HostDiagnostic struct {
	IP         string            `json:"ip"`
	ReverseDNS *string           `json:"reverse_dns,omitempty"`
	SMTP       *SMTPResult       `json:"smtp,omitempty"`
	Blacklists []BlacklistResult `json:"blacklists,omitempty"`
}

// Resolved reports whether the host has an address.
func (h HostDiagnostic) Resolved() bool {
	return h.IP != "" && h.IP != Unresolved
}

// Diagnostics groups the host-level and authentication results of a run.
type Diagnostics struct {
	UniqueHosts []string                  `json:"unique_hosts"`
	MXError     string                    `json:"mx_error,omitempty"`
	Hosts       map[string]HostDiagnostic `json:"-"`
	SPF         *string                   `json:"spf"`
	DMARC       *string                   `json:"dmarc"`
}

// reservedKeys are the diagnostics keys a host entry may not take over.
var reservedKeys = map[string]bool{
	"unique_hosts": true,
	"mx_error":     true,
	"spf":          true,
	"dmarc":        true,
}

// MarshalJSON writes host entries as keys of the diagnostics object,
// next to unique_hosts, mx_error, spf and dmarc. Hosts are emitted in
// sorted order so the encoding is stable. A host named like one of those
// keys (a bare "spf." MX target, say) keeps its place in unique_hosts but
// its entry is left out, so the object never carries duplicate keys.
func (d Diagnostics) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	write := func(key string, v any) error {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return err
		}
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(b)
		return nil
	}

	hosts := d.UniqueHosts
	if hosts == nil {
		hosts = []string{}
	}
	if err := write("unique_hosts", hosts); err != nil {
		return nil, err
	}
	if d.MXError != "" {
		if err := write("mx_error", d.MXError); err != nil {
			return nil, err
		}
	}

	names := make([]string, 0, len(d.Hosts))
	for name := range d.Hosts {
		if reservedKeys[name] {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := write(name, d.Hosts[name]); err != nil {
			return nil, err
		}
	}

	if err := write("spf", d.SPF); err != nil {
		return nil, err
	}
	if err := write("dmarc", d.DMARC); err != nil {
		return nil, err
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// DomainReport is the complete result of one diagnostic run.
type DomainReport struct {
	Domain      string              `json:"domain"`
	MXRecords   []MXRecord          `json:"mx_records"`
	DNSRecords  map[string][]string `json:"dns_records"`
	Diagnostics Diagnostics         `json:"diagnostics"`
	Timestamp   time.Time           `json:"timestamp"`
}
