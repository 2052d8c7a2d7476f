package check

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/miekg/dns"

	"github.com/optimode/mailsentry/internal/dnsclient"
	"github.com/optimode/mailsentry/internal/parse"
	"github.com/optimode/mailsentry/types"
)

const (
	spfVersion   = "v=spf1"
	dmarcVersion = "v=DMARC1"
)

// LookupError describes why a record lookup produced nothing.
type LookupError struct {
	Name    string
	Outcome dnsclient.Outcome
	Err     error
}

func (e *LookupError) Error() string {
	if e.Outcome == dnsclient.NotFound {
		return fmt.Sprintf("No MX records found for %s", e.Name)
	}
	if e.Err == nil {
		return fmt.Sprintf("lookup %s failed", e.Name)
	}
	return e.Err.Error()
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err means the domain has no mail exchangers,
// as opposed to the lookup having failed.
func IsNotFound(err error) bool {
	var le *LookupError
	return errors.As(err, &le) && le.Outcome == dnsclient.NotFound
}

// RecordResolver performs the domain-level DNS lookups.
type RecordResolver struct {
	q dnsclient.Querier
}

// NewRecordResolver creates a RecordResolver asking q.
func NewRecordResolver(q dnsclient.Querier) *RecordResolver {
	return &RecordResolver{q: q}
}

// ResolveMX returns the mail exchangers of domain sorted by ascending
// priority; equal priorities keep answer order. Hosts are normalised but
// not deduplicated. A NXDOMAIN answer, or an answer without usable
// exchangers, is a *LookupError with Outcome NotFound.
func (r *RecordResolver) ResolveMX(ctx context.Context, domain string) ([]types.MXRecord, error) {
	ans := r.q.Query(ctx, domain, dns.TypeMX)
	switch ans.Outcome {
	case dnsclient.NotFound:
		return nil, &LookupError{Name: domain, Outcome: dnsclient.NotFound}
	case dnsclient.QueryError:
		return nil, &LookupError{Name: domain, Outcome: dnsclient.QueryError, Err: ans.Err}
	}

	var records []types.MXRecord
	for _, rr := range ans.Records {
		mx, ok := rr.(*dns.MX)
		if !ok {
			continue
		}
		// RFC 7505 null MX (".") normalises to the empty name
		host := parse.MXHost(mx.Mx)
		if host == "" {
			continue
		}
		records = append(records, types.MXRecord{Host: host, Priority: mx.Preference})
	}
	if len(records) == 0 {
		return nil, &LookupError{Name: domain, Outcome: dnsclient.NotFound}
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Priority < records[j].Priority
	})
	return records, nil
}

// Resolve returns the records of the given type ("A", "AAAA", "CNAME",
// "NS" or "TXT") as strings. Any failure, or an unsupported type, gives an
// empty slice: missing records are not an error for mail diagnostics.
func (r *RecordResolver) Resolve(ctx context.Context, domain, rtype string) []string {
	qtype, ok := dns.StringToType[strings.ToUpper(rtype)]
	if !ok {
		return []string{}
	}

	ans := r.q.Query(ctx, domain, qtype)
	if ans.Outcome != dnsclient.Found {
		return []string{}
	}

	out := make([]string, 0, len(ans.Records))
	for _, rr := range ans.Records {
		if s, ok := rdata(rr); ok {
			out = append(out, s)
		}
	}
	return out
}

// ResolveSPF returns the first TXT record of domain carrying the SPF
// version tag, or nil.
func (r *RecordResolver) ResolveSPF(ctx context.Context, domain string) *string {
	return r.firstTXT(ctx, domain, spfVersion)
}

// ResolveDMARC returns the first TXT record of _dmarc.<domain> carrying the
// DMARC version tag, or nil.
func (r *RecordResolver) ResolveDMARC(ctx context.Context, domain string) *string {
	return r.firstTXT(ctx, "_dmarc."+domain, dmarcVersion)
}

func (r *RecordResolver) firstTXT(ctx context.Context, name, version string) *string {
	for _, txt := range r.Resolve(ctx, name, "TXT") {
		if hasVersion(txt, version) {
			return &txt
		}
	}
	return nil
}

// hasVersion reports whether txt starts with the version tag, followed by
// the end of the record or a separator.
func hasVersion(txt, version string) bool {
	if !strings.HasPrefix(txt, version) {
		return false
	}
	rest := txt[len(version):]
	return rest == "" || strings.ContainsAny(rest[:1], " ;\t")
}

func rdata(rr dns.RR) (string, bool) {
	switch v := rr.(type) {
	case *dns.A:
		return v.A.String(), true
	case *dns.AAAA:
		return v.AAAA.String(), true
	case *dns.CNAME:
		return strings.TrimSuffix(v.Target, "."), true
	case *dns.NS:
		return strings.TrimSuffix(v.Ns, "."), true
	case *dns.TXT:
		// Character-strings of one record are concatenated (RFC 7208 3.3).
		return strings.Join(v.Txt, ""), true
	}
	return "", false
}
