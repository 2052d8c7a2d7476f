package check

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/miekg/dns"

	"github.com/optimode/mailsentry/internal/dnsclient"
	"github.com/optimode/mailsentry/types"
)

// errorCodes is the return-code range DNSBL operators use to signal a
// refused or invalid query instead of a listing (e.g. 127.255.255.254 for
// queries through public resolvers).
var errorCodes = &net.IPNet{IP: net.IPv4(127, 255, 255, 0).To4(), Mask: net.CIDRMask(24, 32)}

// QueryName builds the DNSBL query name for ip in zone:
// 1.2.3.4 and zen.spamhaus.org give 4.3.2.1.zen.spamhaus.org.
func QueryName(ip, zone string) (string, error) {
	v4 := net.ParseIP(strings.TrimSpace(ip)).To4()
	if v4 == nil {
		return "", fmt.Errorf("not an IPv4 address: %q", ip)
	}
	zone = strings.TrimSuffix(zone, ".")
	return fmt.Sprintf("%d.%d.%d.%d.%s", v4[3], v4[2], v4[1], v4[0], zone), nil
}

// ZoneProbe checks one IP against one DNSBL zone.
type ZoneProbe struct {
	q dnsclient.Querier
}

// NewZoneProbe creates a ZoneProbe asking q.
func NewZoneProbe(q dnsclient.Querier) *ZoneProbe {
	return &ZoneProbe{q: q}
}

// Probe returns the listing status of ip in zone. "No such name" means not
// listed. An A answer outside 127.255.255.0/24 means listed; answers inside
// that range are operator error codes and set Error instead. A NOERROR
// reply without any A record is also reported through Error. Any failure
// leaves Listed false, so a failed query can only be told apart from a
// clean result by its Error.
func (z *ZoneProbe) Probe(ctx context.Context, ip, zone string) types.BlacklistResult {
	res := types.BlacklistResult{Zone: zone}

	name, err := QueryName(ip, zone)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	ans := z.q.Query(ctx, name, dns.TypeA)
	switch ans.Outcome {
	case dnsclient.NotFound:
		return res
	case dnsclient.QueryError:
		res.Error = ans.Err.Error()
		return res
	}

	var codes []string
	listed := false
	for _, rr := range ans.Records {
		a, ok := rr.(*dns.A)
		if !ok {
			continue
		}
		if errorCodes.Contains(a.A) {
			codes = append(codes, a.A.String())
			continue
		}
		listed = true
	}

	switch {
	case listed:
		res.Listed = true
	case len(codes) > 0:
		res.Error = fmt.Sprintf("zone returned error code %s", strings.Join(codes, ", "))
	default:
		res.Error = fmt.Sprintf("no A record in answer for %s", name)
	}
	return res
}
