package check_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optimode/mailsentry/check"
	"github.com/optimode/mailsentry/internal/dnsclient"
	"github.com/optimode/mailsentry/internal/dnstest"
	"github.com/optimode/mailsentry/types"
)

func TestQueryName(t *testing.T) {
	name, err := check.QueryName("1.2.3.4", "zen.spamhaus.org")
	require.NoError(t, err)
	assert.Equal(t, "4.3.2.1.zen.spamhaus.org", name)

	name, err = check.QueryName(" 192.0.2.10 ", "bl.spamcop.net.")
	require.NoError(t, err)
	assert.Equal(t, "10.2.0.192.bl.spamcop.net", name)
}

func TestQueryName_RejectsNonIPv4(t *testing.T) {
	for _, ip := range []string{"", "unresolved", "2001:db8::1", "1.2.3"} {
		_, err := check.QueryName(ip, "zen.spamhaus.org")
		assert.Error(t, err, "expected error for %q", ip)
	}
}

func TestZoneProbe(t *testing.T) {
	tests := []struct {
		name   string
		answer *dnsclient.Answer
		rrs    []string
		want   types.BlacklistResult
	}{
		{
			name: "not listed",
			want: types.BlacklistResult{Zone: "zen.spamhaus.org"},
		},
		{
			name: "listed",
			rrs:  []string{"4.3.2.1.zen.spamhaus.org. 60 IN A 127.0.0.2"},
			want: types.BlacklistResult{Zone: "zen.spamhaus.org", Listed: true},
		},
		{
			name:   "no data",
			answer: &dnsclient.Answer{Outcome: dnsclient.Found},
			want:   types.BlacklistResult{Zone: "zen.spamhaus.org", Error: "no A record in answer for 4.3.2.1.zen.spamhaus.org"},
		},
		{
			name: "only non-A records",
			rrs:  []string{`4.3.2.1.zen.spamhaus.org. 60 IN TXT "see https://www.spamhaus.org"`},
			want: types.BlacklistResult{Zone: "zen.spamhaus.org", Error: "no A record in answer for 4.3.2.1.zen.spamhaus.org"},
		},
		{
			name:   "query error",
			answer: &dnsclient.Answer{Outcome: dnsclient.QueryError, Err: errors.New("server responded SERVFAIL")},
			want:   types.BlacklistResult{Zone: "zen.spamhaus.org", Error: "server responded SERVFAIL"},
		},
		{
			name: "operator error code",
			rrs:  []string{"4.3.2.1.zen.spamhaus.org. 60 IN A 127.255.255.254"},
			want: types.BlacklistResult{Zone: "zen.spamhaus.org", Error: "zone returned error code 127.255.255.254"},
		},
		{
			name: "listing beside error code",
			rrs: []string{
				"4.3.2.1.zen.spamhaus.org. 60 IN A 127.255.255.254",
				"4.3.2.1.zen.spamhaus.org. 60 IN A 127.0.0.4",
			},
			want: types.BlacklistResult{Zone: "zen.spamhaus.org", Listed: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newFakeQuerier()
			switch {
			case tt.answer != nil:
				q.set("4.3.2.1.zen.spamhaus.org", dns.TypeA, *tt.answer)
			case len(tt.rrs) > 0:
				q.found("4.3.2.1.zen.spamhaus.org", dns.TypeA, tt.rrs...)
			}
			z := check.NewZoneProbe(q)

			got := z.Probe(context.Background(), "1.2.3.4", "zen.spamhaus.org")
			assert.Equal(t, tt.want, got)
			assert.Equal(t, []string{"4.3.2.1.zen.spamhaus.org.|A"}, q.Asked())
		})
	}
}

func TestZoneProbe_NotListedVersusFailure(t *testing.T) {
	q := newFakeQuerier()
	q.set("4.3.2.1.bl.example", dns.TypeA, dnsclient.Answer{Outcome: dnsclient.QueryError, Err: errors.New("timeout")})
	z := check.NewZoneProbe(q)
	ctx := context.Background()

	clean := z.Probe(ctx, "1.2.3.4", "dnsbl.example")
	failed := z.Probe(ctx, "1.2.3.4", "bl.example")

	// Both read as not listed; only Error tells them apart.
	assert.False(t, clean.Listed)
	assert.False(t, failed.Listed)
	assert.Empty(t, clean.Error)
	assert.Equal(t, "timeout", failed.Error)
}

func TestZoneProbe_InvalidIP(t *testing.T) {
	q := newFakeQuerier()
	z := check.NewZoneProbe(q)

	got := z.Probe(context.Background(), "2001:db8::1", "zen.spamhaus.org")
	assert.False(t, got.Listed)
	assert.Contains(t, got.Error, "not an IPv4 address")
	assert.Empty(t, q.Asked())
}

func TestZoneProbe_OverWire(t *testing.T) {
	srv := dnstest.Start(t)
	srv.Set("2.0.0.127.bl.example", dns.TypeA, dnstest.Response{
		Rcode:  dns.RcodeSuccess,
		Answer: []string{"2.0.0.127.bl.example. 60 IN A 127.0.0.2"},
	})
	srv.Set("2.0.0.127.broken.example", dns.TypeA, dnstest.Response{Rcode: dns.RcodeServerFailure})

	c, err := dnsclient.New(dnsclient.Config{Servers: []string{srv.Addr}, Timeout: 2 * time.Second})
	require.NoError(t, err)
	z := check.NewZoneProbe(c)
	ctx := context.Background()

	assert.Equal(t, types.BlacklistResult{Zone: "bl.example", Listed: true}, z.Probe(ctx, "127.0.0.2", "bl.example"))
	assert.Equal(t, types.BlacklistResult{Zone: "clean.example"}, z.Probe(ctx, "127.0.0.2", "clean.example"))

	broken := z.Probe(ctx, "127.0.0.2", "broken.example")
	assert.False(t, broken.Listed)
	assert.Contains(t, broken.Error, "SERVFAIL")
}
