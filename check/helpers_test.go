package check_test

import (
	"context"
	"strings"
	"sync"

	"github.com/miekg/dns"

	"github.com/optimode/mailsentry/internal/dnsclient"
)

// fakeQuerier answers from a table; unknown questions get NXDOMAIN.
type fakeQuerier struct {
	mu      sync.Mutex
	answers map[string]dnsclient.Answer
	asked   []string
}

func newFakeQuerier() *fakeQuerier {
	return &fakeQuerier{answers: make(map[string]dnsclient.Answer)}
}

func fakeKey(name string, qtype uint16) string {
	return strings.ToLower(dns.Fqdn(name)) + "|" + dns.TypeToString[qtype]
}

func (f *fakeQuerier) set(name string, qtype uint16, a dnsclient.Answer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers[fakeKey(name, qtype)] = a
}

// found installs a NOERROR answer built from zone-file formatted records.
func (f *fakeQuerier) found(name string, qtype uint16, records ...string) {
	var rrs []dns.RR
	for _, text := range records {
		rr, err := dns.NewRR(text)
		if err != nil {
			panic(err)
		}
		rrs = append(rrs, rr)
	}
	f.set(name, qtype, dnsclient.Answer{Outcome: dnsclient.Found, Records: rrs})
}

func (f *fakeQuerier) Query(_ context.Context, name string, qtype uint16) dnsclient.Answer {
	k := fakeKey(name, qtype)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asked = append(f.asked, k)
	if a, ok := f.answers[k]; ok {
		return a
	}
	return dnsclient.Answer{Outcome: dnsclient.NotFound}
}

func (f *fakeQuerier) Asked() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.asked...)
}
