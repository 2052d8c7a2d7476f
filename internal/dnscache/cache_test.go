package dnscache_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optimode/mailsentry/internal/dnscache"
	"github.com/optimode/mailsentry/internal/dnsclient"
)

// mockQuerier tracks how many times Query was called.
type mockQuerier struct {
	answer dnsclient.Answer
	delay  time.Duration
	calls  atomic.Int64
}

func (m *mockQuerier) Query(_ context.Context, _ string, _ uint16) dnsclient.Answer {
	m.calls.Add(1)
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	return m.answer
}

func aRecord(ip string) dns.RR {
	return &dns.A{
		Hdr: dns.RR_Header{Name: "example.com.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 300},
		A:   net.ParseIP(ip).To4(),
	}
}

func TestCache_BasicMemo(t *testing.T) {
	q := &mockQuerier{answer: dnsclient.Answer{Outcome: dnsclient.Found, Records: []dns.RR{aRecord("192.0.2.1")}}}
	c := dnscache.New(q)

	// First call: actual lookup
	ans := c.Query(context.Background(), "example.com", dns.TypeA)
	assert.Equal(t, dnsclient.Found, ans.Outcome)
	assert.Len(t, ans.Records, 1)
	assert.Equal(t, int64(1), q.calls.Load())

	// Second call: memoised, name case and trailing dot don't matter
	ans = c.Query(context.Background(), "EXAMPLE.com.", dns.TypeA)
	assert.Len(t, ans.Records, 1)
	assert.Equal(t, int64(1), q.calls.Load())
}

func TestCache_DifferentQuestions(t *testing.T) {
	q := &mockQuerier{answer: dnsclient.Answer{Outcome: dnsclient.NotFound}}
	c := dnscache.New(q)

	_ = c.Query(context.Background(), "a.com", dns.TypeA)
	_ = c.Query(context.Background(), "b.com", dns.TypeA)
	_ = c.Query(context.Background(), "a.com", dns.TypeTXT)
	assert.Equal(t, int64(3), q.calls.Load())
	assert.Equal(t, 3, c.Len())
}

func TestCache_Singleflight(t *testing.T) {
	q := &mockQuerier{
		answer: dnsclient.Answer{Outcome: dnsclient.Found, Records: []dns.RR{aRecord("192.0.2.1")}},
		delay:  20 * time.Millisecond,
	}
	c := dnscache.New(q)

	// Launch many concurrent lookups for the same question
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ans := c.Query(context.Background(), "example.com", dns.TypeA)
			assert.Equal(t, dnsclient.Found, ans.Outcome)
			assert.Len(t, ans.Records, 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), q.calls.Load())
}

func TestCache_MemoisesErrors(t *testing.T) {
	q := &mockQuerier{answer: dnsclient.Answer{Outcome: dnsclient.QueryError, Err: errors.New("timeout")}}
	c := dnscache.New(q)

	ans := c.Query(context.Background(), "bad.com", dns.TypeA)
	assert.Equal(t, dnsclient.QueryError, ans.Outcome)

	ans = c.Query(context.Background(), "bad.com", dns.TypeA)
	assert.Error(t, ans.Err)
	assert.Equal(t, int64(1), q.calls.Load())
}

func TestCache_ReturnsCopy(t *testing.T) {
	q := &mockQuerier{answer: dnsclient.Answer{Outcome: dnsclient.Found, Records: []dns.RR{aRecord("192.0.2.1")}}}
	c := dnscache.New(q)

	a1 := c.Query(context.Background(), "example.com", dns.TypeA)
	a2 := c.Query(context.Background(), "example.com", dns.TypeA)
	require.Len(t, a1.Records, 1)

	// Mutating one copy should not affect the other
	a1.Records[0].(*dns.A).A = net.ParseIP("198.51.100.1").To4()
	assert.Equal(t, "192.0.2.1", a2.Records[0].(*dns.A).A.String())
}

// panicQuerier panics on its first call after release is closed.
type panicQuerier struct {
	release chan struct{}
	calls   atomic.Int64
}

func (p *panicQuerier) Query(_ context.Context, _ string, _ uint16) dnsclient.Answer {
	if p.calls.Add(1) == 1 {
		<-p.release
		panic("resolver exploded")
	}
	return dnsclient.Answer{Outcome: dnsclient.Found}
}

func TestCache_PanicReleasesWaiters(t *testing.T) {
	q := &panicQuerier{release: make(chan struct{})}
	c := dnscache.New(q)

	first := make(chan any, 1)
	go func() {
		defer func() { first <- recover() }()
		c.Query(context.Background(), "example.com", dns.TypeA)
	}()

	// Wait for the first caller to own the entry before joining it.
	require.Eventually(t, func() bool { return q.calls.Load() == 1 }, time.Second, time.Millisecond)

	waiter := make(chan dnsclient.Answer, 1)
	go func() {
		waiter <- c.Query(context.Background(), "example.com", dns.TypeA)
	}()

	close(q.release)
	assert.Equal(t, "resolver exploded", <-first)

	select {
	case ans := <-waiter:
		assert.Equal(t, dnsclient.QueryError, ans.Outcome)
		assert.EqualError(t, ans.Err, "query aborted")
	case <-time.After(2 * time.Second):
		t.Fatal("waiter blocked after the first query panicked")
	}
	assert.Equal(t, int64(1), q.calls.Load())
}
