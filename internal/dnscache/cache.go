// Package dnscache memoises DNS questions for the lifetime of one
// diagnostic run, with deduplication of concurrent identical questions.
// A Cache is never shared between runs.
package dnscache

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/miekg/dns"

	"github.com/optimode/mailsentry/internal/dnsclient"
)

var errAborted = errors.New("query aborted")

// Cache is a thread-safe dnsclient.Querier in front of another Querier.
// Concurrent queries for the same name and type are deduplicated:
// only one actual DNS query is performed, and all waiters receive the result.
type Cache struct {
	mu      sync.Mutex
	entries map[key]*entry
	next    dnsclient.Querier
}

type key struct {
	name  string
	qtype uint16
}

type entry struct {
	answer dnsclient.Answer
	done   chan struct{} // closed when lookup is complete
}

// New creates an empty cache in front of next.
func New(next dnsclient.Querier) *Cache {
	return &Cache{
		entries: make(map[key]*entry),
		next:    next,
	}
}

// Query returns the memoised answer for name/qtype, asking next on first use.
// Only the first caller's context is used for the actual query.
func (c *Cache) Query(ctx context.Context, name string, qtype uint16) dnsclient.Answer {
	k := key{name: strings.ToLower(dns.Fqdn(name)), qtype: qtype}

	c.mu.Lock()
	if e, ok := c.entries[k]; ok {
		c.mu.Unlock()
		<-e.done
		return copyAnswer(e.answer)
	}

	// Waiters see errAborted if next panics before answering.
	e := &entry{
		answer: dnsclient.Answer{Outcome: dnsclient.QueryError, Err: errAborted},
		done:   make(chan struct{}),
	}
	c.entries[k] = e
	c.mu.Unlock()

	func() {
		defer close(e.done)
		e.answer = c.next.Query(ctx, name, qtype)
	}()

	return copyAnswer(e.answer)
}

// Len returns the number of distinct questions asked (for diagnostics).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// copyAnswer returns a deep copy of the records so callers cannot mutate
// the memoised answer.
func copyAnswer(a dnsclient.Answer) dnsclient.Answer {
	if a.Records == nil {
		return a
	}
	out := a
	out.Records = make([]dns.RR, len(a.Records))
	for i, rr := range a.Records {
		out.Records[i] = dns.Copy(rr)
	}
	return out
}
