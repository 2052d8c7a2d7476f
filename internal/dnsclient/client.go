// Package dnsclient issues single DNS questions with github.com/miekg/dns and
// classifies each response into an explicit Outcome, so callers never need
// to recognise a "no such name" error to tell absence from failure.
package dnsclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
)

const (
	// DefaultTimeout bounds one question, including the TCP fallback.
	DefaultTimeout = 5 * time.Second
	// DefaultResolvConf is read when no servers are configured.
	DefaultResolvConf = "/etc/resolv.conf"
)

// ErrNoServers is returned by New when no nameserver could be determined.
var ErrNoServers = errors.New("dnsclient: no nameservers configured")

// Outcome classifies a DNS response.
type Outcome int

const (
	// Found means the server answered NOERROR. Records may still be empty.
	Found Outcome = iota
	// NotFound means the server answered NXDOMAIN.
	NotFound
	// QueryError covers everything else: timeouts, SERVFAIL, REFUSED,
	// transport errors.
	QueryError
)

func (o Outcome) String() string {
	switch o {
	case Found:
		return "found"
	case NotFound:
		return "not found"
	}
	return "query error"
}

// Answer is the classified result of one question.
type Answer struct {
	Outcome Outcome
	Records []dns.RR // answers of the asked type only
	Err     error    // set when Outcome is QueryError
}

// Querier is implemented by Client and by the per-run memo in dnscache.
type Querier interface {
	Query(ctx context.Context, name string, qtype uint16) Answer
}

// Config configures a Client.
type Config struct {
	// Servers are "host:port" or bare addresses. Empty means ResolvConf.
	Servers []string
	// Timeout bounds one question. Default: 5s
	Timeout time.Duration
	// ResolvConf is the resolver configuration read when Servers is empty.
	// Default: /etc/resolv.conf
	ResolvConf string
}

// Client sends recursive queries to the configured nameservers.
// It is safe for concurrent use.
type Client struct {
	servers []string
	timeout time.Duration
	udp     *dns.Client
	tcp     *dns.Client
}

// New creates a Client. Servers without a port get port 53.
func New(cfg Config) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	servers := cfg.Servers
	if len(servers) == 0 {
		path := cfg.ResolvConf
		if path == "" {
			path = DefaultResolvConf
		}
		cc, err := dns.ClientConfigFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		for _, s := range cc.Servers {
			servers = append(servers, net.JoinHostPort(s, cc.Port))
		}
	}
	if len(servers) == 0 {
		return nil, ErrNoServers
	}

	normalized := make([]string, 0, len(servers))
	for _, s := range servers {
		if _, _, err := net.SplitHostPort(s); err != nil {
			s = net.JoinHostPort(s, "53")
		}
		normalized = append(normalized, s)
	}

	return &Client{
		servers: normalized,
		timeout: cfg.Timeout,
		udp:     &dns.Client{Net: "udp", Timeout: cfg.Timeout},
		tcp:     &dns.Client{Net: "tcp", Timeout: cfg.Timeout},
	}, nil
}

// Servers returns the nameservers in the order they are tried.
func (c *Client) Servers() []string {
	out := make([]string, len(c.servers))
	copy(out, c.servers)
	return out
}

// Query asks the nameservers for name/qtype. The first server that returns
// any response decides the outcome; later servers are only tried when the
// earlier ones could not be reached.
func (c *Client) Query(ctx context.Context, name string, qtype uint16) Answer {
	q := new(dns.Msg)
	q.SetQuestion(dns.Fqdn(name), qtype)
	q.RecursionDesired = true
	q.SetEdns0(dns.DefaultMsgSize, false)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var lastErr error
	for _, server := range c.servers {
		r, err := c.exchange(ctx, q, server)
		if err != nil {
			lastErr = err
			continue
		}
		return classify(r, qtype)
	}

	return Answer{
		Outcome: QueryError,
		Err:     fmt.Errorf("query %s/%s: %w", name, dns.TypeToString[qtype], lastErr),
	}
}

// exchange sends q over UDP and repeats it over TCP when the reply is truncated.
func (c *Client) exchange(ctx context.Context, q *dns.Msg, server string) (*dns.Msg, error) {
	r, _, err := c.udp.ExchangeContext(ctx, q, server)
	if err != nil {
		return nil, err
	}
	if r.Rcode == dns.RcodeSuccess && r.Truncated {
		r, _, err = c.tcp.ExchangeContext(ctx, q, server)
		if err != nil {
			return nil, err
		}
	}
	return r, nil
}

func classify(r *dns.Msg, qtype uint16) Answer {
	switch r.Rcode {
	case dns.RcodeSuccess:
		var records []dns.RR
		for _, rr := range r.Answer {
			if rr.Header().Rrtype == qtype {
				records = append(records, rr)
			}
		}
		return Answer{Outcome: Found, Records: records}
	case dns.RcodeNameError:
		return Answer{Outcome: NotFound}
	}

	name := ""
	if len(r.Question) > 0 {
		name = r.Question[0].Name
	}
	return Answer{
		Outcome: QueryError,
		Err:     &RcodeError{Name: name, Rcode: r.Rcode},
	}
}

// RcodeError reports a response code other than NOERROR or NXDOMAIN.
type RcodeError struct {
	Name  string
	Rcode int
}

func (e *RcodeError) Error() string {
	rc, ok := dns.RcodeToString[e.Rcode]
	if !ok {
		rc = fmt.Sprintf("RCODE%d", e.Rcode)
	}
	return fmt.Sprintf("%s: server responded %s", e.Name, rc)
}
