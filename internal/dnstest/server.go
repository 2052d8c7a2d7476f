// Package dnstest runs an in-process DNS server answering canned responses,
// for tests that exercise the real miekg/dns client path.
package dnstest

import (
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/miekg/dns"
)

// Response is what the server sends back for one name/type.
type Response struct {
	Rcode     int
	Answer    []string // zone-file formatted RRs
	Truncated bool     // set TC over UDP, answer fully over TCP
	Ignore    bool     // never reply, forcing a client timeout
}

// Server is a dumb authoritative-looking server. Unknown questions get
// NXDOMAIN.
type Server struct {
	Addr string

	mu        sync.Mutex
	responses map[string]Response
	queries   map[string]int
	udp       *dns.Server
	tcp       *dns.Server
}

// Start listens on a random loopback UDP port, and on the same TCP port when
// available, and stops the server when the test ends.
func Start(t testing.TB) *Server {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	s := &Server{
		Addr:      pc.LocalAddr().String(),
		responses: make(map[string]Response),
		queries:   make(map[string]int),
	}
	s.udp = &dns.Server{PacketConn: pc, Handler: s}
	serve(t, s.udp)

	if l, err := net.Listen("tcp", s.Addr); err == nil {
		s.tcp = &dns.Server{Listener: l, Handler: s}
		serve(t, s.tcp)
	}

	t.Cleanup(func() {
		_ = s.udp.Shutdown()
		if s.tcp != nil {
			_ = s.tcp.Shutdown()
		}
	})
	return s
}

func serve(t testing.TB, srv *dns.Server) {
	started := make(chan struct{})
	srv.NotifyStartedFunc = func() { close(started) }
	go func() {
		_ = srv.ActivateAndServe()
	}()
	<-started
}

// HasTCP reports whether the TCP listener could be opened.
func (s *Server) HasTCP() bool {
	return s.tcp != nil
}

// Set installs the response for name/qtype. The name may omit the final dot.
func (s *Server) Set(name string, qtype uint16, r Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[key(name, qtype)] = r
}

// Queries returns how often name/qtype was asked.
func (s *Server) Queries(name string, qtype uint16) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries[key(name, qtype)]
}

// ServeDNS meets the interface definition for dns.Handler.
func (s *Server) ServeDNS(w dns.ResponseWriter, q *dns.Msg) {
	m := new(dns.Msg)
	if len(q.Question) != 1 {
		m.SetRcode(q, dns.RcodeFormatError)
		_ = w.WriteMsg(m)
		return
	}
	question := q.Question[0]
	k := key(question.Name, question.Qtype)

	s.mu.Lock()
	s.queries[k]++
	resp, ok := s.responses[k]
	s.mu.Unlock()

	if !ok {
		m.SetRcode(q, dns.RcodeNameError)
		_ = w.WriteMsg(m)
		return
	}
	if resp.Ignore {
		return
	}

	m.SetRcode(q, resp.Rcode)
	_, overUDP := w.RemoteAddr().(*net.UDPAddr)
	if resp.Truncated && overUDP {
		m.Truncated = true
		_ = w.WriteMsg(m)
		return
	}
	if resp.Rcode == dns.RcodeSuccess {
		for _, text := range resp.Answer {
			rr, err := dns.NewRR(text)
			if err != nil {
				panic("dnstest: bad RR " + text + ": " + err.Error())
			}
			m.Answer = append(m.Answer, rr)
		}
	}
	_ = w.WriteMsg(m)
}

func key(name string, qtype uint16) string {
	return strings.ToLower(dns.Fqdn(name)) + "|" + dns.TypeToString[qtype]
}
