package smtpsession_test

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optimode/mailsentry/internal/smtpsession"
)

// mockSMTPServer simulates an SMTP server on a net.Pipe connection and
// records the commands it received.
type mockSMTPServer struct {
	banner    string
	responses map[string]string

	mu       sync.Mutex
	commands []string
	closed   chan struct{}
}

func newMockServer(banner string, responses map[string]string) *mockSMTPServer {
	return &mockSMTPServer{banner: banner, responses: responses, closed: make(chan struct{})}
}

func (m *mockSMTPServer) serve(server net.Conn) {
	defer close(m.closed)
	defer func() { _ = server.Close() }()

	_, _ = fmt.Fprintf(server, "%s\r\n", m.banner)

	r := bufio.NewReader(server)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimRight(line, "\r\n")
		m.mu.Lock()
		m.commands = append(m.commands, cmd)
		m.mu.Unlock()

		for prefix, resp := range m.responses {
			if strings.HasPrefix(cmd, prefix) {
				_, _ = fmt.Fprintf(server, "%s\r\n", resp)
				break
			}
		}

		if strings.HasPrefix(cmd, "QUIT") {
			_, _ = fmt.Fprintf(server, "221 Bye\r\n")
			return
		}
	}
}

func (m *mockSMTPServer) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commands...)
}

func (m *mockSMTPServer) dial(_ context.Context, _, _ string) (net.Conn, error) {
	client, server := net.Pipe()
	go m.serve(server)
	return client, nil
}

func testConfig(dial func(context.Context, string, string) (net.Conn, error)) smtpsession.Config {
	return smtpsession.Config{
		HeloName: "test.client",
		Port:     "25",
		Timeout:  2 * time.Second,
		Dial:     dial,
	}
}

func TestSession_Greet(t *testing.T) {
	srv := newMockServer("220 mx.example.com ESMTP", map[string]string{
		"HELO": "250 mx.example.com",
		"EHLO": "250-mx.example.com Hello\r\n250-PIPELINING\r\n250 STARTTLS",
	})

	s, err := smtpsession.Open(context.Background(), "mx.example.com", testConfig(srv.dial))
	require.NoError(t, err)

	reply, err := s.Greet()
	require.NoError(t, err)
	assert.Equal(t, 250, reply.Code)
	assert.Equal(t, "mx.example.com Hello\nPIPELINING\nSTARTTLS", reply.Text())

	require.NoError(t, s.Close())
	<-srv.closed
	assert.Equal(t, []string{"HELO test.client", "EHLO test.client", "QUIT"}, srv.Commands())
}

func TestSession_DialAddress(t *testing.T) {
	var got string
	cfg := testConfig(func(_ context.Context, network, address string) (net.Conn, error) {
		got = network + " " + address
		return nil, errors.New("connection refused")
	})
	cfg.Port = "2525"

	_, err := smtpsession.Open(context.Background(), "mx.example.com", cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, "tcp mx.example.com:2525", got)
}

func TestSession_RejectedBanner(t *testing.T) {
	srv := newMockServer("554 no service", nil)

	s, err := smtpsession.Open(context.Background(), "mx.example.com", testConfig(srv.dial))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	_, err = s.Greet()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server rejected connection: 554")
}

func TestSession_RejectedEHLO(t *testing.T) {
	srv := newMockServer("220 mx.example.com ESMTP", map[string]string{
		"HELO": "250 ok",
		"EHLO": "502 command not implemented",
	})

	s, err := smtpsession.Open(context.Background(), "mx.example.com", testConfig(srv.dial))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	_, err = s.Greet()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EHLO rejected: 502")
}

func TestSession_TemporaryEHLOFailure(t *testing.T) {
	srv := newMockServer("220 mx.example.com ESMTP", map[string]string{
		"HELO": "501 syntax error",
		"EHLO": "421 4.7.0 try again later",
	})

	s, err := smtpsession.Open(context.Background(), "mx.example.com", testConfig(srv.dial))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	// A rejected HELO is tolerated; a 4xx EHLO is not.
	reply, err := s.Greet()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EHLO rejected: 421")
	assert.Empty(t, reply.Lines)
}

func TestSession_MalformedReply(t *testing.T) {
	srv := newMockServer("hi", nil)

	s, err := smtpsession.Open(context.Background(), "mx.example.com", testConfig(srv.dial))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	_, err = s.Greet()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read banner")
}

func TestSession_Timeout(t *testing.T) {
	cfg := testConfig(func(_ context.Context, _, _ string) (net.Conn, error) {
		client, server := net.Pipe()
		go func() {
			// never send a banner
			time.Sleep(time.Second)
			_ = server.Close()
		}()
		return client, nil
	})
	cfg.Timeout = 50 * time.Millisecond

	s, err := smtpsession.Open(context.Background(), "mx.example.com", cfg)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	start := time.Now()
	_, err = s.Greet()
	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
