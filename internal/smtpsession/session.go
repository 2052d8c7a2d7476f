// Package smtpsession speaks just enough SMTP to greet a mail host: read the
// banner, introduce ourselves with HELO and EHLO, and say goodbye.
package smtpsession

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Config configures a session.
type Config struct {
	HeloName string
	Port     string
	// Timeout bounds the dial and the whole exchange.
	Timeout time.Duration
	// Dial is injectable for testing. Defaults to a net.Dialer.
	Dial func(ctx context.Context, network, address string) (net.Conn, error)
}

// Session is one open SMTP connection.
type Session struct {
	cfg     Config
	netConn net.Conn
	reader  *bufio.Reader
	writer  *bufio.Writer
}

// Reply is a parsed (possibly multi-line) SMTP response.
type Reply struct {
	Code  int
	Lines []string // text after the code and separator, one per line
}

// Text joins the reply lines with newlines.
func (r Reply) Text() string {
	return strings.Join(r.Lines, "\n")
}

// Open connects to host and sets the exchange deadline.
func Open(ctx context.Context, host string, cfg Config) (*Session, error) {
	if cfg.Dial == nil {
		d := &net.Dialer{}
		cfg.Dial = d.DialContext
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	address := net.JoinHostPort(host, cfg.Port)
	netConn, err := cfg.Dial(dialCtx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", address, err)
	}
	if err := netConn.SetDeadline(time.Now().Add(cfg.Timeout)); err != nil {
		_ = netConn.Close()
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	return &Session{
		cfg:     cfg,
		netConn: netConn,
		reader:  bufio.NewReader(netConn),
		writer:  bufio.NewWriter(netConn),
	}, nil
}

// Greet reads the banner, sends HELO then EHLO and returns the EHLO reply.
// The HELO reply code is not checked; a non-2xx banner or an EHLO
// reply of 400 or above is an error. This is stricter than capturing
// whatever the server greets with: a server that accepts the connection
// but refuses EHLO (4xx or 5xx) yields an error and no reply, so the
// caller reports the host as failed rather than recording the refusal
// text as its banner.
func (s *Session) Greet() (Reply, error) {
	banner, err := readReply(s.reader)
	if err != nil {
		return Reply{}, fmt.Errorf("read banner: %w", err)
	}
	if banner.Code < 200 || banner.Code >= 300 {
		return Reply{}, fmt.Errorf("server rejected connection: %d %s", banner.Code, banner.Text())
	}

	if _, err := s.command(fmt.Sprintf("HELO %s\r\n", s.cfg.HeloName)); err != nil {
		return Reply{}, fmt.Errorf("HELO failed: %w", err)
	}

	ehlo, err := s.command(fmt.Sprintf("EHLO %s\r\n", s.cfg.HeloName))
	if err != nil {
		return Reply{}, fmt.Errorf("EHLO failed: %w", err)
	}
	if ehlo.Code >= 400 {
		return Reply{}, fmt.Errorf("EHLO rejected: %d %s", ehlo.Code, ehlo.Text())
	}
	return ehlo, nil
}

// Close sends QUIT (best-effort) and closes the connection.
func (s *Session) Close() error {
	_ = s.netConn.SetDeadline(time.Now().Add(2 * time.Second))
	_, _ = s.writer.WriteString("QUIT\r\n")
	_ = s.writer.Flush()
	return s.netConn.Close()
}

// command sends an SMTP command and reads the response.
func (s *Session) command(cmd string) (Reply, error) {
	if _, err := s.writer.WriteString(cmd); err != nil {
		return Reply{}, err
	}
	if err := s.writer.Flush(); err != nil {
		return Reply{}, err
	}
	return readReply(s.reader)
}

// readReply reads a (possibly multi-line) SMTP response.
func readReply(r *bufio.Reader) (Reply, error) {
	var reply Reply
	for {
		line, readErr := r.ReadString('\n')
		if readErr != nil {
			return Reply{}, fmt.Errorf("read SMTP response: %w", readErr)
		}
		line = strings.TrimRight(line, "\r\n")
		if len(line) < 3 {
			return Reply{}, errors.New("SMTP response line too short")
		}

		var code int
		if _, err := fmt.Sscanf(line[:3], "%d", &code); err != nil {
			return Reply{}, fmt.Errorf("invalid SMTP response code %q: %w", line[:3], err)
		}
		reply.Code = code

		text := ""
		if len(line) > 4 {
			text = line[4:]
		}
		reply.Lines = append(reply.Lines, text)

		// If the 4th character is not '-', this is the last line
		if len(line) < 4 || line[3] != '-' {
			break
		}
	}
	return reply, nil
}
