package check

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/optimode/mailsentry/internal/smtpsession"
	"github.com/optimode/mailsentry/types"
)

const (
	// DefaultSMTPTimeout bounds one SMTP probe.
	DefaultSMTPTimeout = 10 * time.Second
	// DefaultSMTPPort is the port probed on every mail host.
	DefaultSMTPPort = "25"
	// DefaultHeloName is sent in HELO and EHLO.
	DefaultHeloName = "localhost"
)

// SMTPConfig is the SMTP probe configuration.
type SMTPConfig struct {
	HeloName string
	Port     string
	Timeout  time.Duration
	// Dial is injectable for testing. Defaults to a net.Dialer.
	Dial func(ctx context.Context, network, address string) (net.Conn, error)
}

// SMTPProbe connects to a mail host and records its EHLO greeting.
type SMTPProbe struct {
	cfg smtpsession.Config
}

// NewSMTPProbe creates an SMTP probe, filling unset fields with defaults.
func NewSMTPProbe(cfg SMTPConfig) *SMTPProbe {
	if cfg.HeloName == "" {
		cfg.HeloName = DefaultHeloName
	}
	if cfg.Port == "" {
		cfg.Port = DefaultSMTPPort
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSMTPTimeout
	}
	return &SMTPProbe{cfg: smtpsession.Config{
		HeloName: cfg.HeloName,
		Port:     cfg.Port,
		Timeout:  cfg.Timeout,
		Dial:     cfg.Dial,
	}}
}

// Probe greets host. Every failure becomes a failed result carrying the
// error text; the connection is closed on every path.
func (p *SMTPProbe) Probe(ctx context.Context, host string) types.SMTPResult {
	s, err := smtpsession.Open(ctx, host, p.cfg)
	if err != nil {
		return failed(err)
	}
	defer func() { _ = s.Close() }()

	reply, err := s.Greet()
	if err != nil {
		return failed(err)
	}

	return types.SMTPResult{
		Status: types.SMTPSuccess,
		Banner: strings.ToValidUTF8(reply.Text(), "\uFFFD"),
	}
}

func failed(err error) types.SMTPResult {
	return types.SMTPResult{
		Status: types.SMTPFailed,
		Error:  strings.ToValidUTF8(err.Error(), "\uFFFD"),
	}
}
