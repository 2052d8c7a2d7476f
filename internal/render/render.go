// Package render formats a DomainReport for terminals.
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-msgauth/dmarc"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/optimode/mailsentry/internal/parse"
	"github.com/optimode/mailsentry/types"
)

const rule = "=================================================="

// Options controls the text output.
type Options struct {
	// Color enables ANSI colours for statuses.
	Color bool
}

type painter struct {
	good, bad, warn, head *color.Color
}

func newPainter(enabled bool) painter {
	p := painter{
		good: color.New(color.FgGreen),
		bad:  color.New(color.FgRed),
		warn: color.New(color.FgYellow),
		head: color.New(color.Bold),
	}
	for _, c := range []*color.Color{p.good, p.bad, p.warn, p.head} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// displayDomain appends the Unicode form of a Punycode domain.
func displayDomain(domain string) string {
	d := parse.NewDomain(domain)
	if d.Unicode == "" || d.Unicode == domain {
		return domain
	}
	return fmt.Sprintf("%s [%s]", domain, d.Unicode)
}

// Text writes report as a human-readable summary: header, mail
// exchangers, domain records, one section per host, then SPF and DMARC.
func Text(w io.Writer, report *types.DomainReport, opts Options) error {
	p := newPainter(opts.Color)
	var b strings.Builder

	fmt.Fprintf(&b, "\n%s\n", p.head.Sprintf("MX Server Check for %s (%s UTC)",
		displayDomain(report.Domain), report.Timestamp.UTC().Format("2006-01-02T15:04:05")))
	fmt.Fprintln(&b, rule)

	fmt.Fprintln(&b, "\nUnique MX Hosts (by priority):")
	if len(report.MXRecords) == 0 {
		fmt.Fprintln(&b, "  None")
	} else {
		t := newTable()
		t.AppendHeader(table.Row{"Host", "Priority"})
		for _, mx := range report.MXRecords {
			t.AppendRow(table.Row{mx.Host, mx.Priority})
		}
		fmt.Fprintln(&b, t.Render())
	}
	if report.Diagnostics.MXError != "" {
		fmt.Fprintf(&b, "  %s\n", p.warn.Sprint(report.Diagnostics.MXError))
	}

	fmt.Fprintln(&b, "\nDNS Records:")
	for _, rtype := range []string{"A", "CNAME", "TXT"} {
		fmt.Fprintf(&b, "  %s: %s\n", rtype, records(report.DNSRecords[rtype]))
	}

	fmt.Fprintln(&b, "\nDiagnostics:")
	for _, host := range report.Diagnostics.UniqueHosts {
		writeHost(&b, p, host, report.Diagnostics.Hosts[host])
	}

	fmt.Fprintf(&b, "\nSPF Record: %s\n", optional(report.Diagnostics.SPF))
	fmt.Fprintf(&b, "DMARC Record: %s\n", optional(report.Diagnostics.DMARC))
	if report.Diagnostics.DMARC != nil {
		if summary, err := DMARCSummary(*report.Diagnostics.DMARC); err != nil {
			fmt.Fprintf(&b, "  %s\n", p.warn.Sprintf("Policy: unparseable (%v)", err))
		} else {
			fmt.Fprintf(&b, "  Policy: %s\n", summary)
		}
	}
	fmt.Fprintln(&b, rule)

	_, err := io.WriteString(w, b.String())
	return err
}

func writeHost(b *strings.Builder, p painter, host string, d types.HostDiagnostic) {
	fmt.Fprintf(b, "\n- %s\n", p.head.Sprint(host))
	if !d.Resolved() {
		fmt.Fprintf(b, "  IP: %s\n", p.bad.Sprint(types.Unresolved))
		return
	}
	fmt.Fprintf(b, "  IP: %s\n", d.IP)
	fmt.Fprintf(b, "  Reverse DNS: %s\n", optional(d.ReverseDNS))

	if d.SMTP != nil {
		status := p.good.Sprint(d.SMTP.Status)
		if d.SMTP.Status != types.SMTPSuccess {
			status = p.bad.Sprint(d.SMTP.Status)
		}
		fmt.Fprintf(b, "  SMTP Check: %s\n", status)
		if d.SMTP.Error != "" {
			fmt.Fprintf(b, "    SMTP Error: %s\n", d.SMTP.Error)
		}
	}

	fmt.Fprintln(b, "  Blacklists:")
	if len(d.Blacklists) == 0 {
		fmt.Fprintln(b, "    None")
		return
	}
	t := newTable()
	t.AppendHeader(table.Row{"Zone", "Listed", "Error"})
	for _, bl := range d.Blacklists {
		listed := p.good.Sprint("no")
		switch {
		case bl.Listed:
			listed = p.bad.Sprint("yes")
		case bl.Error != "":
			listed = p.warn.Sprint("unknown")
		}
		t.AppendRow(table.Row{bl.Zone, listed, bl.Error})
	}
	fmt.Fprintln(b, indent(t.Render(), "    "))
}

// DMARCSummary describes the policy of a DMARC record, e.g.
// "reject (subdomains: quarantine, 50%)".
func DMARCSummary(record string) (string, error) {
	r, err := dmarc.Parse(record)
	if err != nil {
		return "", err
	}

	var extra []string
	if r.SubdomainPolicy != "" && r.SubdomainPolicy != r.Policy {
		extra = append(extra, "subdomains: "+string(r.SubdomainPolicy))
	}
	if r.Percent != nil && *r.Percent != 100 {
		extra = append(extra, fmt.Sprintf("%d%%", *r.Percent))
	}
	if len(r.ReportURIAggregate) > 0 {
		extra = append(extra, "rua: "+strings.Join(r.ReportURIAggregate, ","))
	}

	if len(extra) == 0 {
		return string(r.Policy), nil
	}
	return fmt.Sprintf("%s (%s)", r.Policy, strings.Join(extra, ", ")), nil
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	return t
}

func records(values []string) string {
	if len(values) == 0 {
		return "None"
	}
	return strings.Join(values, ", ")
}

func optional(s *string) string {
	if s == nil {
		return "None"
	}
	return *s
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
