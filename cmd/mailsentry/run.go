package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-isatty"

	"github.com/optimode/mailsentry"
	"github.com/optimode/mailsentry/internal/api"
	"github.com/optimode/mailsentry/internal/render"
)

const version = api.Version

const (
	promptText    = "Enter domain to check (e.g., example.com): "
	promptInvalid = "Error: Please enter a valid domain (e.g., example.com)"
)

const shutdownTimeout = 30 * time.Second

// run is main without the process globals. It returns the exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	o, res := parseOptions(args, stderr)
	switch res {
	case parseStop:
		return 0
	case parseFailed:
		return 2
	}

	logger := log.NewWithOptions(stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          programName,
	})
	if lvl, err := log.ParseLevel(o.cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}

	d, err := mailsentry.New(engineOptions(o.cfg))
	if err != nil {
		logger.Error("could not create diagnoser", "err", err)
		return 1
	}
	d.WithLogger(logger)

	if o.serve {
		srv := api.New(d, logger)
		if err := srv.ListenAndServe(ctx, o.cfg.Listen, shutdownTimeout); err != nil {
			logger.Error("server failed", "err", err)
			return 1
		}
		logger.Info("Shutting down MailSentry...")
		return 0
	}

	domains := o.domains
	if len(domains) == 0 {
		domain, err := promptDomain(bufio.NewReader(stdin), stdout)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Error("read domain", "err", err)
			}
			return 1
		}
		domains = []string{domain}
	}

	if o.mxOnly {
		return printMX(ctx, d, domains, stdout, logger)
	}

	reports, err := d.RunMany(ctx, domains)
	if err != nil {
		logger.Error("diagnostic failed", "err", err)
	}
	color := isTerminal(stdout)
	for _, r := range reports {
		if r == nil {
			continue
		}
		if werr := writeReport(stdout, r, o.json, color); werr != nil {
			logger.Error("write report", "err", werr)
			return 1
		}
	}
	if err != nil {
		return 1
	}
	return 0
}

// promptDomain asks until the answer contains a dot and returns it
// trimmed and lower-cased.
func promptDomain(in *bufio.Reader, out io.Writer) (string, error) {
	for {
		fmt.Fprint(out, promptText)
		line, err := in.ReadString('\n')
		domain := strings.ToLower(strings.TrimSpace(line))
		if domain != "" && strings.Contains(domain, ".") {
			return domain, nil
		}
		if err != nil {
			return "", err
		}
		fmt.Fprintln(out, promptInvalid)
	}
}

func writeReport(w io.Writer, r *mailsentry.DomainReport, asJSON, color bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	return render.Text(w, r, render.Options{Color: color})
}

func printMX(ctx context.Context, d *mailsentry.Diagnoser, domains []string, w io.Writer, logger *log.Logger) int {
	code := 0
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Domain", "Host", "Priority"})
	for _, domain := range domains {
		mx, err := d.ResolveMX(ctx, domain)
		if err != nil {
			logger.Warn("mx lookup failed", "domain", domain, "err", err)
			t.AppendRow(table.Row{domain, err.Error(), ""})
			code = 1
			continue
		}
		for _, r := range mx {
			t.AppendRow(table.Row{domain, r.Host, r.Priority})
		}
	}
	t.Render()
	return code
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
