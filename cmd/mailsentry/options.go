package main

import (
	"fmt"
	"io"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/optimode/mailsentry"
	"github.com/optimode/mailsentry/internal/config"
)

const programName = "mailsentry"

type parseResult int

const (
	parseStop     parseResult = iota // No error, but don't continue
	parseContinue                    // No errors and continue
	parseFailed                      // Errors, do not continue
)

// options is the command line after config file and flags were merged.
type options struct {
	cfg     config.Configuration
	serve   bool
	json    bool
	mxOnly  bool
	domains []string // positional arguments
}

// parseOptions reads args[1:]. Flags override values from --config.
func parseOptions(args []string, out io.Writer) (options, parseResult) {
	var (
		o           options
		helpFlag    bool
		versionFlag bool
		debugFlag   bool
		configFile  string
		listen      string
		concurrency int
		zones       []string
		dnsServers  []string
		heloName    string
		smtpTimeout time.Duration
	)

	name := programName
	if len(args) > 0 {
		name = args[0]
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() {
		fmt.Fprintf(out, "Usage: %s [options] [domain...]\n\n", name)
		fmt.Fprintln(out, "Without --serve or domains, prompts for a domain to check.")
		fmt.Fprintln(out)
		fs.PrintDefaults()
	}

	fs.BoolVarP(&helpFlag, "help", "h", false, "Print command-line usage")
	fs.BoolVarP(&versionFlag, "version", "v", false, "Print version")
	fs.StringVar(&configFile, "config", "", "JSON configuration file")
	fs.BoolVar(&o.serve, "serve", false, "Run the HTTP API instead of the interactive prompt")
	fs.StringVar(&listen, "listen", "", "HTTP API listen address (default from config: 0.0.0.0:5001)")
	fs.IntVar(&concurrency, "concurrency", 0, "Checks run at once per diagnostic (default 5)")
	fs.StringArrayVar(&zones, "zone", nil, "DNSBL zone to query; repeat for several (default: built-in list)")
	fs.StringArrayVar(&dnsServers, "dns-server", nil, "Nameserver for lookups; repeat for several (default: resolv.conf)")
	fs.StringVar(&heloName, "helo", "", "Name sent in HELO/EHLO")
	fs.DurationVar(&smtpTimeout, "smtp-timeout", 0, "SMTP probe timeout")
	fs.BoolVar(&o.json, "json", false, "Print reports as JSON")
	fs.BoolVar(&o.mxOnly, "mx-only", false, "Only resolve and print the mail exchangers")
	fs.BoolVar(&debugFlag, "debug", false, "Log debug output")

	if err := fs.Parse(args[1:]); err != nil {
		fmt.Fprintln(out, "Error:", err)
		return o, parseFailed
	}
	if helpFlag {
		fs.Usage()
		return o, parseStop
	}
	if versionFlag {
		fmt.Fprintf(out, "%s %s\n", programName, version)
		return o, parseStop
	}

	o.cfg = config.Default()
	if configFile != "" {
		c, err := config.GetConfig(config.Default(), configFile)
		if err != nil {
			fmt.Fprintf(out, "Error: could not read %s: %v\n", configFile, err)
			return o, parseFailed
		}
		o.cfg = *c
	}

	if fs.Changed("listen") {
		o.cfg.Listen = listen
	}
	if fs.Changed("concurrency") {
		o.cfg.Concurrency = concurrency
	}
	if fs.Changed("zone") {
		o.cfg.Zones = zones
	}
	if fs.Changed("dns-server") {
		o.cfg.DNSServers = dnsServers
	}
	if fs.Changed("helo") {
		o.cfg.HeloName = heloName
	}
	if fs.Changed("smtp-timeout") {
		o.cfg.SMTPTimeout = config.Duration{Duration: smtpTimeout}
	}
	if debugFlag {
		o.cfg.LogLevel = "debug"
	}
	if err := o.cfg.Validate(); err != nil {
		fmt.Fprintln(out, "Error:", err)
		return o, parseFailed
	}

	o.domains = fs.Args()
	if o.serve && len(o.domains) > 0 {
		fmt.Fprintln(out, "Error: --serve does not take domains")
		return o, parseFailed
	}
	return o, parseContinue
}

// engineOptions maps the configuration onto the engine options.
func engineOptions(c config.Configuration) mailsentry.Options {
	o := mailsentry.Options{
		Concurrency: c.Concurrency,
		SMTP: mailsentry.SMTPOptions{
			HeloName: c.HeloName,
			Port:     c.SMTPPort,
			Timeout:  c.SMTPTimeout.Duration,
		},
		DNS: mailsentry.DNSOptions{
			Servers: c.DNSServers,
			Timeout: c.DNSTimeout.Duration,
		},
	}
	if len(c.Zones) > 0 {
		o.Zones = c.Zones
	}
	return o
}
