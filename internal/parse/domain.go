// Package parse normalises the domain and host names handed to the
// diagnostic engine.
package parse

import (
	"strings"

	"golang.org/x/net/idna"
)

// MaxHostLength is the longest host name accepted for address lookups.
const MaxHostLength = 253

// Domain is the internal representation of a domain under diagnosis.
type Domain struct {
	Name    string // trimmed, lower-cased input without the trailing dot
	ASCII   string // ASCII/Punycode form (for DNS queries)
	Unicode string // Unicode form (for display)
}

// NewDomain normalises raw. Only trimming and case folding are applied;
// the name is not validated. Internationalized names are converted to
// Punycode for querying, and when that conversion fails the name is
// queried as given.
func NewDomain(raw string) Domain {
	name := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(raw)), ".")

	ascii, unicode, ok := convertDomain(name)
	if !ok {
		ascii, unicode = name, name
	}
	return Domain{Name: name, ASCII: ascii, Unicode: unicode}
}

// Empty reports whether nothing remained after trimming.
func (d Domain) Empty() bool {
	return d.Name == ""
}

// Host trims a host name and strips its trailing dot. ok is false when
// nothing is left or the name exceeds MaxHostLength.
func Host(raw string) (host string, ok bool) {
	host = strings.TrimSuffix(strings.TrimSpace(raw), ".")
	if host == "" || len(host) > MaxHostLength {
		return "", false
	}
	return host, true
}

// MXHost normalises an MX exchange name: lower-cased, trimmed, no trailing dot.
func MXHost(raw string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(raw)), ".")
}

// convertDomain converts a domain to both ASCII/Punycode and Unicode forms.
// Returns (ascii, unicode, ok). ok is false if the domain contains
// non-ASCII characters that fail IDNA2008 validation.
func convertDomain(domain string) (ascii, unicode string, ok bool) {
	hasNonASCII := false
	for _, r := range domain {
		if r > 127 {
			hasNonASCII = true
			break
		}
	}

	if hasNonASCII {
		a, err := idna.Lookup.ToASCII(domain)
		if err != nil {
			return "", "", false
		}
		return a, domain, true
	}

	// Existing Punycode like xn--mnchen-3ya.de is shown as münchen.de
	u, err := idna.Display.ToUnicode(domain)
	if err != nil {
		u = domain
	}
	return domain, u, true
}
