// Package check contains the individual diagnostics run by mailsentry:
// record lookups, address and reverse resolution, the SMTP greeting probe,
// DNSBL zone probes, and HostRunner which combines the per-host checks.
// Apart from ResolveMX, every check converts its failures into result
// fields instead of returning them.
// These types can be used directly, but the recommended approach is
// to use the Diagnoser from the github.com/optimode/mailsentry package.
package check
