// Package reason provides the machine-stable reason-string prefixes used
// in OK/CLOSED/NOTICE frames, per NIP-01's "machine-readable prefix"
// convention.
package reason

import "fmt"

// R is a reason-string prefix.
type R string

const (
	AuthRequired R = "auth-required"
	PoW          R = "pow"
	Duplicate    R = "duplicate"
	Blocked      R = "blocked"
	RateLimited  R = "rate-limited"
	Invalid      R = "invalid"
	Error        R = "error"
	Unsupported  R = "unsupported"
	Restricted   R = "restricted"
)

// F formats r as "<prefix>: <message>", the wire form every OK/CLOSED
// reason string uses.
func (r R) F(format string, args ...any) string {
	return string(r) + ": " + fmt.Sprintf(format, args...)
}
