// Package event implements the nostr event: an immutable, signed record
// as described in NIP-01, including the canonical serialization used to
// compute its id.
package event

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"relaywright.dev/pkg/nostr/tag"
)

// MaxTags bounds the number of tags a stored event may carry.
const MaxTags = 100

// MaxFutureSkew bounds how far into the future created_at may be, relative
// to the time of receipt.
const MaxFutureSkew = 3600

// E is a single nostr event.
type E struct {
	ID        string  `json:"id"`
	Pubkey    string  `json:"pubkey"`
	CreatedAt int64   `json:"created_at"`
	Kind      int     `json:"kind"`
	Tags      tag.S   `json:"tags"`
	Content   string  `json:"content"`
	Sig       string  `json:"sig"`
}

// Clone returns a deep copy of e, safe to hand to a goroutine that
// outlives the original (e.g. fan-out to subscribers after a mutable
// buffer is reused).
func (e *E) Clone() *E {
	if e == nil {
		return nil
	}
	c := *e
	c.Tags = make(tag.S, len(e.Tags))
	for i, t := range e.Tags {
		c.Tags[i] = append(tag.T(nil), t...)
	}
	return &c
}

// canonicalSerialize produces the NIP-01 canonical serialization used to
// compute an event's id: a compact JSON array
// [0, pubkey, created_at, kind, tags, content] with minimal escaping.
func (e *E) canonicalSerialize() []byte {
	var buf bytes.Buffer
	buf.WriteString(`[0,`)
	writeJSONString(&buf, e.Pubkey)
	buf.WriteByte(',')
	fmt.Fprintf(&buf, "%d", e.CreatedAt)
	buf.WriteByte(',')
	fmt.Fprintf(&buf, "%d", e.Kind)
	buf.WriteByte(',')
	buf.WriteByte('[')
	for i, t := range e.Tags {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('[')
		for j, s := range t {
			if j > 0 {
				buf.WriteByte(',')
			}
			writeJSONString(&buf, s)
		}
		buf.WriteByte(']')
	}
	buf.WriteByte(']')
	buf.WriteByte(',')
	writeJSONString(&buf, e.Content)
	buf.WriteByte(']')
	return buf.Bytes()
}

// writeJSONString writes s as a minimally-escaped JSON string: only the
// characters NIP-01 requires escaping (", \, and control characters) are
// escaped, everything else (notably forward slash and unicode) passes
// through untouched.
func writeJSONString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(buf, `\u%04x`, r)
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}

// ComputeID returns the hex SHA-256 of e's canonical serialization.
func (e *E) ComputeID() string {
	sum := sha256.Sum256(e.canonicalSerialize())
	return hex.EncodeToString(sum[:])
}

// ValidateStructure checks the field-presence and hex-length invariants
// an event must satisfy independent of signature verification: 64-hex
// id and pubkey, 128-hex sig, tag shape, tag count, created_at bounds.
// now is the unix time to validate created_at against.
func (e *E) ValidateStructure(now int64) error {
	if len(e.ID) != 64 {
		return fmt.Errorf("id must be 64 hex chars, got %d", len(e.ID))
	}
	if _, err := hex.DecodeString(e.ID); err != nil {
		return fmt.Errorf("id is not valid hex: %w", err)
	}
	if len(e.Pubkey) != 64 {
		return fmt.Errorf("pubkey must be 64 hex chars, got %d", len(e.Pubkey))
	}
	if _, err := hex.DecodeString(e.Pubkey); err != nil {
		return fmt.Errorf("pubkey is not valid hex: %w", err)
	}
	if len(e.Sig) != 128 {
		return fmt.Errorf("sig must be 128 hex chars, got %d", len(e.Sig))
	}
	if _, err := hex.DecodeString(e.Sig); err != nil {
		return fmt.Errorf("sig is not valid hex: %w", err)
	}
	if len(e.Tags) > MaxTags {
		return fmt.Errorf("too many tags: %d > %d", len(e.Tags), MaxTags)
	}
	for i, t := range e.Tags {
		if len(t) == 0 {
			return fmt.Errorf("tag %d is empty", i)
		}
	}
	if e.CreatedAt < 0 {
		return fmt.Errorf("created_at must be >= 0")
	}
	if e.CreatedAt > now+MaxFutureSkew {
		return fmt.Errorf("created_at too far in the future")
	}
	return nil
}

// IDMatches reports whether e.ID equals the id recomputed from e's
// current fields.
func (e *E) IDMatches() bool {
	return e.ID == e.ComputeID()
}

// Marshal serializes e as the standard (non-canonical) JSON object used
// on the wire, preserving whatever field values e currently holds.
func (e *E) Marshal() ([]byte, error) { return json.Marshal(e) }

// Unmarshal decodes a standard JSON event object into e.
func (e *E) Unmarshal(b []byte) error { return json.Unmarshal(b, e) }

// S is an ordered list of events, as returned by a historical query.
type S []*E
