// Package identifier mints sortable, type-prefixed IDs for every entity in
// the orchestrator: sessions, messages, parts, tools, questions.
//
// The shape is deliberately ULID-like — a prefix, an underscore, and a
// lowercase base32 token whose leading bytes encode a millisecond
// timestamp — so that IDs minted within the same process sort
// lexicographically in generation order (see Testable Property 1 in
// spec.md §8). Unlike a plain github.com/google/uuid v4 ID, these tokens
// are NOT random throughout: monotonicity is the whole point, so only the
// entropy tail is random — sourced from a uuid rather than crypto/rand
// directly, since google/uuid's default v4 generator is itself a
// crypto/rand-backed CSPRNG and this avoids keeping two independent
// random sources in the same binary.
package identifier

import (
	"encoding/base32"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Prefix is one of the entity-type tags from spec.md §4.1.
type Prefix string

const (
	Session  Prefix = "session"
	Message  Prefix = "message"
	Part     Prefix = "part"
	Tool     Prefix = "tool"
	Question Prefix = "question"
)

var prefixCodes = map[Prefix]string{
	Session:  "ses",
	Message:  "msg",
	Part:     "prt",
	Tool:     "tol",
	Question: "qst",
}

// encoding is Crockford-ish base32 lowercased, matching ULID's alphabet
// choice (no padding, case-insensitive on read).
var encoding = base32.NewEncoding("0123456789abcdefghjkmnpqrstvwxyz").WithPadding(base32.NoPadding)

var mu sync.Mutex
var lastMillis int64
var lastSeq uint32

// New mints a new sortable ID for the given prefix. Safe for concurrent use.
// Two calls within the same process, the second issued after the first
// returns, always produce b > a lexicographically.
func New(prefix Prefix) string {
	code, ok := prefixCodes[prefix]
	if !ok {
		code = string(prefix)
		if len(code) > 3 {
			code = code[:3]
		}
	}
	return code + "_" + strings.ToLower(token())
}

// token returns a 16-byte payload: 6 bytes of millisecond timestamp + a
// per-millisecond sequence counter (2 bytes, guards against same-millisecond
// collisions reordering) + 8 bytes of entropy drawn from a fresh v4 uuid,
// base32-encoded.
func token() string {
	mu.Lock()
	now := time.Now().UnixMilli()
	if now == lastMillis {
		lastSeq++
	} else {
		lastMillis = now
		lastSeq = 0
	}
	seq := lastSeq
	mu.Unlock()

	var buf [16]byte
	buf[0] = byte(now >> 40)
	buf[1] = byte(now >> 32)
	buf[2] = byte(now >> 24)
	buf[3] = byte(now >> 16)
	buf[4] = byte(now >> 8)
	buf[5] = byte(now)
	buf[6] = byte(seq >> 8)
	buf[7] = byte(seq)

	entropy := uuid.New()
	copy(buf[8:], entropy[:8])

	return encoding.EncodeToString(buf[:])
}

// Parse splits an ID into its prefix code and token. Returns an error if the
// ID does not contain exactly one underscore separator.
func Parse(id string) (code, tok string, err error) {
	parts := strings.SplitN(id, "_", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("identifier: invalid id format %q", id)
	}
	return parts[0], parts[1], nil
}

// Validate reports whether id carries the expected prefix's code.
func Validate(id string, expected Prefix) bool {
	code, _, err := Parse(id)
	if err != nil {
		return false
	}
	want, ok := prefixCodes[expected]
	if !ok {
		want = string(expected)
		if len(want) > 3 {
			want = want[:3]
		}
	}
	return code == want
}
