package processor

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
)

// signature is one recorded tool call: the tool name and the first 8
// hex characters of the MD5 of its JSON-canonicalized arguments.
type signature struct {
	tool string
	hash string
}

// doomDetector flags three (default) consecutive identical (tool,
// args) signatures — same tool with different arguments is ordinary
// iterative work, not a loop (spec.md §4.11's key invariant).
type doomDetector struct {
	threshold int
	history   []signature
}

func newDoomDetector(threshold int) *doomDetector {
	if threshold <= 0 {
		threshold = 3
	}
	return &doomDetector{threshold: threshold}
}

// record appends a call signature and reports whether the last
// threshold signatures are all identical.
func (d *doomDetector) record(toolName string, args map[string]any) bool {
	d.history = append(d.history, signature{tool: toolName, hash: canonicalHash(args)})
	return d.tripped()
}

func (d *doomDetector) tripped() bool {
	if len(d.history) < d.threshold {
		return false
	}
	recent := d.history[len(d.history)-d.threshold:]
	first := recent[0]
	for _, s := range recent[1:] {
		if s != first {
			return false
		}
	}
	return true
}

func (d *doomDetector) reset() {
	d.history = nil
}

// canonicalHash MD5-hashes args and returns the first 8 hex characters,
// matching spec.md's `md5(json-canonical(args))[:8]`. encoding/json
// already serializes map keys in sorted order at every nesting level,
// so Marshal alone gives a stable byte sequence regardless of Go's
// randomized map iteration order.
func canonicalHash(args map[string]any) string {
	data, _ := json.Marshal(args)
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])[:8]
}
