package provider

import "encoding/json"

// argBuilder accumulates fragmented JSON argument deltas for one tool
// call, keyed by the backend's per-block index, and parses the
// accumulated text once the block closes. Malformed JSON at completion
// yields an empty arguments map rather than propagating a parse error,
// per the argument-reassembly contract.
type argBuilder struct {
	fragments map[int]string
}

func newArgBuilder() *argBuilder {
	return &argBuilder{fragments: make(map[int]string)}
}

func (b *argBuilder) append(index int, fragment string) {
	b.fragments[index] += fragment
}

func (b *argBuilder) finish(index int) map[string]any {
	raw := b.fragments[index]
	args := make(map[string]any)
	if raw == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return make(map[string]any)
	}
	return args
}
