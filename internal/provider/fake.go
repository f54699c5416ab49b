package provider

import "context"

// Fake is a scripted Provider for tests: Stream replays a fixed chunk
// sequence regardless of the request, mirroring the role a stub provider
// plays across the example corpus's own provider tests.
type Fake struct {
	IDValue     string
	Chunks      []StreamChunk
	ModelsValue map[string]ModelInfo
}

// NewFake constructs a fake provider id "fake" that always replays chunks.
func NewFake(chunks ...StreamChunk) *Fake {
	return &Fake{
		IDValue: "fake",
		Chunks:  chunks,
		ModelsValue: map[string]ModelInfo{
			"fake-model": {ContextLimit: 200000, OutputLimit: 8192, SupportsTools: true, SupportsStream: true},
		},
	}
}

func (f *Fake) ID() string                  { return f.IDValue }
func (f *Fake) Name() string                { return "Fake" }
func (f *Fake) Models() map[string]ModelInfo { return f.ModelsValue }

func (f *Fake) Stream(ctx context.Context, req StreamRequest) (<-chan StreamChunk, error) {
	ch := make(chan StreamChunk, len(f.Chunks)+1)
	sawToolCall := false
	for _, c := range f.Chunks {
		if c.Type == ChunkToolCall {
			sawToolCall = true
		}
	}
	for _, c := range f.Chunks {
		if c.Type == ChunkDone && sawToolCall {
			c.StopReason = StopToolCalls // enforce the override rule even for scripted fakes
		}
		select {
		case ch <- c:
		case <-ctx.Done():
			close(ch)
			return ch, nil
		}
	}
	close(ch)
	return ch, nil
}
