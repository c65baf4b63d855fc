package mcpclient

import "context"

// Transport is the common lifecycle every MCP transport implements.
type Transport interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
	IsConnected() bool
}

// MessageTransport is implemented by transports whose wire stream can
// interleave server notifications with responses (stdio): the client must
// Send then loop on Receive, discarding notifications, to find its match.
type MessageTransport interface {
	Transport
	Send(ctx context.Context, msg map[string]any) error
	Receive(ctx context.Context) (map[string]any, error)
}

// RequestTransport is implemented by transports that serve a request and
// its response atomically in one call (HTTP): no shared "pending response"
// slot, safe for concurrent use.
type RequestTransport interface {
	Transport
	Request(ctx context.Context, msg map[string]any) (map[string]any, error)
}

// ringBuffer is a bounded FIFO of strings, used to capture a stdio
// subprocess's stderr for diagnostics (spec.md §4.9: "≤ 20 lines").
type ringBuffer struct {
	lines []string
	max   int
}

func newRingBuffer(max int) *ringBuffer {
	return &ringBuffer{max: max}
}

func (r *ringBuffer) add(line string) {
	r.lines = append(r.lines, line)
	if len(r.lines) > r.max {
		r.lines = r.lines[len(r.lines)-r.max:]
	}
}

// Lines returns a snapshot of the buffered lines, oldest first.
func (r *ringBuffer) Lines() []string {
	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}
