package dispatcher

import "context"

// Session is the narrow collaborator the dispatcher needs from the
// (externally-owned, spec.md §1 Non-goal) conversational reasoning loop:
// drive one turn, streaming content chunks, observing cancellation at
// chunk boundaries. Grounded on original_source/nexus3/rpc/dispatcher.py's
// `self._session.send(content, cancel_token=token)` async generator,
// translated to a Go channel since Go has no async generators.
type Session interface {
	Send(ctx context.Context, content string, token *CancellationToken) (<-chan string, <-chan error)
}

// ContextManager is the narrow collaborator behind get_tokens/get_context,
// grounded on original_source/nexus3/rpc/dispatcher.py's `self._context`
// (a nexus3.context.manager.ContextManager). Absent entirely for agents
// that were not built with one (spec.md §4.6: "Returns INVALID_PARAMS when
// no context manager wired").
type ContextManager interface {
	TokenUsage() map[string]any
	MessageCount() int
	HasSystemPrompt() bool
}
