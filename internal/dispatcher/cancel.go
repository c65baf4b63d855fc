package dispatcher

import "sync/atomic"

// CancellationToken is a cooperative cancel flag: the running send loop
// checks it at chunk boundaries rather than being forcibly interrupted,
// grounded on original_source/nexus3/core/cancel.py's CancellationToken
// (asyncio.Event there; an atomic flag here since Go has no equivalent of
// asyncio's single-threaded event loop to rely on for visibility).
type CancellationToken struct {
	cancelled atomic.Bool
}

// NewCancellationToken builds an unset token.
func NewCancellationToken() *CancellationToken {
	return &CancellationToken{}
}

// Cancel sets the flag; idempotent.
func (t *CancellationToken) Cancel() {
	t.cancelled.Store(true)
}

// Cancelled reports whether Cancel has been called.
func (t *CancellationToken) Cancelled() bool {
	return t.cancelled.Load()
}
