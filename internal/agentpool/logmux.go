package agentpool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// ctxKey scopes the agent ID stashed on a context so it cannot collide with
// any other package's context key.
type ctxKey struct{}

// WithAgent returns a context tagged with agentID, for use by whatever
// goroutine is about to make a provider call on that agent's behalf.
// LogMultiplexer.Log uses this tag to route the resulting raw-API log line
// to the right agent's stream (spec.md §3: "Log multiplexer is shared and
// uses per-task context to route raw-API logs to the right agent").
func WithAgent(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, agentID)
}

// AgentFromContext recovers the agent ID WithAgent attached, if any.
func AgentFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok
}

// LogMultiplexer is the single shared router for raw provider-API log
// lines, keyed by agent ID so concurrent sends from different agents never
// interleave into each other's log files (spec.md §3). One multiplexer is
// shared across the whole pool; Register/Unregister track per-agent
// destinations as agents are created and destroyed.
type LogMultiplexer struct {
	baseDir string
	log     zerolog.Logger

	mu      sync.RWMutex
	streams map[string]*agentLogStream
}

type agentLogStream struct {
	file   *os.File
	logger zerolog.Logger
}

// NewLogMultiplexer builds a multiplexer that writes each agent's raw log
// lines under baseDir/<agent_id>/raw.log.
func NewLogMultiplexer(baseDir string, log zerolog.Logger) *LogMultiplexer {
	return &LogMultiplexer{
		baseDir: baseDir,
		log:     log.With().Str("component", "logmux").Logger(),
		streams: make(map[string]*agentLogStream),
	}
}

// Register opens the raw-log destination for agentID. Called by
// Pool.Create before the agent is inserted into the pool map.
func (m *LogMultiplexer) Register(agentID string) error {
	dir := logDirFor(m.baseDir, agentID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating log dir for %q: %w", agentID, err)
	}
	path := filepath.Join(dir, "raw.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening raw log for %q: %w", agentID, err)
	}

	stream := &agentLogStream{
		file:   f,
		logger: zerolog.New(f).With().Timestamp().Str("agent_id", agentID).Logger(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.streams[agentID]; ok {
		existing.file.Close()
	}
	m.streams[agentID] = stream
	return nil
}

// Unregister closes and removes agentID's raw-log stream (spec.md §4.5
// step 5: "Unregister the target from the raw-log multiplexer").
func (m *LogMultiplexer) Unregister(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stream, ok := m.streams[agentID]; ok {
		stream.file.Close()
		delete(m.streams, agentID)
	}
}

// Log writes one raw-API log line, routed by the agent ID tagged on ctx via
// WithAgent. Lines with no agent context, or whose agent has no registered
// stream (already destroyed, or never registered), are logged to the
// multiplexer's own component logger instead of being dropped.
func (m *LogMultiplexer) Log(ctx context.Context, raw string) {
	entryID := ulid.Make().String()

	agentID, ok := AgentFromContext(ctx)
	if !ok {
		m.log.Debug().Str("entry_id", entryID).Str("raw", raw).Msg("raw log with no agent context")
		return
	}

	m.mu.RLock()
	stream, ok := m.streams[agentID]
	m.mu.RUnlock()
	if !ok {
		m.log.Debug().Str("entry_id", entryID).Str("agent_id", agentID).Str("raw", raw).Msg("raw log for unregistered agent")
		return
	}
	stream.logger.Log().Str("entry_id", entryID).Str("raw", raw).Send()
}

// Close closes every open stream. Used on full server shutdown.
func (m *LogMultiplexer) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, stream := range m.streams {
		stream.file.Close()
		delete(m.streams, id)
	}
}
