// Package llmsession implements the dispatcher.Session/ContextManager pair
// that drives one agent's actual conversation turns. The core RPC layer
// treats this as an external collaborator (spec.md §1 Non-goal: Session
// internals) — this package is the concrete implementation cmd/nexus-server
// wires in, built on the teacher's internal/provider Eino registry rather
// than a stub, so the provider stack (Anthropic/OpenAI/Ark via Eino) is
// actually exercised end to end.
package llmsession

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/cloudwego/eino/schema"

	"github.com/opencode-ai/opencode/internal/dispatcher"
	"github.com/opencode-ai/opencode/internal/provider"
)

// Session drives one agent's turns against a single Eino-wrapped provider,
// replaying the accumulated message history on every send the way
// original_source/nexus3/rpc/dispatcher.py's self._session.send(...) does
// for its underlying conversational loop.
type Session struct {
	registry     *provider.Registry
	providerID   string
	modelID      string
	systemPrompt string

	mu       sync.Mutex
	messages []*schema.Message
}

// New builds a Session bound to modelSpec ("provider/model", falling back
// to defaultModel when modelSpec is empty), grounded on the
// "provider/model" split every teacher entry point (server.go,
// handlers_config.go, headless/runner.go) already performs on
// config.Model.
func New(registry *provider.Registry, modelSpec, defaultModel, systemPrompt string) *Session {
	spec := modelSpec
	if spec == "" {
		spec = defaultModel
	}
	providerID, modelID := splitModel(spec)

	var messages []*schema.Message
	if systemPrompt != "" {
		messages = append(messages, &schema.Message{Role: schema.System, Content: systemPrompt})
	}

	return &Session{
		registry:     registry,
		providerID:   providerID,
		modelID:      modelID,
		systemPrompt: systemPrompt,
		messages:     messages,
	}
}

func splitModel(spec string) (providerID, modelID string) {
	parts := strings.SplitN(spec, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "anthropic", spec
}

// Send implements dispatcher.Session: appends content as a user turn,
// streams the provider's reply chunk-by-chunk, and folds the accumulated
// assistant reply back into history once the stream completes.
func (s *Session) Send(ctx context.Context, content string, token *dispatcher.CancellationToken) (<-chan string, <-chan error) {
	out := make(chan string)
	errCh := make(chan error, 1)

	s.mu.Lock()
	s.messages = append(s.messages, &schema.Message{Role: schema.User, Content: content})
	turn := append([]*schema.Message(nil), s.messages...)
	s.mu.Unlock()

	go func() {
		defer close(out)

		p, err := s.registry.Get(s.providerID)
		if err != nil {
			errCh <- fmt.Errorf("resolving provider %q: %w", s.providerID, err)
			return
		}

		stream, err := p.CreateCompletion(ctx, &provider.CompletionRequest{
			Model:    s.modelID,
			Messages: turn,
		})
		if err != nil {
			errCh <- fmt.Errorf("creating completion: %w", err)
			return
		}
		defer stream.Close()

		var full strings.Builder
		for {
			if token != nil && token.Cancelled() {
				return
			}
			msg, err := stream.Recv()
			if err == io.EOF {
				break
			}
			if err != nil {
				errCh <- err
				return
			}
			if msg.Content == "" {
				continue
			}
			full.WriteString(msg.Content)
			select {
			case out <- msg.Content:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}

		s.mu.Lock()
		s.messages = append(s.messages, &schema.Message{Role: schema.Assistant, Content: full.String()})
		s.mu.Unlock()
	}()

	return out, errCh
}

// ContextManager implements dispatcher.ContextManager by reporting on the
// same message history the Session accumulates. Token usage is a coarse
// character-count estimate: spec.md §1 treats precise tokenizer accounting
// as an external concern, and no tokenizer library is in the example pack.
type ContextManager struct {
	session *Session
}

// NewContextManager wraps session for get_tokens/get_context reporting.
func NewContextManager(session *Session) *ContextManager {
	return &ContextManager{session: session}
}

// TokenUsage returns a coarse usage estimate keyed the way
// original_source/nexus3/context/manager.py's get_tokens reports it.
func (c *ContextManager) TokenUsage() map[string]any {
	c.session.mu.Lock()
	defer c.session.mu.Unlock()

	chars := 0
	for _, m := range c.session.messages {
		chars += len(m.Content)
	}
	return map[string]any{
		"estimated_tokens": chars / 4,
		"message_count":    len(c.session.messages),
	}
}

// MessageCount returns the number of turns accumulated so far.
func (c *ContextManager) MessageCount() int {
	c.session.mu.Lock()
	defer c.session.mu.Unlock()
	return len(c.session.messages)
}

// HasSystemPrompt reports whether the session was built with one.
func (c *ContextManager) HasSystemPrompt() bool {
	return c.session.systemPrompt != ""
}
