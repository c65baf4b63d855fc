// Package dispatcher routes the agent-scoped JSON-RPC methods of a single
// agent (spec.md §4.6): send, cancel, get_tokens, get_context, shutdown.
// Grounded on original_source/nexus3/rpc/dispatcher.py's Dispatcher class,
// restructured around Go channels in place of Python async generators and
// with get_tokens/get_context returning RPC errors instead of the
// original's success-shaped {"error": ...} dict (spec.md §4.6: "never
// returns success-with-error").
package dispatcher

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/opencode/internal/event"
	"github.com/opencode-ai/opencode/internal/nexuserr"
	"github.com/opencode-ai/opencode/internal/protocol"
)

// Dispatcher routes one agent's methods.
type Dispatcher struct {
	agentID string
	session Session
	context ContextManager // nil when this agent was built without one
	log     zerolog.Logger

	shutdown atomic.Bool

	mu             sync.Mutex
	activeRequests map[string]*CancellationToken
}

// New builds a Dispatcher bound to session (required) and an optional
// context manager.
func New(agentID string, session Session, context ContextManager, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		agentID:        agentID,
		session:        session,
		context:        context,
		log:            log.With().Str("component", "dispatcher").Str("agent_id", agentID).Logger(),
		activeRequests: make(map[string]*CancellationToken),
	}
}

// ShouldShutdown reports whether this agent's shutdown flag is set
// (consulted by the pool's should_shutdown aggregate, spec.md §4.5).
func (d *Dispatcher) ShouldShutdown() bool {
	return d.shutdown.Load()
}

// RequestShutdown sets the shutdown flag directly, the same flag the
// "shutdown" method sets.
func (d *Dispatcher) RequestShutdown() {
	d.shutdown.Store(true)
}

// CancelAllRequests signals every in-flight request's cancellation token
// (spec.md §5: "On agent destroy, the pool invokes
// dispatcher.cancel_all_requests() before closing other resources").
func (d *Dispatcher) CancelAllRequests() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, tok := range d.activeRequests {
		tok.Cancel()
	}
}

// Dispatch implements httpserver.Dispatcher.
func (d *Dispatcher) Dispatch(ctx context.Context, req protocol.Request, requesterID string) (resp *protocol.Response) {
	defer func() {
		if r := recover(); r != nil {
			if req.IsNotification() {
				resp = nil
				d.log.Error().Interface("panic", r).Str("method", req.Method).Msg("handler panicked")
				return
			}
			resp = protocol.NewErrorResponse(req.ID, protocol.NewError(protocol.CodeInternalError, fmt.Sprintf("internal error: %v", r)))
		}
	}()

	var result any
	var err error
	switch req.Method {
	case "send":
		result, err = d.handleSend(ctx, req)
	case "cancel":
		result, err = d.handleCancel(req)
	case "get_tokens":
		result, err = d.handleGetTokens()
	case "get_context":
		result, err = d.handleGetContext()
	case "shutdown":
		result, err = d.handleShutdown()
	default:
		if req.IsNotification() {
			return nil
		}
		return protocol.NewErrorResponse(req.ID, protocol.NewError(protocol.CodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method)))
	}

	if req.IsNotification() {
		if err != nil {
			d.log.Warn().Err(err).Str("method", req.Method).Msg("error processing notification")
		}
		return nil
	}

	if err != nil {
		return protocol.NewErrorResponse(req.ID, classifyError(err))
	}
	out, encErr := protocol.NewResultResponse(req.ID, result)
	if encErr != nil {
		return protocol.NewErrorResponse(req.ID, protocol.NewError(protocol.CodeInternalError, encErr.Error()))
	}
	return out
}

func classifyError(err error) *protocol.Error {
	switch e := err.(type) {
	case *nexuserr.InvalidParamsError:
		return protocol.NewError(protocol.CodeInvalidParams, e.Message)
	default:
		return protocol.NewError(protocol.CodeInternalError, err.Error())
	}
}

type sendParams struct {
	Content   string `json:"content"`
	RequestID string `json:"request_id,omitempty"`
}

// handleSend drives one conversational turn (spec.md §4.6): registers a
// cancellation token under request_id, accumulates streamed chunks, and
// removes the token in a defer (the reason a later cancel for the same ID
// observes "not_found_or_completed").
func (d *Dispatcher) handleSend(ctx context.Context, req protocol.Request) (any, error) {
	var params sendParams
	if rpcErr := protocol.DecodeParams(req, &params); rpcErr != nil {
		return nil, nexuserr.NewInvalidParams("%s", rpcErr.Message)
	}
	if params.Content == "" {
		return nil, nexuserr.NewInvalidParams("Missing required parameter: content")
	}

	requestID := params.RequestID
	if requestID == "" {
		var err error
		requestID, err = randomHex(8)
		if err != nil {
			return nil, fmt.Errorf("generating request id: %w", err)
		}
	}

	token := NewCancellationToken()
	d.mu.Lock()
	d.activeRequests[requestID] = token
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.activeRequests, requestID)
		d.mu.Unlock()
	}()

	chunks, errCh := d.session.Send(ctx, params.Content, token)
	var sb []byte
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				if token.Cancelled() {
					return map[string]any{"cancelled": true, "request_id": requestID}, nil
				}
				return map[string]any{"content": string(sb), "request_id": requestID}, nil
			}
			if token.Cancelled() {
				return map[string]any{"cancelled": true, "request_id": requestID}, nil
			}
			sb = append(sb, chunk...)
		case err, ok := <-errCh:
			if ok && err != nil {
				return nil, err
			}
		case <-ctx.Done():
			return map[string]any{"cancelled": true, "request_id": requestID}, nil
		}
	}
}

type cancelParams struct {
	RequestID string `json:"request_id"`
}

func (d *Dispatcher) handleCancel(req protocol.Request) (any, error) {
	var params cancelParams
	if rpcErr := protocol.DecodeParams(req, &params); rpcErr != nil {
		return nil, nexuserr.NewInvalidParams("%s", rpcErr.Message)
	}
	if params.RequestID == "" {
		return nil, nexuserr.NewInvalidParams("Missing required parameter: request_id")
	}

	d.mu.Lock()
	token, ok := d.activeRequests[params.RequestID]
	d.mu.Unlock()
	if !ok {
		return map[string]any{"cancelled": false, "request_id": params.RequestID, "reason": "not_found_or_completed"}, nil
	}
	token.Cancel()
	event.Publish(event.Event{Type: event.RequestCancelled, Data: event.RequestCancelledData{
		AgentID:   d.agentID,
		RequestID: params.RequestID,
	}})
	return map[string]any{"cancelled": true, "request_id": params.RequestID}, nil
}

// handleGetTokens returns INVALID_PARAMS when no context manager is wired,
// rather than the original's success-shaped {"error": ...} dict (spec.md
// §4.6's stricter discipline).
func (d *Dispatcher) handleGetTokens() (any, error) {
	if d.context == nil {
		return nil, nexuserr.NewInvalidParams("No context manager")
	}
	return d.context.TokenUsage(), nil
}

func (d *Dispatcher) handleGetContext() (any, error) {
	if d.context == nil {
		return nil, nexuserr.NewInvalidParams("No context manager")
	}
	return map[string]any{
		"message_count": d.context.MessageCount(),
		"system_prompt": d.context.HasSystemPrompt(),
	}, nil
}

func (d *Dispatcher) handleShutdown() (any, error) {
	d.shutdown.Store(true)
	return map[string]any{"success": true}, nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
