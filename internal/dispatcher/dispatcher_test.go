package dispatcher

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/opencode/internal/protocol"
)

type fakeSession struct {
	chunks []string
	block  chan struct{} // if non-nil, Send blocks on this before each chunk
}

func (s *fakeSession) Send(ctx context.Context, content string, token *CancellationToken) (<-chan string, <-chan error) {
	out := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		for _, c := range s.chunks {
			if s.block != nil {
				<-s.block
			}
			if token.Cancelled() {
				return
			}
			out <- c
		}
	}()
	return out, errCh
}

func newReq(method string, params any, id int64) protocol.Request {
	var raw json.RawMessage
	if params != nil {
		raw, _ = json.Marshal(params)
	}
	return protocol.Request{JSONRPC: "2.0", Method: method, Params: raw, ID: protocol.NewIntID(id)}
}

func TestSendAccumulatesChunks(t *testing.T) {
	d := New("agent-1", &fakeSession{chunks: []string{"hello ", "world"}}, nil, zerolog.Nop())
	resp := d.Dispatch(context.Background(), newReq("send", map[string]any{"content": "hi"}, 1), "")
	if resp.Err != nil {
		t.Fatalf("unexpected error: %+v", resp.Err)
	}
	var result map[string]any
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result["content"] != "hello world" {
		t.Fatalf("unexpected content: %+v", result)
	}
	if result["request_id"] == "" || result["request_id"] == nil {
		t.Fatal("expected a generated request_id")
	}
}

func TestSendMissingContentIsInvalidParams(t *testing.T) {
	d := New("agent-1", &fakeSession{}, nil, zerolog.Nop())
	resp := d.Dispatch(context.Background(), newReq("send", map[string]any{}, 1), "")
	if resp.Err == nil || resp.Err.Code != protocol.CodeInvalidParams {
		t.Fatalf("expected INVALID_PARAMS, got %+v", resp.Err)
	}
}

func TestCancelUnknownRequestID(t *testing.T) {
	d := New("agent-1", &fakeSession{}, nil, zerolog.Nop())
	resp := d.Dispatch(context.Background(), newReq("cancel", map[string]any{"request_id": "ghost"}, 1), "")
	var result map[string]any
	json.Unmarshal(resp.Result, &result)
	if result["cancelled"] != false || result["reason"] != "not_found_or_completed" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestCancelMissingRequestIDIsInvalidParams(t *testing.T) {
	d := New("agent-1", &fakeSession{}, nil, zerolog.Nop())
	resp := d.Dispatch(context.Background(), newReq("cancel", map[string]any{}, 1), "")
	if resp.Err == nil || resp.Err.Code != protocol.CodeInvalidParams {
		t.Fatalf("expected INVALID_PARAMS, got %+v", resp.Err)
	}
}

func TestGetTokensWithoutContextIsInvalidParams(t *testing.T) {
	d := New("agent-1", &fakeSession{}, nil, zerolog.Nop())
	resp := d.Dispatch(context.Background(), newReq("get_tokens", nil, 1), "")
	if resp.Err == nil || resp.Err.Code != protocol.CodeInvalidParams {
		t.Fatalf("expected INVALID_PARAMS, got %+v", resp.Err)
	}
}

type fakeContext struct{}

func (fakeContext) TokenUsage() map[string]any { return map[string]any{"total": 42} }
func (fakeContext) MessageCount() int          { return 3 }
func (fakeContext) HasSystemPrompt() bool      { return true }

func TestGetContextWithContextManager(t *testing.T) {
	d := New("agent-1", &fakeSession{}, fakeContext{}, zerolog.Nop())
	resp := d.Dispatch(context.Background(), newReq("get_context", nil, 1), "")
	if resp.Err != nil {
		t.Fatalf("unexpected error: %+v", resp.Err)
	}
	var result map[string]any
	json.Unmarshal(resp.Result, &result)
	if result["message_count"] != float64(3) || result["system_prompt"] != true {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestShutdownSetsFlag(t *testing.T) {
	d := New("agent-1", &fakeSession{}, nil, zerolog.Nop())
	resp := d.Dispatch(context.Background(), newReq("shutdown", nil, 1), "")
	if resp.Err != nil {
		t.Fatalf("unexpected error: %+v", resp.Err)
	}
	if !d.ShouldShutdown() {
		t.Fatal("expected shutdown flag set")
	}
}

func TestUnknownMethodIsMethodNotFound(t *testing.T) {
	d := New("agent-1", &fakeSession{}, nil, zerolog.Nop())
	resp := d.Dispatch(context.Background(), newReq("bogus", nil, 1), "")
	if resp.Err == nil || resp.Err.Code != protocol.CodeMethodNotFound {
		t.Fatalf("expected METHOD_NOT_FOUND, got %+v", resp.Err)
	}
}

func TestNotificationGetsNoResponse(t *testing.T) {
	d := New("agent-1", &fakeSession{}, nil, zerolog.Nop())
	req := protocol.Request{JSONRPC: "2.0", Method: "bogus"}
	resp := d.Dispatch(context.Background(), req, "")
	if resp != nil {
		t.Fatalf("expected nil response for notification, got %+v", resp)
	}
}

func TestCancelAllRequests(t *testing.T) {
	block := make(chan struct{})
	sess := &fakeSession{chunks: []string{"a", "b"}, block: block}
	d := New("agent-1", sess, nil, zerolog.Nop())

	done := make(chan *protocol.Response, 1)
	go func() {
		resp := d.Dispatch(context.Background(), newReq("send", map[string]any{"content": "hi", "request_id": "r1"}, 1), "")
		done <- resp
	}()

	// Give the goroutine a moment to register the token, then cancel and
	// unblock the producer.
	for {
		d.mu.Lock()
		_, ok := d.activeRequests["r1"]
		d.mu.Unlock()
		if ok {
			break
		}
	}
	d.CancelAllRequests()
	close(block)

	resp := <-done
	var result map[string]any
	json.Unmarshal(resp.Result, &result)
	if result["cancelled"] != true {
		t.Fatalf("expected cancelled result, got %+v", result)
	}
}
