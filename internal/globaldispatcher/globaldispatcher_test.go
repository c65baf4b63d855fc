package globaldispatcher

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/opencode/internal/agentpool"
	"github.com/opencode-ai/opencode/internal/dispatcher"
	"github.com/opencode-ai/opencode/internal/permission"
	"github.com/opencode-ai/opencode/internal/protocol"
)

type fakeSession struct{}

func (fakeSession) Send(ctx context.Context, content string, token *dispatcher.CancellationToken) (<-chan string, <-chan error) {
	out := make(chan string, 1)
	errCh := make(chan error, 1)
	out <- content
	close(out)
	return out, errCh
}

func newTestDispatcher(t *testing.T) (*GlobalDispatcher, *agentpool.Pool) {
	t.Helper()
	pool := agentpool.New(agentpool.SharedComponents{
		BaseLogDir:         t.TempDir(),
		PermissionResolver: permission.NewResolver(nil),
		Log:                zerolog.Nop(),
	}, nil)
	factory := func(agentID, cwd, model, systemPrompt string) (dispatcher.Session, dispatcher.ContextManager) {
		return fakeSession{}, nil
	}
	return New(pool, factory, zerolog.Nop()), pool
}

func newReq(method string, params any, id int64) protocol.Request {
	var raw json.RawMessage
	if params != nil {
		raw, _ = json.Marshal(params)
	}
	return protocol.Request{JSONRPC: "2.0", Method: method, Params: raw, ID: protocol.NewIntID(id)}
}

func decodeResult(t *testing.T, resp *protocol.Response) map[string]any {
	t.Helper()
	if resp.Err != nil {
		t.Fatalf("unexpected error response: %+v", resp.Err)
	}
	var m map[string]any
	if err := json.Unmarshal(resp.Result, &m); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	return m
}

func TestCreateAgentExplicitID(t *testing.T) {
	g, _ := newTestDispatcher(t)
	resp := g.Dispatch(context.Background(), newReq("create_agent", map[string]any{"agent_id": "w1", "preset": "sandboxed"}, 1), "")
	result := decodeResult(t, resp)
	if result["agent_id"] != "w1" || result["url"] != "/agent/w1" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestCreateAgentRejectsYOLOPreset(t *testing.T) {
	g, _ := newTestDispatcher(t)
	resp := g.Dispatch(context.Background(), newReq("create_agent", map[string]any{"preset": "yolo"}, 1), "")
	if resp.Err == nil || resp.Err.Code != protocol.CodeInvalidParams {
		t.Fatalf("expected INVALID_PARAMS rejecting yolo preset, got %+v", resp.Err)
	}
}

func TestCreateAgentRejectsDuplicateID(t *testing.T) {
	g, _ := newTestDispatcher(t)
	g.Dispatch(context.Background(), newReq("create_agent", map[string]any{"agent_id": "dup"}, 1), "")
	resp := g.Dispatch(context.Background(), newReq("create_agent", map[string]any{"agent_id": "dup"}, 2), "")
	if resp.Err == nil || resp.Err.Code != protocol.CodeInvalidParams {
		t.Fatalf("expected INVALID_PARAMS on duplicate id, got %+v", resp.Err)
	}
}

func TestCreateAgentRejectsPathTraversalID(t *testing.T) {
	g, _ := newTestDispatcher(t)
	resp := g.Dispatch(context.Background(), newReq("create_agent", map[string]any{"agent_id": "../etc/passwd"}, 1), "")
	if resp.Err == nil || resp.Err.Code != protocol.CodeInvalidParams {
		t.Fatal("expected INVALID_PARAMS for a path-traversal agent id")
	}
}

func TestCreateAgentCeilingEnforcement(t *testing.T) {
	g, _ := newTestDispatcher(t)
	resp := g.Dispatch(context.Background(), newReq("create_agent", map[string]any{"agent_id": "p", "preset": "sandboxed"}, 1), "")
	decodeResult(t, resp)

	resp = g.Dispatch(context.Background(), newReq("create_agent", map[string]any{
		"agent_id":        "c",
		"preset":          "trusted",
		"parent_agent_id": "p",
	}, 2), "")
	if resp.Err == nil || resp.Err.Code != protocol.CodeInvalidParams {
		t.Fatalf("expected a ceiling-exceeded INVALID_PARAMS error, got %+v", resp.Err)
	}

	list := g.Dispatch(context.Background(), newReq("list_agents", nil, 3), "")
	listResult := decodeResult(t, list)
	agents := listResult["agents"].([]any)
	if len(agents) != 1 {
		t.Fatalf("rejected child must not appear in list_agents, got %d agents", len(agents))
	}
}

func TestCreateAgentParentNotFound(t *testing.T) {
	g, _ := newTestDispatcher(t)
	resp := g.Dispatch(context.Background(), newReq("create_agent", map[string]any{"parent_agent_id": "ghost"}, 1), "")
	if resp.Err == nil || resp.Err.Code != protocol.CodeInvalidParams {
		t.Fatal("expected INVALID_PARAMS for unknown parent_agent_id")
	}
}

func TestCreateAgentCwdMustExist(t *testing.T) {
	g, _ := newTestDispatcher(t)
	resp := g.Dispatch(context.Background(), newReq("create_agent", map[string]any{"cwd": "/no/such/dir/at/all"}, 1), "")
	if resp.Err == nil || resp.Err.Code != protocol.CodeInvalidParams {
		t.Fatal("expected INVALID_PARAMS for a nonexistent cwd")
	}
}

func TestCreateAgentWithWriteOutsideCwdIsRejected(t *testing.T) {
	g, _ := newTestDispatcher(t)
	dir := t.TempDir()
	resp := g.Dispatch(context.Background(), newReq("create_agent", map[string]any{
		"cwd":                 dir,
		"preset":              "sandboxed",
		"allowed_write_paths": []string{"/etc"},
	}, 1), "")
	if resp.Err == nil || resp.Err.Code != protocol.CodeInvalidParams {
		t.Fatal("expected INVALID_PARAMS for a write path outside the sandbox root")
	}
}

func TestCreateAgentWithValidWritePathSucceeds(t *testing.T) {
	g, _ := newTestDispatcher(t)
	dir := t.TempDir()
	os.MkdirAll(dir+"/out", 0o755)
	resp := g.Dispatch(context.Background(), newReq("create_agent", map[string]any{
		"cwd":                 dir,
		"preset":              "sandboxed",
		"allowed_write_paths": []string{"out"},
	}, 1), "")
	decodeResult(t, resp)
}

func TestCreateAgentWithInitialMessageWaitsInline(t *testing.T) {
	g, _ := newTestDispatcher(t)
	resp := g.Dispatch(context.Background(), newReq("create_agent", map[string]any{
		"agent_id":                  "w1",
		"initial_message":           "hello",
		"wait_for_initial_response": true,
	}, 1), "")
	result := decodeResult(t, resp)
	if result["response"] == nil {
		t.Fatal("expected an inline response for wait_for_initial_response=true")
	}
}

func TestCreateAgentWithInitialMessageQueuesByDefault(t *testing.T) {
	g, _ := newTestDispatcher(t)
	resp := g.Dispatch(context.Background(), newReq("create_agent", map[string]any{
		"agent_id":        "w1",
		"initial_message": "hello",
	}, 1), "")
	result := decodeResult(t, resp)
	if result["initial_status"] != "queued" {
		t.Fatalf("expected queued status, got %+v", result)
	}
	if result["initial_request_id"] == "" || result["initial_request_id"] == nil {
		t.Fatal("expected a generated initial_request_id")
	}
}

func TestCreateAgentEmptyInitialMessageRejected(t *testing.T) {
	g, _ := newTestDispatcher(t)
	resp := g.Dispatch(context.Background(), newReq("create_agent", map[string]any{"initial_message": "   "}, 1), "")
	if resp.Err == nil || resp.Err.Code != protocol.CodeInvalidParams {
		t.Fatal("expected INVALID_PARAMS for a blank initial_message")
	}
}

func TestDestroyAgentSelfDestructSucceeds(t *testing.T) {
	g, _ := newTestDispatcher(t)
	g.Dispatch(context.Background(), newReq("create_agent", map[string]any{"agent_id": "a1"}, 1), "")
	resp := g.Dispatch(context.Background(), newReq("destroy_agent", map[string]any{"agent_id": "a1"}, 2), "a1")
	result := decodeResult(t, resp)
	if result["success"] != true {
		t.Fatalf("expected success, got %+v", result)
	}
}

func TestDestroyAgentMissingParamIsInvalidParams(t *testing.T) {
	g, _ := newTestDispatcher(t)
	resp := g.Dispatch(context.Background(), newReq("destroy_agent", map[string]any{}, 1), "")
	if resp.Err == nil || resp.Err.Code != protocol.CodeInvalidParams {
		t.Fatal("expected INVALID_PARAMS for missing agent_id")
	}
}

func TestDestroyAgentUnauthorizedIsInvalidParams(t *testing.T) {
	g, _ := newTestDispatcher(t)
	g.Dispatch(context.Background(), newReq("create_agent", map[string]any{"agent_id": "a1"}, 1), "")
	g.Dispatch(context.Background(), newReq("create_agent", map[string]any{"agent_id": "stranger"}, 2), "")
	resp := g.Dispatch(context.Background(), newReq("destroy_agent", map[string]any{"agent_id": "a1"}, 3), "stranger")
	if resp.Err == nil || resp.Err.Code != protocol.CodeInvalidParams {
		t.Fatal("expected INVALID_PARAMS for an unauthorized destroy")
	}
}

func TestDestroyAgentExternalClientIsAdmin(t *testing.T) {
	g, _ := newTestDispatcher(t)
	g.Dispatch(context.Background(), newReq("create_agent", map[string]any{"agent_id": "a1"}, 1), "")
	resp := g.Dispatch(context.Background(), newReq("destroy_agent", map[string]any{"agent_id": "a1"}, 2), "")
	result := decodeResult(t, resp)
	if result["success"] != true {
		t.Fatalf("expected an external (requester_id=nil) client to act as admin, got %+v", result)
	}
}

func TestShutdownServerSetsFlag(t *testing.T) {
	g, _ := newTestDispatcher(t)
	resp := g.Dispatch(context.Background(), newReq("shutdown_server", nil, 1), "")
	result := decodeResult(t, resp)
	if result["success"] != true {
		t.Fatalf("unexpected result: %+v", result)
	}
	if !g.ShutdownRequested() {
		t.Fatal("expected ShutdownRequested to be true")
	}
}

func TestUnknownMethodIsMethodNotFound(t *testing.T) {
	g, _ := newTestDispatcher(t)
	resp := g.Dispatch(context.Background(), newReq("bogus", nil, 1), "")
	if resp.Err == nil || resp.Err.Code != protocol.CodeMethodNotFound {
		t.Fatalf("expected METHOD_NOT_FOUND, got %+v", resp.Err)
	}
}
