// Package globaldispatcher routes the pool-wide JSON-RPC methods served on
// "/" and "/rpc" (spec.md §4.7): create_agent, destroy_agent, list_agents,
// shutdown_server. Grounded on
// original_source/nexus3/rpc/global_dispatcher.py's GlobalDispatcher class,
// translated from asyncio into synchronous Go with a background goroutine
// standing in for asyncio.create_task for the fire-and-forget
// initial_message path.
package globaldispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/opencode/internal/agentpool"
	"github.com/opencode-ai/opencode/internal/dispatcher"
	"github.com/opencode-ai/opencode/internal/event"
	"github.com/opencode-ai/opencode/internal/nexuserr"
	"github.com/opencode-ai/opencode/internal/permission"
	"github.com/opencode-ai/opencode/internal/protocol"
)

// writeFileTools/mixedFileTools alias permission.MutatingFileTools/
// MixedModeFileTools (global_dispatcher.py's WRITE_FILE_TOOLS/
// MIXED_FILE_TOOLS) so the allowed_write_paths delta synthesis below uses
// the exact same tool-name lists the preset builders use.
var writeFileTools = permission.MutatingFileTools
var mixedFileTools = permission.MixedModeFileTools

// SessionFactory builds the Session/ContextManager pair a newly created
// agent's dispatcher needs. Supplied by the caller (cmd/nexus-server's
// bootstrap) since the reasoning loop is an external collaborator.
type SessionFactory func(agentID, cwd, model, systemPrompt string) (dispatcher.Session, dispatcher.ContextManager)

// GlobalDispatcher handles the four pool-level methods.
type GlobalDispatcher struct {
	pool            *agentpool.Pool
	sessionFactory  SessionFactory
	shutdownFlag    atomic.Bool
	log             zerolog.Logger
}

// New builds a GlobalDispatcher bound to pool. sessionFactory builds the
// Session/ContextManager for every agent create_agent creates.
func New(pool *agentpool.Pool, sessionFactory SessionFactory, log zerolog.Logger) *GlobalDispatcher {
	return &GlobalDispatcher{
		pool:           pool,
		sessionFactory: sessionFactory,
		log:            log.With().Str("component", "globaldispatcher").Logger(),
	}
}

// ShutdownRequested reports whether shutdown_server has been called.
func (g *GlobalDispatcher) ShutdownRequested() bool {
	return g.shutdownFlag.Load()
}

// Dispatch implements httpserver.Dispatcher.
func (g *GlobalDispatcher) Dispatch(ctx context.Context, req protocol.Request, requesterID string) (resp *protocol.Response) {
	defer func() {
		if r := recover(); r != nil {
			if req.IsNotification() {
				g.log.Error().Interface("panic", r).Str("method", req.Method).Msg("handler panicked")
				resp = nil
				return
			}
			resp = protocol.NewErrorResponse(req.ID, protocol.NewError(protocol.CodeInternalError, fmt.Sprintf("internal error: %v", r)))
		}
	}()

	var result any
	var err error
	switch req.Method {
	case "create_agent":
		result, err = g.handleCreateAgent(ctx, req)
	case "destroy_agent":
		result, err = g.handleDestroyAgent(req, requesterID)
	case "list_agents":
		result, err = g.handleListAgents()
	case "shutdown_server":
		result, err = g.handleShutdownServer()
	default:
		if req.IsNotification() {
			return nil
		}
		return protocol.NewErrorResponse(req.ID, protocol.NewError(protocol.CodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method)))
	}

	if req.IsNotification() {
		if err != nil {
			g.log.Warn().Err(err).Str("method", req.Method).Msg("error processing notification")
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

func rawParams(req protocol.Request) map[string]any {
	if len(req.Params) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(req.Params, &m); err != nil {
		return map[string]any{}
	}
	return m
}

func asString(v any, field string) (string, bool, error) {
	if v == nil {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", true, nexuserr.NewInvalidParams("%s must be string, got: %s", field, jsonTypeName(v))
	}
	return s, true, nil
}

func asBool(v any, field string) (bool, bool, error) {
	if v == nil {
		return false, false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, true, nexuserr.NewInvalidParams("%s must be boolean, got: %s", field, jsonTypeName(v))
	}
	return b, true, nil
}

func asStringSlice(v any, field string) ([]string, bool, error) {
	if v == nil {
		return nil, false, nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, true, nexuserr.NewInvalidParams("%s must be array, got: %s", field, jsonTypeName(v))
	}
	out := make([]string, len(arr))
	for i, item := range arr {
		s, ok := item.(string)
		if !ok {
			return nil, true, nexuserr.NewInvalidParams("%s[%d] must be string, got: %s", field, i, jsonTypeName(item))
		}
		out[i] = s
	}
	return out, true, nil
}

func jsonTypeName(v any) string {
	switch v.(type) {
	case string:
		return "str"
	case bool:
		return "bool"
	case float64:
		return "number"
	case []any:
		return "list"
	case map[string]any:
		return "dict"
	case nil:
		return "NoneType"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// handleCreateAgent implements the 10-step validation of spec.md §4.7.
func (g *GlobalDispatcher) handleCreateAgent(ctx context.Context, req protocol.Request) (any, error) {
	params := rawParams(req)

	agentID, _, err := asString(params["agent_id"], "agent_id")
	if err != nil {
		return nil, err
	}

	systemPrompt, _, err := asString(params["system_prompt"], "system_prompt")
	if err != nil {
		return nil, err
	}

	preset, presetSet, err := asString(params["preset"], "preset")
	if err != nil {
		return nil, err
	}
	if presetSet && !permission.RPCPresets[preset] {
		return nil, nexuserr.NewInvalidParams("Invalid preset: %s. Valid: [sandboxed trusted worker]", preset)
	}

	disableTools, _, err := asStringSlice(params["disable_tools"], "disable_tools")
	if err != nil {
		return nil, err
	}

	model, _, err := asString(params["model"], "model")
	if err != nil {
		return nil, err
	}

	initialMessage, initialMessageSet, err := asString(params["initial_message"], "initial_message")
	if err != nil {
		return nil, err
	}
	if initialMessageSet && len(strings.TrimSpace(initialMessage)) == 0 {
		return nil, nexuserr.NewInvalidParams("initial_message cannot be empty")
	}

	parentAgentID, parentSet, err := asString(params["parent_agent_id"], "parent_agent_id")
	if err != nil {
		return nil, err
	}
	var parentPerms *permission.AgentPermissions
	var parentCwd string
	var havParentCwd bool
	if parentSet {
		parentAgent := g.pool.Get(parentAgentID)
		if parentAgent == nil {
			return nil, nexuserr.NewInvalidParams("Parent agent not found: %s", parentAgentID)
		}
		if parentAgent.Permissions == nil {
			return nil, nexuserr.NewInvalidParams("Parent agent '%s' has no permissions configured", parentAgentID)
		}
		parentPerms = parentAgent.Permissions
		parentCwd = parentAgent.Cwd()
		havParentCwd = parentCwd != ""
	}

	cwdParam, cwdSet, err := asString(params["cwd"], "cwd")
	if err != nil {
		return nil, err
	}
	var cwdPath string
	haveCwd := false
	if cwdSet {
		resolved := cwdParam
		if !filepath.IsAbs(resolved) && havParentCwd {
			resolved = filepath.Join(parentCwd, resolved)
		}
		resolved, resErr := permission.ResolvePath(ctx, resolved, parentCwd)
		if resErr != nil {
			return nil, nexuserr.NewInvalidParams("cwd invalid: %s", resErr.Error())
		}
		if !pathExistsDir(resolved) {
			return nil, nexuserr.NewInvalidParams("cwd does not exist or is not a directory: %s", resolved)
		}
		cwdPath = resolved
		haveCwd = true
	} else if havParentCwd {
		cwdPath = parentCwd
		haveCwd = true
	}

	if haveCwd && parentPerms != nil {
		allowed := parentPerms.EffectivePolicy.AllowedPaths
		if allowed != nil && !containedInAny(cwdPath, allowed) {
			return nil, nexuserr.NewInvalidParams("cwd '%s' is outside parent's allowed paths", cwdPath)
		}
		if havParentCwd && !permission.IsWithinDir(cwdPath, parentCwd) && cwdPath != parentCwd {
			return nil, nexuserr.NewInvalidParams("cwd '%s' is outside parent's cwd '%s'", cwdPath, parentCwd)
		}
	}

	writePathsRaw, writePathsSet, err := asStringSlice(params["allowed_write_paths"], "allowed_write_paths")
	if err != nil {
		return nil, err
	}
	var writePaths []string
	if writePathsSet {
		base := cwdPath
		if base == "" {
			base = "."
		}
		for _, wp := range writePathsRaw {
			resolved := wp
			if !filepath.IsAbs(resolved) {
				resolved = filepath.Join(base, resolved)
			}
			writePaths = append(writePaths, filepath.Clean(resolved))
		}
	}

	effectivePreset := preset
	if effectivePreset == "" {
		effectivePreset = permission.PresetSandboxed
	}
	if (effectivePreset == permission.PresetSandboxed || effectivePreset == permission.PresetWorker) && len(writePaths) > 0 {
		sandboxRoot := cwdPath
		if sandboxRoot == "" {
			sandboxRoot = "."
		}
		for _, wp := range writePaths {
			if !permission.IsWithinDir(wp, sandboxRoot) {
				return nil, nexuserr.NewInvalidParams("allowed_write_path '%s' is outside sandbox root '%s'", wp, sandboxRoot)
			}
		}
	}
	if len(writePaths) > 0 && havParentCwd {
		for _, wp := range writePaths {
			if !permission.IsWithinDir(wp, parentCwd) {
				return nil, nexuserr.NewInvalidParams("allowed_write_path '%s' is outside parent's cwd '%s'", wp, parentCwd)
			}
		}
	}

	delta := buildDelta(disableTools, writePathsSet, writePaths, effectivePreset, presetSet)

	cfg := agentpool.AgentConfig{
		AgentID:           agentID,
		SystemPrompt:      systemPrompt,
		Preset:            preset,
		DisableTools:      disableTools,
		Model:             model,
		Cwd:               cwdPath,
		AllowedWritePaths: writePaths,
		ParentAgentID:     parentAgentID,
		ParentPermissions: parentPerms,
		Delta:             delta,
	}
	if g.sessionFactory != nil {
		// Build the Session/ContextManager pair exactly once per agent and
		// cache it: agentpool.createLocked calls SessionFactory then
		// ContextFactory in sequence, and both must see the same pair
		// rather than two independently-constructed sessions.
		var once sync.Once
		var sess dispatcher.Session
		var ctxMgr dispatcher.ContextManager
		build := func(id, cwd string) {
			once.Do(func() {
				sess, ctxMgr = g.sessionFactory(id, cwd, model, systemPrompt)
			})
		}
		cfg.SessionFactory = func(id, cwd string) dispatcher.Session {
			build(id, cwd)
			return sess
		}
		cfg.ContextFactory = func(id string) dispatcher.ContextManager {
			build(id, cwdPath)
			return ctxMgr
		}
	}

	agent, err := g.pool.Create(agentID, cfg)
	if err != nil {
		return nil, nexuserr.NewInvalidParams("%s", err.Error())
	}

	g.log.Info().Str("agent_id", agent.AgentID).Str("preset", orDefault(preset, "default")).
		Str("cwd", orDefault(cwdPath, ".")).Str("model", orDefault(model, "default")).Msg("agent created")
	event.Publish(event.Event{Type: event.AgentCreated, Data: event.AgentCreatedData{
		AgentID:       agent.AgentID,
		ParentAgentID: parentAgentID,
		Preset:        orDefault(preset, "default"),
	}})

	result := map[string]any{
		"agent_id": agent.AgentID,
		"url":      "/agent/" + agent.AgentID,
	}

	if initialMessageSet {
		waitForResponse, _, err := asBool(params["wait_for_initial_response"], "wait_for_initial_response")
		if err != nil {
			return nil, err
		}
		requestID := uuid.New().String()
		result["initial_request_id"] = requestID
		sendReq := protocol.Request{
			JSONRPC: "2.0",
			Method:  "send",
			Params:  mustMarshal(map[string]any{"content": initialMessage, "request_id": requestID}),
			ID:      protocol.NewStringID("initial_message"),
		}
		if waitForResponse {
			resp := agent.Dispatcher.Dispatch(ctx, sendReq, "")
			if resp != nil {
				if resp.Err != nil {
					result["response"] = map[string]any{"error": resp.Err}
				} else {
					var decoded any
					json.Unmarshal(resp.Result, &decoded)
					result["response"] = decoded
				}
			}
		} else {
			go func() {
				defer func() {
					if r := recover(); r != nil {
						g.log.Error().Interface("panic", r).Str("agent_id", agent.AgentID).Str("request_id", requestID).
							Msg("background initial_message panicked")
					}
				}()
				agent.Dispatcher.Dispatch(context.Background(), sendReq, "")
			}()
			result["initial_status"] = "queued"
		}
	}

	return result, nil
}

func buildDelta(disableTools []string, writePathsSet bool, writePaths []string, effectivePreset string, presetSet bool) *permission.PermissionDelta {
	var delta permission.PermissionDelta
	dirty := false
	if len(disableTools) > 0 {
		delta.DisableTools = disableTools
		dirty = true
	}

	isSandboxLike := effectivePreset == permission.PresetSandboxed || effectivePreset == permission.PresetWorker
	if isSandboxLike {
		delta.ToolOverrides = make(map[string]permission.ToolPermission)
		if len(writePaths) > 0 {
			for _, name := range writeFileTools {
				delta.ToolOverrides[name] = permission.ToolPermission{Enabled: true, AllowedPaths: writePaths}
			}
			for _, name := range mixedFileTools {
				delta.ToolOverrides[name] = permission.ToolPermission{Enabled: true, AllowedPaths: writePaths}
			}
		} else {
			for _, name := range append(append([]string{}, writeFileTools...), mixedFileTools...) {
				delta.ToolOverrides[name] = permission.ToolPermission{Enabled: false}
			}
		}
		dirty = true
	} else if writePathsSet {
		delta.ToolOverrides = make(map[string]permission.ToolPermission)
		for _, name := range writeFileTools {
			delta.ToolOverrides[name] = permission.ToolPermission{Enabled: true, AllowedPaths: writePaths}
		}
		for _, name := range mixedFileTools {
			delta.ToolOverrides[name] = permission.ToolPermission{Enabled: true, AllowedPaths: writePaths}
		}
		dirty = true
	}

	if !dirty {
		return nil
	}
	return &delta
}

func (g *GlobalDispatcher) handleDestroyAgent(req protocol.Request, requesterID string) (any, error) {
	params := rawParams(req)
	agentIDv, ok := params["agent_id"]
	if !ok || agentIDv == nil {
		return nil, nexuserr.NewInvalidParams("Missing required parameter: agent_id")
	}
	agentID, ok := agentIDv.(string)
	if !ok {
		return nil, nexuserr.NewInvalidParams("agent_id must be string, got: %s", jsonTypeName(agentIDv))
	}

	success, err := g.pool.Destroy(agentID, requesterID, requesterID == "")
	if err != nil {
		if _, ok := err.(*nexuserr.AuthorizationError); ok {
			return nil, nexuserr.NewInvalidParams("%s", err.Error())
		}
		return nil, err
	}

	if success {
		g.log.Info().Str("agent_id", agentID).Str("requester_id", orDefault(requesterID, "external")).Msg("agent destroyed")
		event.Publish(event.Event{Type: event.AgentDestroyed, Data: event.AgentDestroyedData{
			AgentID:     agentID,
			RequesterID: orDefault(requesterID, "external"),
		}})
	} else {
		g.log.Warn().Str("agent_id", agentID).Msg("agent destroy failed: not found")
	}

	return map[string]any{"success": success, "agent_id": agentID}, nil
}

func (g *GlobalDispatcher) handleListAgents() (any, error) {
	return map[string]any{"agents": g.pool.ListAgents()}, nil
}

func (g *GlobalDispatcher) handleShutdownServer() (any, error) {
	g.shutdownFlag.Store(true)
	g.log.Info().Msg("server shutdown requested")
	event.Publish(event.Event{Type: event.ShutdownRequested, Data: nil})
	return map[string]any{"success": true, "message": "Server shutting down"}, nil
}

func pathExistsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func containedInAny(path string, candidates []string) bool {
	for _, c := range candidates {
		if permission.IsWithinDir(path, c) || path == c {
			return true
		}
	}
	return false
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}
