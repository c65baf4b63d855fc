package agentpool

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/opencode-ai/opencode/internal/agentid"
	"github.com/opencode-ai/opencode/internal/dispatcher"
	"github.com/opencode-ai/opencode/internal/event"
	"github.com/opencode-ai/opencode/internal/httpserver"
	"github.com/opencode-ai/opencode/internal/nexuserr"
	"github.com/opencode-ai/opencode/internal/permission"
)

// SessionManager is the narrow restore collaborator get_or_restore needs
// (spec.md §4.5). A nil SessionManager means restore is never attempted —
// an absent agent is simply absent.
type SessionManager interface {
	SessionExists(agentID string) bool
	// Restore loads the persisted session and returns enough to rebuild an
	// Agent: the AgentConfig used to reconstruct permissions/dispatcher and
	// whether the agent was a temp agent.
	Restore(ctx context.Context, agentID string) (AgentConfig, error)
}

// Pool is the central lifecycle authority: a single-writer mutex guarding
// an agentID→Agent map (spec.md §4.5).
type Pool struct {
	shared         SharedComponents
	sessionManager SessionManager

	mu     sync.Mutex
	agents map[string]*Agent
}

// New builds an empty Pool bound to shared. sessionManager may be nil.
func New(shared SharedComponents, sessionManager SessionManager) *Pool {
	return &Pool{
		shared:         shared,
		sessionManager: sessionManager,
		agents:         make(map[string]*Agent),
	}
}

// Get returns the active agent for id, or nil.
func (p *Pool) Get(id string) *Agent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.agents[id]
}

// Contains reports whether id is an active agent.
func (p *Pool) Contains(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.agents[id]
	return ok
}

// Len reports the number of active agents.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.agents)
}

// GetDispatcher implements httpserver.Pool: a plain active-agent lookup,
// no restore attempt.
func (p *Pool) GetDispatcher(agentID string) (httpserver.Dispatcher, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	agent, ok := p.agents[agentID]
	if !ok {
		return nil, false
	}
	return agent.Dispatcher, true
}

// GetOrRestoreDispatcher implements httpserver.Pool.
func (p *Pool) GetOrRestoreDispatcher(ctx context.Context, agentID string) (httpserver.Dispatcher, bool) {
	agent, ok := p.GetOrRestore(ctx, agentID)
	if !ok {
		return nil, false
	}
	return agent.Dispatcher, true
}

// Create inserts a new agent, resolving its preset, applying its delta, and
// enforcing ceiling checks before and after, per spec.md §4.5 steps 1–10.
// effectiveID resolution (config.AgentID ?? agentID ?? random hex) and
// uniqueness rejection happen under the pool mutex.
func (p *Pool) Create(agentID string, cfg AgentConfig) (*Agent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.createLocked(agentID, cfg, false)
}

// CreateTemp generates the next unused ".N" ID (lowest N ≥ 1 not already
// present), holding the pool mutex across both ID generation and insertion
// so concurrent calls cannot race into a duplicate (spec.md §4.5).
func (p *Pool) CreateTemp(cfg AgentConfig) (*Agent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextTempIDLocked()
	return p.createLocked(id, cfg, true)
}

func (p *Pool) nextTempIDLocked() string {
	for n := 1; ; n++ {
		candidate := "." + strconv.Itoa(n)
		if _, exists := p.agents[candidate]; !exists {
			return candidate
		}
	}
}

func (p *Pool) createLocked(agentID string, cfg AgentConfig, isTemp bool) (*Agent, error) {
	effectiveID := cfg.AgentID
	if effectiveID == "" {
		effectiveID = agentID
	}
	if effectiveID == "" {
		generated, err := randomHexID(8)
		if err != nil {
			return nil, fmt.Errorf("generating agent id: %w", err)
		}
		effectiveID = generated
	}

	if err := agentid.Validate(effectiveID); err != nil {
		return nil, fmt.Errorf("invalid agent id %q: %w", effectiveID, err)
	}
	if _, exists := p.agents[effectiveID]; exists {
		return nil, fmt.Errorf("agent %q already exists", effectiveID)
	}

	if p.shared.LogMux != nil {
		if err := p.shared.LogMux.Register(effectiveID); err != nil {
			return nil, fmt.Errorf("registering log stream: %w", err)
		}
	}

	presetName := cfg.Preset
	if presetName == "" {
		presetName = permission.PresetTrusted
	}
	base, err := p.shared.PermissionResolver.Resolve(presetName, cfg.Cwd)
	if err != nil {
		return nil, fmt.Errorf("resolving preset %q: %w", presetName, err)
	}

	delta := permission.PermissionDelta{}
	if cfg.Delta != nil {
		delta = *cfg.Delta
	}
	resolved := base
	if !delta.IsZero() {
		resolved = permission.ApplyDelta(base, delta)
	}

	// Ceiling check (before delta): reject depth overflow and verify the
	// parent can grant the resolved base preset.
	if cfg.ParentPermissions != nil {
		if cfg.ParentPermissions.Depth >= MaxAgentDepth {
			return nil, nexuserr.NewInvalidParams("agent nesting would exceed max depth %d", MaxAgentDepth)
		}
		if !cfg.ParentPermissions.CanGrant(&base) {
			return nil, nexuserr.NewInvalidParams("requested permissions exceeds parent ceiling")
		}
		// Ceiling check (after delta): re-verify against the final permissions.
		if !cfg.ParentPermissions.CanGrant(&resolved) {
			return nil, nexuserr.NewInvalidParams("requested permissions exceeds parent ceiling")
		}
	}

	permission.AssignCeiling(&resolved, cfg.ParentPermissions, cfg.ParentAgentID)

	var sess dispatcher.Session
	if cfg.SessionFactory != nil {
		sess = cfg.SessionFactory(effectiveID, cfg.Cwd)
	}
	var ctxMgr dispatcher.ContextManager
	if cfg.ContextFactory != nil {
		ctxMgr = cfg.ContextFactory(effectiveID)
	}
	disp := dispatcher.New(effectiveID, sess, ctxMgr, p.shared.Log)

	agent := NewAgent(effectiveID, isTemp, disp, &resolved, cfg.Cwd)
	agent.Model = cfg.Model
	agent.MCPRegistry = p.shared.MCPRegistry
	agent.allowedWrite = append([]string(nil), cfg.AllowedWritePaths...)

	p.agents[effectiveID] = agent
	if cfg.ParentAgentID != "" {
		if parent, ok := p.agents[cfg.ParentAgentID]; ok {
			parent.addChild(effectiveID)
		}
	}
	return agent, nil
}

// Destroy removes an agent from the pool, enforcing self-destruct/parent
// authorization unless adminOverride is set, and tearing down its in-flight
// requests and child-tracking linkage (spec.md §4.5).
func (p *Pool) Destroy(agentID, requesterID string, adminOverride bool) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	target, ok := p.agents[agentID]
	if !ok {
		return false, nil
	}

	if !adminOverride && requesterID != "" {
		parentID := target.ParentAgentID()
		if requesterID != agentID && parentID != requesterID {
			return false, &nexuserr.AuthorizationError{RequesterID: requesterID, TargetID: agentID}
		}
	}

	delete(p.agents, agentID)
	if parentID := target.ParentAgentID(); parentID != "" {
		if parent, ok := p.agents[parentID]; ok {
			parent.removeChild(agentID)
		}
	}

	target.Dispatcher.CancelAllRequests()
	if p.shared.LogMux != nil {
		p.shared.LogMux.Unregister(agentID)
	}
	// Session-internal teardown (provider client, context compaction state)
	// is owned by the session factory's Close hook, not this core package
	// (spec.md §1 Non-goal: Session internals).
	return true, nil
}

// GetOrRestore implements the TOCTOU-safe atomic lookup-or-restore (spec.md
// §4.5): the "is it active?" check and the restore both happen under the
// single pool mutex.
func (p *Pool) GetOrRestore(ctx context.Context, agentID string) (*Agent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if agent, ok := p.agents[agentID]; ok {
		return agent, true
	}
	if p.sessionManager == nil || !p.sessionManager.SessionExists(agentID) {
		return nil, false
	}
	cfg, err := p.sessionManager.Restore(ctx, agentID)
	if err != nil {
		return nil, false
	}
	agent, err := p.createLocked(agentID, cfg, agentid.IsTemp(agentID))
	if err != nil {
		return nil, false
	}
	event.Publish(event.Event{Type: event.AgentRestored, Data: event.AgentRestoredData{AgentID: agentID}})
	return agent, true
}

// ShouldShutdown is true iff the pool is non-empty and every agent's
// dispatcher has its shutdown flag set (spec.md §4.5).
func (p *Pool) ShouldShutdown() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.agents) == 0 {
		return false
	}
	for _, a := range p.agents {
		if !a.Dispatcher.ShouldShutdown() {
			return false
		}
	}
	return true
}

// ListAgents returns the list_agents info shape (spec.md §6), sorted by
// agent ID for deterministic output.
func (p *Pool) ListAgents() []AgentInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]AgentInfo, 0, len(p.agents))
	for _, a := range p.agents {
		out = append(out, infoFor(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// AgentInfo is the list_agents per-entry shape (spec.md §6).
type AgentInfo struct {
	AgentID               string  `json:"agent_id"`
	IsTemp                bool    `json:"is_temp"`
	CreatedAt             string  `json:"created_at"`
	MessageCount          int     `json:"message_count"`
	ShouldShutdown        bool    `json:"should_shutdown"`
	ParentAgentID         string  `json:"parent_agent_id,omitempty"`
	ChildCount            int     `json:"child_count"`
	HaltedAtIterationLimit bool   `json:"halted_at_iteration_limit"`
	Model                 string  `json:"model,omitempty"`
	LastActionAt          *string `json:"last_action_at"`
	PermissionLevel       *string `json:"permission_level"`
	Cwd                   string  `json:"cwd"`
	WritePaths            []string `json:"write_paths"`
}

func infoFor(a *Agent) AgentInfo {
	a.mu.Lock()
	var lastAction *string
	if a.lastActionAt != nil {
		s := a.lastActionAt.Format("2006-01-02T15:04:05Z07:00")
		lastAction = &s
	}
	halted := a.haltedAtLimit
	cwd := a.cwd
	var writePaths []string
	if a.allowedWrite != nil {
		writePaths = append([]string(nil), a.allowedWrite...)
	}
	a.mu.Unlock()

	var level *string
	if a.Permissions != nil {
		s := a.Permissions.EffectivePolicy.Level.String()
		level = &s
	}

	return AgentInfo{
		AgentID:                a.AgentID,
		IsTemp:                 a.IsTemp,
		CreatedAt:              a.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		MessageCount:           0, // always 0: the pool does not read the agent's ContextManager
		ShouldShutdown:         a.Dispatcher.ShouldShutdown(),
		ParentAgentID:          a.ParentAgentID(),
		ChildCount:             a.ChildCount(),
		HaltedAtIterationLimit: halted,
		Model:                  a.Model,
		LastActionAt:           lastAction,
		PermissionLevel:        level,
		Cwd:                    cwd,
		WritePaths:             writePaths,
	}
}

func randomHexID(n int) (string, error) {
	buf := make([]byte, n/2)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
