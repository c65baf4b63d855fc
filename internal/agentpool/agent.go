// Package agentpool implements the central agent lifecycle authority
// (spec.md §4.5): create, destroy, atomic get-or-restore, child tracking,
// and the pool-wide shutdown signal. Grounded on
// original_source/nexus3/rpc/pool.py (SharedComponents/AgentConfig/AgentPool
// shapes) and tests/unit/test_pool.py for exact create/destroy/list
// semantics the filtered pool.py body itself no longer carries.
package agentpool

import (
	"sync"
	"time"

	"github.com/opencode-ai/opencode/internal/dispatcher"
	"github.com/opencode-ai/opencode/internal/mcpclient"
	"github.com/opencode-ai/opencode/internal/permission"
)

// MaxAgentDepth bounds parent/child nesting (spec.md §4.5).
const MaxAgentDepth = 5

// Agent is one active, in-memory agent instance.
type Agent struct {
	AgentID    string
	IsTemp     bool
	CreatedAt  time.Time
	Dispatcher *dispatcher.Dispatcher
	Permissions *permission.AgentPermissions
	Model      string
	// MCPRegistry is this agent's handle onto the process-wide MCP
	// connections (spec.md §3's Agent service-bag "MCP registry handle");
	// nil when the pool was built without one.
	MCPRegistry *mcpclient.Registry

	mu             sync.Mutex
	childAgentIDs  map[string]struct{}
	lastActionAt   *time.Time
	haltedAtLimit  bool
	cwd            string
	allowedWrite   []string
}

// NewAgent constructs an Agent with an empty child set.
func NewAgent(agentID string, isTemp bool, disp *dispatcher.Dispatcher, perms *permission.AgentPermissions, cwd string) *Agent {
	return &Agent{
		AgentID:       agentID,
		IsTemp:        isTemp,
		CreatedAt:     mustNow(),
		Dispatcher:    disp,
		Permissions:   perms,
		childAgentIDs: make(map[string]struct{}),
		cwd:           cwd,
	}
}

// addChild registers childID under this agent; caller must hold the pool
// mutex.
func (a *Agent) addChild(childID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.childAgentIDs[childID] = struct{}{}
}

// removeChild unregisters childID; caller must hold the pool mutex.
func (a *Agent) removeChild(childID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.childAgentIDs, childID)
}

// Children returns a stable snapshot of this agent's child IDs.
func (a *Agent) Children() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.childAgentIDs))
	for id := range a.childAgentIDs {
		out = append(out, id)
	}
	return out
}

// ChildCount reports how many children this agent has.
func (a *Agent) ChildCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.childAgentIDs)
}

// Cwd returns the agent's effective working directory / sandbox root.
func (a *Agent) Cwd() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cwd
}

// Depth reports this agent's nesting depth (0 at roots).
func (a *Agent) Depth() int {
	if a.Permissions == nil {
		return 0
	}
	return a.Permissions.Depth
}

// ParentAgentID returns the parent's ID, or "" at roots.
func (a *Agent) ParentAgentID() string {
	if a.Permissions == nil {
		return ""
	}
	return a.Permissions.ParentAgentID
}

// markAction records a completed send for last_action_at reporting.
func (a *Agent) markAction(at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastActionAt = &at
}

// mustNow exists only so tests needing a deterministic clock can stub by
// constructing Agent directly; production code always goes through this.
var mustNow = time.Now
