package agentpool

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/opencode/internal/dispatcher"
	"github.com/opencode-ai/opencode/internal/permission"
)

type fakeSession struct{}

func (fakeSession) Send(ctx context.Context, content string, token *dispatcher.CancellationToken) (<-chan string, <-chan error) {
	out := make(chan string, 1)
	errCh := make(chan error, 1)
	out <- content
	close(out)
	return out, errCh
}

func newTestShared(t *testing.T) SharedComponents {
	t.Helper()
	return SharedComponents{
		BaseLogDir:         t.TempDir(),
		PermissionResolver: permission.NewResolver(nil),
		Log:                zerolog.Nop(),
	}
}

func testConfig() AgentConfig {
	return AgentConfig{
		Preset: permission.PresetTrusted,
		Cwd:    "/tmp/work",
		SessionFactory: func(agentID, cwd string) dispatcher.Session {
			return fakeSession{}
		},
	}
}

func TestCreateWithExplicitID(t *testing.T) {
	p := New(newTestShared(t), nil)
	agent, err := p.Create("my-custom-id", testConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if agent.AgentID != "my-custom-id" {
		t.Fatalf("expected agent id to stick, got %q", agent.AgentID)
	}
	if !p.Contains("my-custom-id") {
		t.Fatal("expected pool to contain the new agent")
	}
}

func TestCreateAutoGeneratesHexID(t *testing.T) {
	p := New(newTestShared(t), nil)
	agent, err := p.Create("", testConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(agent.AgentID) != 8 {
		t.Fatalf("expected an 8-char hex id, got %q", agent.AgentID)
	}
}

func TestCreateRejectsDuplicateID(t *testing.T) {
	p := New(newTestShared(t), nil)
	if _, err := p.Create("dup", testConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := p.Create("dup", testConfig())
	if err == nil || !strings.Contains(err.Error(), "dup") || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected an already-exists error naming the id, got %v", err)
	}
}

func TestCreateRejectsInvalidID(t *testing.T) {
	p := New(newTestShared(t), nil)
	_, err := p.Create("../etc/passwd", testConfig())
	if err == nil {
		t.Fatal("expected rejection of a path-traversal agent id")
	}
}

func TestCreateTempGeneratesDotPrefixedIDs(t *testing.T) {
	p := New(newTestShared(t), nil)
	a1, err := p.CreateTemp(testConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a2, err := p.CreateTemp(testConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a1.AgentID == a2.AgentID {
		t.Fatalf("expected distinct temp ids, got %q twice", a1.AgentID)
	}
	if !strings.HasPrefix(a1.AgentID, ".") || !strings.HasPrefix(a2.AgentID, ".") {
		t.Fatalf("expected dot-prefixed temp ids, got %q and %q", a1.AgentID, a2.AgentID)
	}
}

func TestCreateTempConcurrentUniqueness(t *testing.T) {
	p := New(newTestShared(t), nil)
	const n = 20
	var wg sync.WaitGroup
	ids := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			agent, err := p.CreateTemp(testConfig())
			errs[i] = err
			if agent != nil {
				ids[i] = agent.AgentID
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for i, err := range errs {
		if err != nil {
			t.Fatalf("unexpected error at %d: %v", i, err)
		}
		if seen[ids[i]] {
			t.Fatalf("duplicate temp id created: %q", ids[i])
		}
		seen[ids[i]] = true
	}
	if p.Len() != n {
		t.Fatalf("expected %d agents in pool, got %d", n, p.Len())
	}
}

func TestDestroySelfSucceeds(t *testing.T) {
	p := New(newTestShared(t), nil)
	p.Create("a1", testConfig())
	ok, err := p.Destroy("a1", "a1", false)
	if err != nil || !ok {
		t.Fatalf("expected self-destroy to succeed, got ok=%v err=%v", ok, err)
	}
	if p.Contains("a1") {
		t.Fatal("expected agent removed from pool")
	}
}

func TestDestroyUnknownAgentReturnsFalse(t *testing.T) {
	p := New(newTestShared(t), nil)
	ok, err := p.Destroy("ghost", "ghost", false)
	if err != nil || ok {
		t.Fatalf("expected (false, nil) for unknown agent, got ok=%v err=%v", ok, err)
	}
}

func TestDestroyUnauthorizedRequesterIsRejected(t *testing.T) {
	p := New(newTestShared(t), nil)
	p.Create("a1", testConfig())
	p.Create("stranger", testConfig())
	ok, err := p.Destroy("a1", "stranger", false)
	if ok || err == nil {
		t.Fatalf("expected an authorization error, got ok=%v err=%v", ok, err)
	}
	if !p.Contains("a1") {
		t.Fatal("agent must remain after a rejected destroy")
	}
}

func TestDestroyByParentSucceeds(t *testing.T) {
	p := New(newTestShared(t), nil)
	parent, _ := p.Create("parent", testConfig())
	childCfg := testConfig()
	childCfg.ParentAgentID = "parent"
	childCfg.ParentPermissions = parent.Permissions
	p.Create("child", childCfg)

	ok, err := p.Destroy("child", "parent", false)
	if err != nil || !ok {
		t.Fatalf("expected parent-destroying-child to succeed, got ok=%v err=%v", ok, err)
	}
	if parent.ChildCount() != 0 {
		t.Fatalf("expected parent's child set to shrink, still has %d", parent.ChildCount())
	}
}

func TestCeilingRejectsEscalationBeyondParent(t *testing.T) {
	p := New(newTestShared(t), nil)
	parent, err := p.Create("parent", AgentConfig{
		Preset: permission.PresetSandboxed,
		Cwd:    "/tmp/work",
		SessionFactory: func(agentID, cwd string) dispatcher.Session {
			return fakeSession{}
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	childCfg := testConfig() // requests the trusted preset
	childCfg.ParentAgentID = "parent"
	childCfg.ParentPermissions = parent.Permissions
	_, err = p.Create("child", childCfg)
	if err == nil {
		t.Fatal("expected ceiling check to reject an escalation above the parent's sandboxed level")
	}
}

func TestGetOrRestoreReturnsActiveAgentWithoutCallingManager(t *testing.T) {
	p := New(newTestShared(t), nil)
	p.Create("a1", testConfig())
	agent, ok := p.GetOrRestore(context.Background(), "a1")
	if !ok || agent.AgentID != "a1" {
		t.Fatalf("expected active lookup to succeed, got ok=%v agent=%+v", ok, agent)
	}
}

func TestGetOrRestoreMissingWithNoManagerFails(t *testing.T) {
	p := New(newTestShared(t), nil)
	_, ok := p.GetOrRestore(context.Background(), "ghost")
	if ok {
		t.Fatal("expected restore to fail when no session manager is wired")
	}
}

type fakeSessionManager struct {
	mu      sync.Mutex
	exists  map[string]bool
	restore func(agentID string) AgentConfig
	calls   int
}

func (m *fakeSessionManager) SessionExists(agentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exists[agentID]
}

func (m *fakeSessionManager) Restore(ctx context.Context, agentID string) (AgentConfig, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return m.restore(agentID), nil
}

func TestGetOrRestoreRestoresExactlyOnceUnderConcurrency(t *testing.T) {
	sm := &fakeSessionManager{
		exists: map[string]bool{"restored-agent": true},
		restore: func(agentID string) AgentConfig {
			cfg := testConfig()
			cfg.AgentID = agentID
			return cfg
		},
	}
	p := New(newTestShared(t), sm)

	const n = 20
	var wg sync.WaitGroup
	oks := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, ok := p.GetOrRestore(context.Background(), "restored-agent")
			oks[i] = ok
		}(i)
	}
	wg.Wait()

	for i, ok := range oks {
		if !ok {
			t.Fatalf("restore attempt %d failed", i)
		}
	}
	if p.Len() != 1 {
		t.Fatalf("expected exactly one agent after concurrent restores, got %d", p.Len())
	}
	sm.mu.Lock()
	calls := sm.calls
	sm.mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected Restore to run exactly once, ran %d times", calls)
	}
}

func TestShouldShutdownRequiresNonEmptyAndAllShutdown(t *testing.T) {
	p := New(newTestShared(t), nil)
	if p.ShouldShutdown() {
		t.Fatal("an empty pool must never report should_shutdown")
	}
	a1, _ := p.Create("a1", testConfig())
	a2, _ := p.Create("a2", testConfig())
	if p.ShouldShutdown() {
		t.Fatal("no agent has requested shutdown yet")
	}
	a1.Dispatcher.RequestShutdown()
	if p.ShouldShutdown() {
		t.Fatal("only one of two agents has shut down")
	}
	a2.Dispatcher.RequestShutdown()
	if !p.ShouldShutdown() {
		t.Fatal("expected should_shutdown once every agent has shut down")
	}
}

func TestListAgentsSortedByID(t *testing.T) {
	p := New(newTestShared(t), nil)
	p.Create("zebra", testConfig())
	p.Create("apple", testConfig())
	infos := p.ListAgents()
	if len(infos) != 2 || infos[0].AgentID != "apple" || infos[1].AgentID != "zebra" {
		t.Fatalf("expected sorted [apple, zebra], got %+v", infos)
	}
}
