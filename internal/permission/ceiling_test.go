package permission

import "testing"

func TestCanGrantLevelOrdering(t *testing.T) {
	parent := &AgentPermissions{EffectivePolicy: PermissionPolicy{Level: LevelSandboxed}}
	child := &AgentPermissions{EffectivePolicy: PermissionPolicy{Level: LevelTrusted}}
	if parent.CanGrant(child) {
		t.Fatal("sandboxed parent must not be able to grant a trusted child")
	}
	child.EffectivePolicy.Level = LevelSandboxed
	if !parent.CanGrant(child) {
		t.Fatal("equal-level grant should succeed")
	}
}

func TestCanGrantPathContainment(t *testing.T) {
	parent := &AgentPermissions{
		EffectivePolicy: PermissionPolicy{Level: LevelTrusted, AllowedPaths: []string{"/work"}},
	}
	unrestrictedChild := &AgentPermissions{EffectivePolicy: PermissionPolicy{Level: LevelTrusted}}
	if parent.CanGrant(unrestrictedChild) {
		t.Fatal("unrestricted child of restricted parent must be refused")
	}
	containedChild := &AgentPermissions{
		EffectivePolicy: PermissionPolicy{Level: LevelTrusted, AllowedPaths: []string{"/work/sub"}},
	}
	if !parent.CanGrant(containedChild) {
		t.Fatal("child path contained in parent path should be granted")
	}
	escapingChild := &AgentPermissions{
		EffectivePolicy: PermissionPolicy{Level: LevelTrusted, AllowedPaths: []string{"/etc"}},
	}
	if parent.CanGrant(escapingChild) {
		t.Fatal("child path outside parent path must be refused")
	}
}

func TestCanGrantToolEnablement(t *testing.T) {
	parent := &AgentPermissions{
		EffectivePolicy: PermissionPolicy{Level: LevelYOLO},
		ToolPermissions: map[string]ToolPermission{"write_file": {Enabled: false}},
	}
	child := &AgentPermissions{
		EffectivePolicy: PermissionPolicy{Level: LevelYOLO},
		ToolPermissions: map[string]ToolPermission{"write_file": {Enabled: true}},
	}
	if parent.CanGrant(child) {
		t.Fatal("parent-disabled tool must not be grantable to a child")
	}
}

func TestDeepCopyIsolatesMutation(t *testing.T) {
	parent := &AgentPermissions{
		EffectivePolicy: PermissionPolicy{Level: LevelYOLO, AllowedPaths: []string{"/a"}},
		ToolPermissions: map[string]ToolPermission{"bash": {Enabled: true}},
	}
	snapshot := parent.DeepCopy()
	parent.EffectivePolicy.AllowedPaths[0] = "/mutated"
	parent.ToolPermissions["bash"] = ToolPermission{Enabled: false}

	if snapshot.EffectivePolicy.AllowedPaths[0] != "/a" {
		t.Fatal("deep copy must not observe later mutation of parent's allowed paths")
	}
	if !snapshot.ToolPermissions["bash"].Enabled {
		t.Fatal("deep copy must not observe later mutation of parent's tool permissions")
	}
}

func TestAssignCeilingDepth(t *testing.T) {
	root := &AgentPermissions{Depth: 0}
	child := &AgentPermissions{}
	AssignCeiling(child, root, "root-agent")
	if child.Depth != 1 {
		t.Fatalf("expected depth 1, got %d", child.Depth)
	}
	if child.ParentAgentID != "root-agent" {
		t.Fatal("parent agent id not recorded")
	}
	if child.Ceiling == nil {
		t.Fatal("ceiling must be set")
	}
}
