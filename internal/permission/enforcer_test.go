package permission

import "testing"

func TestCheckTargetParentOnly(t *testing.T) {
	perms := &AgentPermissions{
		ParentAgentID:   "p1",
		ToolPermissions: map[string]ToolPermission{"send_to_agent": {IsParentOnly: true}},
	}
	e := NewEnforcer(perms)
	if err := e.CheckTarget("send_to_agent", "p1"); err != nil {
		t.Fatalf("targeting the actual parent should succeed: %v", err)
	}
	err := e.CheckTarget("send_to_agent", "someone-else")
	if err == nil {
		t.Fatal("targeting a non-parent should fail")
	}
	if got := err.Error(); got != "can only target parent agent ('p1')" {
		t.Fatalf("unexpected error message: %q", got)
	}
}

func TestCheckTargetNoParent(t *testing.T) {
	perms := &AgentPermissions{
		ToolPermissions: map[string]ToolPermission{"send_to_agent": {IsParentOnly: true}},
	}
	e := NewEnforcer(perms)
	err := e.CheckTarget("send_to_agent", "x")
	if err == nil || err.Error() != "can only target parent agent ('none')" {
		t.Fatalf("expected 'none' parent message, got %v", err)
	}
}

func TestCheckPathBlockedAndAllowed(t *testing.T) {
	perms := &AgentPermissions{
		EffectivePolicy: PermissionPolicy{BlockedPaths: []string{"/etc"}},
		ToolPermissions: map[string]ToolPermission{
			"write_file": {Enabled: true, AllowedPaths: []string{"/work"}},
		},
	}
	e := NewEnforcer(perms)
	if err := e.CheckPath("write_file", "/work/file.txt"); err != nil {
		t.Fatalf("path within allowed dir should pass: %v", err)
	}
	if err := e.CheckPath("write_file", "/etc/passwd"); err == nil {
		t.Fatal("blocked path must be rejected")
	}
	if err := e.CheckPath("write_file", "/tmp/x"); err == nil {
		t.Fatal("path outside tool's allowed_paths must be rejected")
	}
}

func TestPresetResolverBuiltins(t *testing.T) {
	r := NewResolver(nil)
	for _, name := range []string{PresetYOLO, PresetTrusted, PresetSandboxed, PresetWorker} {
		if _, err := r.Resolve(name, "/work"); err != nil {
			t.Fatalf("resolving built-in preset %q: %v", name, err)
		}
	}
	if _, err := r.Resolve("nonexistent", "/work"); err == nil {
		t.Fatal("unknown preset must error")
	}
}

func TestSandboxedPresetDisablesWritesByDefault(t *testing.T) {
	r := NewResolver(nil)
	p, err := r.Resolve(PresetSandboxed, "/work")
	if err != nil {
		t.Fatal(err)
	}
	if p.ToolPermissions["write_file"].Enabled {
		t.Fatal("sandboxed preset must disable write_file until a delta enables it")
	}
}
