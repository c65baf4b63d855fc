package permission

// PermissionDelta is an additive modification applied on top of a resolved
// preset (spec §3, §4.8). Deltas never carry a cwd: cwd routing belongs to
// preset resolution alone (spec §9, Open Question 2).
type PermissionDelta struct {
	DisableTools    []string
	EnableTools     []string
	AddBlockedPaths []string
	// AllowedPaths, if non-nil, replaces effective_policy.allowed_paths
	// wholesale (not merged).
	AllowedPaths  []string
	ToolOverrides map[string]ToolPermission
}

// IsZero reports whether the delta carries no modifications.
func (d PermissionDelta) IsZero() bool {
	return len(d.DisableTools) == 0 && len(d.EnableTools) == 0 &&
		len(d.AddBlockedPaths) == 0 && d.AllowedPaths == nil && len(d.ToolOverrides) == 0
}

// ApplyDelta returns a new AgentPermissions with delta applied on top of a.
// Idempotent: applying the same delta twice in a row is a no-op the second
// time (§8 round-trip law), because each field either overwrites or appends
// already-present entries that become duplicates harmlessly for
// enable/disable (map overwrite) and are the same unique set for blocked
// paths once deduplicated.
func ApplyDelta(a AgentPermissions, delta PermissionDelta) AgentPermissions {
	out := AgentPermissions{
		BasePreset:      a.BasePreset,
		EffectivePolicy: a.EffectivePolicy.Clone(),
		ParentAgentID:   a.ParentAgentID,
		Depth:           a.Depth,
		Ceiling:         a.Ceiling,
	}
	out.ToolPermissions = make(map[string]ToolPermission, len(a.ToolPermissions))
	for k, v := range a.ToolPermissions {
		out.ToolPermissions[k] = v.Clone()
	}

	for _, name := range delta.DisableTools {
		out.ToolPermissions[name] = ToolPermission{Enabled: false}
	}
	for _, name := range delta.EnableTools {
		tp := out.ToolPermissions[name]
		tp.Enabled = true
		out.ToolPermissions[name] = tp
	}
	if len(delta.AddBlockedPaths) > 0 {
		out.EffectivePolicy.BlockedPaths = appendUnique(out.EffectivePolicy.BlockedPaths, delta.AddBlockedPaths)
	}
	if delta.AllowedPaths != nil {
		out.EffectivePolicy.AllowedPaths = append([]string(nil), delta.AllowedPaths...)
	}
	for name, tp := range delta.ToolOverrides {
		out.ToolPermissions[name] = tp.Clone()
	}
	return out
}

func appendUnique(existing, add []string) []string {
	seen := make(map[string]bool, len(existing))
	out := append([]string(nil), existing...)
	for _, s := range existing {
		seen[s] = true
	}
	for _, s := range add {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
