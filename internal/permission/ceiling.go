package permission

// CanGrant reports whether the receiver (the parent's permissions) covers
// every permission requested by child (spec §4.8).
func (a *AgentPermissions) CanGrant(child *AgentPermissions) bool {
	if a == nil || child == nil {
		return false
	}
	if child.EffectivePolicy.Level > a.EffectivePolicy.Level {
		return false
	}
	if a.EffectivePolicy.AllowedPaths != nil {
		if child.EffectivePolicy.AllowedPaths == nil {
			return false
		}
		for _, p := range child.EffectivePolicy.AllowedPaths {
			if !containedInAny(p, a.EffectivePolicy.AllowedPaths) {
				return false
			}
		}
	}
	for name, childTP := range child.ToolPermissions {
		if !childTP.Enabled {
			continue
		}
		if !a.toolEnabled(name) {
			return false
		}
		parentTP, hasParentTP := a.ToolPermissions[name]
		if hasParentTP && parentTP.AllowedPaths != nil {
			if childTP.AllowedPaths == nil {
				return false
			}
			for _, p := range childTP.AllowedPaths {
				if !containedInAny(p, parentTP.AllowedPaths) {
					return false
				}
			}
		}
	}
	return true
}

// containedInAny reports whether path is contained within (or equal to)
// any of the candidate directories.
func containedInAny(path string, candidates []string) bool {
	for _, c := range candidates {
		if IsWithinDir(path, c) || path == c {
			return true
		}
	}
	return false
}

// AssignCeiling sets child.Ceiling to a deep-copied snapshot of parent,
// records the parent linkage, and sets depth (spec §4.5 step 8).
func AssignCeiling(child *AgentPermissions, parent *AgentPermissions, parentAgentID string) {
	child.Ceiling = parent.DeepCopy()
	child.ParentAgentID = parentAgentID
	if parent != nil {
		child.Depth = parent.Depth + 1
	} else {
		child.Depth = 0
	}
}
