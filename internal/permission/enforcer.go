package permission

import "fmt"

// Enforcer answers runtime permission questions against a resolved
// AgentPermissions: is a tool enabled, is a path within its allowance, is a
// target agent ID permitted for a tool restricted to allowed_targets.
type Enforcer struct {
	perms *AgentPermissions
}

// NewEnforcer binds an Enforcer to a permission set.
func NewEnforcer(perms *AgentPermissions) *Enforcer {
	return &Enforcer{perms: perms}
}

// CheckToolEnabled reports whether name is enabled under the bound
// permissions.
func (e *Enforcer) CheckToolEnabled(name string) bool {
	return e.perms.toolEnabled(name)
}

// CheckPath verifies that path is permitted for tool name: not in the
// policy's blocked_paths, and contained in the tool's (or policy's,
// absent a tool-specific restriction) allowed_paths when one is set.
func (e *Enforcer) CheckPath(toolName, path string) error {
	for _, blocked := range e.perms.EffectivePolicy.BlockedPaths {
		if IsWithinDir(path, blocked) || path == blocked {
			return fmt.Errorf("path %q is blocked by policy path %q", path, blocked)
		}
	}
	tp, ok := e.perms.ToolPermissions[toolName]
	allowed := e.perms.EffectivePolicy.AllowedPaths
	if ok && tp.AllowedPaths != nil {
		allowed = tp.AllowedPaths
	}
	if allowed == nil {
		return nil
	}
	if !containedInAny(path, allowed) {
		return fmt.Errorf("path %q is not within allowed paths for %q (allowed: %v)", path, toolName, allowed)
	}
	return nil
}

// CheckTarget enforces ToolPermission.AllowedTargets (spec §4.8): for
// "parent"-restricted tools, the target must equal the agent's own
// parent_agent_id; for explicit lists, membership is required. The error
// string "can only target parent agent ('<id>')" is part of the observable
// contract and must not be reworded.
func (e *Enforcer) CheckTarget(toolName, targetAgentID string) error {
	tp, ok := e.perms.ToolPermissions[toolName]
	if !ok {
		return nil
	}
	if tp.IsParentOnly {
		parent := e.perms.ParentAgentID
		if parent == "" {
			return fmt.Errorf("can only target parent agent ('none')")
		}
		if targetAgentID != parent {
			return fmt.Errorf("can only target parent agent ('%s')", parent)
		}
		return nil
	}
	if tp.AllowedTargets == nil {
		return nil
	}
	for _, t := range tp.AllowedTargets {
		if t == targetAgentID {
			return nil
		}
	}
	return fmt.Errorf("target %q is not among allowed targets for %q", targetAgentID, toolName)
}

// CheckBashTargets splits a compound bash command into sub-commands (via
// bash_parser.go's ParseBashCommand, kept from the teacher) and checks
// each sub-command's extracted paths independently against the bash tool's
// allowed_paths, so that e.g. "rm -rf /tmp/ok && rm -rf /etc" is rejected
// on the second clause even though the first is permitted.
func (e *Enforcer) CheckBashTargets(command string) error {
	commands, err := ParseBashCommand(command)
	if err != nil {
		return fmt.Errorf("parsing bash command: %w", err)
	}
	for _, cmd := range commands {
		if action := bashPatternAction(e.perms, cmd); action == ActionDeny {
			return fmt.Errorf("bash command %q is denied by pattern policy", cmd.Name)
		}
		if !IsDangerousCommand(cmd.Name) {
			continue
		}
		for _, p := range ExtractPaths(cmd) {
			if err := e.CheckPath("bash", p); err != nil {
				return fmt.Errorf("bash subcommand %q: %w", cmd.Name, err)
			}
		}
	}
	return nil
}

// bashPatternAction consults the bash tool's BashPatterns table (via
// wildcard.go's MatchBashPermission, kept from the teacher) ahead of the
// coarser Enabled gate.
func bashPatternAction(perms *AgentPermissions, cmd BashCommand) PermissionAction {
	tp, ok := perms.ToolPermissions["bash"]
	if !ok || tp.BashPatterns == nil {
		return ActionAsk
	}
	return MatchBashPermission(cmd, tp.BashPatterns)
}
