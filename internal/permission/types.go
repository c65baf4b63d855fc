// Package permission implements the preset/delta/ceiling permission engine
// that governs what an agent (and its descendants) may do: which tools are
// enabled, which filesystem paths they may touch, and how those grants are
// bounded by a parent's ceiling.
package permission

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
)

// Level is a permission level ordered SANDBOXED < TRUSTED < YOLO.
type Level int

const (
	LevelSandboxed Level = iota
	LevelTrusted
	LevelYOLO
)

// String renders the level the way it appears on the wire and in error
// messages ("YOLO"/"TRUSTED"/"SANDBOXED").
func (l Level) String() string {
	switch l {
	case LevelYOLO:
		return "YOLO"
	case LevelTrusted:
		return "TRUSTED"
	case LevelSandboxed:
		return "SANDBOXED"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// ParseLevel maps a wire-format string to a Level.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "YOLO":
		return LevelYOLO, nil
	case "TRUSTED":
		return LevelTrusted, nil
	case "SANDBOXED":
		return LevelSandboxed, nil
	default:
		return 0, fmt.Errorf("unknown permission level %q", s)
	}
}

// PermissionAction is retained from the bash-pattern matcher (wildcard.go):
// a per-pattern allow/deny/ask table consulted before the coarser
// ToolPermission.Enabled gate when checking a bash subcommand.
type PermissionAction string

const (
	ActionAllow PermissionAction = "allow"
	ActionDeny  PermissionAction = "deny"
	ActionAsk   PermissionAction = "ask"
)

// PermissionPolicy is the level plus ordered path allow/block lists.
// A nil AllowedPaths means unrestricted.
type PermissionPolicy struct {
	Level        Level
	AllowedPaths []string
	BlockedPaths []string
}

// Clone deep-copies the policy so two policies never share backing arrays.
func (p PermissionPolicy) Clone() PermissionPolicy {
	out := PermissionPolicy{Level: p.Level}
	if p.AllowedPaths != nil {
		out.AllowedPaths = append([]string(nil), p.AllowedPaths...)
	}
	if p.BlockedPaths != nil {
		out.BlockedPaths = append([]string(nil), p.BlockedPaths...)
	}
	return out
}

// ToolPermission describes the grant for a single named tool.
type ToolPermission struct {
	Enabled bool
	// AllowedPaths is nil for "unrestricted", non-nil (possibly empty) to
	// restrict the tool to a path set.
	AllowedPaths []string
	// AllowedTargets is nil for unrestricted or an explicit list of
	// permitted target agent IDs. Parent-only is expressed by IsParentOnly,
	// not by a "parent" entry here (such an entry is matched literally).
	AllowedTargets []string
	IsParentOnly   bool
	Timeout        *float64
	// BashPatterns holds per-subcommand-pattern allow/deny/ask overrides,
	// consulted by the bash tool enforcer ahead of the Enabled gate.
	BashPatterns map[string]PermissionAction
}

// Clone deep-copies a ToolPermission.
func (t ToolPermission) Clone() ToolPermission {
	out := t
	if t.AllowedPaths != nil {
		out.AllowedPaths = append([]string(nil), t.AllowedPaths...)
	}
	if t.AllowedTargets != nil {
		out.AllowedTargets = append([]string(nil), t.AllowedTargets...)
	}
	if t.Timeout != nil {
		v := *t.Timeout
		out.Timeout = &v
	}
	if t.BashPatterns != nil {
		out.BashPatterns = make(map[string]PermissionAction, len(t.BashPatterns))
		for k, v := range t.BashPatterns {
			out.BashPatterns[k] = v
		}
	}
	return out
}

// AgentPermissions is the full permission state attached to an agent.
type AgentPermissions struct {
	BasePreset      string
	EffectivePolicy PermissionPolicy
	ToolPermissions map[string]ToolPermission
	// Ceiling is a deep-copied snapshot of the parent's permissions at
	// creation time, or nil for a root agent.
	Ceiling       *AgentPermissions
	ParentAgentID string
	Depth         int
}

// DeepCopy returns an independent copy of the permission set, including a
// deep copy of the ceiling chain, so that later mutation of the source
// (or its ancestors) can never retroactively affect the copy.
func (a *AgentPermissions) DeepCopy() *AgentPermissions {
	if a == nil {
		return nil
	}
	out := &AgentPermissions{
		BasePreset:      a.BasePreset,
		EffectivePolicy: a.EffectivePolicy.Clone(),
		ParentAgentID:   a.ParentAgentID,
		Depth:           a.Depth,
	}
	if a.ToolPermissions != nil {
		out.ToolPermissions = make(map[string]ToolPermission, len(a.ToolPermissions))
		for k, v := range a.ToolPermissions {
			out.ToolPermissions[k] = v.Clone()
		}
	}
	out.Ceiling = a.Ceiling.DeepCopy()
	return out
}

// toolEnabled reports whether name is enabled, with "absent entry = enabled
// unless explicitly disabled" semantics (§4.8). Beyond an exact key match,
// ToolPermissions entries may be doublestar glob patterns (e.g.
// "mcp__myserver__*" for a dynamically named set of MCP-provided tools);
// an exact match always takes precedence over a glob match.
func (a *AgentPermissions) toolEnabled(name string) bool {
	if tp, ok := a.ToolPermissions[name]; ok {
		return tp.Enabled
	}
	for pattern, tp := range a.ToolPermissions {
		if !isGlobPattern(pattern) {
			continue
		}
		if matched, err := doublestar.Match(pattern, name); err == nil && matched {
			return tp.Enabled
		}
	}
	return true
}

func isGlobPattern(s string) bool {
	for _, c := range s {
		if c == '*' || c == '?' || c == '[' {
			return true
		}
	}
	return false
}
