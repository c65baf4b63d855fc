package permission

import "fmt"

// Built-in preset names. "yolo" is a valid preset for the interactive REPL
// only — the global dispatcher's create_agent validator rejects it over RPC
// (spec §4.7 step 3).
const (
	PresetYOLO      = "yolo"
	PresetTrusted   = "trusted"
	PresetSandboxed = "sandboxed"
	PresetWorker    = "worker"
)

// RPCPresets is the set of presets accepted from an untrusted RPC caller.
var RPCPresets = map[string]bool{
	PresetTrusted:   true,
	PresetSandboxed: true,
	PresetWorker:    true,
}

// MutatingFileTools are enabled/disabled as a group by create_agent's
// allowed_write_paths synthesis (spec §4.7).
var MutatingFileTools = []string{"write_file", "edit_file", "append_file", "regex_replace", "mkdir"}

// MixedModeFileTools can both read and write; create_agent restricts them
// to allowed_write_paths only when that list is non-empty.
var MixedModeFileTools = []string{"copy_file", "rename"}

// Resolver looks up a named preset, checking custom presets (from
// SharedComponents) before falling back to the built-ins.
type Resolver struct {
	custom map[string]func(cwd string) AgentPermissions
}

// NewResolver builds a Resolver. custom may be nil.
func NewResolver(custom map[string]func(cwd string) AgentPermissions) *Resolver {
	return &Resolver{custom: custom}
}

// Resolve returns the named preset's permission set bound to cwd.
func (r *Resolver) Resolve(name, cwd string) (AgentPermissions, error) {
	if r != nil && r.custom != nil {
		if fn, ok := r.custom[name]; ok {
			return fn(cwd), nil
		}
	}
	switch name {
	case PresetYOLO:
		return yoloPreset(), nil
	case PresetTrusted:
		return trustedPreset(cwd), nil
	case PresetSandboxed:
		return sandboxedPreset(cwd), nil
	case PresetWorker:
		return workerPreset(cwd), nil
	default:
		return AgentPermissions{}, fmt.Errorf("unknown preset %q", name)
	}
}

// yoloPreset is unrestricted: no path limits, every tool implicitly
// enabled (empty ToolPermissions map, absent entry = enabled).
func yoloPreset() AgentPermissions {
	return AgentPermissions{
		BasePreset: PresetYOLO,
		EffectivePolicy: PermissionPolicy{
			Level:        LevelYOLO,
			AllowedPaths: nil,
		},
		ToolPermissions: map[string]ToolPermission{},
	}
}

// trustedPreset allows everything within cwd but nothing outside it,
// without requiring an explicit allowed_write_paths grant.
func trustedPreset(cwd string) AgentPermissions {
	paths := pathsOrEmpty(cwd)
	perms := map[string]ToolPermission{}
	for _, t := range append(append([]string{}, MutatingFileTools...), MixedModeFileTools...) {
		perms[t] = ToolPermission{Enabled: true, AllowedPaths: paths}
	}
	return AgentPermissions{
		BasePreset: PresetTrusted,
		EffectivePolicy: PermissionPolicy{
			Level:        LevelTrusted,
			AllowedPaths: paths,
		},
		ToolPermissions: perms,
	}
}

// sandboxedPreset restricts write tools to cwd by default and disables
// them outright until create_agent's allowed_write_paths delta says
// otherwise.
func sandboxedPreset(cwd string) AgentPermissions {
	paths := pathsOrEmpty(cwd)
	perms := map[string]ToolPermission{}
	for _, t := range MutatingFileTools {
		perms[t] = ToolPermission{Enabled: false}
	}
	for _, t := range MixedModeFileTools {
		perms[t] = ToolPermission{Enabled: true, AllowedPaths: paths}
	}
	return AgentPermissions{
		BasePreset: PresetSandboxed,
		EffectivePolicy: PermissionPolicy{
			Level:        LevelSandboxed,
			AllowedPaths: paths,
		},
		ToolPermissions: perms,
	}
}

// workerPreset is sandboxed with a narrower default tool surface (no
// bash), used for agents spawned purely to execute a bounded task.
func workerPreset(cwd string) AgentPermissions {
	p := sandboxedPreset(cwd)
	p.BasePreset = PresetWorker
	p.ToolPermissions["bash"] = ToolPermission{Enabled: false}
	return p
}

func pathsOrEmpty(cwd string) []string {
	if cwd == "" {
		return nil
	}
	return []string{cwd}
}
