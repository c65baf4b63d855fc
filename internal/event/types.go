package event

// AgentCreatedData is the data for agent.created events.
type AgentCreatedData struct {
	AgentID       string `json:"agent_id"`
	ParentAgentID string `json:"parent_agent_id,omitempty"`
	Preset        string `json:"preset"`
}

// AgentDestroyedData is the data for agent.destroyed events.
type AgentDestroyedData struct {
	AgentID     string `json:"agent_id"`
	RequesterID string `json:"requester_id"`
}

// AgentRestoredData is the data for agent.restored events: an agent whose
// session was persisted came back via get_or_restore (spec.md §4.5)
// instead of a fresh create_agent.
type AgentRestoredData struct {
	AgentID string `json:"agent_id"`
}

// RequestCancelledData is the data for request.cancelled events.
type RequestCancelledData struct {
	AgentID   string `json:"agent_id"`
	RequestID string `json:"request_id"`
}

// PermissionDeniedData is the data for permission.denied events. Nothing
// in this build publishes it yet: permission rejections all happen
// synchronously at create_agent time as an INVALID_PARAMS error, never as
// an async notification about an in-flight request, since live tool
// enforcement belongs to the external Session collaborator (spec.md §1
// Non-goal). Kept so a Session that does enforce live tool permissions
// has a ready-made event shape to publish.
type PermissionDeniedData struct {
	AgentID string `json:"agent_id"`
	Tool    string `json:"tool"`
	Reason  string `json:"reason"`
}
