// Package event documents the event types published on the Bus.
//
// The pool and its dispatchers publish agent-pool lifecycle events so that
// a server process can observe what's happening across every agent without
// threading callbacks through the JSON-RPC layer. This is a pure
// observability surface: nothing in nexus-server subscribes to these events
// to make dispatch decisions, so a build with zero subscribers behaves
// identically to one with many.
//
// # Agent Events
//
// Published by internal/globaldispatcher as agents come and go:
//
//	event.Publish(event.Event{
//	    Type: event.AgentCreated,
//	    Data: event.AgentCreatedData{
//	        AgentID:       agent.AgentID,
//	        ParentAgentID: parentAgentID,
//	        Preset:        preset,
//	    },
//	})
//
//	event.Publish(event.Event{
//	    Type: event.AgentDestroyed,
//	    Data: event.AgentDestroyedData{
//	        AgentID:     agentID,
//	        RequesterID: requesterID,
//	    },
//	})
//
// internal/agentpool publishes AgentRestored when get_or_restore (spec.md
// §4.5) hands back a session that survived a prior destroy instead of
// minting a fresh one:
//
//	event.Publish(event.Event{
//	    Type: event.AgentRestored,
//	    Data: event.AgentRestoredData{AgentID: agentID},
//	})
//
// # Request Events
//
// internal/dispatcher publishes RequestCancelled when a cancel call finds
// and signals a live CancellationToken:
//
//	event.Publish(event.Event{
//	    Type: event.RequestCancelled,
//	    Data: event.RequestCancelledData{
//	        AgentID:   d.agentID,
//	        RequestID: params.RequestID,
//	    },
//	})
//
// # Server Events
//
// internal/globaldispatcher publishes ShutdownRequested from
// shutdown_server, right after setting the flag the HTTP server loop polls
// before closing its listener:
//
//	event.Publish(event.Event{Type: event.ShutdownRequested, Data: nil})
//
// # Permission Events
//
// PermissionDenied has no publisher in this build: live tool-permission
// enforcement belongs to the external Session collaborator (spec.md §1
// Non-goal), so nothing here rejects an in-flight tool call asynchronously.
// The type exists for a Session implementation that does enforce permissions
// to reuse.
//
// # Subscribing
//
//	unsubscribe := event.Subscribe(event.AgentDestroyed, func(e event.Event) {
//	    data := e.Data.(event.AgentDestroyedData)
//	    log.Info().Str("agent_id", data.AgentID).Msg("agent destroyed")
//	})
//	defer unsubscribe()
//
// Use SubscribeAll to receive every event type regardless of Type.
package event
