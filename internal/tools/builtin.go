package tools

import (
	"ratchet/internal/memory"
	"ratchet/internal/session"
)

// RegisterBuiltins wires the built-in tool family against a memory store and
// spawner. The spawner may be nil when subagents are disabled; the agent tools
// are simply not registered then.
func RegisterBuiltins(r *Registry, store *memory.Store, spawner *session.Spawner) {
	registerTaskTools(r, store)
	registerNoteTools(r, store)
	if spawner != nil {
		registerAgentTools(r, store, spawner)
	}
}
