package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// =============================================================================
// AUDIT EVENT TYPES
// =============================================================================

// AuditEventType defines the type of audit event.
type AuditEventType string

const (
	// Session/turn lifecycle
	AuditSessionStart AuditEventType = "session_start"
	AuditSessionEnd   AuditEventType = "session_end"
	AuditTurnStart    AuditEventType = "turn_start"
	AuditTurnEnd      AuditEventType = "turn_end"

	// Completion gate decisions
	AuditGateAccept    AuditEventType = "gate_accept"
	AuditGateReject    AuditEventType = "gate_reject"
	AuditPlanningBlock AuditEventType = "planning_block"

	// Task lifecycle
	AuditTaskCreated    AuditEventType = "task_created"
	AuditTaskTransition AuditEventType = "task_transition"

	// Subagent lifecycle
	AuditAgentSpawn    AuditEventType = "agent_spawn"
	AuditAgentComplete AuditEventType = "agent_complete"
	AuditAgentFailed   AuditEventType = "agent_failed"
	AuditAgentCancel   AuditEventType = "agent_cancel"

	// Tool execution
	AuditToolInvoke   AuditEventType = "tool_invoke"
	AuditToolComplete AuditEventType = "tool_complete"
	AuditToolError    AuditEventType = "tool_error"

	// LLM API
	AuditLLMRequest  AuditEventType = "llm_request"
	AuditLLMResponse AuditEventType = "llm_response"
	AuditLLMError    AuditEventType = "llm_error"

	// Memory store
	AuditMemoryPersist AuditEventType = "memory_persist"
	AuditMemoryLoad    AuditEventType = "memory_load"
	AuditMemoryDecay   AuditEventType = "memory_decay"
)

// AuditEvent is one structured audit log entry, written as a JSON line.
type AuditEvent struct {
	Timestamp  int64                  `json:"ts"` // Unix milliseconds
	EventType  AuditEventType         `json:"event"`
	SessionID  string                 `json:"session,omitempty"`
	AgentID    string                 `json:"agent,omitempty"`
	Target     string                 `json:"target,omitempty"` // Task id, tool name, marker, ...
	Success    bool                   `json:"success"`
	DurationMs int64                  `json:"dur_ms,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Message    string                 `json:"msg,omitempty"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

// =============================================================================
// AUDIT LOGGER
// =============================================================================

var (
	auditFile   *os.File
	auditMu     sync.Mutex
	auditLogger *AuditLogger
)

// AuditLogger handles structured audit logging.
type AuditLogger struct {
	sessionID string
	agentID   string
}

// InitAudit initializes the audit logging system.
func InitAudit() error {
	if !IsDebugMode() {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		return nil // Already initialized
	}

	date := time.Now().Format("2006-01-02")
	auditPath := filepath.Join(logsDir, fmt.Sprintf("%s_audit.log", date))

	file, err := os.OpenFile(auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file

	auditFile.WriteString(fmt.Sprintf("# Audit log started at %s\n", time.Now().Format(time.RFC3339)))
	return nil
}

// CloseAudit closes the audit log file.
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Audit returns the global audit logger.
func Audit() *AuditLogger {
	if auditLogger == nil {
		auditLogger = &AuditLogger{}
	}
	return auditLogger
}

// AuditWithSession creates an audit logger scoped to a session.
func AuditWithSession(sessionID string) *AuditLogger {
	return &AuditLogger{sessionID: sessionID}
}

// AuditWithAgent creates an audit logger scoped to a subagent.
func AuditWithAgent(sessionID, agentID string) *AuditLogger {
	return &AuditLogger{sessionID: sessionID, agentID: agentID}
}

// Log writes an audit event.
func (a *AuditLogger) Log(event AuditEvent) {
	if !IsDebugMode() || auditFile == nil {
		return
	}

	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if event.SessionID == "" && a.sessionID != "" {
		event.SessionID = a.sessionID
	}
	if event.AgentID == "" && a.agentID != "" {
		event.AgentID = a.agentID
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	data, err := json.Marshal(event)
	if err == nil {
		auditFile.WriteString(string(data) + "\n")
	}
}

// GateRejection records a gate rejection with its stable marker.
func (a *AuditLogger) GateRejection(marker, reason string) {
	a.Log(AuditEvent{
		EventType: AuditGateReject,
		Target:    marker,
		Success:   false,
		Message:   reason,
	})
}

// TaskTransition records a task status change.
func (a *AuditLogger) TaskTransition(taskID, from, to string) {
	a.Log(AuditEvent{
		EventType: AuditTaskTransition,
		Target:    taskID,
		Success:   true,
		Fields:    map[string]interface{}{"from": from, "to": to},
	})
}
