// Package innerproto models the inner agent dialect: newline-delimited JSON
// exchanged with the child agent subprocess over its stdin/stdout.
//
// The agent speaks a loosely-typed event stream: every line is decoded
// defensively into a tagged variant over its "type" field, with unknown
// fields and unknown kinds tolerated rather than rejected.
package innerproto

import "encoding/json"

// Event kinds the bridge must understand.
const (
	EventAgentStart        = "agent_start"
	EventAgentEnd          = "agent_end"
	EventMessageStart      = "message_start"
	EventMessageUpdate     = "message_update"
	EventMessageEnd        = "message_end"
	EventToolExecStart     = "tool_execution_start"
	EventToolExecUpdate    = "tool_execution_update"
	EventToolExecEnd       = "tool_execution_end"
	EventAutoRetryStart    = "auto_retry_start"
	EventAutoRetryEnd      = "auto_retry_end"
	EventHookError         = "hook_error"
	EventAvailableCommands = "available_commands"
	EventContextWindow     = "context_window"
)

// message_update sub-kinds.
const (
	UpdateTextDelta     = "text_delta"
	UpdateThinkingStart = "thinking_start"
	UpdateThinkingDelta = "thinking_delta"
	UpdateThinkingEnd   = "thinking_end"
	UpdateToolcallEnd   = "toolcall_end"
)

// Line is a single decoded line from the agent's stdout. It may be either a
// command response (Type == "response") or a typed event (any other Type).
//
// Fields are intentionally loose (json.RawMessage / map[string]any) where the
// shape varies by event kind or agent. Callers decode further as needed,
// never failing the whole line on an unrecognized sub-shape.
type Line struct {
	Type string `json:"type"`

	// --- Response fields (type == "response") ---
	ID      string          `json:"id,omitempty"`
	Command string          `json:"command,omitempty"`
	Success bool            `json:"success,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`

	// --- Common event fields ---
	Role string `json:"role,omitempty"`

	// --- message_update ---
	Update *MessageUpdate `json:"update,omitempty"`

	// --- message_end ---
	Content []ContentBlock `json:"content,omitempty"`
	Usage   *Usage         `json:"usage,omitempty"`

	// --- tool_execution_* ---
	ToolCallID       string          `json:"toolCallId,omitempty"`
	ToolName         string          `json:"toolName,omitempty"`
	Args             json.RawMessage `json:"args,omitempty"`
	OutputText       string          `json:"outputText,omitempty"`
	ExitCode         *int            `json:"exitCode,omitempty"`
	Result           *ToolResult     `json:"result,omitempty"`
	IsError          bool            `json:"isError,omitempty"`
	ParentToolCallID string          `json:"parentToolCallId,omitempty"`

	// --- auto_retry_* / hook_error ---
	WillRetry bool   `json:"willRetry,omitempty"`
	Reason    string `json:"reason,omitempty"`
	HookPath  string `json:"hookPath,omitempty"`

	// --- available_commands ---
	Commands []string `json:"commands,omitempty"`

	// --- context_window ---
	ContextWindowSize      int64 `json:"contextWindowSize,omitempty"`
	ContextWindowUsed      int64 `json:"contextWindowUsed,omitempty"`
	ContextWindowRemaining int64 `json:"contextWindowRemaining,omitempty"`
}

// IsResponse reports whether this line is a response to a correlated command.
func (l *Line) IsResponse() bool { return l.Type == "response" }

// MessageUpdate carries the payload for a message_update event, discriminated
// by its own Kind field (text_delta/thinking_start/thinking_delta/
// thinking_end/toolcall_end).
type MessageUpdate struct {
	Kind             string          `json:"kind"`
	Delta            string          `json:"delta,omitempty"`
	ToolCallID       string          `json:"toolCallId,omitempty"`
	ToolName         string          `json:"toolName,omitempty"`
	Args             json.RawMessage `json:"args,omitempty"`
	ParentToolCallID string          `json:"parentToolCallId,omitempty"`
}

// ContentBlock is a single block of an assistant message's accumulated content.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Usage reports token accounting for a completed assistant message.
type Usage struct {
	Input      int `json:"input"`
	Output     int `json:"output"`
	CacheRead  int `json:"cacheRead,omitempty"`
	CacheWrite int `json:"cacheWrite,omitempty"`
}

// ToolResult is the payload of a tool_execution_end event.
type ToolResult struct {
	Content []ContentBlock `json:"content,omitempty"`
	Diff    string         `json:"diff,omitempty"`
	Path    string         `json:"path,omitempty"`
}

// Command is an outbound request sent to the agent over its stdin.
// Every command carries a freshly-generated unique id and a method tag;
// the correlator stores a completion sink keyed by ID.
type Command struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Params any    `json:"params,omitempty"`
}

// Required outbound command type tags.
const (
	CmdSetModel           = "set_model"
	CmdNewSession         = "new_session"
	CmdPrompt             = "prompt"
	CmdAbort              = "abort"
	CmdGetAvailableModels = "get_available_models"
)

// SetModelParams is the payload for a set_model command.
type SetModelParams struct {
	Provider string `json:"provider"`
	ModelID  string `json:"modelId"`
}

// PromptParams is the payload for a prompt command.
type PromptParams struct {
	Message string `json:"message"`
}

// ModelEntry is one entry returned by get_available_models.
type ModelEntry struct {
	ID               string `json:"id"`
	Provider         string `json:"provider"`
	Name             string `json:"name"`
	ReasoningCapable bool   `json:"reasoningCapable"`
	DefaultReasoning string `json:"defaultReasoning,omitempty"`
	IsDefault        bool   `json:"isDefault"`
}
