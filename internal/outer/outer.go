// Package outer defines the client dialect's method names and notification
// payload shapes: the coarse thread/turn/item vocabulary the translator
// emits and the router answers requests in.
package outer

// Notification and request method names.
const (
	MethodInitialize            = "initialize"
	MethodThreadStart           = "thread/start"
	MethodThreadResume          = "thread/resume"
	MethodThreadList            = "thread/list"
	MethodThreadArchive         = "thread/archive"
	MethodTurnStart             = "turn/start"
	MethodTurnInterrupt         = "turn/interrupt"
	MethodThreadInterrupt       = "thread/interrupt"
	MethodModelList             = "model/list"
	MethodSkillsList            = "skills/list"
	MethodAccountRateLimits     = "account/rateLimits"
	MethodAccountRateLimitsRead = "account/rateLimits/read"
	MethodCodexRespondToRequest = "codex/respondToRequest"
	MethodAuthStatus            = "auth/status"
	MethodAuthLogin             = "auth/login"

	NotifyTurnStarted       = "turn/started"
	NotifyTurnCompleted     = "turn/completed"
	NotifyItemStarted       = "item/started"
	NotifyItemCompleted     = "item/completed"
	NotifyAgentMessageDelta = "item/agentMessage/delta"
	NotifyReasoningDelta    = "item/reasoning/delta"
	NotifyToolOutputDelta   = "item/toolCall/delta"
	NotifyDiffUpdated       = "turn/diff/updated"
	NotifyTokenUsageUpdated = "thread/tokenUsage/updated"
	NotifyError             = "turn/error"
	NotifyCommandsUpdated   = "thread/commands/updated"
)

// Item variants, matching the transcript element kinds a turn can contain.
const (
	ItemAgentMessage     = "agent-message"
	ItemReasoning        = "reasoning"
	ItemCommandExecution = "command-execution"
	ItemFileChange       = "file-change"
)

// Item phases.
const (
	PhaseInProgress = "in-progress"
	PhaseCompleted  = "completed"
)

// ThreadRef identifies the thread (and, where relevant, the turn) a
// notification is scoped to.
type ThreadRef struct {
	ThreadID string `json:"threadId"`
	TurnID   string `json:"turnId,omitempty"`
}

// TurnStartedParams is the payload of turn/started.
type TurnStartedParams struct {
	ThreadRef
}

// TurnCompletedParams is the payload of turn/completed.
type TurnCompletedParams struct {
	ThreadRef
}

// Change describes one file touched by a file-change tool call.
type Change struct {
	Path string `json:"path"`
	Kind string `json:"kind"` // "create" or "edit"
	Diff string `json:"diff,omitempty"`
}

// Item is the payload carried by item/started and item/completed. Fields
// are populated according to Variant; unused fields are omitted.
type Item struct {
	ID      string `json:"id"`
	Variant string `json:"variant"`
	Phase   string `json:"phase"`

	// agent-message / reasoning
	Text string `json:"text,omitempty"`

	// command-execution
	ToolCallID   string      `json:"toolCallId,omitempty"`
	ToolName     string      `json:"toolName,omitempty"`
	Command      string      `json:"command,omitempty"`
	RawArgs      interface{} `json:"args,omitempty"`
	OutputText   string      `json:"outputText,omitempty"`
	ExitCode     *int        `json:"exitCode,omitempty"`
	IsError      bool        `json:"isError,omitempty"`
	ParentItemID string      `json:"parentItemId,omitempty"`

	// file-change
	Changes []Change `json:"changes,omitempty"`
}

// ItemNotificationParams is the payload of item/started and item/completed.
type ItemNotificationParams struct {
	ThreadRef
	Item Item `json:"item"`
}

// DeltaParams is the payload of item/agentMessage/delta,
// item/reasoning/delta, and item/toolCall/delta.
type DeltaParams struct {
	ThreadRef
	ItemID string `json:"itemId"`
	Delta  string `json:"delta"`
}

// DiffUpdatedParams is the payload of turn/diff/updated.
type DiffUpdatedParams struct {
	ThreadRef
	Diff string `json:"diff"`
}

// TokenUsageParams is the payload of thread/tokenUsage/updated.
type TokenUsageParams struct {
	ThreadRef
	Input      int `json:"input"`
	Output     int `json:"output"`
	CacheRead  int `json:"cacheRead,omitempty"`
	CacheWrite int `json:"cacheWrite,omitempty"`
}

// CommandsUpdatedParams is the payload of thread/commands/updated: the slash
// commands the agent currently has registered for this thread.
type CommandsUpdatedParams struct {
	ThreadRef
	Commands []string `json:"commands"`
}

// ErrorParams is the payload of turn/error, an error notification scoped to
// the current thread and turn.
type ErrorParams struct {
	ThreadRef
	Message   string `json:"message"`
	WillRetry bool   `json:"willRetry"`
	HookPath  string `json:"hookPath,omitempty"`
}
