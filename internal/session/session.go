// Package session holds the bridge's process-wide mutable state: the
// current thread and turn, the live item identifiers the translator is
// tracking, the tool-argument cache, and the diff accumulator for the
// in-flight turn.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lukele/CodexMonitor/internal/diffacc"
	"github.com/lukele/CodexMonitor/internal/registry"
)

// TurnPhase is a turn's lifecycle state.
type TurnPhase string

const (
	TurnIdle        TurnPhase = "idle"
	TurnStarting    TurnPhase = "turn-starting"
	TurnInProgress  TurnPhase = "in-progress"
	TurnCompleted   TurnPhase = "completed"
	TurnErrored     TurnPhase = "errored"
	TurnInterrupted TurnPhase = "interrupted"
)

// Thread is an externally-addressable conversation.
type Thread struct {
	ID        string
	CreatedAt time.Time
	Name      *string
}

// Turn is one request-to-completion exchange within a thread.
type Turn struct {
	ID       string
	ThreadID string
	Phase    TurnPhase
}

// ToolArgs is what tool_execution_start caches for tool_execution_end to
// retrieve, since the agent does not always echo arguments at end.
type ToolArgs struct {
	ToolName string
	RawArgs  []byte
}

// Session is the single owning value for bridge process state. It is
// mutated only by the one task-runtime that runs the router and the
// translator. The mutex exists to make concurrent reads from request
// handlers and the event-reading goroutine safe, not to arbitrate writers
// racing each other.
type Session struct {
	mu sync.Mutex

	Cwd string

	CurrentProvider string
	CurrentModelID  string // inner model id

	Registry *registry.Registry
	Diff     *diffacc.Accumulator

	thread *Thread
	turn   *Turn

	// assistantMessageID is the live id for the in-progress assistant
	// message item, "" when none is open.
	assistantMessageID string

	// reasoningItemID is a fixed sentinel per turn: reasoning does not
	// interleave with itself within one turn.
	reasoningItemID string

	toolArgs map[string]ToolArgs

	// contextWindowSize/contextWindowUsed track the most recently reported
	// context-window accounting for the current turn. Both zero means
	// nothing has been reported yet.
	contextWindowSize int64
	contextWindowUsed int64
}

// New creates a Session rooted at cwd.
func New(cwd string) *Session {
	return &Session{
		Cwd:      cwd,
		Registry: registry.New(),
		Diff:     diffacc.New(),
		toolArgs: make(map[string]ToolArgs),
	}
}

// StartThread makes a freshly-identified thread current and returns it.
func (s *Session) StartThread(name *string) *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &Thread{ID: uuid.NewString(), CreatedAt: time.Now(), Name: name}
	s.thread = t
	return t
}

// ResumeThread makes an already-known thread id current without validating
// it against any store. The bridge keeps no conversation history, so
// resume is accepted on trust (see handleThreadResume in the router).
func (s *Session) ResumeThread(id string) *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &Thread{ID: id, CreatedAt: time.Now()}
	s.thread = t
	return t
}

// CurrentThread returns the current thread, or nil if none.
func (s *Session) CurrentThread() *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thread
}

// ArchiveThread clears the current thread. Safe to call when already clear.
func (s *Session) ArchiveThread() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.thread = nil
}

// StartTurn allocates a new turn under the current thread, resets the diff
// accumulator and per-turn item identifiers, and marks it turn-starting
// (the translator moves it to in-progress on agent_start).
// Returns nil if no thread is current.
func (s *Session) StartTurn() *Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.thread == nil {
		return nil
	}
	s.Diff.Reset()
	s.assistantMessageID = ""
	s.reasoningItemID = ""
	s.toolArgs = make(map[string]ToolArgs)

	t := &Turn{ID: uuid.NewString(), ThreadID: s.thread.ID, Phase: TurnStarting}
	s.turn = t
	return t
}

// CurrentTurn returns the current turn, or nil if idle.
func (s *Session) CurrentTurn() *Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turn
}

// SetTurnPhase updates the current turn's phase in place, if a turn is set.
func (s *Session) SetTurnPhase(phase TurnPhase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.turn != nil {
		s.turn.Phase = phase
	}
}

// EndTurn clears the current turn after recording its terminal phase.
func (s *Session) EndTurn(phase TurnPhase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.turn != nil {
		s.turn.Phase = phase
	}
	s.turn = nil
}

// InProgress reports whether a turn is currently open.
func (s *Session) InProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turn != nil
}

// StartAssistantMessage allocates and records a fresh assistant-message
// item id.
func (s *Session) StartAssistantMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.assistantMessageID = id
	return id
}

// AssistantMessageID returns the live assistant-message item id, "" if none.
func (s *Session) AssistantMessageID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assistantMessageID
}

// EndAssistantMessage clears the live assistant-message id and returns what
// it was. If none was open, it synthesizes and returns a fresh id for the
// completion to carry alone.
func (s *Session) EndAssistantMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.assistantMessageID
	if id == "" {
		id = uuid.NewString()
	}
	s.assistantMessageID = ""
	return id
}

// ReasoningItemID returns the per-turn reasoning sentinel id, allocating it
// on first use within the turn.
func (s *Session) ReasoningItemID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reasoningItemID == "" {
		s.reasoningItemID = uuid.NewString()
	}
	return s.reasoningItemID
}

// ClearReasoningItem drops the reasoning sentinel once the block completes.
func (s *Session) ClearReasoningItem() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reasoningItemID = ""
}

// CacheToolArgs records the tool name and raw arguments observed at
// tool_execution_start, keyed by the agent-originated tool-call id.
func (s *Session) CacheToolArgs(toolCallID, toolName string, rawArgs []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolArgs[toolCallID] = ToolArgs{ToolName: toolName, RawArgs: rawArgs}
}

// ConsumeToolArgs retrieves and deletes the cached entry for a tool-call id,
// reported at tool_execution_end so the cache is empty once the turn ends.
func (s *Session) ConsumeToolArgs(toolCallID string) (ToolArgs, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.toolArgs[toolCallID]
	if ok {
		delete(s.toolArgs, toolCallID)
	}
	return a, ok
}

// ToolArgsLen reports the number of uncompleted tool calls, used by tests
// asserting the cache drains by turn end.
func (s *Session) ToolArgsLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.toolArgs)
}

// RecordContextWindow updates the running context-window accounting for the
// current turn. Returns the remaining budget.
func (s *Session) RecordContextWindow(size, used int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contextWindowSize = size
	s.contextWindowUsed = used
	return size - used
}

// SetModel records the provider/model pair selected for the next prompt.
func (s *Session) SetModel(provider, modelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CurrentProvider = provider
	s.CurrentModelID = modelID
}

// CurrentComposite returns the current composite model identifier, "" if no
// model has been selected yet.
func (s *Session) CurrentComposite() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CurrentModelID == "" {
		return ""
	}
	return registry.Composite(s.CurrentProvider, s.CurrentModelID)
}
