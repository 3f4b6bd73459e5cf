// Package translator is the bridge's core algorithm: a table-driven mapping
// from inner agent events to outer notifications. It synthesizes item
// identifiers, reshapes tool-call payloads, and accumulates the turn's diff.
// One small handler method per inner event kind, each building and emitting
// exactly the outer shape that event implies.
package translator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lukele/CodexMonitor/internal/diffacc"
	"github.com/lukele/CodexMonitor/internal/innerproto"
	"github.com/lukele/CodexMonitor/internal/logging"
	"github.com/lukele/CodexMonitor/internal/outer"
	"github.com/lukele/CodexMonitor/internal/session"
	"github.com/lukele/CodexMonitor/internal/wire"
	"go.uber.org/zap"
)

// commandTools are classified as command-execution with a literal command
// argument.
var commandTools = map[string]bool{"bash": true}

// fileChangeTools maps a tool name to the change kind it produces.
var fileChangeTools = map[string]string{
	"write": "create",
	"edit":  "edit",
}

// Translator maps one agent session's inner events onto the outer wire.
type Translator struct {
	sess   *session.Session
	codec  *wire.Codec
	logger *logging.Logger
}

// New creates a Translator bound to sess and the outer codec it emits on.
func New(sess *session.Session, codec *wire.Codec, logger *logging.Logger) *Translator {
	if logger == nil {
		logger = logging.Default()
	}
	return &Translator{sess: sess, codec: codec, logger: logger.WithFields(zap.String("component", "translator"))}
}

// ref builds the thread/turn reference for the session's current state.
func (t *Translator) ref() outer.ThreadRef {
	r := outer.ThreadRef{}
	if th := t.sess.CurrentThread(); th != nil {
		r.ThreadID = th.ID
	}
	if tu := t.sess.CurrentTurn(); tu != nil {
		r.TurnID = tu.ID
	}
	return r
}

// Handle dispatches one decoded inner-dialect line to its translation step.
// Unrecognized kinds are logged at debug and dropped. They never reach the
// outer wire and never fail the read loop.
func (t *Translator) Handle(line *innerproto.Line) {
	switch line.Type {
	case innerproto.EventAgentStart:
		t.handleAgentStart()
	case innerproto.EventAgentEnd:
		t.handleAgentEnd()
	case innerproto.EventMessageStart:
		t.handleMessageStart(line)
	case innerproto.EventMessageUpdate:
		t.handleMessageUpdate(line)
	case innerproto.EventMessageEnd:
		t.handleMessageEnd(line)
	case innerproto.EventToolExecStart:
		t.handleToolExecStart(line)
	case innerproto.EventToolExecUpdate:
		t.handleToolExecUpdate(line)
	case innerproto.EventToolExecEnd:
		t.handleToolExecEnd(line)
	case innerproto.EventAutoRetryStart:
		t.handleAutoRetryStart(line)
	case innerproto.EventAutoRetryEnd:
		t.handleAutoRetryEnd(line)
	case innerproto.EventHookError:
		t.handleHookError(line)
	case innerproto.EventAvailableCommands:
		t.handleAvailableCommands(line)
	case innerproto.EventContextWindow:
		t.handleContextWindow(line)
	default:
		t.logger.Debug("dropping unrecognized inner event", zap.String("type", line.Type))
	}
}

func (t *Translator) notify(method string, params any) {
	if err := t.codec.WriteNotification(method, params); err != nil {
		t.logger.Warn("failed to write outer notification", zap.String("method", method), zap.Error(err))
	}
}

func (t *Translator) handleAgentStart() {
	t.sess.Diff.Reset()
	t.sess.SetTurnPhase(session.TurnInProgress)
	t.notify(outer.NotifyTurnStarted, outer.TurnStartedParams{ThreadRef: t.ref()})
}

func (t *Translator) handleAgentEnd() {
	ref := t.ref()
	t.notify(outer.NotifyTurnCompleted, outer.TurnCompletedParams{ThreadRef: ref})
	t.sess.EndTurn(session.TurnCompleted)
}

func (t *Translator) handleMessageStart(line *innerproto.Line) {
	if line.Role != "assistant" {
		return
	}
	id := t.sess.StartAssistantMessage()
	t.notify(outer.NotifyItemStarted, outer.ItemNotificationParams{
		ThreadRef: t.ref(),
		Item:      outer.Item{ID: id, Variant: outer.ItemAgentMessage, Phase: outer.PhaseInProgress},
	})
}

func (t *Translator) handleMessageUpdate(line *innerproto.Line) {
	u := line.Update
	if u == nil {
		return
	}
	switch u.Kind {
	case innerproto.UpdateTextDelta:
		id := t.sess.AssistantMessageID()
		if id == "" {
			return
		}
		t.notify(outer.NotifyAgentMessageDelta, outer.DeltaParams{ThreadRef: t.ref(), ItemID: id, Delta: u.Delta})
	case innerproto.UpdateThinkingStart:
		id := t.sess.ReasoningItemID()
		t.notify(outer.NotifyItemStarted, outer.ItemNotificationParams{
			ThreadRef: t.ref(),
			Item:      outer.Item{ID: id, Variant: outer.ItemReasoning, Phase: outer.PhaseInProgress},
		})
	case innerproto.UpdateThinkingDelta:
		id := t.sess.ReasoningItemID()
		t.notify(outer.NotifyReasoningDelta, outer.DeltaParams{ThreadRef: t.ref(), ItemID: id, Delta: u.Delta})
	case innerproto.UpdateThinkingEnd:
		id := t.sess.ReasoningItemID()
		t.notify(outer.NotifyItemCompleted, outer.ItemNotificationParams{
			ThreadRef: t.ref(),
			Item:      outer.Item{ID: id, Variant: outer.ItemReasoning, Phase: outer.PhaseCompleted, Text: u.Delta},
		})
		t.sess.ClearReasoningItem()
	case innerproto.UpdateToolcallEnd:
		t.notify(outer.NotifyItemStarted, outer.ItemNotificationParams{
			ThreadRef: t.ref(),
			Item: outer.Item{
				ID:           u.ToolCallID,
				Variant:      outer.ItemCommandExecution,
				Phase:        outer.PhaseInProgress,
				ToolCallID:   u.ToolCallID,
				ToolName:     u.ToolName,
				RawArgs:      rawArgsOrNil(u.Args),
				ParentItemID: u.ParentToolCallID,
			},
		})
	default:
		t.logger.Debug("dropping unrecognized message_update kind", zap.String("kind", u.Kind))
	}
}

func (t *Translator) handleMessageEnd(line *innerproto.Line) {
	if line.Role != "assistant" {
		return
	}
	id := t.sess.EndAssistantMessage()
	text := joinTextBlocks(line.Content)
	t.notify(outer.NotifyItemCompleted, outer.ItemNotificationParams{
		ThreadRef: t.ref(),
		Item:      outer.Item{ID: id, Variant: outer.ItemAgentMessage, Phase: outer.PhaseCompleted, Text: text},
	})
	if line.Usage != nil {
		t.notify(outer.NotifyTokenUsageUpdated, outer.TokenUsageParams{
			ThreadRef:  t.ref(),
			Input:      line.Usage.Input,
			Output:     line.Usage.Output,
			CacheRead:  line.Usage.CacheRead,
			CacheWrite: line.Usage.CacheWrite,
		})
	}
}

func (t *Translator) handleToolExecStart(line *innerproto.Line) {
	t.sess.CacheToolArgs(line.ToolCallID, line.ToolName, line.Args)

	variant, changes := classifyTool(line.ToolName, line.Args)
	item := outer.Item{
		ID:           line.ToolCallID,
		Variant:      variant,
		Phase:        outer.PhaseInProgress,
		ToolCallID:   line.ToolCallID,
		ToolName:     line.ToolName,
		RawArgs:      rawArgsOrNil(line.Args),
		ParentItemID: line.ParentToolCallID,
	}
	if variant == outer.ItemCommandExecution {
		item.Command = commandDisplayString(line.ToolName, line.Args)
	}
	if variant == outer.ItemFileChange {
		item.Changes = changes
	}
	t.notify(outer.NotifyItemStarted, outer.ItemNotificationParams{ThreadRef: t.ref(), Item: item})
}

func (t *Translator) handleToolExecUpdate(line *innerproto.Line) {
	t.notify(outer.NotifyToolOutputDelta, outer.DeltaParams{
		ThreadRef: t.ref(),
		ItemID:    line.ToolCallID,
		Delta:     line.OutputText,
	})
}

func (t *Translator) handleToolExecEnd(line *innerproto.Line) {
	cached, _ := t.sess.ConsumeToolArgs(line.ToolCallID)
	toolName := line.ToolName
	if toolName == "" {
		toolName = cached.ToolName
	}
	args := line.Args
	if len(args) == 0 {
		args = cached.RawArgs
	}

	variant, changes := classifyTool(toolName, args)
	outputText := outputTextFrom(line)

	item := outer.Item{
		ID:           line.ToolCallID,
		Variant:      variant,
		Phase:        outer.PhaseCompleted,
		ToolCallID:   line.ToolCallID,
		ToolName:     toolName,
		OutputText:   outputText,
		IsError:      line.IsError,
		ParentItemID: line.ParentToolCallID,
	}
	if line.ExitCode != nil {
		item.ExitCode = line.ExitCode
	}
	if variant == outer.ItemCommandExecution {
		item.Command = commandDisplayString(toolName, args)
	}

	var diffBody, path string
	if line.Result != nil {
		diffBody = line.Result.Diff
		path = line.Result.Path
	}
	if variant == outer.ItemFileChange {
		if len(changes) == 0 {
			changes = []outer.Change{{Path: path, Kind: fileChangeTools[toolName]}}
		}
		kind := changes[0].Kind
		// The change entry on item/completed carries path/kind only. The
		// diff text itself is delivered once, via turn/diff/updated, not
		// duplicated here.
		fragment := diffacc.BuildFragment(changes[0].Path, kind, diffBody, outputText)
		item.Changes = changes

		if fragment != "" {
			joined := t.sess.Diff.Append(fragment)
			t.notify(outer.NotifyItemCompleted, outer.ItemNotificationParams{ThreadRef: t.ref(), Item: item})
			t.notify(outer.NotifyDiffUpdated, outer.DiffUpdatedParams{ThreadRef: t.ref(), Diff: joined})
			return
		}
	}
	t.notify(outer.NotifyItemCompleted, outer.ItemNotificationParams{ThreadRef: t.ref(), Item: item})
}

func (t *Translator) handleAutoRetryStart(line *innerproto.Line) {
	t.notify(outer.NotifyError, outer.ErrorParams{ThreadRef: t.ref(), Message: line.Reason, WillRetry: true})
}

func (t *Translator) handleAutoRetryEnd(line *innerproto.Line) {
	if line.WillRetry {
		return
	}
	t.notify(outer.NotifyError, outer.ErrorParams{ThreadRef: t.ref(), Message: line.Reason, WillRetry: false})
}

func (t *Translator) handleHookError(line *innerproto.Line) {
	t.notify(outer.NotifyError, outer.ErrorParams{
		ThreadRef: t.ref(),
		Message:   line.Reason,
		WillRetry: false,
		HookPath:  line.HookPath,
	})
}

// handleAvailableCommands surfaces the agent's current slash-command list.
// Off the documented turn/item hot path but harmless for clients that
// ignore it.
func (t *Translator) handleAvailableCommands(line *innerproto.Line) {
	if len(line.Commands) == 0 {
		return
	}
	t.notify(outer.NotifyCommandsUpdated, outer.CommandsUpdatedParams{ThreadRef: t.ref(), Commands: line.Commands})
}

// handleContextWindow tracks running context-window accounting for the
// turn. Not surfaced as its own outer notification; logged at debug so the
// turn/error and token-usage paths stay the only documented usage signals.
func (t *Translator) handleContextWindow(line *innerproto.Line) {
	remaining := t.sess.RecordContextWindow(line.ContextWindowSize, line.ContextWindowUsed)
	t.logger.Debug("context window updated",
		zap.Int64("size", line.ContextWindowSize),
		zap.Int64("used", line.ContextWindowUsed),
		zap.Int64("remaining", remaining))
}

// classifyTool decides a tool's outer item variant from its name, per the
// fixed name-based table: bash is command-execution; write/edit are
// file-change; everything else is reshaped into a synthesized
// command-execution entry ("read-like").
func classifyTool(name string, rawArgs json.RawMessage) (string, []outer.Change) {
	if kind, ok := fileChangeTools[name]; ok {
		var args struct {
			Path string `json:"path"`
		}
		_ = json.Unmarshal(rawArgs, &args)
		return outer.ItemFileChange, []outer.Change{{Path: args.Path, Kind: kind}}
	}
	return outer.ItemCommandExecution, nil
}

// commandDisplayString synthesizes the literal command string for
// command-execution items: a literal command for bash, otherwise a
// synthesized display form for read-like tools.
func commandDisplayString(name string, rawArgs json.RawMessage) string {
	var args map[string]any
	_ = json.Unmarshal(rawArgs, &args)

	if commandTools[name] {
		if cmd, ok := args["command"].(string); ok {
			return cmd
		}
		return ""
	}

	path, _ := args["path"].(string)
	pattern, _ := args["pattern"].(string)

	switch name {
	case "read":
		return fmt.Sprintf("read %s", path)
	case "ls":
		if path == "" {
			path = "."
		}
		return fmt.Sprintf("ls %s", path)
	case "find":
		if path == "" {
			path = "."
		}
		return fmt.Sprintf("find %q in %s", pattern, path)
	case "grep":
		if path == "" {
			path = "."
		}
		return fmt.Sprintf("grep /%s/ in %s", pattern, path)
	default:
		if path != "" {
			return fmt.Sprintf("%s %s", name, path)
		}
		return name
	}
}

// outputTextFrom extracts the plain-text payload of a tool_execution_end
// result, joining every text content block.
func outputTextFrom(line *innerproto.Line) string {
	if line.OutputText != "" {
		return line.OutputText
	}
	if line.Result != nil {
		return joinTextBlocks(line.Result.Content)
	}
	return ""
}

func joinTextBlocks(blocks []innerproto.ContentBlock) string {
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "")
}

// rawArgsOrNil passes raw JSON arguments through as an opaque value, or nil
// when absent, so the outer item omits the field entirely.
func rawArgsOrNil(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return json.RawMessage(raw)
}
