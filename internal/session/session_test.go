package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThreadLifecycle(t *testing.T) {
	s := New("/tmp/work")
	assert.Nil(t, s.CurrentThread())

	name := "my thread"
	th := s.StartThread(&name)
	require.NotNil(t, th)
	assert.Equal(t, th, s.CurrentThread())
	assert.Equal(t, &name, th.Name)

	s.ArchiveThread()
	assert.Nil(t, s.CurrentThread())
}

func TestResumeThreadTrustsGivenID(t *testing.T) {
	s := New("/tmp/work")
	th := s.ResumeThread("existing-thread-id")
	assert.Equal(t, "existing-thread-id", th.ID)
	assert.Equal(t, th, s.CurrentThread())
}

func TestStartTurnRequiresThread(t *testing.T) {
	s := New("/tmp/work")
	assert.Nil(t, s.StartTurn())

	s.StartThread(nil)
	turn := s.StartTurn()
	require.NotNil(t, turn)
	assert.Equal(t, TurnStarting, turn.Phase)
	assert.True(t, s.InProgress())
}

func TestStartTurnResetsPerTurnState(t *testing.T) {
	s := New("/tmp/work")
	s.StartThread(nil)
	s.StartTurn()

	s.StartAssistantMessage()
	s.ReasoningItemID()
	s.CacheToolArgs("tool-1", "bash", []byte(`{}`))
	assert.Equal(t, 1, s.ToolArgsLen())

	s.Diff.Append("some fragment")
	assert.False(t, s.Diff.Empty())

	s.StartTurn()
	assert.Equal(t, "", s.AssistantMessageID())
	assert.Equal(t, 0, s.ToolArgsLen())
	assert.True(t, s.Diff.Empty())
}

func TestSetTurnPhaseAndEndTurn(t *testing.T) {
	s := New("/tmp/work")
	s.StartThread(nil)
	turn := s.StartTurn()

	s.SetTurnPhase(TurnInProgress)
	assert.Equal(t, TurnInProgress, s.CurrentTurn().Phase)

	s.EndTurn(TurnCompleted)
	assert.Nil(t, s.CurrentTurn())
	assert.False(t, s.InProgress())
	_ = turn
}

func TestAssistantMessageLifecycle(t *testing.T) {
	s := New("/tmp/work")
	id := s.StartAssistantMessage()
	assert.Equal(t, id, s.AssistantMessageID())

	ended := s.EndAssistantMessage()
	assert.Equal(t, id, ended)
	assert.Equal(t, "", s.AssistantMessageID())
}

func TestEndAssistantMessageSynthesizesWhenNoneOpen(t *testing.T) {
	s := New("/tmp/work")
	ended := s.EndAssistantMessage()
	assert.NotEmpty(t, ended)
}

func TestReasoningItemIDStableUntilCleared(t *testing.T) {
	s := New("/tmp/work")
	first := s.ReasoningItemID()
	second := s.ReasoningItemID()
	assert.Equal(t, first, second)

	s.ClearReasoningItem()
	third := s.ReasoningItemID()
	assert.NotEqual(t, first, third)
}

func TestToolArgsCacheConsume(t *testing.T) {
	s := New("/tmp/work")
	s.CacheToolArgs("tool-1", "bash", []byte(`{"command":"ls"}`))
	assert.Equal(t, 1, s.ToolArgsLen())

	args, ok := s.ConsumeToolArgs("tool-1")
	require.True(t, ok)
	assert.Equal(t, "bash", args.ToolName)
	assert.Equal(t, 0, s.ToolArgsLen())

	_, ok = s.ConsumeToolArgs("tool-1")
	assert.False(t, ok)
}

func TestRecordContextWindow(t *testing.T) {
	s := New("/tmp/work")
	remaining := s.RecordContextWindow(1000, 400)
	assert.Equal(t, int64(600), remaining)
}

func TestModelSelection(t *testing.T) {
	s := New("/tmp/work")
	assert.Equal(t, "", s.CurrentComposite())

	s.SetModel("anthropic", "claude-sonnet-4")
	assert.Equal(t, "anthropic/claude-sonnet-4", s.CurrentComposite())
}
