package router

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lukele/CodexMonitor/internal/correlator"
	"github.com/lukele/CodexMonitor/internal/innerproto"
	"github.com/lukele/CodexMonitor/internal/outer"
	"github.com/lukele/CodexMonitor/internal/session"
	"github.com/lukele/CodexMonitor/internal/supervisor"
	"github.com/lukele/CodexMonitor/internal/translator"
	"github.com/lukele/CodexMonitor/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a concurrency-safe io.Writer, needed because the outer codec
// is written from the router's request-handling goroutine and the agent
// stdout reader goroutine while the test polls its contents.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

// fakeAgentScript writes a shell script standing in for the coding agent: it
// acknowledges new_session/set_model/abort/get_available_models immediately,
// and answers "prompt" by replaying a canned inner-dialect event sequence
// chosen by the prompt's message text.
func fakeAgentScript(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-agent.sh")
	script := `#!/bin/sh
while IFS= read -r line; do
  id=$(printf '%s' "$line" | sed -n 's/.*"id":"\([^"]*\)".*/\1/p')
  case "$line" in
    *'"type":"new_session"'*)
      printf '{"type":"response","id":"%s","command":"new_session","success":true,"data":{}}\n' "$id"
      ;;
    *'"type":"set_model"'*)
      printf '{"type":"response","id":"%s","command":"set_model","success":true,"data":{}}\n' "$id"
      ;;
    *'"type":"abort"'*)
      printf '{"type":"response","id":"%s","command":"abort","success":true,"data":{}}\n' "$id"
      ;;
    *'"type":"get_available_models"'*)
      printf '{"type":"response","id":"%s","command":"get_available_models","success":true,"data":{"models":[]}}\n' "$id"
      ;;
    *'"type":"prompt"'*'"write a file"'*)
      printf '{"type":"response","id":"%s","command":"prompt","success":true,"data":{}}\n' "$id"
      printf '{"type":"agent_start"}\n'
      printf '{"type":"tool_execution_start","toolCallId":"call-1","toolName":"write","args":{"path":"/f.txt"}}\n'
      printf '{"type":"tool_execution_end","toolCallId":"call-1","toolName":"write","exitCode":0,"result":{"content":[{"type":"text","text":"hello\\nworld"}]}}\n'
      printf '{"type":"agent_end"}\n'
      ;;
    *'"type":"prompt"'*'"reject this"'*)
      printf '{"type":"response","id":"%s","command":"prompt","success":false,"error":"no session"}\n' "$id"
      ;;
    *'"type":"prompt"'*)
      printf '{"type":"response","id":"%s","command":"prompt","success":true,"data":{}}\n' "$id"
      printf '{"type":"agent_start"}\n'
      printf '{"type":"message_start","role":"assistant"}\n'
      printf '{"type":"message_update","role":"assistant","update":{"kind":"text_delta","delta":"Hi"}}\n'
      printf '{"type":"message_end","role":"assistant","content":[{"type":"text","text":"Hi"}],"usage":{"input":10,"output":1}}\n'
      printf '{"type":"agent_end"}\n'
      ;;
  esac
done
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

// readAgentStdout mirrors cmd/bridge/main.go's agent-stdout reader: route
// responses to the correlator, typed events to the translator.
func readAgentStdout(handle *supervisor.Handle, corr *correlator.Correlator, tr *translator.Translator) {
	dec := json.NewDecoder(handle.Stdout)
	for {
		var line innerproto.Line
		if err := dec.Decode(&line); err != nil {
			return
		}
		if line.IsResponse() {
			corr.Resolve(&line)
			continue
		}
		tr.Handle(&line)
	}
}

type scenarioRig struct {
	sess *session.Session
	sup  *supervisor.Supervisor
	r    *Router
	out  *syncBuffer
}

func newScenarioRig(t *testing.T) *scenarioRig {
	t.Helper()
	binary := fakeAgentScript(t)
	t.Setenv("CODEXMONITOR_SCENARIO_AGENT_PATH", binary)
	locateOpts := supervisor.DefaultLocateOptions("CODEXMONITOR_SCENARIO_AGENT_PATH", "CODEXMONITOR_SCENARIO_MONOREPO_ROOT", "unused/rel/path", "codexmonitor-scenario-nonexistent-binary")

	sess := session.New(t.TempDir())
	sup := supervisor.New(nil, locateOpts, nil)
	corr := correlator.New(nil)
	out := &syncBuffer{}
	codec := wire.NewCodec(strings.NewReader(""), out, nil)
	tr := translator.New(sess, codec, nil)
	r := New(sess, sup, corr, codec, nil)

	sup.OnSpawn(func(handle *supervisor.Handle) {
		go readAgentStdout(handle, corr, tr)
	})

	return &scenarioRig{sess: sess, sup: sup, r: r, out: out}
}

func (rig *scenarioRig) dispatch(t *testing.T, method string, params any) (any, *wire.Error) {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	return rig.r.dispatch(context.Background(), method, raw)
}

func (rig *scenarioRig) waitForMethod(t *testing.T, method string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return strings.Contains(rig.out.String(), `"method":"`+method+`"`)
	}, 5*time.Second, 10*time.Millisecond, "never observed notification %q; output so far: %s", method, rig.out.String())
}

// TestScenarioInitialize covers S1: initialize responds with the protocol
// version and capability flags.
func TestScenarioInitialize(t *testing.T) {
	rig := newScenarioRig(t)
	result, rpcErr := rig.dispatch(t, outer.MethodInitialize, struct{}{})
	require.Nil(t, rpcErr)
	require.NotNil(t, result)
}

// TestScenarioStartThreadSpawnsAgentAndSendsNewSession covers S2.
func TestScenarioStartThreadSpawnsAgentAndSendsNewSession(t *testing.T) {
	rig := newScenarioRig(t)
	result, rpcErr := rig.dispatch(t, outer.MethodThreadStart, struct {
		Cwd string `json:"cwd"`
	}{Cwd: t.TempDir()})

	require.Nil(t, rpcErr)
	require.NotNil(t, result)
	assert.NotNil(t, rig.sess.CurrentThread())
	assert.NotNil(t, rig.sup.Current(), "thread/start should have spawned the agent")
	rig.sup.Stop(2 * time.Second)
}

// TestScenarioSingleTurnTextReply covers S3: a full turn producing a plain
// text assistant reply and token usage.
func TestScenarioSingleTurnTextReply(t *testing.T) {
	rig := newScenarioRig(t)
	_, rpcErr := rig.dispatch(t, outer.MethodThreadStart, struct{}{})
	require.Nil(t, rpcErr)

	_, rpcErr = rig.dispatch(t, outer.MethodTurnStart, struct {
		Input []struct {
			Kind string `json:"kind"`
			Text string `json:"text"`
		} `json:"input"`
	}{Input: []struct {
		Kind string `json:"kind"`
		Text string `json:"text"`
	}{{Kind: "text", Text: "hello"}}})
	require.Nil(t, rpcErr)

	rig.waitForMethod(t, outer.NotifyTurnCompleted)
	out := rig.out.String()
	assert.Contains(t, out, outer.NotifyTurnStarted)
	assert.Contains(t, out, outer.NotifyAgentMessageDelta)
	assert.Contains(t, out, outer.NotifyTokenUsageUpdated)
	assert.Contains(t, out, `"text":"Hi"`)
	rig.sup.Stop(2 * time.Second)
}

// TestScenarioFileWriteTool covers S4: a file-write tool call produces a
// file-change item and a unified-diff fragment.
func TestScenarioFileWriteTool(t *testing.T) {
	rig := newScenarioRig(t)
	_, rpcErr := rig.dispatch(t, outer.MethodThreadStart, struct{}{})
	require.Nil(t, rpcErr)

	_, rpcErr = rig.dispatch(t, outer.MethodTurnStart, struct {
		Input []struct {
			Kind string `json:"kind"`
			Text string `json:"text"`
		} `json:"input"`
	}{Input: []struct {
		Kind string `json:"kind"`
		Text string `json:"text"`
	}{{Kind: "text", Text: "write a file"}}})
	require.Nil(t, rpcErr)

	rig.waitForMethod(t, outer.NotifyDiffUpdated)
	out := rig.out.String()
	assert.Contains(t, out, `"kind":"create"`)
	assert.Contains(t, out, "--- /dev/null")
	assert.Contains(t, out, "+hello")
	rig.sup.Stop(2 * time.Second)
}

// TestScenarioModelSwitchOnTurnStart covers S5: turn/start with a different
// model sends set_model and awaits it before proceeding.
func TestScenarioModelSwitchOnTurnStart(t *testing.T) {
	rig := newScenarioRig(t)
	_, rpcErr := rig.dispatch(t, outer.MethodThreadStart, struct{}{})
	require.Nil(t, rpcErr)
	rig.sess.SetModel("anthropic", "claude-sonnet-4-20250514")

	_, rpcErr = rig.dispatch(t, outer.MethodTurnStart, struct {
		Model string `json:"model"`
		Input []struct {
			Kind string `json:"kind"`
			Text string `json:"text"`
		} `json:"input"`
	}{Model: "openai/gpt-5", Input: []struct {
		Kind string `json:"kind"`
		Text string `json:"text"`
	}{{Kind: "text", Text: "hello"}}})
	require.Nil(t, rpcErr)

	rig.waitForMethod(t, outer.NotifyTurnCompleted)
	assert.Equal(t, "openai/gpt-5", rig.sess.CurrentComposite())
	rig.sup.Stop(2 * time.Second)
}

// TestScenarioPromptProtocolErrorEmitsRetryableTurnError covers the
// agent-protocol-error branch of spec §7: a prompt response reporting
// success:false surfaces as a retryable turn/error notification rather than
// silently dropping the turn.
func TestScenarioPromptProtocolErrorEmitsRetryableTurnError(t *testing.T) {
	rig := newScenarioRig(t)
	_, rpcErr := rig.dispatch(t, outer.MethodThreadStart, struct{}{})
	require.Nil(t, rpcErr)

	_, rpcErr = rig.dispatch(t, outer.MethodTurnStart, struct {
		Input []struct {
			Kind string `json:"kind"`
			Text string `json:"text"`
		} `json:"input"`
	}{Input: []struct {
		Kind string `json:"kind"`
		Text string `json:"text"`
	}{{Kind: "text", Text: "reject this"}}})
	require.Nil(t, rpcErr)

	rig.waitForMethod(t, outer.NotifyError)
	out := rig.out.String()
	assert.Contains(t, out, "no session")
	assert.Contains(t, out, `"willRetry":true`)
	rig.sup.Stop(2 * time.Second)
}

// TestScenarioRateLimitsWithNoCredentials covers S6: no credential files
// present, account/rateLimits answers with every bucket null.
func TestScenarioRateLimitsWithNoCredentials(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	rig := newScenarioRig(t)

	result, rpcErr := rig.dispatch(t, outer.MethodAccountRateLimits, struct{}{})
	require.Nil(t, rpcErr)

	data, err := json.Marshal(result)
	require.NoError(t, err)
	assert.JSONEq(t, `{"primary":null,"secondary":null,"credits":null}`, string(data))
}
