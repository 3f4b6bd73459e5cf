package correlator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/lukele/CodexMonitor/internal/innerproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendResolveSuccess(t *testing.T) {
	c := New(nil)
	var sent innerproto.Command

	writeLine := func(cmd innerproto.Command) error {
		sent = cmd
		return nil
	}

	done := make(chan struct{})
	var data json.RawMessage
	var sendErr error
	go func() {
		data, sendErr = c.Send(context.Background(), writeLine, innerproto.CmdPrompt, innerproto.PromptParams{Message: "hi"})
		close(done)
	}()

	require.Eventually(t, func() bool { return sent.ID != "" }, time.Second, time.Millisecond)
	c.Resolve(&innerproto.Line{ID: sent.ID, Type: "response", Success: true, Data: json.RawMessage(`{"ok":true}`)})

	<-done
	require.NoError(t, sendErr)
	assert.JSONEq(t, `{"ok":true}`, string(data))
	assert.Equal(t, 0, c.Len())
}

func TestSendResolveFailure(t *testing.T) {
	c := New(nil)
	var sent innerproto.Command
	writeLine := func(cmd innerproto.Command) error {
		sent = cmd
		return nil
	}

	done := make(chan struct{})
	var sendErr error
	go func() {
		_, sendErr = c.Send(context.Background(), writeLine, innerproto.CmdSetModel, nil)
		close(done)
	}()

	require.Eventually(t, func() bool { return sent.ID != "" }, time.Second, time.Millisecond)
	c.Resolve(&innerproto.Line{ID: sent.ID, Type: "response", Success: false, Error: "bad model"})

	<-done
	require.Error(t, sendErr)
	assert.Contains(t, sendErr.Error(), "bad model")
	assert.ErrorIs(t, sendErr, ErrAgentProtocolError)
}

func TestSendContextCancelled(t *testing.T) {
	c := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Send(ctx, func(innerproto.Command) error { return nil }, innerproto.CmdAbort, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, c.Len())
}

func TestSendWriteError(t *testing.T) {
	c := New(nil)
	writeLine := func(innerproto.Command) error { return assertError }

	_, err := c.Send(context.Background(), writeLine, innerproto.CmdPrompt, nil)
	require.Error(t, err)
	assert.Equal(t, 0, c.Len())
}

var assertError = &testErr{}

type testErr struct{}

func (e *testErr) Error() string { return "write failed" }

func TestResolveUnmatchedIsIgnored(t *testing.T) {
	c := New(nil)
	c.Resolve(&innerproto.Line{ID: "unknown", Type: "response", Success: true})
	assert.Equal(t, 0, c.Len())
}

func TestRejectAll(t *testing.T) {
	c := New(nil)
	writeLine := func(innerproto.Command) error { return nil }

	done := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := c.Send(context.Background(), writeLine, innerproto.CmdPrompt, nil)
			done <- err
		}()
	}

	require.Eventually(t, func() bool { return c.Len() == 2 }, time.Second, time.Millisecond)
	c.RejectAll(assertError)

	for i := 0; i < 2; i++ {
		require.Error(t, <-done)
	}
	assert.Equal(t, 0, c.Len())
}
