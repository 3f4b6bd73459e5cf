// Package correlator assigns identifiers to outbound commands sent to the
// agent and resolves pending awaits against typed responses. A single
// stdin/stdout line stream carries many concurrently in-flight commands, so
// each response must be routed back to the caller that sent the matching
// request by id.
package correlator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/lukele/CodexMonitor/internal/innerproto"
	"github.com/lukele/CodexMonitor/internal/logging"
	"go.uber.org/zap"
)

// ErrAgentProtocolError is the sentinel wrapped into every error a command's
// response yields when the agent reports success:false. Callers distinguish
// this (reject the specific sink, keep going) from a transport-level failure
// via errors.Is, never by matching the message text.
var ErrAgentProtocolError = errors.New("correlator: agent protocol error")

// sink is the completion channel for one pending command.
type sink struct {
	method string
	ch     chan result
}

type result struct {
	data json.RawMessage
	err  error
}

// Correlator stores completion sinks keyed by command id.
type Correlator struct {
	logger *logging.Logger

	mu      sync.Mutex
	pending map[string]*sink
}

// New creates an empty Correlator.
func New(logger *logging.Logger) *Correlator {
	if logger == nil {
		logger = logging.Default()
	}
	return &Correlator{
		logger:  logger.WithFields(zap.String("component", "correlator")),
		pending: make(map[string]*sink),
	}
}

// Send registers a sink for a freshly-identified command and writes the
// command with writeLine. It blocks until the response arrives, ctx is
// cancelled, or the correlator is torn down.
func (c *Correlator) Send(ctx context.Context, writeLine func(innerproto.Command) error, method string, params any) (json.RawMessage, error) {
	id := uuid.NewString()
	cmd := innerproto.Command{ID: id, Type: method, Params: params}

	s := &sink{method: method, ch: make(chan result, 1)}
	c.mu.Lock()
	c.pending[id] = s
	c.mu.Unlock()

	if err := writeLine(cmd); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("correlator: write command %s: %w", method, err)
	}

	select {
	case res := <-s.ch:
		return res.data, res.err
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Resolve fulfills the sink for a decoded response line. Lines decoded as
// typed events (no response marker) never reach here. The caller routes
// those to the event translator instead. An unmatched response id is logged
// and discarded.
func (c *Correlator) Resolve(line *innerproto.Line) {
	c.mu.Lock()
	s, ok := c.pending[line.ID]
	if ok {
		delete(c.pending, line.ID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Warn("unmatched agent response", zap.String("id", line.ID), zap.String("command", line.Command))
		return
	}

	if line.Success {
		s.ch <- result{data: line.Data}
	} else {
		s.ch <- result{err: fmt.Errorf("%w: %s failed: %s", ErrAgentProtocolError, s.method, line.Error)}
	}
}

// RejectAll fails every pending sink with a terminal error, used on
// supervisor teardown.
func (c *Correlator) RejectAll(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]*sink)
	c.mu.Unlock()

	for id, s := range pending {
		c.logger.Debug("rejecting pending command on teardown", zap.String("id", id), zap.String("command", s.method))
		s.ch <- result{err: err}
	}
}

// Len reports the number of commands currently awaiting a response.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
