// Package wire implements the outer dialect's line codec: newline-delimited
// JSON values exchanged with the parent process over stdin/stdout.
//
// Each line is one of:
//   - a request: has "id" and "method"
//   - a response: has "id" and one of "result"/"error"
//   - a notification: has "method", no "id"
//
// Framing is newline-delimited JSON over a pair of stdio streams rather than
// a socket, but the message shapes are otherwise an ordinary JSON-RPC-style
// request/response/notification split.
package wire

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/lukele/CodexMonitor/internal/logging"
	"go.uber.org/zap"
)

// ProtocolVersion is the outer wire protocol version advertised by this bridge.
const ProtocolVersion = "2.0"

// ErrorCode enumerates standard outer-protocol error codes.
type ErrorCode int

// Error codes mirror the conventional JSON-RPC ranges the outer dialect borrows.
const (
	ErrCodeMethodNotFound ErrorCode = -32601
	ErrCodeInvalidParams  ErrorCode = -32602
	ErrCodeInternal       ErrorCode = -32603
)

// Message is the envelope decoded from (or encoded to) a single wire line.
type Message struct {
	ProtocolVersion string           `json:"protocolVersion,omitempty"`
	ID              *json.RawMessage `json:"id,omitempty"`
	Method          string           `json:"method,omitempty"`
	Params          json.RawMessage  `json:"params,omitempty"`
	Result          json.RawMessage  `json:"result,omitempty"`
	Error           *Error           `json:"error,omitempty"`
}

// Error is the outer dialect's error shape.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

func (e *Error) Error() string { return e.Message }

// IsRequest reports whether the message carries an id and a method.
func (m *Message) IsRequest() bool { return m.ID != nil && m.Method != "" }

// IsResponse reports whether the message carries an id and a result/error but no method.
func (m *Message) IsResponse() bool {
	return m.ID != nil && m.Method == "" && (m.Result != nil || m.Error != nil)
}

// IsNotification reports whether the message has a method but no id.
func (m *Message) IsNotification() bool { return m.ID == nil && m.Method != "" }

// Codec frames outer-dialect lines over a reader/writer pair.
//
// Writes are serialized with a mutex because responses and notifications may
// be produced concurrently by different in-flight handlers; each write is a
// single newline-terminated line, flushed immediately.
type Codec struct {
	scanner *bufio.Scanner
	out     io.Writer
	mu      sync.Mutex
	logger  *logging.Logger
}

// NewCodec wraps r/w as the outer dialect's line stream.
func NewCodec(r io.Reader, w io.Writer, logger *logging.Logger) *Codec {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	if logger == nil {
		logger = logging.Default()
	}
	return &Codec{scanner: scanner, out: w, logger: logger.WithFields(zap.String("component", "wire"))}
}

// ReadMessage blocks for the next wire line, decoding it.
// Malformed lines are logged and dropped, never fatal; this method keeps
// scanning until it decodes a valid message or reaches EOF.
// Empty lines are ignored. Lines missing the protocol-version marker have a
// canonical one injected so downstream code can assume it is always present.
func (c *Codec) ReadMessage() (*Message, error) {
	for c.scanner.Scan() {
		line := c.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			c.logger.Warn("dropping malformed wire line", zap.Error(err))
			continue
		}
		if msg.ProtocolVersion == "" {
			msg.ProtocolVersion = ProtocolVersion
		}
		return &msg, nil
	}
	if err := c.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, ErrClosed
}

// WriteMessage serializes msg as a single newline-terminated, flushed line.
// The protocol-version marker is always emitted on output.
func (c *Codec) WriteMessage(msg *Message) error {
	msg.ProtocolVersion = ProtocolVersion
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.out.Write(data)
	return err
}

// WriteResponse writes a success response for request id.
func (c *Codec) WriteResponse(id json.RawMessage, result any) error {
	resultBytes, err := json.Marshal(result)
	if err != nil {
		return err
	}
	raw := json.RawMessage(id)
	return c.WriteMessage(&Message{ID: &raw, Result: resultBytes})
}

// WriteErrorResponse writes an error response for request id.
func (c *Codec) WriteErrorResponse(id json.RawMessage, code ErrorCode, message string, data any) error {
	raw := json.RawMessage(id)
	return c.WriteMessage(&Message{ID: &raw, Error: &Error{Code: code, Message: message, Data: data}})
}

// WriteNotification writes a method notification with no id.
func (c *Codec) WriteNotification(method string, params any) error {
	paramsBytes, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return c.WriteMessage(&Message{Method: method, Params: paramsBytes})
}

// ErrClosed is returned by readers once the underlying stream is closed cleanly.
var ErrClosed = errors.New("wire: stream closed")
