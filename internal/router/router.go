// Package router dispatches outer requests by method name to handlers that
// drive the agent and/or synthesize responses directly: one handler
// function per inbound message type, writing either a synthesized response
// or a request/await round trip through the agent before answering.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lukele/CodexMonitor/internal/correlator"
	"github.com/lukele/CodexMonitor/internal/credentials"
	"github.com/lukele/CodexMonitor/internal/innerproto"
	"github.com/lukele/CodexMonitor/internal/logging"
	"github.com/lukele/CodexMonitor/internal/outer"
	"github.com/lukele/CodexMonitor/internal/ratelimit"
	"github.com/lukele/CodexMonitor/internal/registry"
	"github.com/lukele/CodexMonitor/internal/session"
	"github.com/lukele/CodexMonitor/internal/supervisor"
	"github.com/lukele/CodexMonitor/internal/wire"
	"go.uber.org/zap"
)

// stopTimeout bounds how long Shutdown lets the supervisor's Stop wait for a
// clean child exit before force-killing.
const stopTimeout = 3 * time.Second

// Router owns everything a request handler might need: the session, the
// agent supervisor, the command correlator, the outer codec to respond and
// notify on, and the rate-limit probe.
type Router struct {
	sess   *session.Session
	sup    *supervisor.Supervisor
	corr   *correlator.Correlator
	codec  *wire.Codec
	probe  *ratelimit.Probe
	logger *logging.Logger
}

// New creates a Router. The session's Cwd is the working directory agents
// are spawned in.
func New(sess *session.Session, sup *supervisor.Supervisor, corr *correlator.Correlator, codec *wire.Codec, logger *logging.Logger) *Router {
	if logger == nil {
		logger = logging.Default()
	}
	return &Router{
		sess:   sess,
		sup:    sup,
		corr:   corr,
		codec:  codec,
		probe:  ratelimit.New(logger),
		logger: logger.WithFields(zap.String("component", "router")),
	}
}

// Handle dispatches one decoded outer request and writes its response (or
// error response) to the codec. It never returns an error for request-level
// failures (those are reported on the wire), only for a failed write.
func (r *Router) Handle(ctx context.Context, msg *wire.Message) error {
	if !msg.IsRequest() {
		return nil
	}
	id := *msg.ID

	result, rpcErr := r.dispatch(ctx, msg.Method, msg.Params)
	if rpcErr != nil {
		return r.codec.WriteErrorResponse(id, rpcErr.Code, rpcErr.Message, rpcErr.Data)
	}
	return r.codec.WriteResponse(id, result)
}

func (r *Router) dispatch(ctx context.Context, method string, params json.RawMessage) (any, *wire.Error) {
	switch method {
	case outer.MethodInitialize:
		return r.handleInitialize()
	case outer.MethodThreadStart:
		return r.handleThreadStart(ctx, params)
	case outer.MethodThreadResume:
		return r.handleThreadResume(params)
	case outer.MethodThreadList:
		return r.handleThreadList()
	case outer.MethodThreadArchive:
		return r.handleThreadArchive()
	case outer.MethodTurnStart:
		return r.handleTurnStart(ctx, params)
	case outer.MethodTurnInterrupt, outer.MethodThreadInterrupt:
		return r.handleInterrupt(ctx)
	case outer.MethodModelList:
		return r.handleModelList(ctx)
	case outer.MethodSkillsList:
		return struct {
			Skills []any `json:"skills"`
		}{Skills: []any{}}, nil
	case outer.MethodAccountRateLimits, outer.MethodAccountRateLimitsRead:
		return r.probe.Query(), nil
	case outer.MethodCodexRespondToRequest:
		return struct {
			Success bool `json:"success"`
		}{Success: true}, nil
	case outer.MethodAuthStatus:
		return r.handleAuthStatus()
	case outer.MethodAuthLogin:
		return r.handleAuthLogin()
	default:
		return nil, &wire.Error{Code: wire.ErrCodeMethodNotFound, Message: fmt.Sprintf("unknown method %q", method)}
	}
}

func (r *Router) handleInitialize() (any, *wire.Error) {
	return struct {
		ProtocolVersion string          `json:"protocolVersion"`
		Capabilities    map[string]bool `json:"capabilities"`
	}{
		ProtocolVersion: wire.ProtocolVersion,
		Capabilities:    map[string]bool{"threads": true, "turns": true, "models": true},
	}, nil
}

type threadStartParams struct {
	Cwd string `json:"cwd,omitempty"`
}

func (r *Router) handleThreadStart(ctx context.Context, params json.RawMessage) (any, *wire.Error) {
	var p threadStartParams
	_ = json.Unmarshal(params, &p)
	if p.Cwd != "" {
		r.sess.Cwd = p.Cwd
	}

	th := r.sess.StartThread(nil)

	// Best-effort new_session. The client must not fail thread/start merely
	// because the agent isn't up yet, so a failure here is logged and
	// otherwise ignored.
	if handle, err := r.ensureAgent(ctx); err == nil {
		_, sendErr := r.corr.Send(ctx, r.writeLineFor(handle), innerproto.CmdNewSession, nil)
		if sendErr != nil {
			r.logger.Debug("new_session failed, continuing", zap.Error(sendErr))
		}
	}

	return struct {
		Thread struct {
			ID        string    `json:"id"`
			Name      *string   `json:"name,omitempty"`
			CreatedAt time.Time `json:"createdAt"`
		} `json:"thread"`
	}{
		Thread: struct {
			ID        string    `json:"id"`
			Name      *string   `json:"name,omitempty"`
			CreatedAt time.Time `json:"createdAt"`
		}{ID: th.ID, Name: th.Name, CreatedAt: th.CreatedAt},
	}, nil
}

type threadResumeParams struct {
	ThreadID string `json:"threadId"`
}

func (r *Router) handleThreadResume(params json.RawMessage) (any, *wire.Error) {
	var p threadResumeParams
	if err := json.Unmarshal(params, &p); err != nil || p.ThreadID == "" {
		return nil, &wire.Error{Code: wire.ErrCodeInvalidParams, Message: "thread/resume requires threadId"}
	}
	r.sess.ResumeThread(p.ThreadID)
	return struct {
		Items []any `json:"items"`
		Ready bool  `json:"ready"`
	}{Items: []any{}, Ready: true}, nil
}

func (r *Router) handleThreadList() (any, *wire.Error) {
	threads := []any{}
	if th := r.sess.CurrentThread(); th != nil {
		threads = append(threads, th)
	}
	return struct {
		Threads []any `json:"threads"`
	}{Threads: threads}, nil
}

func (r *Router) handleThreadArchive() (any, *wire.Error) {
	r.sess.ArchiveThread()
	return struct {
		Success bool `json:"success"`
	}{Success: true}, nil
}

type turnStartParams struct {
	Model string `json:"model,omitempty"`
	Input []struct {
		Kind string `json:"kind"`
		Text string `json:"text"`
	} `json:"input"`
}

func (r *Router) handleTurnStart(ctx context.Context, params json.RawMessage) (any, *wire.Error) {
	var p turnStartParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &wire.Error{Code: wire.ErrCodeInvalidParams, Message: "malformed turn/start params"}
	}

	var textParts []string
	for _, block := range p.Input {
		if block.Kind == "text" && block.Text != "" {
			textParts = append(textParts, block.Text)
		}
	}
	text := strings.Join(textParts, "")
	if text == "" {
		return nil, &wire.Error{Code: wire.ErrCodeInvalidParams, Message: "turn/start requires non-empty text input"}
	}

	handle, err := r.ensureAgent(ctx)
	if err != nil {
		return nil, &wire.Error{Code: wire.ErrCodeInternal, Message: err.Error()}
	}

	if p.Model != "" && p.Model != r.sess.CurrentComposite() {
		provider, innerID := r.sess.Registry.Resolve(p.Model)
		if _, sendErr := r.corr.Send(ctx, r.writeLineFor(handle), innerproto.CmdSetModel,
			innerproto.SetModelParams{Provider: provider, ModelID: innerID}); sendErr != nil {
			return nil, &wire.Error{Code: wire.ErrCodeInternal, Message: fmt.Sprintf("set_model failed: %v", sendErr)}
		}
		r.sess.SetModel(provider, innerID)
	}

	turn := r.sess.StartTurn()
	if turn == nil {
		return nil, &wire.Error{Code: wire.ErrCodeInvalidParams, Message: "turn/start requires a current thread"}
	}

	go func() {
		if _, sendErr := r.corr.Send(context.Background(), r.writeLineFor(handle), innerproto.CmdPrompt,
			innerproto.PromptParams{Message: text}); sendErr != nil {
			r.logger.Warn("prompt command failed", zap.Error(sendErr))
			// An agent protocol error (success:false) is specific to this
			// command; the turn itself can still be retried. Anything else
			// (write failure, context cancellation) is terminal for the turn.
			r.notifyError(sendErr.Error(), errors.Is(sendErr, correlator.ErrAgentProtocolError))
		}
	}()

	return struct {
		TurnID string `json:"turnId"`
		Status string `json:"status"`
	}{TurnID: turn.ID, Status: string(session.TurnInProgress)}, nil
}

func (r *Router) handleInterrupt(ctx context.Context) (any, *wire.Error) {
	if !r.sess.InProgress() {
		return struct {
			Success bool `json:"success"`
		}{Success: true}, nil
	}

	handle := r.sup.Current()
	if handle != nil {
		_, _ = r.corr.Send(ctx, r.writeLineFor(handle), innerproto.CmdAbort, nil)
	}
	r.sess.EndTurn(session.TurnInterrupted)

	return struct {
		Success bool `json:"success"`
	}{Success: true}, nil
}

// reasoningEfforts is the three-tier list advertised for reasoning-capable
// models.
var reasoningEfforts = []string{"low", "medium", "high"}

type outerModel struct {
	ID                        string   `json:"id"`
	DisplayName               string   `json:"displayName"`
	SupportedReasoningEfforts []string `json:"supportedReasoningEfforts"`
	DefaultReasoningEffort    string   `json:"defaultReasoningEffort,omitempty"`
	IsDefault                 bool     `json:"isDefault"`
}

// fallbackModels answers model/list when the agent can't be reached.
var fallbackModels = []outerModel{
	{ID: "anthropic/claude-sonnet-4-20250514", DisplayName: "Claude Sonnet 4", SupportedReasoningEfforts: []string{"default"}, IsDefault: true},
}

func (r *Router) handleModelList(ctx context.Context) (any, *wire.Error) {
	handle, err := r.ensureAgent(ctx)
	if err != nil {
		return struct {
			Models []outerModel `json:"models"`
		}{Models: fallbackModels}, nil
	}

	data, sendErr := r.corr.Send(ctx, r.writeLineFor(handle), innerproto.CmdGetAvailableModels, nil)
	if sendErr != nil {
		return struct {
			Models []outerModel `json:"models"`
		}{Models: fallbackModels}, nil
	}

	var resp struct {
		Models []innerproto.ModelEntry `json:"models"`
	}
	if jsonErr := json.Unmarshal(data, &resp); jsonErr != nil {
		return struct {
			Models []outerModel `json:"models"`
		}{Models: fallbackModels}, nil
	}

	r.sess.Registry.Populate(resp.Models)
	current := r.sess.CurrentComposite()

	models := make([]outerModel, 0, len(resp.Models))
	for _, m := range resp.Models {
		composite := registry.Composite(m.Provider, m.ID)
		efforts := []string{"default"}
		if m.ReasoningCapable {
			efforts = reasoningEfforts
		}
		models = append(models, outerModel{
			ID:                        composite,
			DisplayName:               m.Name,
			SupportedReasoningEfforts: efforts,
			DefaultReasoningEffort:    m.DefaultReasoning,
			IsDefault:                 composite == current || (current == "" && m.IsDefault),
		})
	}
	return struct {
		Models []outerModel `json:"models"`
	}{Models: models}, nil
}

type authProviderStatus struct {
	Provider      string `json:"provider"`
	Authenticated bool   `json:"authenticated"`
	Expired       bool   `json:"expired,omitempty"`
}

func (r *Router) handleAuthStatus() (any, *wire.Error) {
	statuses := make([]authProviderStatus, 0, len(credentials.KnownProviders))
	present := map[string]bool{}

	if cred, err := credentials.LoadFirst(); err == nil {
		present[cred.Provider] = true
		statuses = append(statuses, authProviderStatus{
			Provider:      cred.Provider,
			Authenticated: true,
			Expired:       cred.Expired(),
		})
	}

	for _, name := range credentials.KnownProviders {
		if present[name] {
			continue
		}
		statuses = append(statuses, authProviderStatus{Provider: name, Authenticated: false})
	}

	return struct {
		Providers []authProviderStatus `json:"providers"`
	}{Providers: statuses}, nil
}

func (r *Router) handleAuthLogin() (any, *wire.Error) {
	return struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}{
		Success: false,
		Message: "run the agent's CLI interactively to complete login (no OAuth flow is driven by the bridge)",
	}, nil
}

// ensureAgent returns the running agent handle, spawning one on demand if
// none is current. A single respawn attempt is made before giving up.
func (r *Router) ensureAgent(ctx context.Context) (*supervisor.Handle, error) {
	if handle := r.sup.Current(); handle != nil {
		return handle, nil
	}
	return r.sup.Spawn(ctx, r.sess.Cwd)
}

// notifyError emits a turn/error notification scoped to the current
// thread/turn, mirroring the translator's own error-notification shape.
func (r *Router) notifyError(message string, willRetry bool) {
	ref := outer.ThreadRef{}
	if th := r.sess.CurrentThread(); th != nil {
		ref.ThreadID = th.ID
	}
	if tu := r.sess.CurrentTurn(); tu != nil {
		ref.TurnID = tu.ID
	}
	if err := r.codec.WriteNotification(outer.NotifyError, outer.ErrorParams{ThreadRef: ref, Message: message, WillRetry: willRetry}); err != nil {
		r.logger.Warn("failed to write outer notification", zap.String("method", outer.NotifyError), zap.Error(err))
	}
}

// writeLineFor returns a correlator writeLine closure bound to handle's
// stdin, encoding each outbound command as one newline-terminated JSON line.
func (r *Router) writeLineFor(handle *supervisor.Handle) func(innerproto.Command) error {
	return func(cmd innerproto.Command) error {
		data, err := json.Marshal(cmd)
		if err != nil {
			return err
		}
		data = append(data, '\n')
		_, err = handle.Stdin.Write(data)
		return err
	}
}

// Shutdown stops the agent subprocess and rejects any pending correlated
// commands, used on parent stdin close or a terminating signal.
func (r *Router) Shutdown() {
	r.corr.RejectAll(fmt.Errorf("router: shutting down"))
	r.sup.Stop(stopTimeout)
}
