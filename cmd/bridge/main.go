// Command bridge is the protocol bridge: a single long-lived process with
// one inbound line stream from its parent (the client) on stdin/stdout and
// one inbound line stream from its child (the coding agent) once spawned.
//
// Startup loads config from the environment, builds a logger, wires the
// owning session, and waits on an OS-signal channel for graceful shutdown.
// Three readers (parent stdin, agent stdout, agent stderr) run concurrently
// under an errgroup.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lukele/CodexMonitor/internal/correlator"
	"github.com/lukele/CodexMonitor/internal/innerproto"
	"github.com/lukele/CodexMonitor/internal/logging"
	"github.com/lukele/CodexMonitor/internal/router"
	"github.com/lukele/CodexMonitor/internal/session"
	"github.com/lukele/CodexMonitor/internal/supervisor"
	"github.com/lukele/CodexMonitor/internal/translator"
	"github.com/lukele/CodexMonitor/internal/wire"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	envAgentPathOverride = "CODEXMONITOR_AGENT_PATH"
	envMonorepoRoot      = "CODEXMONITOR_MONOREPO_ROOT"
	monorepoRelBuildPath = "agent/target/release/agent"
	agentBinaryName      = "coding-agent"
)

var envAllowlist = []string{
	"ANTHROPIC_API_KEY",
	"OPENAI_API_KEY",
	"GOOGLE_API_KEY",
	"MISTRAL_API_KEY",
}

func main() {
	logger := logging.Default()
	defer logger.Sync()

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "bridge: resolve working directory: %v\n", err)
		os.Exit(1)
	}

	if err := run(cwd, logger); err != nil {
		logger.Error("bridge exiting on fatal error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cwd string, logger *logging.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	locateOpts := supervisor.DefaultLocateOptions(envAgentPathOverride, envMonorepoRoot, monorepoRelBuildPath, agentBinaryName)
	sup := supervisor.New(logger, locateOpts, envAllowlist)
	corr := correlator.New(logger)
	sess := session.New(cwd)
	codec := wire.NewCodec(os.Stdin, os.Stdout, logger)
	r := router.New(sess, sup, corr, codec, logger)
	tr := translator.New(sess, codec, logger)

	g, gctx := errgroup.WithContext(ctx)

	// The agent's stdout/stderr readers are started lazily whenever the
	// supervisor spawns a handle. There is nothing to read until the first
	// request that needs the agent (thread/start, turn/start, model/list)
	// causes a spawn. Registered before the
	// request reader starts so no spawn can race ahead of it. Both join the
	// same errgroup as the parent-stdin reader, so g.Wait() only returns
	// once every reader this run has started has actually stopped.
	sup.OnSpawn(func(handle *supervisor.Handle) {
		g.Go(func() error {
			readAgentStdout(handle, corr, tr, logger)
			sup.Clear()
			corr.RejectAll(fmt.Errorf("bridge: agent process exited"))
			return nil
		})
		g.Go(func() error {
			readAgentStderr(handle, logger)
			return nil
		})
	})

	g.Go(func() error {
		err := readParentRequests(gctx, codec, r, logger)
		// Clean stdin close (the common case) never triggers gctx via a
		// sibling error or an OS signal, so the reader must drive shutdown
		// itself to unblock the other readers and let g.Wait() return.
		cancel()
		return err
	})

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
			cancel()
		case <-gctx.Done():
		}
		r.Shutdown()
	}()

	err := g.Wait()
	if err != nil && gctx.Err() == nil {
		return err
	}
	return nil
}

// readParentRequests is the parent-stdin reader: it decodes outer-dialect
// lines and dispatches each request to the router. Notifications arriving
// from the parent (none are defined by the outer contract today) are
// dropped.
func readParentRequests(ctx context.Context, codec *wire.Codec, r *router.Router, logger *logging.Logger) error {
	for {
		msg, err := codec.ReadMessage()
		if err != nil {
			logger.Info("parent stdin closed", zap.Error(err))
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		if writeErr := r.Handle(ctx, msg); writeErr != nil {
			return fmt.Errorf("bridge: write outer response: %w", writeErr)
		}
	}
}

// readAgentStdout decodes newline-JSON lines from the agent and routes
// each to either the correlator (responses) or the translator (events).
func readAgentStdout(handle *supervisor.Handle, corr *correlator.Correlator, tr *translator.Translator, logger *logging.Logger) {
	scanner := bufio.NewScanner(handle.Stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var line innerproto.Line
		if err := json.Unmarshal(raw, &line); err != nil {
			logger.Warn("dropping malformed agent line", zap.Error(err))
			continue
		}
		if line.IsResponse() {
			corr.Resolve(&line)
			continue
		}
		tr.Handle(&line)
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("agent stdout reader error", zap.Error(err))
	}
}

// readAgentStderr logs the agent's diagnostic output; it is never
// forwarded to the parent.
func readAgentStderr(handle *supervisor.Handle, logger *logging.Logger) {
	scanner := bufio.NewScanner(handle.Stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		logger.Debug("agent stderr", zap.String("line", scanner.Text()))
	}
}
