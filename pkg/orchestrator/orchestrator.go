// Package orchestrator implements the Subprocess orchestrator (spec.md
// §4.7): it renders config templates and drives the external compose
// tool's up/status/down lifecycle, capturing stdout/stderr line-by-line
// into the agent's log. Grounded on pkg/embedded/containerd.go's
// exec.CommandContext + logWriter + SIGTERM-then-bounded-kill shape,
// generalized from "manage one embedded daemon" to "drive one external
// compose stack."
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"text/template"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/ids2agent/pkg/log"
)

const (
	renderTimeout = 5 * time.Second
	upTimeout     = 180 * time.Second
	statusTimeout = 15 * time.Second
	downTimeout   = 60 * time.Second

	// killGrace is how long a command has to exit after SIGTERM before it
	// is killed.
	killGrace = 10 * time.Second
)

// Config is the subset of pkg/config.Config the orchestrator needs.
type Config struct {
	ComposeFilePath string
	WorkDir         string
	// Env is the explicit environment passed to every invoked command;
	// no secrets are inherited from the agent's own process environment
	// (spec.md §4.7).
	Env []string
}

// Orchestrator serializes all external-command invocations behind a
// single mutex: spec.md §4.7 notes it is synchronous from the state
// machine's perspective and is never itself a supervised worker.
type Orchestrator struct {
	cfg Config
	mu  sync.Mutex
}

// New builds an Orchestrator.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{cfg: cfg}
}

// Render executes a pure text template against data and writes the
// result to destPath (spec.md §4.7: render, 5s timeout).
func (o *Orchestrator) Render(ctx context.Context, templateBody, destPath string, data any) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, renderTimeout)
	defer cancel()

	tmpl, err := template.New("render").Parse(templateBody)
	if err != nil {
		return fmt.Errorf("render %s: parsing template: %w", destPath, err)
	}

	var buf strings.Builder
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("render %s: executing template: %w", destPath, err)
	}

	done := make(chan error, 1)
	go func() { done <- os.WriteFile(destPath, []byte(buf.String()), 0o644) }()

	select {
	case <-ctx.Done():
		return fmt.Errorf("render %s: %w", destPath, ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("render %s: writing file: %w", destPath, err)
		}
		return nil
	}
}

// ComposeUp invokes `compose up -d` equivalent semantics and waits up to
// upTimeout for the process to return (spec.md §4.6 phase C, §4.7).
func (o *Orchestrator) ComposeUp(ctx context.Context) error {
	_, err := o.run(ctx, upTimeout, "up", "-d")
	return err
}

// ComposeStatus queries container health/status (spec.md §4.7).
func (o *Orchestrator) ComposeStatus(ctx context.Context) (string, error) {
	return o.run(ctx, statusTimeout, "ps", "--format", "json")
}

// ComposeDown stops the compose stack (spec.md §4.7, §4.9's stop_on_exit
// gate).
func (o *Orchestrator) ComposeDown(ctx context.Context) error {
	_, err := o.run(ctx, downTimeout, "down")
	return err
}

func (o *Orchestrator) run(ctx context.Context, timeout time.Duration, args ...string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	logger := log.WithComponent("orchestrator")

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fullArgs := append([]string{"compose", "-f", o.cfg.ComposeFilePath}, args...)
	cmd := exec.CommandContext(ctx, "docker", fullArgs...)
	cmd.Dir = o.cfg.WorkDir
	cmd.Env = o.cfg.Env
	// On timeout or cancellation, send SIGTERM first; the process is
	// killed if it has not exited within killGrace.
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = killGrace

	var stdout strings.Builder
	cmd.Stdout = &multiWriter{capture: &stdout, forward: newLogWriter(logger, "info")}
	cmd.Stderr = newLogWriter(logger, "error")

	if err := cmd.Run(); err != nil {
		return stdout.String(), fmt.Errorf("compose %s: %w", strings.Join(args, " "), err)
	}
	return stdout.String(), nil
}

// logWriter adapts a subprocess's stdout/stderr stream to the agent's
// structured logger, one log line per non-empty line of each Write
// (spec.md §4.7).
type logWriter struct {
	logFn func(line string)
}

func newLogWriter(logger zerolog.Logger, level string) *logWriter {
	if level == "error" {
		return &logWriter{logFn: func(line string) { logger.Error().Msg(line) }}
	}
	return &logWriter{logFn: func(line string) { logger.Info().Msg(line) }}
}

func (lw *logWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line == "" {
			continue
		}
		lw.logFn(line)
	}
	return len(p), nil
}

// multiWriter forwards writes to a capture buffer and a forwarding
// writer; os/io.MultiWriter would do, but compose status output must
// also be returned to the caller as a string.
type multiWriter struct {
	capture *strings.Builder
	forward *logWriter
}

func (m *multiWriter) Write(p []byte) (int, error) {
	m.capture.Write(p)
	return m.forward.Write(p)
}
