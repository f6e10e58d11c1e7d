package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"image-relay/internal/config"
	"image-relay/internal/metrics"
	"image-relay/internal/model"
)

// scriptWaitDelay is how long Dispatch waits for the program's output after
// it has been killed.
const scriptWaitDelay = 2 * time.Second

// ScriptDispatcher runs a local processing program on the staged upload.
// The program receives the input path as its last argument and prints the
// path of the processed file on stdout.
type ScriptDispatcher struct {
	command []string
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewScriptDispatcher creates a ScriptDispatcher.
// The metrics parameter is optional; pass nil to disable backend metrics.
func NewScriptDispatcher(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *ScriptDispatcher {
	return &ScriptDispatcher{
		command: cfg.Relay.ScriptCommand,
		timeout: cfg.Relay.Timeout(),
		logger:  logger.With("component", "script_dispatcher"),
		metrics: m,
	}
}

// Dispatch runs the program to completion and resolves once from its exit
// status and output. Stdout and stderr are collected, never raced.
func (d *ScriptDispatcher) Dispatch(ctx context.Context, p *model.IncomingPayload) *model.BackendResult {
	if !p.Staged() {
		return model.Failed(http.StatusInternalServerError, "script backend requires a staged payload", nil)
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	args := append(append([]string{}, d.command[1:]...), p.Path)
	cmd := exec.CommandContext(ctx, d.command[0], args...) //nolint:gosec // command comes from operator config
	killProcessGroup(cmd)
	// Bounds the wait for output pipes held open by surviving descendants.
	cmd.WaitDelay = scriptWaitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	errOutput := strings.TrimSpace(stderr.String())

	if err != nil {
		d.observe(start, exitLabel(err))
		msg := errOutput
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			msg = "processing script timed out"
		case msg == "":
			msg = "processing script failed: " + err.Error()
		}
		d.logger.Error("processing script failed", "err", err, "stderr", errOutput, "input", p.Path)
		return model.Failed(http.StatusInternalServerError, failureText([]byte(msg)), err)
	}
	d.observe(start, "0")

	if errOutput != "" {
		d.logger.Warn("processing script wrote to stderr", "stderr", errOutput, "input", p.Path)
	}

	out := lastLine(stdout.String())
	if out == "" {
		return model.Failed(http.StatusInternalServerError, "processing script produced no output path", nil)
	}

	return model.Succeeded(model.BackendSuccess{
		ArtifactPath: out,
		ContentType:  mime.TypeByExtension(filepath.Ext(out)),
	})
}

func (d *ScriptDispatcher) observe(start time.Time, status string) {
	if d.metrics == nil {
		return
	}
	d.metrics.BackendDuration.WithLabelValues(config.BackendModeScript).Observe(time.Since(start).Seconds())
	d.metrics.BackendResponses.WithLabelValues(config.BackendModeScript, status).Inc()
}

// exitLabel returns the process exit code as a metrics label, or "error"
// when the program could not be started.
func exitLabel(err error) string {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return strconv.Itoa(exitErr.ExitCode())
	}
	return "error"
}

// lastLine returns the last non-empty line of s, trimmed.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
