package tools

import (
	"context"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

func (r *Registry) registerCommandTools() {
	r.register(Definition{
		ToolID:      "run_command",
		Description: "Run an allowlisted command with args.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{"type": "string"},
				"args": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string"},
				},
			},
			"required": []string{"command"},
		},
		OutputSchema:         subprocessOutputSchema(),
		RequiresConfirmation: true,
	}, runCommand)
}

func subprocessOutputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"exit_code":    map[string]any{"type": "integer"},
			"stdout":       map[string]any{"type": "string"},
			"stderr":       map[string]any{"type": "string"},
			"truncated":    map[string]any{"type": "boolean"},
			"duration_sec": map[string]any{"type": "number"},
		},
	}
}

func runCommand(ctx context.Context, rt *Context, input map[string]any) (map[string]any, error) {
	command := stringArg(input, "command")
	if command == "" {
		return nil, errors.New("Missing command.")
	}
	if !rt.CommandAllowed(command) {
		return nil, errors.New("Command is not allowlisted.")
	}
	argv := append([]string{command}, stringSliceArg(input, "args")...)
	return runSubprocess(ctx, rt, argv, "")
}

// runSubprocess spawns argv directly (no shell) in the repo root, pumping
// stdout and stderr concurrently, and enforces the sandbox wall-clock
// timeout and combined output cap.
func runSubprocess(ctx context.Context, rt *Context, argv []string, stdin string) (map[string]any, error) {
	timeout := rt.CommandTimeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = rt.RepoRoot
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open stdout pipe")
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open stderr pipe")
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "failed to start %s", argv[0])
	}

	var stdout, stderr []byte
	group, _ := errgroup.WithContext(runCtx)
	group.Go(func() error {
		var readErr error
		stdout, readErr = io.ReadAll(stdoutPipe)
		return readErr
	})
	group.Go(func() error {
		var readErr error
		stderr, readErr = io.ReadAll(stderrPipe)
		return readErr
	})
	pumpErr := group.Wait()
	waitErr := cmd.Wait()
	duration := time.Since(start)

	if runCtx.Err() == context.DeadlineExceeded {
		return nil, errors.Errorf("Command timed out after %ds", int(timeout.Seconds()))
	}
	if pumpErr != nil {
		return nil, errors.Wrap(pumpErr, "failed to capture command output")
	}

	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, errors.Wrapf(waitErr, "command %s failed", argv[0])
		}
	}

	stdout, stderr, truncated := capOutput(stdout, stderr, rt.MaxOutputBytes)
	return map[string]any{
		"exit_code":    exitCode,
		"stdout":       string(stdout),
		"stderr":       string(stderr),
		"truncated":    truncated,
		"duration_sec": duration.Seconds(),
	}, nil
}

// capOutput bounds stdout+stderr jointly: stdout keeps at most half the
// budget, stderr takes whatever remains.
func capOutput(stdout, stderr []byte, maxBytes int) ([]byte, []byte, bool) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxOutputBytes
	}
	if len(stdout)+len(stderr) <= maxBytes {
		return stdout, stderr, false
	}
	keep := maxBytes / 2
	if len(stdout) > keep {
		stdout = stdout[:keep]
	}
	remaining := maxBytes - len(stdout)
	if len(stderr) > remaining {
		stderr = stderr[:remaining]
	}
	return stdout, stderr, true
}
