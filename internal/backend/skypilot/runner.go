package skypilot

import (
	"context"
	"os"
	"os/exec"
)

// Runner executes external orchestrator commands. It exists so tests can
// substitute a fake for the real sky binary.
type Runner interface {
	// LookPath reports whether the binary is installed on PATH.
	LookPath(bin string) error

	// Run executes the command with inherited stdio, blocking until exit.
	// Stdio is inherited so the tool's confirmation prompts reach the user
	// when -y is not passed.
	Run(ctx context.Context, bin string, args ...string) error

	// Output executes the command and returns its stdout.
	Output(ctx context.Context, bin string, args ...string) ([]byte, error)
}

// execRunner runs commands through os/exec.
type execRunner struct{}

func (execRunner) LookPath(bin string) error {
	_, err := exec.LookPath(bin)
	return err
}

func (execRunner) Run(ctx context.Context, bin string, args ...string) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func (execRunner) Output(ctx context.Context, bin string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, bin, args...).Output()
}
