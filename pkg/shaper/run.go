package shaper

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"k8s.io/klog/v2"
)

// Runner executes an external command.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
}

// ExecRunner runs commands on the host.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %v failed: %v output=%s", name, args, err, strings.TrimSpace(string(out)))
	}
	klog.V(5).Infof("ran %s %s", name, strings.Join(args, " "))
	return nil
}

// LogRunner only logs the commands it would run.
type LogRunner struct{}

func (LogRunner) Run(_ context.Context, name string, args ...string) error {
	klog.Infof("dry-run: %s %s", name, strings.Join(args, " "))
	return nil
}
