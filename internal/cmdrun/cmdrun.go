package cmdrun

import (
	"bytes"
	"context"
	"errors"
	"os/exec"

	"mvdan.cc/sh/v3/shell"
)

// Result is what a finished command leaves behind. A non-zero exit code is
// not an error; Code is only meaningful when the runner returned nil.
type Result struct {
	Code   int
	Stdout string
	Stderr string
}

// Runner executes commands on some host. Run takes a full command line and
// splits it shell-style; RunArgs takes an explicit argv and performs no
// splitting, so scripts with their own quoting reach the binary untouched.
type Runner interface {
	Run(ctx context.Context, line string) (Result, error)
	RunArgs(ctx context.Context, name string, args ...string) (Result, error)
}

// Local runs commands as child processes of the current process.
type Local struct{}

func (l Local) Run(ctx context.Context, line string) (Result, error) {
	fields, err := shell.Fields(line, nil)
	if err != nil {
		return Result{}, err
	}
	if len(fields) == 0 {
		return Result{}, errors.New("empty command line")
	}
	return l.RunArgs(ctx, fields[0], fields[1:]...)
}

func (l Local) RunArgs(ctx context.Context, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			res.Code = ee.ExitCode()
			return res, nil
		}
		return res, err
	}
	return res, nil
}
