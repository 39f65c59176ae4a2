// Package capture runs the external traffic capture tool and exposes its
// output as a stream of lines.
package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"

	"github.com/google/shlex"
	"go.uber.org/multierr"

	"github.com/haukened/egress-guard/internal/guard/common/log"
)

// maxLine bounds a single captured line; tcpdump -v output can be long.
const maxLine = 1 << 20

// ErrEmptyCommand is returned when a capture command has no program.
var ErrEmptyCommand = errors.New("empty capture command")

// Split parses command with shell quoting rules into argv.
func Split(command string) ([]string, error) {
	argv, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("parse capture command: %w", err)
	}
	if len(argv) == 0 {
		return nil, ErrEmptyCommand
	}
	return argv, nil
}

// NewReaderSource reads lines from r. Used for fixtures and piped input.
func NewReaderSource(r io.Reader) *bufio.Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLine)
	return s
}

// Process is a running capture tool. Its stdout is read with Scan and Text
// like a bufio.Scanner; stderr lines are forwarded to the logger.
type Process struct {
	cmd        *exec.Cmd
	stdout     *bufio.Scanner
	stderrDone chan struct{}
}

// Start launches argv. The process is killed when ctx is done.
func Start(ctx context.Context, argv []string, logger log.Logger) (*Process, error) {
	if len(argv) == 0 {
		return nil, ErrEmptyCommand
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("capture stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("capture stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", argv[0], err)
	}
	logger.Info(map[string]any{"argv": argv, "pid": cmd.Process.Pid}, "capture started")

	p := &Process{
		cmd:        cmd,
		stdout:     NewReaderSource(stdout),
		stderrDone: make(chan struct{}),
	}
	go func() {
		defer close(p.stderrDone)
		s := NewReaderSource(stderr)
		for s.Scan() {
			logger.Debug(map[string]any{"stderr": s.Text()}, "capture diagnostic")
		}
	}()
	return p, nil
}

func (p *Process) Scan() bool   { return p.stdout.Scan() }
func (p *Process) Text() string { return p.stdout.Text() }

// Err returns the first non-EOF read error on stdout.
func (p *Process) Err() error { return p.stdout.Err() }

// Wait waits for the process to exit after its output has been consumed.
// If reading stdout failed the tool is killed first, since nothing will
// drain its output again.
func (p *Process) Wait() error {
	if scanErr := p.stdout.Err(); scanErr != nil {
		_ = p.cmd.Process.Kill()
		// Wait closes the pipes, which unblocks the stderr reader.
		waitErr := p.cmd.Wait()
		<-p.stderrDone
		return multierr.Append(fmt.Errorf("capture output unreadable: %w", scanErr), waitErr)
	}
	<-p.stderrDone
	if err := p.cmd.Wait(); err != nil {
		return fmt.Errorf("capture exited: %w", err)
	}
	return nil
}
