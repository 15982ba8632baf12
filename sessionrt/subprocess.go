package sessionrt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	hclog "github.com/hashicorp/go-hclog"
)

// maxLineLength bounds a single line read from a child's merged
// stdout/stderr stream ("~64,000 chars"). Overlong lines
// are split but their content is otherwise preserved in order.
const maxLineLength = 64000

// LoggingSubprocess spawns and monitors exactly one child process, copying
// its merged stdout/stderr to a logger line-by-line through an
// ActionMessageFilter
type LoggingSubprocess struct {
	Logger hclog.Logger
	Command []string
	WorkingDirectory string
	User SessionUser
	Filter *ActionMessageFilter

	mu sync.Mutex
	cmd *exec.Cmd
	pid int
	exitCode *int
	failedToStart bool
	running bool

	startedCh chan struct{}
	doneCh chan struct{}
}

// NewLoggingSubprocess prepares (but does not start) a subprocess.
func NewLoggingSubprocess(logger hclog.Logger, command []string, workingDirectory string, user SessionUser, filter *ActionMessageFilter) *LoggingSubprocess {
	return &LoggingSubprocess{
		Logger: logger,
		Command: command,
		WorkingDirectory: workingDirectory,
		User: user,
		Filter: filter,
		startedCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Pid returns the observed child pid, or 0 if the child has not started.
func (s *LoggingSubprocess) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pid
}

// ExitCode returns the child's exit code once it has exited, or nil while
// running or if it never started.
func (s *LoggingSubprocess) ExitCode() *int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode
}

// FailedToStart reports whether spawning the child failed outright (command
// not found, logon failure).
func (s *LoggingSubprocess) FailedToStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failedToStart
}

// IsRunning reports whether the child is currently running.
func (s *LoggingSubprocess) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// WaitUntilStarted blocks until the child's pid is observable or the spawn
// is known to have failed.
func (s *LoggingSubprocess) WaitUntilStarted(ctx context.Context) error {
	select {
	case <-s.startedCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run spawns the child and blocks until it exits, copying its output to the
// logger as it runs. It is called once per LoggingSubprocess, from a single
// dedicated worker goroutine; repeated or concurrent Run calls are not
// synchronized.
func (s *LoggingSubprocess) Run() error {
	name, args := spawnArgs(s.Command, s.User)
	cmd := exec.Command(name, args...)
	cmd.Dir = s.WorkingDirectory

	// A single pipe shared by both streams gives the merged, line-ordered
	// view this needs, rather than two independently-buffered readers that
	// could interleave out of order.
	pr, pw, err := os.Pipe()
	if err != nil {
		return s.markFailedToStart(fmt.Errorf("creating output pipe: %w", err))
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		return s.markFailedToStart(fmt.Errorf("starting subprocess: %w", err))
	}
	pw.Close()

	s.mu.Lock()
	s.cmd = cmd
	s.pid = cmd.Process.Pid
	s.running = true
	s.mu.Unlock()
	close(s.startedCh)

	s.readLines(pr)
	pr.Close()

	waitErr := cmd.Wait()
	code := cmd.ProcessState.ExitCode()

	s.mu.Lock()
	s.running = false
	s.exitCode = &code
	s.mu.Unlock()
	close(s.doneCh)

	if waitErr != nil {
		if _, ok := waitErr.(*exec.ExitError); !ok {
			return fmt.Errorf("waiting for subprocess: %w", waitErr)
		}
	}
	return nil
}

func (s *LoggingSubprocess) markFailedToStart(err error) error {
	s.mu.Lock()
	s.failedToStart = true
	s.mu.Unlock()
	close(s.startedCh)
	close(s.doneCh)
	return err
}

// readLines copies r to the logger one line at a time, running each line
// through the configured filter first.
func (s *LoggingSubprocess) readLines(r io.Reader) {
	reader := bufio.NewReaderSize(r, maxLineLength)
	continued := false
	for {
		chunk, isPrefix, err := reader.ReadLine()
		if err != nil {
			return
		}
		if continued && !isPrefix && len(chunk) == 0 {
			// The previous chunk already ended exactly at the line break.
			continued = false
			continue
		}
		continued = isPrefix
		line := string(chunk)
		text, keep := line, true
		if s.Filter != nil {
			text, keep = s.Filter.Filter(s.Logger, line)
		}
		if keep {
			s.Logger.Info(text)
		}
	}
}

// Notify sends the cooperative "please stop" signal (POSIX SIGTERM; Windows
// CTRL_BREAK_EVENT) to the child.
func (s *LoggingSubprocess) Notify() error {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return sendNotifySignal(cmd)
}

// Terminate forcefully kills the child's whole process tree: enumerate
// descendants, suspend pre-order (best-effort, to stop them forking away),
// kill leaves-first-root-last, retry once for survivors, log stragglers.
func (s *LoggingSubprocess) Terminate() error {
	pid := s.Pid()
	if pid == 0 {
		return nil
	}
	return terminateProcessTree(s.Logger, pid)
}
