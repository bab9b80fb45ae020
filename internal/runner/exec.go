package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// ErrAlreadyStopped is returned by Terminate when the process already exited.
var ErrAlreadyStopped = errors.New("process already stopped")

// EventKind identifies what a process Event carries.
type EventKind int

const (
	EventStdout EventKind = iota
	EventStderr
	EventExit
)

// Event is one output line or the final exit of a process.
type Event struct {
	Kind     EventKind
	Line     string
	ExitCode int
}

// Handle controls a spawned process. Events is closed after the EventExit
// event has been delivered.
type Handle interface {
	PID() int
	Events() <-chan Event
	Terminate() error
}

// Spec describes a process to start.
type Spec struct {
	Command string // shell command line
	Dir     string
	Env     []string // appended to the supervisor's environment
}

// Backend starts processes.
type Backend interface {
	Start(ctx context.Context, spec Spec) (Handle, error)
}

// ExecBackend runs commands through a shell in their own process group.
type ExecBackend struct {
	Shell  string // default "sh"
	Buffer int    // event channel capacity, default 256
}

// Start launches spec.Command. The process outlives ctx; it is stopped only
// through Terminate.
func (b *ExecBackend) Start(ctx context.Context, spec Spec) (Handle, error) {
	shell := b.Shell
	if shell == "" {
		shell = "sh"
	}
	buffer := b.Buffer
	if buffer <= 0 {
		buffer = 256
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(shell, "-c", spec.Command)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	// Set process group so we can kill the entire tree
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	p := &process{
		cmd:    cmd,
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go p.pump(&readers, stdoutPipe, EventStdout)
	go p.pump(&readers, stderrPipe, EventStderr)

	go func() {
		// Wait for both pipes to close
		readers.Wait()
		code := 0
		if err := cmd.Wait(); err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				code = exitErr.ExitCode()
			} else {
				code = -1
			}
		}
		close(p.done)
		p.events <- Event{Kind: EventExit, ExitCode: code}
		close(p.events)
	}()

	return p, nil
}

type process struct {
	cmd    *exec.Cmd
	events chan Event
	done   chan struct{}
}

func (p *process) PID() int { return p.cmd.Process.Pid }

func (p *process) Events() <-chan Event { return p.events }

// Terminate kills the whole process group.
func (p *process) Terminate() error {
	select {
	case <-p.done:
		return ErrAlreadyStopped
	default:
	}
	if err := unix.Kill(-p.cmd.Process.Pid, unix.SIGKILL); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return ErrAlreadyStopped
		}
		return fmt.Errorf("kill pid %d: %w", p.cmd.Process.Pid, err)
	}
	return nil
}

func (p *process) pump(wg *sync.WaitGroup, r io.Reader, kind EventKind) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		p.events <- Event{Kind: kind, Line: scanner.Text()}
	}
	// drain so the child never blocks on a full pipe after an oversized line
	_, _ = io.Copy(io.Discard, r)
}
