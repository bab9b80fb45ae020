// Package pkgmgr wraps pip for application dependencies.
package pkgmgr

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// Manager runs pip against a target directory.
type Manager struct {
	Pip       string // pip executable, default "pip"
	TargetDir string // --target / --path directory
}

func (m *Manager) pip() string {
	if m.Pip == "" {
		return "pip"
	}
	return m.Pip
}

// Install installs the whitespace-separated packages into TargetDir and
// returns pip's stdout and stderr.
func (m *Manager) Install(ctx context.Context, packages string) (string, string, error) {
	args := append([]string{"install", "--target", m.TargetDir}, strings.Fields(packages)...)
	if len(args) == 3 {
		return "", "", errors.New("no packages given")
	}
	cmd := exec.CommandContext(ctx, m.pip(), args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return strings.TrimSpace(stdout.String()), strings.TrimSpace(stderr.String()), err
}

// List returns `pip freeze` output for TargetDir.
func (m *Manager) List(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, m.pip(), "freeze", "--path", m.TargetDir)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("pip freeze: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return string(out), nil
}

// InstallRequirements runs `pip install -r path` in dir and hands every output
// line to onLine. It returns pip's exit code.
func (m *Manager) InstallRequirements(ctx context.Context, dir, path string, onLine func(string)) (int, error) {
	cmd := exec.CommandContext(ctx, m.pip(), "install", "-r", path)
	cmd.Dir = dir
	cmd.Env = os.Environ()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return -1, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("start pip: %w", err)
	}

	var mu sync.Mutex
	emit := func(line string) {
		mu.Lock()
		defer mu.Unlock()
		onLine(line)
	}
	var wg sync.WaitGroup
	wg.Add(2)
	for _, r := range []io.Reader{stdout, stderr} {
		go func(r io.Reader) {
			defer wg.Done()
			scanner := bufio.NewScanner(r)
			scanner.Buffer(make([]byte, 64*1024), 1024*1024)
			for scanner.Scan() {
				emit(scanner.Text())
			}
			// keep reading after an oversized line so pip never blocks on the pipe
			_, _ = io.Copy(io.Discard, r)
		}(r)
	}
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("pip install: %w", err)
	}
	return 0, nil
}
