// Package mockprovider starts and stops the mock-data process that feeds
// signal values into the databroker.
package mockprovider

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Config describes how to run the mock provider.
type Config struct {
	Command      string   // shell command line
	Dir          string   // working directory
	PIDFile      string   // written by the provider itself
	Env          []string // appended to the supervisor's environment
	RestartDelay time.Duration
}

// Controller owns the mock provider process.
type Controller struct {
	cfg Config

	mu       sync.Mutex
	cmd      *exec.Cmd
	exited   chan struct{}
	restarts int

	// OnRestart is called after every successful restart.
	OnRestart func()
}

// NewController creates a controller; nothing is started.
func NewController(cfg Config) *Controller {
	return &Controller{cfg: cfg}
}

// Start launches the provider unless one started by this controller is
// still running.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLocked(ctx)
}

// Stop kills the provider recorded in the PID file and any child this
// controller started. A provider that is not running is not an error.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked()
}

// Restart stops the provider, waits RestartDelay, then starts it again.
func (c *Controller) Restart(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.stopLocked(); err != nil {
		return err
	}
	if c.cfg.RestartDelay > 0 {
		timer := time.NewTimer(c.cfg.RestartDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	if err := c.startLocked(ctx); err != nil {
		return err
	}
	c.restarts++
	if c.OnRestart != nil {
		c.OnRestart()
	}
	return nil
}

// Running reports whether a provider started by this controller is alive.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aliveLocked()
}

// Restarts returns the number of completed restarts.
func (c *Controller) Restarts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.restarts
}

func (c *Controller) aliveLocked() bool {
	if c.cmd == nil {
		return false
	}
	select {
	case <-c.exited:
		return false
	default:
		return true
	}
}

func (c *Controller) startLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.aliveLocked() {
		return nil
	}
	if strings.TrimSpace(c.cfg.Command) == "" {
		return errors.New("mock provider command not configured")
	}

	cmd := exec.Command("sh", "-c", c.cfg.Command)
	cmd.Dir = c.cfg.Dir
	cmd.Env = append(os.Environ(), c.cfg.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start mock provider: %w", err)
	}

	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()
	c.cmd = cmd
	c.exited = exited
	log.Printf("mockprovider: started pid %d", cmd.Process.Pid)
	return nil
}

func (c *Controller) stopLocked() error {
	var errs []error

	if pid, err := readPID(c.cfg.PIDFile); err != nil {
		errs = append(errs, err)
	} else if pid > 0 {
		if err := kill(pid); err != nil {
			errs = append(errs, err)
		} else {
			log.Printf("mockprovider: killed pid %d from %s", pid, c.cfg.PIDFile)
		}
	}

	if c.aliveLocked() {
		if err := unix.Kill(-c.cmd.Process.Pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
			errs = append(errs, fmt.Errorf("kill mock provider group %d: %w", c.cmd.Process.Pid, err))
		}
		<-c.exited
	}
	c.cmd = nil
	return errors.Join(errs...)
}

func readPID(path string) (int, error) {
	if path == "" {
		return 0, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read pid file: %w", err)
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return 0, nil
	}
	pid, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid pid %q in %s", s, path)
	}
	return pid, nil
}

func kill(pid int) error {
	if err := unix.Kill(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("kill mock provider %d: %w", pid, err)
	}
	return nil
}
