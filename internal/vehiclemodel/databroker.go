package vehiclemodel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
)

// DatabrokerProcess restarts the local databroker binary.
type DatabrokerProcess struct {
	Command string // shell command line used to start it
	Match   string // substring of the command line identifying running instances
	ProcDir string // default "/proc"
}

// Running reports whether any process matches.
func (d *DatabrokerProcess) Running() bool {
	pids, err := d.pids()
	return err == nil && len(pids) > 0
}

// Restart kills every matching process and starts a new detached instance.
func (d *DatabrokerProcess) Restart(ctx context.Context) error {
	pids, err := d.pids()
	if err != nil {
		log.Printf("databroker: list processes: %v", err)
	}
	if len(pids) == 0 {
		log.Printf("databroker: no running instance found, starting a new one")
	}
	for _, pid := range pids {
		if err := syscall.Kill(pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
			log.Printf("databroker: kill %d: %v", pid, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	cmd := exec.Command("sh", "-c", d.Command)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start databroker: %w", err)
	}
	go func() { _ = cmd.Wait() }()
	log.Printf("databroker: restarted (pid %d)", cmd.Process.Pid)
	return nil
}

// pids scans the proc filesystem for command lines containing Match.
func (d *DatabrokerProcess) pids() ([]int, error) {
	if d.Match == "" {
		return nil, errors.New("databroker match pattern not configured")
	}
	procDir := d.ProcDir
	if procDir == "" {
		procDir = "/proc"
	}
	entries, err := os.ReadDir(procDir)
	if err != nil {
		return nil, err
	}

	self := os.Getpid()
	match := []byte(d.Match)
	var pids []int
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil || pid == self {
			continue
		}
		cmdline, err := os.ReadFile(filepath.Join(procDir, e.Name(), "cmdline"))
		if err != nil || len(cmdline) == 0 {
			continue
		}
		cmdline = bytes.ReplaceAll(cmdline, []byte{0}, []byte{' '})
		if bytes.Contains(cmdline, match) {
			pids = append(pids, pid)
		}
	}
	return pids, nil
}
