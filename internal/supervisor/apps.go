package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/opensandbox/kitsync/internal/history"
	"github.com/opensandbox/kitsync/internal/project"
	"github.com/opensandbox/kitsync/internal/runner"
	"github.com/opensandbox/kitsync/pkg/types"
)

const (
	defaultAppName = "App name"
	appDir         = "app"
	requirements   = "app/requirements.txt"

	// process output is always reported under this command name
	runReplyCmd = "run_python_app"
)

func (s *Supervisor) runPythonApp(ctx context.Context, cmd *types.Command) int {
	var req types.RunAppRequest
	if len(cmd.Data) == 0 || json.Unmarshal(cmd.Data, &req) != nil || !hasField(cmd.Data, "code") {
		s.reply(ctx, cmd.RequestFrom, cmd.Cmd, "Error: Missing code", "")
		return StatusFailed
	}
	name := req.Name
	if name == "" {
		name = defaultAppName
	}

	command := s.cfg.PythonBin + " -u main.py"
	if items, ok := project.Parse(req.Code); ok {
		if err := project.Materialize(items, filepath.Join(s.cfg.WorkDir, appDir)); err != nil {
			log.Printf("supervisor: materialize project for %s: %v", cmd.RequestFrom, err)
			s.reply(ctx, cmd.RequestFrom, cmd.Cmd, "Error: "+err.Error(), "")
			return StatusFailed
		}
		if !s.installRequirements(ctx, cmd.RequestFrom) {
			return StatusFailed
		}
		command = s.cfg.PythonBin + " -u app/main.py"
	} else if err := os.WriteFile(filepath.Join(s.cfg.WorkDir, "main.py"), []byte(req.Code), 0644); err != nil {
		log.Printf("supervisor: write main.py: %v", err)
		s.reply(ctx, cmd.RequestFrom, cmd.Cmd, "Error: "+err.Error(), "")
		return StatusFailed
	}

	s.offer(ctx, cmd.UsedAPIs)
	return s.spawn(ctx, cmd, name, command)
}

func (s *Supervisor) runBinApp(ctx context.Context, cmd *types.Command) int {
	if len(cmd.Data) == 0 || string(cmd.Data) == "null" {
		s.reply(ctx, cmd.RequestFrom, cmd.Cmd, "Error: Missing app name", "")
		return StatusFailed
	}
	name := stringData(cmd.Data)

	path := filepath.Join(s.cfg.BinDir, name)
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		s.reply(ctx, cmd.RequestFrom, cmd.Cmd, "Failed: app not found", "")
		return StatusOK
	}
	if info, err := os.Stat(path); err != nil || !info.Mode().IsRegular() {
		s.reply(ctx, cmd.RequestFrom, cmd.Cmd, "Failed: app not found", "")
		return StatusOK
	}

	s.offer(ctx, cmd.UsedAPIs)
	if err := sleep(ctx, s.cfg.BinSettle); err != nil {
		return StatusFailed
	}
	return s.spawn(ctx, cmd, name, shellQuote(path))
}

func (s *Supervisor) stopApps(ctx context.Context, cmd *types.Command) int {
	for _, rm := range s.Runners.RemoveOwnedBy(cmd.RequestFrom) {
		s.recordStop(rm, history.ReasonStopped)
		if rm.Err != nil {
			log.Printf("supervisor: stop runner %s: %v", rm.ID, rm.Err)
			s.reply(ctx, cmd.RequestFrom, cmd.Cmd, rm.Err.Error(), nil)
			continue
		}
		log.Printf("supervisor: stopped runner %s (%s) for %s", rm.ID, rm.AppName, rm.Owner)
	}
	return StatusOK
}

// StopAll terminates every runner. Used on shutdown.
func (s *Supervisor) StopAll() {
	for _, rm := range s.Runners.RemoveWhere(func(*runner.Runner) bool { return true }) {
		s.recordStop(rm, history.ReasonStopped)
		if rm.Err != nil {
			log.Printf("supervisor: stop runner %s: %v", rm.ID, rm.Err)
		}
	}
}

// installRequirements installs app/requirements.txt when the project has
// one, streaming pip output to the session. It reports whether the app may
// be started.
func (s *Supervisor) installRequirements(ctx context.Context, session string) bool {
	if _, err := os.Stat(filepath.Join(s.cfg.WorkDir, requirements)); err != nil {
		return true
	}

	s.runReply(ctx, session, false, 0, "Installing dependencies from requirements.txt...\r\n")
	code, err := s.Packages.InstallRequirements(ctx, s.cfg.WorkDir, requirements, func(line string) {
		s.runReply(ctx, session, false, 0, line+"\r\n")
	})
	if err != nil {
		log.Printf("supervisor: install requirements for %s: %v", session, err)
	}
	if err != nil || code != 0 {
		s.runReply(ctx, session, false, code, "Failed to install dependencies.\r\n")
		return false
	}
	s.runReply(ctx, session, false, 0, "Dependencies installed successfully.\r\n")
	return true
}

// spawn starts command in the work directory and registers the runner.
func (s *Supervisor) spawn(ctx context.Context, cmd *types.Command, appName, command string) int {
	h, err := s.Backend.Start(ctx, runner.Spec{Command: command, Dir: s.cfg.WorkDir})
	if err != nil {
		log.Printf("supervisor: start %s for %s: %v", appName, cmd.RequestFrom, err)
		s.reply(ctx, cmd.RequestFrom, cmd.Cmd, fmt.Sprintf("Error: failed to start %s: %v", appName, err), "")
		return StatusFailed
	}

	rn := runner.New(appName, cmd.RequestFrom, h, s.now())
	s.Runners.Insert(rn)
	if s.History != nil {
		if err := s.History.RecordStart(rn.ID, appName, rn.Owner, command, rn.CreatedAt); err != nil {
			log.Printf("supervisor: history: %v", err)
		}
	}
	log.Printf("supervisor: started runner %s (%s, pid %d) for %s", rn.ID, appName, h.PID(), rn.Owner)

	go s.forward(ctx, rn)
	return StatusOK
}

// forward relays a runner's output and exit status to its owning session.
func (s *Supervisor) forward(ctx context.Context, rn *runner.Runner) {
	for ev := range rn.Handle.Events() {
		switch ev.Kind {
		case runner.EventStdout, runner.EventStderr:
			s.runReply(ctx, rn.Owner, false, 0, ev.Line+"\r\n")
		case runner.EventExit:
			s.Runners.MarkFinished(rn.ID, ev.ExitCode)
			if s.History != nil {
				if err := s.History.RecordExit(rn.ID, ev.ExitCode, s.now()); err != nil {
					log.Printf("supervisor: history: %v", err)
				}
			}
			s.runReply(ctx, rn.Owner, true, ev.ExitCode, "")
		}
	}
}

func (s *Supervisor) runReply(ctx context.Context, session string, done bool, code int, content string) {
	s.emit(ctx, EventReply, types.Reply{
		KitID:       s.cfg.KitID,
		RequestFrom: session,
		Cmd:         runReplyCmd,
		Result:      content,
		Data:        "",
		Code:        &code,
		IsDone:      &done,
	})
}

func (s *Supervisor) recordStop(rm runner.Removal, reason string) {
	if s.History == nil {
		return
	}
	if err := s.History.RecordStop(rm.ID, reason, s.now()); err != nil {
		log.Printf("supervisor: history: %v", err)
	}
}

func hasField(data json.RawMessage, field string) bool {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return false
	}
	_, ok := obj[field]
	return ok
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
