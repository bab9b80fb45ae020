package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/opensandbox/kitsync/internal/metrics"
	"github.com/opensandbox/kitsync/internal/mocksignal"
	"github.com/opensandbox/kitsync/pkg/types"
)

// Status codes returned by Handle.
const (
	StatusOK     = 0
	StatusFailed = 1
)

type handlerFunc func(s *Supervisor, ctx context.Context, cmd *types.Command) int

var handlers = map[string]handlerFunc{
	"run_python_app":          (*Supervisor).runPythonApp,
	"run_bin_app":             (*Supervisor).runBinApp,
	"stop_python_app":         (*Supervisor).stopApps,
	"subscribe_apis":          (*Supervisor).subscribe,
	"unsubscribe_apis":        (*Supervisor).unsubscribe,
	"list_mock_signal":        (*Supervisor).listMockSignals,
	"set_mock_signals":        (*Supervisor).setMockSignals,
	"write_signals_value":     (*Supervisor).writeSignalsValue,
	"reset_signals_value":     (*Supervisor).resetSignalsValue,
	"generate_vehicle_model":  (*Supervisor).generateModel,
	"revert_vehicle_model":    (*Supervisor).revertModel,
	"list_python_packages":    (*Supervisor).listPackages,
	"install_python_packages": (*Supervisor).installPackages,
	"get-runtime-info":        (*Supervisor).runtimeInfo,
	"deploy_request":          (*Supervisor).deploy,
	"deploy-request":          (*Supervisor).deploy,
}

// Handle decodes one command envelope and runs it. It returns StatusOK when
// the command was handled and StatusFailed when it was unknown, malformed or
// rejected. A panic inside a command is converted into StatusFailed and an
// error reply.
func (s *Supervisor) Handle(ctx context.Context, raw []byte) (status int) {
	var cmd types.Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		log.Printf("supervisor: dropping undecodable command: %v", err)
		metrics.ObserveCommand("invalid", StatusFailed, 0)
		return StatusFailed
	}

	h, ok := handlers[cmd.Cmd]
	if !ok {
		log.Printf("supervisor: unknown command %q from %s", cmd.Cmd, cmd.RequestFrom)
		metrics.ObserveCommand("unknown", StatusFailed, 0)
		return StatusFailed
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("supervisor: %s panicked: %v", cmd.Cmd, r)
			s.reply(ctx, cmd.RequestFrom, cmd.Cmd, fmt.Sprintf("Error: %v", r), nil)
			status = StatusFailed
		}
		metrics.ObserveCommand(cmd.Cmd, status, time.Since(start))
	}()

	return h(s, ctx, &cmd)
}

func (s *Supervisor) subscribe(ctx context.Context, cmd *types.Command) int {
	if cmd.APIs == nil {
		return StatusOK
	}
	s.Subscribers.Upsert(cmd.RequestFrom, cmd.APIs, s.now())
	s.offer(ctx, cmd.APIs)
	s.reply(ctx, cmd.RequestFrom, cmd.Cmd, "Successful", nil)
	return StatusOK
}

func (s *Supervisor) unsubscribe(ctx context.Context, cmd *types.Command) int {
	s.Subscribers.Remove(cmd.RequestFrom)
	s.reply(ctx, cmd.RequestFrom, cmd.Cmd, "Successful", nil)
	return StatusOK
}

func (s *Supervisor) runtimeInfo(ctx context.Context, cmd *types.Command) int {
	s.reply(ctx, cmd.RequestFrom, cmd.Cmd, nil, s.RuntimeInfo())
	return StatusOK
}

func (s *Supervisor) listPackages(ctx context.Context, cmd *types.Command) int {
	out, err := s.Packages.List(ctx)
	if err != nil {
		log.Printf("supervisor: list packages: %v", err)
		s.reply(ctx, cmd.RequestFrom, cmd.Cmd, "Error: "+err.Error(), out)
		return StatusOK
	}
	s.reply(ctx, cmd.RequestFrom, cmd.Cmd, "Successful", out)
	return StatusOK
}

func (s *Supervisor) installPackages(ctx context.Context, cmd *types.Command) int {
	packages := stringData(cmd.Data)
	s.reply(ctx, cmd.RequestFrom, cmd.Cmd, "Installing", fmt.Sprintf("Installing packages: %s\n", packages))

	stdout, stderr, err := s.Packages.Install(ctx, packages)
	if err != nil {
		log.Printf("supervisor: install packages %q: %v", packages, err)
		s.reply(ctx, cmd.RequestFrom, cmd.Cmd, "Error: "+err.Error(), stdout+stderr)
		return StatusFailed
	}
	s.reply(ctx, cmd.RequestFrom, cmd.Cmd, "Successful", stdout+stderr)
	return StatusOK
}

// stringData returns a JSON string payload as-is and anything else in its
// JSON text form.
func stringData(data json.RawMessage) string {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		return str
	}
	return string(data)
}

// offer adds signals to the mock store. Failures never fail the command.
func (s *Supervisor) offer(ctx context.Context, paths []string) {
	if len(paths) == 0 || s.Signals == nil {
		return
	}
	out, err := s.Signals.Offer(ctx, paths)
	logOutcome("offer", out, err)
}

// logOutcome is the one place synchronizer outcomes are reported.
func logOutcome(op string, out mocksignal.Outcome, err error) {
	if err != nil {
		log.Printf("supervisor: mock signal %s failed: %v", op, err)
	}
	for _, skip := range out.Skipped {
		if skip.Reason != mocksignal.ReasonPresent {
			log.Printf("supervisor: mock signal %s skipped %s: %s", op, skip.Path, skip.Reason)
		}
	}
	if out.Changed() || out.Restarted {
		log.Printf("supervisor: mock signal %s stored %d signals (provider restarted=%t)", op, len(out.Added), out.Restarted)
	}
}
