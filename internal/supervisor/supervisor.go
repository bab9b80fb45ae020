// Package supervisor dispatches kit server commands and runs the periodic
// telemetry, housekeeping and state-report loops.
package supervisor

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/opensandbox/kitsync/internal/config"
	"github.com/opensandbox/kitsync/internal/databroker"
	"github.com/opensandbox/kitsync/internal/metrics"
	"github.com/opensandbox/kitsync/internal/mocksignal"
	"github.com/opensandbox/kitsync/internal/runner"
	"github.com/opensandbox/kitsync/internal/subscriber"
	"github.com/opensandbox/kitsync/pkg/types"
)

// Outbound event names.
const (
	EventReply       = "messageToKit-kitReply"
	EventReportState = "report-runtime-state"
	EventRegister    = "register_kit"
	EventCommand     = "messageToKit"
)

// Emitter sends one event to the kit server.
type Emitter interface {
	Emit(ctx context.Context, event string, payload any) error
}

// Provider controls the mock provider process.
type Provider interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
}

// ModelManager regenerates and reverts the vehicle model.
type ModelManager interface {
	Generate(ctx context.Context, spec []byte) error
	Revert(ctx context.Context) error
	DatabrokerEnabled() bool
}

// BrokerProcess reports whether the local databroker process is alive.
type BrokerProcess interface {
	Running() bool
}

// Packages manages the Python packages available to applications.
type Packages interface {
	Install(ctx context.Context, packages string) (string, string, error)
	List(ctx context.Context) (string, error)
	InstallRequirements(ctx context.Context, dir, path string, onLine func(string)) (int, error)
}

// History journals runner lifecycle events.
type History interface {
	RecordStart(id, appName, session, command string, startedAt time.Time) error
	RecordExit(id string, exitCode int, at time.Time) error
	RecordStop(id, reason string, at time.Time) error
}

// StateMirror receives runtime state changes in addition to the kit server.
type StateMirror interface {
	PublishRuntimeState(counts types.RuntimeCount, runners []types.RunnerInfo)
}

// Deps are the collaborators of a Supervisor. History and Mirror are optional.
type Deps struct {
	Emitter       Emitter
	Broker        databroker.Client
	Runners       *runner.Registry
	Subscribers   *subscriber.Registry
	Signals       *mocksignal.Synchronizer
	Provider      Provider
	Models        ModelManager
	BrokerProcess BrokerProcess
	Packages      Packages
	Backend       runner.Backend
	History       History
	Mirror        StateMirror
}

// Supervisor owns the runtime registries and reacts to remote commands.
type Supervisor struct {
	cfg *config.Config
	Deps

	now func() time.Time

	// state reporter memory, only touched by the reporter loop
	lastRunners     string
	lastSubscribers int
	reported        bool

	// per-session command queues; a key is present while its worker runs
	dispatchMu sync.Mutex
	queues     map[string][][]byte
	closed     bool

	wg sync.WaitGroup
}

// New creates a supervisor. Runner and subscriber registries are created
// when not supplied.
func New(cfg *config.Config, deps Deps) *Supervisor {
	if deps.Runners == nil {
		deps.Runners = runner.NewRegistry()
	}
	if deps.Subscribers == nil {
		deps.Subscribers = subscriber.NewRegistry()
	}
	return &Supervisor{cfg: cfg, Deps: deps, now: time.Now, queues: make(map[string][][]byte)}
}

// Run starts the periodic loops and blocks until ctx is canceled and every
// loop and in-flight command has returned.
func (s *Supervisor) Run(ctx context.Context) {
	log.Printf("supervisor: starting (kit=%s)", s.cfg.KitID)

	loops := []struct {
		name     string
		interval time.Duration
		tick     func(context.Context)
	}{
		{"telemetry", s.cfg.TelemetryInterval, s.pollTelemetry},
		{"housekeeping", s.cfg.SweepInterval, s.sweep},
		{"reporter", s.cfg.ReportInterval, s.reportState},
	}
	for _, l := range loops {
		s.wg.Add(1)
		go s.loop(ctx, l.name, l.interval, l.tick)
	}

	<-ctx.Done()
	s.dispatchMu.Lock()
	s.closed = true
	s.dispatchMu.Unlock()
	s.wg.Wait()
	log.Printf("supervisor: stopped")
}

// loop calls tick every interval until ctx is canceled.
func (s *Supervisor) loop(ctx context.Context, name string, interval time.Duration, tick func(context.Context)) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Printf("supervisor: %s tick panicked: %v", name, r)
					}
				}()
				tick(ctx)
			}()
		}
	}
}

// Dispatch queues a command envelope for its session. Commands from one
// session run one at a time in arrival order; sessions run concurrently.
// It is the channel handler for inbound "messageToKit" events.
func (s *Supervisor) Dispatch(ctx context.Context, event string, data []byte) {
	if event != EventCommand {
		return
	}
	session := sessionOf(data)
	raw := append([]byte(nil), data...)

	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()
	if s.closed || ctx.Err() != nil {
		return
	}
	if pending, busy := s.queues[session]; busy {
		s.queues[session] = append(pending, raw)
		return
	}
	s.queues[session] = nil
	s.wg.Add(1)
	go s.drain(ctx, session, raw)
}

// drain runs raw and then every command queued behind it for session.
func (s *Supervisor) drain(ctx context.Context, session string, raw []byte) {
	defer s.wg.Done()
	for {
		s.Handle(ctx, raw)

		s.dispatchMu.Lock()
		pending := s.queues[session]
		if len(pending) == 0 || ctx.Err() != nil {
			if len(pending) > 0 {
				log.Printf("supervisor: dropping %d queued commands from %s on shutdown", len(pending), session)
			}
			delete(s.queues, session)
			s.dispatchMu.Unlock()
			return
		}
		raw, s.queues[session] = pending[0], pending[1:]
		s.dispatchMu.Unlock()
	}
}

// sessionOf extracts request_from without decoding the rest of the envelope.
// Undecodable envelopes share the empty session and fail in Handle.
func sessionOf(data []byte) string {
	var env struct {
		RequestFrom string `json:"request_from"`
	}
	_ = json.Unmarshal(data, &env)
	return env.RequestFrom
}

// Register announces the kit to the server. It runs on every (re)connect.
func (s *Supervisor) Register(ctx context.Context) {
	metrics.ChannelConnected.Set(1)
	s.emit(ctx, EventRegister, types.RegisterKit{KitID: s.cfg.KitID, Name: s.cfg.KitID})
	log.Printf("supervisor: registered as %s", s.cfg.KitID)
}

// RuntimeInfo returns the current runner list and subscriber map.
func (s *Supervisor) RuntimeInfo() types.RuntimeInfo {
	return types.RuntimeInfo{
		Runners:     s.Runners.Snapshot(),
		Subscribers: s.Subscribers.Info(),
	}
}

// RuntimeCount returns the number of runners and subscribers.
func (s *Supervisor) RuntimeCount() types.RuntimeCount {
	return types.RuntimeCount{Runners: s.Runners.Len(), Subscribers: s.Subscribers.Len()}
}

func (s *Supervisor) emit(ctx context.Context, event string, payload any) {
	if s.Emitter == nil {
		return
	}
	if err := s.Emitter.Emit(ctx, event, payload); err != nil {
		log.Printf("supervisor: emit %s: %v", event, err)
	}
}

// reply sends a messageToKit-kitReply to one session.
func (s *Supervisor) reply(ctx context.Context, session, cmd string, result, data any) {
	s.emit(ctx, EventReply, types.Reply{
		KitID:       s.cfg.KitID,
		RequestFrom: session,
		Cmd:         cmd,
		Result:      result,
		Data:        data,
	})
}

// sleep waits for d or until ctx is canceled.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
