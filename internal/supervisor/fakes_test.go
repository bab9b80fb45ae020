package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/opensandbox/kitsync/internal/config"
	"github.com/opensandbox/kitsync/internal/databroker"
	"github.com/opensandbox/kitsync/internal/mocksignal"
	"github.com/opensandbox/kitsync/internal/runner"
	"github.com/opensandbox/kitsync/pkg/types"
)

type emitted struct {
	event   string
	payload any
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (f *fakeEmitter) Emit(_ context.Context, event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emitted{event: event, payload: payload})
	return nil
}

func (f *fakeEmitter) all() []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]emitted(nil), f.events...)
}

// replies returns every kit reply for cmd, in emission order.
func (f *fakeEmitter) replies(cmd string) []types.Reply {
	var out []types.Reply
	for _, e := range f.all() {
		if r, ok := e.payload.(types.Reply); ok && e.event == EventReply && r.Cmd == cmd {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeEmitter) count(event string) int {
	n := 0
	for _, e := range f.all() {
		if e.event == event {
			n++
		}
	}
	return n
}

type brokerSignal struct {
	meta  databroker.Metadata
	value any
}

type fakeBroker struct {
	mu        sync.Mutex
	signals   map[string]*brokerSignal
	connected bool
	connects  int
	reads     int
	infoErr   error
	targets   map[string]any
	currents  map[string]any
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		connected: true,
		signals: map[string]*brokerSignal{
			"Vehicle.Speed": {
				meta:  databroker.Metadata{Path: "Vehicle.Speed", DataType: databroker.DataTypeFloat, EntryType: databroker.EntryTypeSensor},
				value: 42.0,
			},
			"Vehicle.Cabin.Seat.Row1.Height": {
				meta: databroker.Metadata{Path: "Vehicle.Cabin.Seat.Row1.Height", DataType: databroker.DataTypeUint16, EntryType: databroker.EntryTypeActuator},
			},
			"Vehicle.VehicleIdentification.VIN": {
				meta:  databroker.Metadata{Path: "Vehicle.VehicleIdentification.VIN", DataType: databroker.DataTypeString, EntryType: databroker.EntryTypeAttribute},
				value: "WVW123",
			},
		},
		targets:  map[string]any{},
		currents: map[string]any{},
	}
}

func (b *fakeBroker) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBroker) Connect(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connects++
	return errors.New("connection refused")
}

func (b *fakeBroker) lookup(path string) (*brokerSignal, error) {
	sig, ok := b.signals[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, databroker.ErrNotFound)
	}
	return sig, nil
}

func (b *fakeBroker) CurrentValue(_ context.Context, path string) (any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reads++
	sig, err := b.lookup(path)
	if err != nil {
		return nil, err
	}
	return sig.value, nil
}

func (b *fakeBroker) Metadata(_ context.Context, path string) (*databroker.Metadata, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sig, err := b.lookup(path)
	if err != nil {
		return nil, err
	}
	md := sig.meta
	return &md, nil
}

func (b *fakeBroker) SetCurrentValue(_ context.Context, path string, _ databroker.DataType, value any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.currents[path] = value
	return nil
}

func (b *fakeBroker) SetTargetValue(_ context.Context, path string, _ databroker.DataType, value any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.targets[path] = value
	return nil
}

func (b *fakeBroker) ServerInfo(context.Context) (databroker.ServerInfo, error) {
	if b.infoErr != nil {
		return databroker.ServerInfo{}, b.infoErr
	}
	return databroker.ServerInfo{Name: "databroker", Version: "test"}, nil
}

func (b *fakeBroker) Close() error { return nil }

type fakeProvider struct {
	mu                      sync.Mutex
	starts, stops, restarts int
	restartErr              error
	restartDelay            time.Duration
}

func (p *fakeProvider) Start(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.starts++
	return nil
}

func (p *fakeProvider) Stop(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	return nil
}

func (p *fakeProvider) Restart(context.Context) error {
	time.Sleep(p.restartDelay)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.restarts++
	return p.restartErr
}

func (p *fakeProvider) counts() (int, int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.starts, p.stops, p.restarts
}

type fakeModels struct {
	genErr    error
	revertErr error
	generated int
	reverted  int
	disabled  bool
}

func (m *fakeModels) Generate(context.Context, []byte) error {
	m.generated++
	return m.genErr
}

func (m *fakeModels) Revert(context.Context) error {
	m.reverted++
	return m.revertErr
}

func (m *fakeModels) DatabrokerEnabled() bool { return !m.disabled }

type fakeBrokerProcess struct{ running bool }

func (f fakeBrokerProcess) Running() bool { return f.running }

type fakePackages struct {
	listPanics bool
	installErr error
	installed  []string
}

func (p *fakePackages) Install(_ context.Context, packages string) (string, string, error) {
	p.installed = append(p.installed, packages)
	if p.installErr != nil {
		return "", "ERROR: No matching distribution found for " + packages + "\n", p.installErr
	}
	return "Successfully installed " + packages + "\n", "", nil
}

func (p *fakePackages) List(context.Context) (string, error) {
	if p.listPanics {
		panic("pip exploded")
	}
	return "numpy==2.0.0\n", nil
}

func (p *fakePackages) InstallRequirements(_ context.Context, _, _ string, onLine func(string)) (int, error) {
	onLine("Collecting requests")
	return 0, nil
}

type fakeHandle struct {
	mu         sync.Mutex
	events     chan runner.Event
	terminated bool
}

func (h *fakeHandle) PID() int                    { return 4242 }
func (h *fakeHandle) Events() <-chan runner.Event { return h.events }

func (h *fakeHandle) Terminate() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.terminated {
		return runner.ErrAlreadyStopped
	}
	h.terminated = true
	close(h.events)
	return nil
}

// exit emits output lines followed by an exit event, as a process that
// finished on its own.
func (h *fakeHandle) exit(code int, lines ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, l := range lines {
		h.events <- runner.Event{Kind: runner.EventStdout, Line: l}
	}
	h.events <- runner.Event{Kind: runner.EventExit, ExitCode: code}
	h.terminated = true
	close(h.events)
}

func (h *fakeHandle) isTerminated() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.terminated
}

type fakeBackend struct {
	mu       sync.Mutex
	specs    []runner.Spec
	handles  []*fakeHandle
	startErr error
}

func (b *fakeBackend) Start(_ context.Context, spec runner.Spec) (runner.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.startErr != nil {
		return nil, b.startErr
	}
	h := &fakeHandle{events: make(chan runner.Event, 16)}
	b.specs = append(b.specs, spec)
	b.handles = append(b.handles, h)
	return h, nil
}

func (b *fakeBackend) started() []*fakeHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*fakeHandle(nil), b.handles...)
}

type fakeHistory struct {
	mu    sync.Mutex
	stops map[string]string
	exits map[string]int
}

func (h *fakeHistory) RecordStart(string, string, string, string, time.Time) error { return nil }

func (h *fakeHistory) RecordExit(id string, code int, _ time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.exits[id] = code
	return nil
}

func (h *fakeHistory) RecordStop(id, reason string, _ time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stops[id] = reason
	return nil
}

type fakeMirror struct {
	mu        sync.Mutex
	published []types.RuntimeCount
}

func (m *fakeMirror) PublishRuntimeState(counts types.RuntimeCount, _ []types.RunnerInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, counts)
}

func (m *fakeMirror) states() []types.RuntimeCount {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.RuntimeCount(nil), m.published...)
}

type fixture struct {
	sup      *Supervisor
	emitter  *fakeEmitter
	broker   *fakeBroker
	provider *fakeProvider
	models   *fakeModels
	backend  *fakeBackend
	history  *fakeHistory
	store    *mocksignal.Store
	cfg      *config.Config
	clock    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		KitID:             "Runtime-test",
		WorkDir:           dir,
		BinDir:            filepath.Join(dir, "bin"),
		PythonBin:         "python",
		ReadyAttempts:     2,
		ReadyInterval:     time.Millisecond,
		SubscriberTTL:     60 * time.Second,
		RunnerTTL:         180 * time.Second,
		TelemetryInterval: 10 * time.Millisecond,
		SweepInterval:     10 * time.Millisecond,
		ReportInterval:    10 * time.Millisecond,
	}

	f := &fixture{
		emitter:  &fakeEmitter{},
		broker:   newFakeBroker(),
		provider: &fakeProvider{},
		models:   &fakeModels{},
		backend:  &fakeBackend{},
		history:  &fakeHistory{stops: map[string]string{}, exits: map[string]int{}},
		store:    mocksignal.NewStore(filepath.Join(dir, "mock", "signals.json"), filepath.Join(dir, "mock", "default_signals.json")),
		cfg:      cfg,
		clock:    time.Unix(1700000000, 0),
	}
	f.sup = New(cfg, Deps{
		Emitter:       f.emitter,
		Broker:        f.broker,
		Signals:       mocksignal.NewSynchronizer(f.store, f.broker, f.provider),
		Provider:      f.provider,
		Models:        f.models,
		BrokerProcess: fakeBrokerProcess{running: true},
		Packages:      &fakePackages{},
		Backend:       f.backend,
		History:       f.history,
	})
	f.sup.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) handle(t *testing.T, raw string) int {
	t.Helper()
	return f.sup.Handle(context.Background(), []byte(raw))
}

func jsonEnvelope(cmd, session string, data any) (string, error) {
	raw, err := json.Marshal(map[string]any{"cmd": cmd, "request_from": session, "data": data})
	return string(raw), err
}
