package vehiclemodel

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	err   error
	calls int
	got   Request
}

func (f *fakeGenerator) Generate(_ context.Context, req Request) error {
	f.calls++
	f.got = req
	if f.err != nil {
		return f.err
	}
	dir := filepath.Join(req.TargetDir, "vehicle")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	src := "class Vehicle2(Model):\n    pass\n\nvehicle = Vehicle(\"Vehicle\")\n"
	return os.WriteFile(filepath.Join(dir, "__init__.py"), []byte(src), 0644)
}

type fakeBroker struct{ restarts int }

func (f *fakeBroker) Restart(context.Context) error {
	f.restarts++
	return nil
}

const unitsYAML = `units:
  km/h:
    definition: Velocity measured in kilometers per hours
  m:
    definition: Distance measured in meters
`

func setup(t *testing.T) (Config, *fakeGenerator, *fakeBroker, *Manager) {
	t.Helper()
	root := t.TempDir()
	cfg := Config{
		VSSPath:        filepath.Join(root, "ws", "vss.json"),
		DefaultVSSPath: filepath.Join(root, "ws", "default_vss.json"),
		UnitsPath:      filepath.Join(root, "units.yaml"),
		ModelDir:       filepath.Join(root, "pkgs", "vehicle"),
		StdModelDir:    filepath.Join(root, "pkgs", "std_vehicle"),
		BuildDir:       filepath.Join(root, "ws", "gen_model"),
	}
	require.NoError(t, os.MkdirAll(filepath.Join(root, "ws"), 0755))
	require.NoError(t, os.MkdirAll(cfg.StdModelDir, 0755))
	require.NoError(t, os.WriteFile(cfg.UnitsPath, []byte(unitsYAML), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.StdModelDir, "__init__.py"), []byte("# std model\n"), 0644))
	require.NoError(t, os.WriteFile(cfg.DefaultVSSPath, []byte(`{"Vehicle":{"type":"branch"}}`), 0644))
	require.NoError(t, copyDir(cfg.ModelDir, cfg.StdModelDir))
	require.NoError(t, copyFile(cfg.VSSPath, cfg.DefaultVSSPath))

	gen := &fakeGenerator{}
	broker := &fakeBroker{}
	return cfg, gen, broker, NewManager(cfg, gen, broker)
}

func TestGenerateInstallsModel(t *testing.T) {
	cfg, gen, broker, m := setup(t)
	spec := `{"Vehicle":{"type":"branch","children":{"Speed":{"type":"sensor","datatype":"float","unit":"km/h"},"Odd":{"type":"sensor","datatype":"float","unit":"furlong"}}}}`

	require.NoError(t, m.Generate(context.Background(), []byte(spec)))
	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, 1, broker.restarts)

	model, err := os.ReadFile(filepath.Join(cfg.ModelDir, "__init__.py"))
	require.NoError(t, err)
	assert.Contains(t, string(model), `vehicle = Vehicle2("Vehicle2")`)

	vss, err := os.ReadFile(cfg.VSSPath)
	require.NoError(t, err)
	assert.Contains(t, string(vss), `"unit": "km/h"`)
	assert.Contains(t, string(vss), `"unit": "m"`)
	assert.NotContains(t, string(vss), "furlong")
}

func TestGenerateAcceptsQuotedSpec(t *testing.T) {
	_, gen, _, m := setup(t)
	require.NoError(t, m.Generate(context.Background(), []byte(`"{\"Vehicle\":{\"type\":\"branch\"}}"`)))
	assert.Equal(t, 1, gen.calls)
}

func TestGenerateInvalidSpecLeavesModelUntouched(t *testing.T) {
	cfg, gen, broker, m := setup(t)
	beforeModel, _ := os.ReadFile(filepath.Join(cfg.ModelDir, "__init__.py"))
	beforeVSS, _ := os.ReadFile(cfg.VSSPath)

	err := m.Generate(context.Background(), []byte(`{"Vehicle": `))
	require.Error(t, err)
	assert.Equal(t, 0, gen.calls)
	assert.Equal(t, 0, broker.restarts)

	afterModel, _ := os.ReadFile(filepath.Join(cfg.ModelDir, "__init__.py"))
	afterVSS, _ := os.ReadFile(cfg.VSSPath)
	assert.Equal(t, beforeModel, afterModel)
	assert.Equal(t, beforeVSS, afterVSS)
}

func TestGenerateFailureLeavesModelUntouched(t *testing.T) {
	cfg, gen, broker, m := setup(t)
	gen.err = errors.New("strict mode: unknown datatype")
	beforeVSS, _ := os.ReadFile(cfg.VSSPath)

	err := m.Generate(context.Background(), []byte(`{"Vehicle":{"type":"branch"}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown datatype")
	assert.Equal(t, 0, broker.restarts)

	model, err := os.ReadFile(filepath.Join(cfg.ModelDir, "__init__.py"))
	require.NoError(t, err)
	assert.Equal(t, "# std model\n", string(model))
	afterVSS, _ := os.ReadFile(cfg.VSSPath)
	assert.Equal(t, beforeVSS, afterVSS)
}

func TestRevertRestoresDefaults(t *testing.T) {
	cfg, _, broker, m := setup(t)
	require.NoError(t, m.Generate(context.Background(), []byte(`{"Vehicle":{"type":"branch"}}`)))

	require.NoError(t, m.Revert(context.Background()))
	assert.Equal(t, 2, broker.restarts)

	model, err := os.ReadFile(filepath.Join(cfg.ModelDir, "__init__.py"))
	require.NoError(t, err)
	assert.Equal(t, "# std model\n", string(model))

	vss, err := os.ReadFile(cfg.VSSPath)
	require.NoError(t, err)
	assert.Equal(t, `{"Vehicle":{"type":"branch"}}`, string(vss))
}

func TestDisabledDatabrokerIsNotRestarted(t *testing.T) {
	cfg, gen, broker, _ := setup(t)
	cfg.DisableDatabroker = true
	m := NewManager(cfg, gen, broker)

	require.NoError(t, m.Generate(context.Background(), []byte(`{"Vehicle":{"type":"branch"}}`)))
	require.NoError(t, m.Revert(context.Background()))
	assert.Equal(t, 0, broker.restarts)
	assert.False(t, m.DatabrokerEnabled())
}

func TestFixUnits(t *testing.T) {
	tree := map[string]any{
		"Vehicle": map[string]any{
			"type": "branch",
			"children": map[string]any{
				"Speed": map[string]any{"type": "sensor", "unit": "km/h"},
				"Name":  map[string]any{"type": "attribute"},
				"Cabin": map[string]any{
					"type": "branch",
					"children": map[string]any{
						"Temp": map[string]any{"type": "sensor", "unit": "kelvinish"},
					},
				},
			},
		},
	}
	fixed := FixUnits(tree, map[string]bool{"km/h": true, "m": true})
	assert.Equal(t, []string{"Vehicle.Cabin.Temp", "Vehicle.Name"}, fixed)
}

func TestCommandGeneratorSubstitutes(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "args.txt")
	g := &CommandGenerator{Template: "echo {vss} {units} {target} {include} > " + shellQuote(out)}

	require.NoError(t, g.Generate(context.Background(), Request{
		VSSPath: "/tmp/a b.json", UnitsPath: "u.yaml", TargetDir: "/t", IncludeDir: "/i",
	}))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/a b.json u.yaml /t /i\n", string(data))

	bad := &CommandGenerator{Template: "echo nope >&2; exit 2"}
	err = bad.Generate(context.Background(), Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestDatabrokerProcessScansProc(t *testing.T) {
	proc := t.TempDir()
	for pid, cmdline := range map[string]string{
		"101": "/app/databroker\x00--vss\x00/home/dev/ws/vss.json\x00",
		"202": "python\x00mockprovider.py\x00",
		"self": "ignored",
	} {
		require.NoError(t, os.MkdirAll(filepath.Join(proc, pid), 0755))
		require.NoError(t, os.WriteFile(filepath.Join(proc, pid, "cmdline"), []byte(cmdline), 0644))
	}

	d := &DatabrokerProcess{Match: "/app/databroker", ProcDir: proc}
	pids, err := d.pids()
	require.NoError(t, err)
	assert.Equal(t, []int{101}, pids)
	assert.True(t, d.Running())

	d.Match = "/usr/bin/nothing"
	assert.False(t, d.Running())
}
