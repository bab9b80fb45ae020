// Package vehiclemodel regenerates the Python vehicle accessor model from a
// VSS document and keeps the databroker catalog in step with it.
package vehiclemodel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// Config locates the model and VSS files.
type Config struct {
	VSSPath        string // live VSS document loaded by the databroker
	DefaultVSSPath string
	UnitsPath      string // VSS units.yaml
	IncludeDir     string
	ModelDir       string // installed accessor package
	StdModelDir    string // bundled default accessor package
	BuildDir       string // scratch space for generation

	DisableDatabroker bool
}

// Broker restarts the databroker so it reloads the VSS document.
type Broker interface {
	Restart(ctx context.Context) error
}

// Manager serializes model generation and revert.
type Manager struct {
	cfg    Config
	gen    Generator
	broker Broker

	mu sync.Mutex
}

// NewManager creates a model manager.
func NewManager(cfg Config, gen Generator, broker Broker) *Manager {
	return &Manager{cfg: cfg, gen: gen, broker: broker}
}

// Generate builds a new accessor model from spec, a VSS JSON tree. Nothing
// outside BuildDir is modified until generation has succeeded.
func (m *Manager) Generate(ctx context.Context, spec []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tree, err := decodeSpec(spec)
	if err != nil {
		return err
	}
	units, err := LoadUnits(m.cfg.UnitsPath)
	if err != nil {
		return err
	}
	for _, path := range FixUnits(tree, units) {
		log.Printf("vehiclemodel: set default unit %q for signal %s", DefaultUnit, path)
	}

	if err := os.RemoveAll(m.cfg.BuildDir); err != nil {
		return fmt.Errorf("clean build dir: %w", err)
	}
	if err := os.MkdirAll(m.cfg.BuildDir, 0755); err != nil {
		return fmt.Errorf("create build dir: %w", err)
	}

	staged := filepath.Join(m.cfg.BuildDir, "vss.json")
	data, err := json.MarshalIndent(tree, "", "    ")
	if err != nil {
		return fmt.Errorf("encode vss: %w", err)
	}
	if err := os.WriteFile(staged, data, 0644); err != nil {
		return fmt.Errorf("write vss: %w", err)
	}

	if err := m.gen.Generate(ctx, Request{
		VSSPath:    staged,
		UnitsPath:  m.cfg.UnitsPath,
		TargetDir:  m.cfg.BuildDir,
		IncludeDir: m.cfg.IncludeDir,
	}); err != nil {
		return fmt.Errorf("generate model: %w", err)
	}

	built := filepath.Join(m.cfg.BuildDir, "vehicle")
	if _, err := os.Stat(filepath.Join(built, "__init__.py")); err != nil {
		return fmt.Errorf("generator produced no model: %w", err)
	}
	if err := correctRootClass(filepath.Join(built, "__init__.py")); err != nil {
		return err
	}

	if err := os.RemoveAll(m.cfg.ModelDir); err != nil {
		return fmt.Errorf("remove current model: %w", err)
	}
	if err := moveDir(built, m.cfg.ModelDir); err != nil {
		return fmt.Errorf("install model: %w", err)
	}
	if err := copyFile(m.cfg.VSSPath, staged); err != nil {
		return fmt.Errorf("install vss: %w", err)
	}
	log.Printf("vehiclemodel: installed generated model into %s", m.cfg.ModelDir)

	return m.restartBroker(ctx)
}

// Revert reinstalls the bundled default model and VSS document.
func (m *Manager) Revert(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.RemoveAll(m.cfg.ModelDir); err != nil {
		return fmt.Errorf("remove current model: %w", err)
	}
	if err := copyDir(m.cfg.ModelDir, m.cfg.StdModelDir); err != nil {
		return fmt.Errorf("restore default model: %w", err)
	}
	if err := copyFile(m.cfg.VSSPath, m.cfg.DefaultVSSPath); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("restore default vss: %w", err)
		}
		log.Printf("vehiclemodel: default vss %s not found, keeping current", m.cfg.DefaultVSSPath)
	}
	log.Printf("vehiclemodel: reverted to standard vehicle model")

	return m.restartBroker(ctx)
}

// DatabrokerEnabled reports whether the manager restarts the databroker.
func (m *Manager) DatabrokerEnabled() bool { return !m.cfg.DisableDatabroker }

func (m *Manager) restartBroker(ctx context.Context) error {
	if m.cfg.DisableDatabroker || m.broker == nil {
		return nil
	}
	if err := m.broker.Restart(ctx); err != nil {
		return fmt.Errorf("restart databroker: %w", err)
	}
	return nil
}

// decodeSpec accepts a JSON object or a JSON string holding one.
func decodeSpec(spec []byte) (map[string]any, error) {
	var text string
	if err := json.Unmarshal(spec, &text); err == nil {
		spec = []byte(text)
	}
	var tree map[string]any
	if err := json.Unmarshal(spec, &tree); err != nil {
		return nil, fmt.Errorf("invalid vehicle model: %w", err)
	}
	if len(tree) == 0 {
		return nil, errors.New("invalid vehicle model: empty specification")
	}
	return tree, nil
}

var classPattern = regexp.MustCompile(`class\s+(\w+)\s*(\(.*\))?:`)

// correctRootClass makes the module-level instance use the first class the
// generator emitted.
func correctRootClass(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read model: %w", err)
	}
	match := classPattern.FindSubmatch(data)
	if match == nil {
		log.Printf("vehiclemodel: no class definitions in %s", path)
		return nil
	}
	name := string(match[1])
	fixed := strings.ReplaceAll(string(data), `vehicle = Vehicle("Vehicle")`, fmt.Sprintf(`vehicle = %s("%s")`, name, name))
	if err := os.WriteFile(path, []byte(fixed), 0644); err != nil {
		return fmt.Errorf("write model: %w", err)
	}
	return nil
}
