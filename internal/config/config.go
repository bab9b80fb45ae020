package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the kitsync supervisor.
type Config struct {
	// Kit server
	ServerURL     string // Socket.IO endpoint of the kit server
	RuntimePrefix string
	RuntimeName   string
	KitID         string // RuntimePrefix + RuntimeName
	ReconnectWait time.Duration

	// Databroker
	DatabrokerAddr     string
	DisableDatabroker  bool
	DatabrokerCmd      string // command line used to (re)start the databroker
	DatabrokerMatch    string // substring matched against running command lines
	ReadyAttempts      int
	ReadyInterval      time.Duration
	DatabrokerSettle   time.Duration // pause between restart and readiness probing

	// Workspace
	WorkDir     string // where main.py and app/ are written
	BinDir      string // prebuilt binaries for run_bin_app
	PythonBin   string
	PipBin      string
	PackagesDir string // pip --target directory
	BinSettle   time.Duration

	// Mock provider
	MockSignalsPath        string
	MockSignalsDefaultPath string
	MockProviderCmd        string
	MockProviderPIDFile    string
	MockRestartDelay       time.Duration
	MockIdleThreshold      float64 // seconds, forwarded to the provider
	MockBaseSleep          float64
	MockIdleSleep          float64

	// Vehicle model
	VSSPath        string
	DefaultVSSPath string
	UnitsPath      string
	VSSIncludeDir  string
	ModelDir       string
	StdModelDir    string
	ModelBuildDir  string
	ModelGenerator string

	// Loops
	SubscriberTTL     time.Duration
	RunnerTTL         time.Duration
	TelemetryInterval time.Duration
	SweepInterval     time.Duration
	ReportInterval    time.Duration

	// Deploy simulation step delays
	DeployStepDelays []time.Duration

	// Local admin HTTP + metrics
	HTTPAddr string
	APIKey   string // required on admin routes when set

	// Run history (SQLite). Empty disables.
	HistoryDB string

	// Fleet presence, both optional
	NATSURL  string
	RedisURL string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	workDir := envOrDefault("KITSYNC_WORK_DIR", "/home/dev/ws")

	cfg := &Config{
		ServerURL:     envOrDefault("SYNCER_SERVER_URL", "https://kit.digitalauto.tech"),
		RuntimePrefix: envOrDefault("RUNTIME_PREFIX", "Runtime-"),
		RuntimeName:   envOrDefault("RUNTIME_NAME", "MyRuntime"),

		DatabrokerAddr:    envOrDefault("KITSYNC_DATABROKER_ADDR", "127.0.0.1:55555"),
		DisableDatabroker: os.Getenv("DISABLE_DATABROKER") != "",
		DatabrokerCmd:     envOrDefault("KITSYNC_DATABROKER_CMD", "/app/databroker --vss /home/dev/ws/vss.json --insecure"),
		DatabrokerMatch:   envOrDefault("KITSYNC_DATABROKER_MATCH", "/app/databroker"),
		ReadyAttempts:     envOrDefaultInt("KITSYNC_READY_ATTEMPTS", 10),

		WorkDir:     workDir,
		BinDir:      envOrDefault("KITSYNC_BIN_DIR", "/home/dev/output"),
		PythonBin:   envOrDefault("KITSYNC_PYTHON", "python"),
		PipBin:      envOrDefault("KITSYNC_PIP", "pip"),
		PackagesDir: envOrDefault("KITSYNC_PACKAGES_DIR", "/home/dev/python-packages"),

		MockSignalsPath:        envOrDefault("KITSYNC_MOCK_SIGNALS", filepath.Join(workDir, "mock", "signals.json")),
		MockSignalsDefaultPath: envOrDefault("KITSYNC_MOCK_SIGNALS_DEFAULT", filepath.Join(workDir, "mock", "default_signals.json")),
		MockProviderCmd:        envOrDefault("KITSYNC_MOCK_PROVIDER_CMD", "python "+filepath.Join(workDir, "mock", "mockprovider.py")),
		MockProviderPIDFile:    envOrDefault("KITSYNC_MOCK_PROVIDER_PID", "/home/dev/mockprovider.pid"),

		VSSPath:        envOrDefault("KITSYNC_VSS_PATH", filepath.Join(workDir, "vss.json")),
		DefaultVSSPath: envOrDefault("KITSYNC_DEFAULT_VSS_PATH", filepath.Join(workDir, "default_vss.json")),
		UnitsPath:      envOrDefault("KITSYNC_UNITS_PATH", "/home/dev/python-packages/vehicle_signal_specification/spec/units.yaml"),
		VSSIncludeDir:  envOrDefault("KITSYNC_VSS_INCLUDE_DIR", "/home/dev/python-packages/vehicle_signal_specification/spec"),
		ModelDir:       envOrDefault("KITSYNC_MODEL_DIR", "/home/dev/python-packages/vehicle"),
		StdModelDir:    envOrDefault("KITSYNC_STD_MODEL_DIR", "/home/dev/python-packages/std_vehicle"),
		ModelBuildDir:  envOrDefault("KITSYNC_MODEL_BUILD_DIR", filepath.Join(workDir, "gen_model")),
		ModelGenerator: envOrDefault("KITSYNC_MODEL_GENERATOR", DefaultModelGenerator),

		HTTPAddr:  envOrDefault("KITSYNC_HTTP_ADDR", "127.0.0.1:9091"),
		APIKey:    os.Getenv("KITSYNC_API_KEY"),
		HistoryDB: envOrDefault("KITSYNC_HISTORY_DB", filepath.Join(workDir, ".kitsync", "history.db")),
		NATSURL:   os.Getenv("KITSYNC_NATS_URL"),
		RedisURL:  os.Getenv("KITSYNC_REDIS_URL"),
	}
	cfg.KitID = cfg.RuntimePrefix + cfg.RuntimeName

	durations := []struct {
		key      string
		dst      *time.Duration
		fallback time.Duration
	}{
		{"KITSYNC_RECONNECT_WAIT", &cfg.ReconnectWait, 2 * time.Second},
		{"KITSYNC_READY_INTERVAL", &cfg.ReadyInterval, 500 * time.Millisecond},
		{"KITSYNC_DATABROKER_SETTLE", &cfg.DatabrokerSettle, 500 * time.Millisecond},
		{"KITSYNC_BIN_SETTLE", &cfg.BinSettle, 2 * time.Second},
		{"KITSYNC_MOCK_RESTART_DELAY", &cfg.MockRestartDelay, 500 * time.Millisecond},
		{"KITSYNC_SUBSCRIBER_TTL", &cfg.SubscriberTTL, 60 * time.Second},
		{"KITSYNC_RUNNER_TTL", &cfg.RunnerTTL, 180 * time.Second},
		{"KITSYNC_TELEMETRY_INTERVAL", &cfg.TelemetryInterval, 300 * time.Millisecond},
		{"KITSYNC_SWEEP_INTERVAL", &cfg.SweepInterval, time.Second},
		{"KITSYNC_REPORT_INTERVAL", &cfg.ReportInterval, 5 * time.Second},
	}
	for _, d := range durations {
		v, err := envOrDefaultDuration(d.key, d.fallback)
		if err != nil {
			return nil, err
		}
		*d.dst = v
	}

	floats := []struct {
		key      string
		dst      *float64
		fallback float64
	}{
		{"MOCK_IDLE_THRESHOLD", &cfg.MockIdleThreshold, 30.0},
		{"MOCK_BASE_SLEEP", &cfg.MockBaseSleep, 0.1},
		{"MOCK_IDLE_SLEEP", &cfg.MockIdleSleep, 1.0},
	}
	for _, f := range floats {
		v, err := envOrDefaultFloat(f.key, f.fallback)
		if err != nil {
			return nil, err
		}
		*f.dst = v
	}

	steps, err := parseDelays(envOrDefault("KITSYNC_DEPLOY_STEP_DELAYS", "1s,3s,3s,3s,3s"))
	if err != nil {
		return nil, fmt.Errorf("invalid KITSYNC_DEPLOY_STEP_DELAYS: %w", err)
	}
	cfg.DeployStepDelays = steps

	if cfg.ReadyAttempts < 1 {
		return nil, fmt.Errorf("invalid KITSYNC_READY_ATTEMPTS %d: must be at least 1", cfg.ReadyAttempts)
	}

	return cfg, nil
}

// DefaultModelGenerator invokes the velocitas model generator. Placeholders
// {vss}, {units}, {target} and {include} are substituted per run.
const DefaultModelGenerator = `python -c "import sys; from velocitas.model_generator import generate_model; generate_model(sys.argv[1], [sys.argv[2]], 'python', sys.argv[3], 'vehicle', True, sys.argv[4])" {vss} {units} {target} {include}`

// MockProviderEnv returns the environment entries forwarded to the mock provider.
func (c *Config) MockProviderEnv() []string {
	return []string{
		"MOCK_IDLE_THRESHOLD=" + strconv.FormatFloat(c.MockIdleThreshold, 'f', -1, 64),
		"MOCK_BASE_SLEEP=" + strconv.FormatFloat(c.MockBaseSleep, 'f', -1, 64),
		"MOCK_IDLE_SLEEP=" + strconv.FormatFloat(c.MockIdleSleep, 'f', -1, 64),
		"MOCK_ADDR=" + c.DatabrokerAddr,
		"VDB_ADDRESS=" + c.DatabrokerAddr,
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return f, nil
}

// envOrDefaultDuration accepts Go duration strings ("1.5s") or bare seconds ("60").
func envOrDefaultDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := parseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}

func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

func parseDelays(v string) ([]time.Duration, error) {
	var out []time.Duration
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := parseDuration(part)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
