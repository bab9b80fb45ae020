package cmd

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensandbox/kitsync/internal/api"
	"github.com/opensandbox/kitsync/internal/databroker"
	"github.com/opensandbox/kitsync/internal/fleet"
	"github.com/opensandbox/kitsync/internal/history"
	"github.com/opensandbox/kitsync/internal/kitchannel"
	"github.com/opensandbox/kitsync/internal/metrics"
	"github.com/opensandbox/kitsync/internal/mockprovider"
	"github.com/opensandbox/kitsync/internal/mocksignal"
	"github.com/opensandbox/kitsync/internal/pkgmgr"
	"github.com/opensandbox/kitsync/internal/runner"
	"github.com/opensandbox/kitsync/internal/supervisor"
	"github.com/opensandbox/kitsync/internal/vehiclemodel"
	"github.com/opensandbox/kitsync/pkg/types"
)

func runSupervisor(cmd *cobra.Command, args []string) error {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	log.Printf("kitsync: starting %s (kit=%s, server=%s)", Version, cfg.KitID, cfg.ServerURL)

	if err := os.MkdirAll(cfg.WorkDir, 0755); err != nil {
		log.Fatalf("failed to create work dir: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker, err := databroker.NewGRPCClient(cfg.DatabrokerAddr)
	if err != nil {
		log.Fatalf("failed to create databroker client: %v", err)
	}
	defer broker.Close()
	if err := broker.Connect(ctx); err != nil {
		log.Printf("kitsync: databroker at %s not reachable yet: %v", cfg.DatabrokerAddr, err)
	}

	provider := mockprovider.NewController(mockprovider.Config{
		Command:      cfg.MockProviderCmd,
		Dir:          filepath.Dir(cfg.MockSignalsPath),
		PIDFile:      cfg.MockProviderPIDFile,
		Env:          cfg.MockProviderEnv(),
		RestartDelay: cfg.MockRestartDelay,
	})
	provider.OnRestart = func() { metrics.MockProviderRestartsTotal.Inc() }

	store := mocksignal.NewStore(cfg.MockSignalsPath, cfg.MockSignalsDefaultPath)
	signals := mocksignal.NewSynchronizer(store, broker, provider)

	brokerProc := &vehiclemodel.DatabrokerProcess{Command: cfg.DatabrokerCmd, Match: cfg.DatabrokerMatch}
	models := vehiclemodel.NewManager(vehiclemodel.Config{
		VSSPath:           cfg.VSSPath,
		DefaultVSSPath:    cfg.DefaultVSSPath,
		UnitsPath:         cfg.UnitsPath,
		IncludeDir:        cfg.VSSIncludeDir,
		ModelDir:          cfg.ModelDir,
		StdModelDir:       cfg.StdModelDir,
		BuildDir:          cfg.ModelBuildDir,
		DisableDatabroker: cfg.DisableDatabroker,
	}, &vehiclemodel.CommandGenerator{Template: cfg.ModelGenerator}, brokerProc)

	deps := supervisor.Deps{
		Broker:        broker,
		Runners:       runner.NewRegistry(),
		Signals:       signals,
		Provider:      provider,
		Models:        models,
		BrokerProcess: brokerProc,
		Packages:      &pkgmgr.Manager{Pip: cfg.PipBin, TargetDir: cfg.PackagesDir},
		Backend:       &runner.ExecBackend{},
	}

	// Run history (optional)
	var runs *history.DB
	if cfg.HistoryDB != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.HistoryDB), 0755); err != nil {
			log.Printf("kitsync: run history disabled: %v", err)
		} else if runs, err = history.Open(cfg.HistoryDB); err != nil {
			log.Printf("kitsync: run history disabled: %v", err)
		} else {
			defer runs.Close()
			deps.History = runs
			log.Printf("kitsync: run history at %s", cfg.HistoryDB)
		}
	}

	// NATS runtime-state mirror (optional)
	if cfg.NATSURL != "" {
		pub, err := fleet.NewPublisher(cfg.NATSURL, cfg.KitID)
		if err != nil {
			log.Printf("kitsync: NATS not available: %v (continuing without state mirror)", err)
		} else {
			defer pub.Close()
			deps.Mirror = pub
			log.Printf("kitsync: mirroring runtime state to NATS subject %s", fleet.Subject(cfg.KitID))
		}
	}

	sup := supervisor.New(cfg, deps)

	channel := kitchannel.New(kitchannel.Config{
		ServerURL:      cfg.ServerURL,
		ReconnectDelay: cfg.ReconnectWait,
		OnConnect:      sup.Register,
		OnDisconnect: func(err error) {
			metrics.ChannelConnected.Set(0)
			log.Printf("kitsync: disconnected from kit server: %v", err)
		},
		Handler: func(ctx context.Context, event string, data json.RawMessage) {
			sup.Dispatch(ctx, event, data)
		},
	})
	sup.Emitter = channel

	// Redis presence heartbeat (optional)
	if cfg.RedisURL != "" {
		hb, err := fleet.NewHeartbeat(cfg.RedisURL, cfg.KitID, cfg.RuntimeName)
		if err != nil {
			log.Printf("kitsync: Redis heartbeat not available: %v", err)
		} else {
			hb.Start(func() (types.RuntimeCount, bool) {
				return sup.RuntimeCount(), channel.Connected()
			})
			defer hb.Stop()
		}
	}

	if err := provider.Restart(ctx); err != nil {
		log.Printf("kitsync: mock provider not started: %v", err)
	}

	apiOpts := api.Options{
		KitID:   cfg.KitID,
		APIKey:  cfg.APIKey,
		Runtime: sup,
		Signals: signals,
		Channel: channel,
		Broker:  broker,
	}
	if runs != nil {
		apiOpts.Runs = runs
	}
	apiServer := api.NewServer(apiOpts)
	go func() {
		log.Printf("kitsync: admin API on %s", cfg.HTTPAddr)
		if err := apiServer.Start(cfg.HTTPAddr); err != nil && err != http.ErrServerClosed {
			log.Printf("kitsync: admin API error: %v", err)
		}
	}()

	supDone := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(supDone)
	}()
	go func() {
		if err := channel.Run(ctx); err != nil {
			log.Printf("kitsync: kit channel stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Printf("kitsync: received %s, shutting down...", sig)

	cancel()
	<-supDone
	sup.StopAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("kitsync: error closing admin API: %v", err)
	}
	if err := provider.Stop(shutdownCtx); err != nil {
		log.Printf("kitsync: error stopping mock provider: %v", err)
	}

	log.Println("kitsync: shutdown complete")
	return nil
}
