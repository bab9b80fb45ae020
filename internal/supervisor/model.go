package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/opensandbox/kitsync/internal/databroker"
	"github.com/opensandbox/kitsync/internal/metrics"
	"github.com/opensandbox/kitsync/pkg/types"
)

var errBrokerNotRunning = errors.New("databroker is not running")

func (s *Supervisor) generateModel(ctx context.Context, cmd *types.Command) int {
	s.reply(ctx, cmd.RequestFrom, cmd.Cmd, "Start to rebuild vehicle model...\r\n", nil)

	if err := s.installModel(ctx, cmd.Data); err != nil {
		log.Printf("supervisor: generate vehicle model: %v", err)
		metrics.ModelGenerationsTotal.WithLabelValues("failed").Inc()
		s.reply(ctx, cmd.RequestFrom, cmd.Cmd,
			fmt.Sprintf("Error: generate_vehicle_model Failed: %v\r\nRevert back to default model", err), nil)

		if err := s.Models.Revert(ctx); err != nil {
			log.Printf("supervisor: revert vehicle model: %v", err)
		}
		if err := s.Provider.Start(ctx); err != nil {
			log.Printf("supervisor: start mock provider: %v", err)
		}
		return StatusOK
	}

	metrics.ModelGenerationsTotal.WithLabelValues("ok").Inc()
	s.reply(ctx, cmd.RequestFrom, cmd.Cmd, "Generate new model Successful", nil)
	return StatusOK
}

// installModel stops the provider, generates the model, waits for the
// databroker and starts the provider on an empty mock store.
func (s *Supervisor) installModel(ctx context.Context, spec []byte) error {
	if err := s.Provider.Stop(ctx); err != nil {
		log.Printf("supervisor: stop mock provider: %v", err)
	}
	if err := s.Models.Generate(ctx, spec); err != nil {
		return err
	}

	if s.Models.DatabrokerEnabled() {
		if err := sleep(ctx, s.cfg.DatabrokerSettle); err != nil {
			return err
		}
		if s.BrokerProcess != nil && !s.BrokerProcess.Running() {
			return errBrokerNotRunning
		}
		if err := databroker.WaitUntilReady(ctx, s.Broker, s.cfg.ReadyAttempts, s.cfg.ReadyInterval); err != nil {
			return err
		}
	}

	if err := s.Signals.Store().Replace([]types.MockSignal{}); err != nil {
		return fmt.Errorf("reset mock signals: %w", err)
	}
	if err := s.Provider.Start(ctx); err != nil {
		return fmt.Errorf("start mock provider: %w", err)
	}
	return nil
}

func (s *Supervisor) revertModel(ctx context.Context, cmd *types.Command) int {
	s.reply(ctx, cmd.RequestFrom, cmd.Cmd, "Start to revert to default vehicle model...\r\n", nil)

	if err := s.Provider.Stop(ctx); err != nil {
		log.Printf("supervisor: stop mock provider: %v", err)
	}
	revertErr := s.Models.Revert(ctx)
	if err := s.Provider.Start(ctx); err != nil {
		log.Printf("supervisor: start mock provider: %v", err)
	}
	if revertErr != nil {
		log.Printf("supervisor: revert vehicle model: %v", revertErr)
		s.reply(ctx, cmd.RequestFrom, cmd.Cmd, "Error: revert_vehicle_model Failed: "+revertErr.Error()+"\r\n", nil)
		return StatusOK
	}
	if s.Models.DatabrokerEnabled() {
		_ = sleep(ctx, s.cfg.DatabrokerSettle)
	}

	s.reply(ctx, cmd.RequestFrom, cmd.Cmd, "Revert to default Vehicle Model Successful\r\n", nil)
	return StatusOK
}
