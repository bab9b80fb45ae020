package supervisor

import (
	"context"
	"encoding/json"
	"log"

	"github.com/opensandbox/kitsync/internal/databroker"
	"github.com/opensandbox/kitsync/pkg/types"
)

func (s *Supervisor) listMockSignals(ctx context.Context, cmd *types.Command) int {
	entries, err := s.Signals.Store().Load()
	if err != nil {
		log.Printf("supervisor: list mock signals: %v", err)
		s.reply(ctx, cmd.RequestFrom, cmd.Cmd, "Error: "+err.Error(), []types.MockSignal{})
		return StatusOK
	}
	s.reply(ctx, cmd.RequestFrom, cmd.Cmd, "Successful", entries)
	return StatusOK
}

func (s *Supervisor) setMockSignals(ctx context.Context, cmd *types.Command) int {
	var entries []types.MockSignal
	if err := json.Unmarshal(cmd.Data, &entries); err != nil {
		s.reply(ctx, cmd.RequestFrom, cmd.Cmd, "Error: invalid mock signal list: "+err.Error(), nil)
		return StatusFailed
	}

	_, out, err := s.Signals.Replace(ctx, entries)
	logOutcome("replace", out, err)
	return s.replyStore(ctx, cmd, err)
}

func (s *Supervisor) resetSignalsValue(ctx context.Context, cmd *types.Command) int {
	defaults, err := s.Signals.Store().Defaults()
	if err != nil {
		log.Printf("supervisor: load default mock signals: %v", err)
		s.reply(ctx, cmd.RequestFrom, cmd.Cmd, "Error: "+err.Error(), nil)
		return StatusFailed
	}

	stored, out, err := s.Signals.Replace(ctx, defaults)
	logOutcome("reset", out, err)

	values := make(map[string]any, len(stored))
	for _, e := range stored {
		values[e.Signal] = e.Value
	}
	s.writeValues(ctx, values)
	return s.replyStore(ctx, cmd, err)
}

// replyStore answers with the current store contents, and with the error
// text instead of "Successful" when the replace failed.
func (s *Supervisor) replyStore(ctx context.Context, cmd *types.Command, replaceErr error) int {
	entries, err := s.Signals.Store().Load()
	if err != nil {
		log.Printf("supervisor: read mock signals: %v", err)
		entries = []types.MockSignal{}
	}
	if replaceErr != nil {
		s.reply(ctx, cmd.RequestFrom, cmd.Cmd, "Error: "+replaceErr.Error(), entries)
		return StatusFailed
	}
	s.reply(ctx, cmd.RequestFrom, cmd.Cmd, "Successful", entries)
	return StatusOK
}

func (s *Supervisor) writeSignalsValue(ctx context.Context, cmd *types.Command) int {
	var values map[string]any
	if err := json.Unmarshal(cmd.Data, &values); err != nil {
		s.reply(ctx, cmd.RequestFrom, cmd.Cmd, "Error: invalid signal values: "+err.Error(), map[string]any{})
		return StatusFailed
	}
	s.writeValues(ctx, values)
	s.reply(ctx, cmd.RequestFrom, cmd.Cmd, "Successful", map[string]any{})
	return StatusOK
}

// writeValues sets actuator targets and sensor values. Per-path failures are
// logged and do not stop the remaining writes.
func (s *Supervisor) writeValues(ctx context.Context, values map[string]any) {
	for path, value := range values {
		md, err := s.Broker.Metadata(ctx, path)
		if err != nil {
			log.Printf("supervisor: write %s: metadata: %v", path, err)
			continue
		}

		switch md.EntryType {
		case databroker.EntryTypeActuator:
			err = s.Broker.SetTargetValue(ctx, path, md.DataType, value)
		case databroker.EntryTypeSensor:
			err = s.Broker.SetCurrentValue(ctx, path, md.DataType, value)
		default:
			log.Printf("supervisor: write %s: %s is neither actuator nor sensor", path, md.EntryType)
			continue
		}
		if err != nil {
			log.Printf("supervisor: write %s: %v", path, err)
		}
	}
}
