package supervisor

import (
	"context"
	"encoding/json"
	"log"

	"github.com/opensandbox/kitsync/internal/history"
	"github.com/opensandbox/kitsync/internal/metrics"
	"github.com/opensandbox/kitsync/pkg/types"
)

// pollTelemetry reads every subscriber's signals and pushes the values to
// the subscriber's session.
func (s *Supervisor) pollTelemetry(ctx context.Context) {
	subs := s.Subscribers.Snapshot()
	if len(subs) == 0 {
		return
	}
	if !s.Broker.Connected() {
		if err := s.Broker.Connect(ctx); err != nil {
			log.Printf("supervisor: databroker reconnect: %v", err)
		}
		return
	}

	for _, sub := range subs {
		if len(sub.Signals) == 0 {
			continue
		}
		values := make(map[string]any, len(sub.Signals))
		for _, path := range sub.Signals {
			v, err := s.Broker.CurrentValue(ctx, path)
			if err != nil {
				metrics.TelemetryReadsTotal.WithLabelValues("error").Inc()
				continue
			}
			metrics.TelemetryReadsTotal.WithLabelValues("ok").Inc()
			values[path] = v
		}
		s.emit(ctx, EventReply, types.Reply{
			KitID:       s.cfg.KitID,
			RequestFrom: sub.SessionID,
			Cmd:         "apis-value",
			Result:      values,
		})
	}
}

// sweep drops expired subscribers and terminates expired runners.
func (s *Supervisor) sweep(ctx context.Context) {
	now := s.now()

	for _, id := range s.Subscribers.SweepExpired(now, s.cfg.SubscriberTTL) {
		metrics.ExpiriesTotal.WithLabelValues("subscriber").Inc()
		log.Printf("supervisor: subscriber %s expired", id)
	}

	for _, rm := range s.Runners.SweepExpired(now, s.cfg.RunnerTTL) {
		metrics.ExpiriesTotal.WithLabelValues("runner").Inc()
		s.recordStop(rm, history.ReasonExpired)
		if rm.Err != nil {
			log.Printf("supervisor: expire runner %s: %v", rm.ID, rm.Err)
			continue
		}
		log.Printf("supervisor: runner %s (%s) expired", rm.ID, rm.AppName)
	}

	metrics.RunnersActive.WithLabelValues(s.cfg.KitID).Set(float64(s.Runners.Len()))
	metrics.SubscribersActive.WithLabelValues(s.cfg.KitID).Set(float64(s.Subscribers.Len()))
}

// reportState announces runtime changes. Nothing is sent while nobody is
// subscribed, or when the runner list and subscriber count are unchanged
// since the last report.
func (s *Supervisor) reportState(ctx context.Context) {
	subscribers := s.Subscribers.Len()
	if subscribers == 0 {
		return
	}

	runners := s.Runners.Snapshot()
	data, err := json.Marshal(runnerSignature(runners))
	if err != nil {
		log.Printf("supervisor: encode runner list: %v", err)
		return
	}
	if s.reported && string(data) == s.lastRunners && subscribers == s.lastSubscribers {
		return
	}
	s.reported = true
	s.lastRunners = string(data)
	s.lastSubscribers = subscribers

	counts := types.RuntimeCount{Runners: len(runners), Subscribers: subscribers}
	s.emit(ctx, EventReportState, types.RuntimeSummary{KitID: s.cfg.KitID, Data: counts})
	metrics.StateReportsTotal.Inc()
	if s.Mirror != nil {
		s.Mirror.PublishRuntimeState(counts, runners)
	}

	summaries := s.Subscribers.Summaries(s.now(), s.cfg.SubscriberTTL)
	for _, sub := range s.Subscribers.Snapshot() {
		s.emit(ctx, EventReply, types.Reply{
			KitID:       s.cfg.KitID,
			RequestFrom: sub.SessionID,
			Cmd:         "report-runtime-state",
			Data: types.RuntimeReport{
				Runners:     runners,
				Subscribers: summaries,
				APIs:        sub.Signals,
			},
		})
	}
}

// runnerSignature is the part of the runner list that triggers a report.
func runnerSignature(runners []types.RunnerInfo) []types.RunnerInfo {
	out := make([]types.RunnerInfo, len(runners))
	for i, r := range runners {
		out[i] = types.RunnerInfo{ID: r.ID, AppName: r.AppName, RequestFrom: r.RequestFrom, From: r.From}
	}
	return out
}
