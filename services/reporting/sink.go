// Package reporting publishes finished batch results to logs, storage,
// message brokers and live websocket subscribers.
package reporting

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"trading_scheduler/services/trading"
)

// Sink receives finished batch results
type Sink interface {
	Publish(ctx context.Context, r trading.Result) error
}

type multi []Sink

// Multi publishes to every sink and joins their errors. Nil sinks are skipped.
func Multi(sinks ...Sink) Sink {
	m := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	return m
}

func (m multi) Publish(ctx context.Context, r trading.Result) error {
	var errs []error
	for i, s := range m {
		if err := s.Publish(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// LogSink writes one line per failed entity
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.With(zap.String("component", "reporting"))}
}

func (s *LogSink) Publish(_ context.Context, r trading.Result) error {
	for _, o := range r.Outcomes {
		if o.Success {
			continue
		}
		s.logger.Warn("entity outcome",
			zap.String("job", r.JobID),
			zap.String("run_id", r.RunID),
			zap.Uint("entity_id", o.EntityID),
			zap.String("error", o.Error),
		)
	}
	return nil
}
