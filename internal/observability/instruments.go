package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Instruments are the counters recorded by the generation core.
type Instruments struct {
	Dispatches     metric.Int64Counter
	Callbacks      metric.Int64Counter
	Refunds        metric.Int64Counter
	StitchTriggers metric.Int64Counter
	LedgerHalts    metric.Int64Counter
}

// NewInstruments creates the instruments on meter.
func NewInstruments(meter metric.Meter) (*Instruments, error) {
	var (
		in  Instruments
		err error
	)
	if in.Dispatches, err = meter.Int64Counter("veostudio.dispatch.total",
		metric.WithDescription("Scene dispatch attempts by outcome")); err != nil {
		return nil, err
	}
	if in.Callbacks, err = meter.Int64Counter("veostudio.callback.total",
		metric.WithDescription("Worker callbacks by outcome")); err != nil {
		return nil, err
	}
	if in.Refunds, err = meter.Int64Counter("veostudio.refund.total",
		metric.WithDescription("Refunds issued by reason")); err != nil {
		return nil, err
	}
	if in.StitchTriggers, err = meter.Int64Counter("veostudio.stitch.triggered.total",
		metric.WithDescription("Projects moved to stitching")); err != nil {
		return nil, err
	}
	if in.LedgerHalts, err = meter.Int64Counter("veostudio.ledger.halted.total",
		metric.WithDescription("Accounts halted after a failed ledger check")); err != nil {
		return nil, err
	}
	return &in, nil
}

// NopInstruments records nothing.
func NopInstruments() *Instruments {
	in, _ := NewInstruments(noop.NewMeterProvider().Meter("noop"))
	return in
}

// Outcome is shorthand for an outcome attribute.
func Outcome(v string) metric.AddOption {
	return metric.WithAttributes(attribute.String("outcome", v))
}

// RegisterQueueDepth exposes the number of active queue entries as a gauge.
func RegisterQueueDepth(meter metric.Meter, depth func(ctx context.Context) (int64, error)) error {
	_, err := meter.Int64ObservableGauge("veostudio.queue.depth",
		metric.WithDescription("Active generation queue entries"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			n, err := depth(ctx)
			if err != nil {
				return nil // a failed count must not break the scrape
			}
			o.Observe(n)
			return nil
		}),
	)
	return err
}
