package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "go-upload-notifier"

// BroadcastMetrics are the instruments recorded per broadcast.
type BroadcastMetrics struct {
	Delivered metric.Int64Counter
	Pruned    metric.Int64Counter
	Failed    metric.Int64Counter
	Duration  metric.Float64Histogram
}

// NewBroadcastMetrics creates the instruments on mp, or on the global
// provider when mp is nil.
func NewBroadcastMetrics(mp metric.MeterProvider) (*BroadcastMetrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)
	m := &BroadcastMetrics{}
	var err error

	m.Delivered, err = meter.Int64Counter("notifier.broadcast.delivered",
		metric.WithDescription("Notifications delivered to a connection"))
	if err != nil {
		return nil, err
	}

	m.Pruned, err = meter.Int64Counter("notifier.broadcast.pruned",
		metric.WithDescription("Stale connections removed during broadcast"))
	if err != nil {
		return nil, err
	}

	m.Failed, err = meter.Int64Counter("notifier.broadcast.failed",
		metric.WithDescription("Deliveries neither completed nor pruned"))
	if err != nil {
		return nil, err
	}

	m.Duration, err = meter.Float64Histogram("notifier.broadcast.duration_seconds",
		metric.WithDescription("Broadcast duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// ResizeMetrics count resize outcomes.
type ResizeMetrics struct {
	Derived metric.Int64Counter
	Skipped metric.Int64Counter
}

func NewResizeMetrics(mp metric.MeterProvider) (*ResizeMetrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)
	m := &ResizeMetrics{}
	var err error

	m.Derived, err = meter.Int64Counter("notifier.resize.derived",
		metric.WithDescription("Thumbnails written"))
	if err != nil {
		return nil, err
	}

	m.Skipped, err = meter.Int64Counter("notifier.resize.skipped",
		metric.WithDescription("Events skipped as derived objects or duplicates"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
