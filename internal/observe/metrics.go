// Package observe holds the OpenTelemetry instruments of the engine.
//
// Production code exports them through the Prometheus bridge set up by
// [InitProvider]; tests build [Metrics] on top of a manual reader.
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/oshokin/sos-guard/internal/domain/sos"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/oshokin/sos-guard"

// Metrics holds every instrument. All fields are safe for concurrent use.
type Metrics struct {
	// TriggersAdmitted counts requests that started a session, by source.
	TriggersAdmitted metric.Int64Counter
	// TriggersDropped counts requests rejected because a session was active, by source.
	TriggersDropped metric.Int64Counter
	// AlarmActive is 1 while a session is running.
	AlarmActive metric.Int64UpDownCounter
	// AlarmDuration records how long sessions lasted, in seconds.
	AlarmDuration metric.Float64Histogram
	// PhotosCaptured counts evidence photos written.
	PhotosCaptured metric.Int64Counter
	// CaptureFailures counts failed capture attempts, by kind (photo, recording).
	CaptureFailures metric.Int64Counter
	// AlertsSent counts delivered alert messages.
	AlertsSent metric.Int64Counter
	// AlertsFailed counts failed alert messages.
	AlertsFailed metric.Int64Counter
	// Detections counts confirmed detector decisions, by source.
	Detections metric.Int64Counter
}

var durationBuckets = []float64{1, 5, 15, 30, 60, 120, 300, 600}

// NewMetrics creates the instruments on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := new(Metrics)

	var err error

	if met.TriggersAdmitted, err = m.Int64Counter("sos.triggers.admitted",
		metric.WithDescription("Trigger requests that started an alarm session."),
	); err != nil {
		return nil, err
	}

	if met.TriggersDropped, err = m.Int64Counter("sos.triggers.dropped",
		metric.WithDescription("Trigger requests dropped because an alarm was active."),
	); err != nil {
		return nil, err
	}

	if met.AlarmActive, err = m.Int64UpDownCounter("sos.alarm.active",
		metric.WithDescription("Whether an alarm session is running."),
	); err != nil {
		return nil, err
	}

	if met.AlarmDuration, err = m.Float64Histogram("sos.alarm.duration",
		metric.WithDescription("Duration of alarm sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	); err != nil {
		return nil, err
	}

	if met.PhotosCaptured, err = m.Int64Counter("sos.evidence.photos",
		metric.WithDescription("Evidence photos written."),
	); err != nil {
		return nil, err
	}

	if met.CaptureFailures, err = m.Int64Counter("sos.evidence.failures",
		metric.WithDescription("Failed evidence capture attempts."),
	); err != nil {
		return nil, err
	}

	if met.AlertsSent, err = m.Int64Counter("sos.alerts.sent",
		metric.WithDescription("Alert messages delivered to contacts."),
	); err != nil {
		return nil, err
	}

	if met.AlertsFailed, err = m.Int64Counter("sos.alerts.failed",
		metric.WithDescription("Alert messages that could not be delivered."),
	); err != nil {
		return nil, err
	}

	if met.Detections, err = m.Int64Counter("sos.detections",
		metric.WithDescription("Confirmed detector decisions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// Nop returns instruments that record nothing.
func Nop() *Metrics {
	met, _ := NewMetrics(noop.NewMeterProvider())

	return met
}

// RecordTrigger counts an admitted or dropped request.
func (m *Metrics) RecordTrigger(ctx context.Context, source sos.Source, admitted bool) {
	attrs := metric.WithAttributes(SourceAttr(source))
	if admitted {
		m.TriggersAdmitted.Add(ctx, 1, attrs)
		return
	}

	m.TriggersDropped.Add(ctx, 1, attrs)
}

// RecordDetection counts a confirmed detection.
func (m *Metrics) RecordDetection(ctx context.Context, source sos.Source) {
	m.Detections.Add(ctx, 1, metric.WithAttributes(SourceAttr(source)))
}

// RecordCaptureFailure counts a failed photo or recording attempt.
func (m *Metrics) RecordCaptureFailure(ctx context.Context, kind string) {
	m.CaptureFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// SourceAttr returns the trigger source attribute.
func SourceAttr(source sos.Source) attribute.KeyValue {
	return attribute.String("source", string(source))
}
