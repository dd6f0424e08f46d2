// Package observe provides the OpenTelemetry metric instruments and the
// structured logger used across the capture and recognition pipeline.
//
// Components accept a *Metrics; tests should build one with NewMetrics and a
// ManualReader-backed provider to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "lecturescribe"

// Metrics holds all metric instruments. The OTel types handle their own
// synchronisation.
type Metrics struct {
	// BuffersCaptured counts buffers read from the input device.
	BuffersCaptured metric.Int64Counter

	// BuffersDropped counts buffers lost because the hand-off queue was full.
	BuffersDropped metric.Int64Counter

	// FileWriteFailures counts failed appends to the backing recording.
	FileWriteFailures metric.Int64Counter

	// BuffersSubmitted counts buffers accepted into the submission queue.
	BuffersSubmitted metric.Int64Counter

	// BuffersRejected counts buffers refused after finalize was signalled.
	BuffersRejected metric.Int64Counter

	// ConversionFailures counts convert calls that raised an error. Use with
	// attribute.String("kind", ...).
	ConversionFailures metric.Int64Counter

	// ResultsMerged counts merged recognizer results. Use with
	// attribute.Bool("final", ...).
	ResultsMerged metric.Int64Counter

	ModelInstallDuration metric.Float64Histogram
	FinalizeDuration     metric.Float64Histogram

	// ActiveSessions tracks recognition sessions between setup and finalize.
	ActiveSessions metric.Int64UpDownCounter
}

var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.BuffersCaptured, err = m.Int64Counter("lecturescribe.capture.buffers",
		metric.WithDescription("Audio buffers read from the input device."),
	); err != nil {
		return nil, err
	}
	if met.BuffersDropped, err = m.Int64Counter("lecturescribe.capture.dropped",
		metric.WithDescription("Audio buffers dropped because the hand-off queue was full."),
	); err != nil {
		return nil, err
	}
	if met.FileWriteFailures, err = m.Int64Counter("lecturescribe.capture.file_write_failures",
		metric.WithDescription("Failed writes to the backing recording file."),
	); err != nil {
		return nil, err
	}
	if met.BuffersSubmitted, err = m.Int64Counter("lecturescribe.recognition.buffers_submitted",
		metric.WithDescription("Audio buffers accepted for recognition."),
	); err != nil {
		return nil, err
	}
	if met.BuffersRejected, err = m.Int64Counter("lecturescribe.recognition.buffers_rejected",
		metric.WithDescription("Audio buffers rejected after end of input was signalled."),
	); err != nil {
		return nil, err
	}
	if met.ConversionFailures, err = m.Int64Counter("lecturescribe.recognition.conversion_failures",
		metric.WithDescription("Audio format conversions that failed."),
	); err != nil {
		return nil, err
	}
	if met.ResultsMerged, err = m.Int64Counter("lecturescribe.recognition.results",
		metric.WithDescription("Recognizer results merged into the transcript."),
	); err != nil {
		return nil, err
	}
	if met.ModelInstallDuration, err = m.Float64Histogram("lecturescribe.model.install.duration",
		metric.WithDescription("Time spent downloading and installing a locale model."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FinalizeDuration, err = m.Float64Histogram("lecturescribe.recognition.finalize.duration",
		metric.WithDescription("Time from end-of-input to confirmed flush."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("lecturescribe.recognition.active_sessions",
		metric.WithDescription("Recognition sessions between setup and finalize."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level instance built on the global
// meter provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// OrDefault returns m, or DefaultMetrics when m is nil.
func OrDefault(m *Metrics) *Metrics {
	if m == nil {
		return DefaultMetrics()
	}
	return m
}

// RecordResult increments the merged-result counter.
func (m *Metrics) RecordResult(ctx context.Context, final bool) {
	m.ResultsMerged.Add(ctx, 1, metric.WithAttributes(attribute.Bool("final", final)))
}

// RecordConversionFailure increments the conversion failure counter.
func (m *Metrics) RecordConversionFailure(ctx context.Context, kind string) {
	m.ConversionFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
