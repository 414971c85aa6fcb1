// Package telemetry records capture and upload counters over OpenTelemetry.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/rbright/liftnote/internal/version"
)

const (
	serviceName = "liftnote"
	meterName   = "github.com/rbright/liftnote"
)

// Upload outcomes reported by UploadFinished.
const (
	OutcomeOK        = "ok"
	OutcomeEmpty     = "empty"
	OutcomeNetwork   = "network"
	OutcomeMalformed = "malformed"
	OutcomeError     = "error"
)

// Config selects the OTLP collector.
type Config struct {
	Endpoint string
	Insecure bool
	Interval time.Duration
}

// Metrics owns the instruments. A nil *Metrics records nothing.
type Metrics struct {
	shutdown func(context.Context) error

	presses         metric.Int64Counter
	taps            metric.Int64Counter
	capturesStarted metric.Int64Counter
	discards        metric.Int64Counter
	captureSeconds  metric.Float64Histogram
	uploads         metric.Int64Counter
}

// New builds metrics exported to cfg.Endpoint over OTLP/gRPC. An empty
// endpoint yields a no-op provider.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Metrics, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		logger.Debug("telemetry disabled")
		return NewWithProvider(noop.NewMeterProvider())
	}

	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(endpoint),
	}
	if cfg.Insecure {
		opts = append(opts,
			otlpmetricgrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			otlpmetricgrpc.WithInsecure(),
		)
	}

	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create OTLP metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create telemetry resource: %w", err)
	}

	var readerOpts []sdkmetric.PeriodicReaderOption
	if cfg.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(cfg.Interval))
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, readerOpts...)),
		sdkmetric.WithResource(res),
	)

	metrics, err := NewWithProvider(provider)
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, err
	}
	metrics.shutdown = provider.Shutdown
	logger.Info("telemetry enabled", "endpoint", endpoint)
	return metrics, nil
}

// NewWithProvider registers the instruments on provider. The caller owns
// the provider's lifecycle.
func NewWithProvider(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(meterName)
	m := &Metrics{}

	var err error
	if m.presses, err = meter.Int64Counter(
		"liftnote_presses_total",
		metric.WithDescription("Press-down events received"),
		metric.WithUnit("{press}"),
	); err != nil {
		return nil, fmt.Errorf("create presses counter: %w", err)
	}
	if m.taps, err = meter.Int64Counter(
		"liftnote_taps_total",
		metric.WithDescription("Presses released before the hold threshold"),
		metric.WithUnit("{press}"),
	); err != nil {
		return nil, fmt.Errorf("create taps counter: %w", err)
	}
	if m.capturesStarted, err = meter.Int64Counter(
		"liftnote_captures_started_total",
		metric.WithDescription("Capture sessions committed to recording"),
		metric.WithUnit("{capture}"),
	); err != nil {
		return nil, fmt.Errorf("create captures counter: %w", err)
	}
	if m.discards, err = meter.Int64Counter(
		"liftnote_captures_discarded_total",
		metric.WithDescription("Capture artifacts discarded without upload"),
		metric.WithUnit("{capture}"),
	); err != nil {
		return nil, fmt.Errorf("create discards counter: %w", err)
	}
	if m.captureSeconds, err = meter.Float64Histogram(
		"liftnote_capture_duration_seconds",
		metric.WithDescription("Finalized capture duration"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("create capture duration histogram: %w", err)
	}
	if m.uploads, err = meter.Int64Counter(
		"liftnote_uploads_total",
		metric.WithDescription("Upload attempts by outcome"),
		metric.WithUnit("{upload}"),
	); err != nil {
		return nil, fmt.Errorf("create uploads counter: %w", err)
	}
	return m, nil
}

func (m *Metrics) PressRecorded(ctx context.Context) {
	if m == nil {
		return
	}
	m.presses.Add(ctx, 1)
}

func (m *Metrics) TapRecorded(ctx context.Context) {
	if m == nil {
		return
	}
	m.taps.Add(ctx, 1)
}

func (m *Metrics) CaptureStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.capturesStarted.Add(ctx, 1)
}

func (m *Metrics) CaptureDiscarded(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.discards.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) CaptureDuration(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.captureSeconds.Record(ctx, d.Seconds())
}

func (m *Metrics) UploadFinished(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.uploads.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// Shutdown flushes and stops the exporter, if any.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.shutdown == nil {
		return nil
	}
	return m.shutdown(ctx)
}
