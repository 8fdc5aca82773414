package observability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config holds OpenTelemetry configuration
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// TracingEndpoint and MetricsEndpoint are OTLP HTTP endpoints as
	// host:port. Empty disables the corresponding signal.
	TracingEndpoint string
	MetricsEndpoint string
	OTLPHeaders     map[string]string
	SampleRate      float64 // 0.0 to 1.0
	MetricInterval  time.Duration
}

// DefaultConfig returns a default OpenTelemetry configuration
func DefaultConfig() *Config {
	return &Config{
		ServiceName:     "integration-hub",
		ServiceVersion:  "1.0.0",
		Environment:     "development",
		TracingEndpoint: "localhost:4318",
		MetricsEndpoint: "localhost:4318",
		SampleRate:      1.0, // Sample all traces in development
		MetricInterval:  30 * time.Second,
	}
}

// Setup initializes OpenTelemetry with the provided configuration
func Setup(ctx context.Context, config *Config) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceVersionKey.String(config.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var shutdownFuncs []func(context.Context) error

	if config.TracingEndpoint != "" {
		tracerProvider, err := setupTracing(ctx, res, config)
		if err != nil {
			return nil, fmt.Errorf("failed to setup tracing: %w", err)
		}
		shutdownFuncs = append(shutdownFuncs, tracerProvider.Shutdown)
		otel.SetTracerProvider(tracerProvider)
	}

	if config.MetricsEndpoint != "" {
		meterProvider, err := setupMetrics(ctx, res, config)
		if err != nil {
			return nil, fmt.Errorf("failed to setup metrics: %w", err)
		}
		shutdownFuncs = append(shutdownFuncs, meterProvider.Shutdown)
		otel.SetMeterProvider(meterProvider)
	}

	// Set global propagator for distributed tracing
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		var errs []error
		for _, fn := range shutdownFuncs {
			if err := fn(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			return fmt.Errorf("failed to shutdown OpenTelemetry: %w", errors.Join(errs...))
		}
		return nil
	}, nil
}

// setupTracing configures OpenTelemetry tracing
func setupTracing(ctx context.Context, res *resource.Resource, config *Config) (*sdktrace.TracerProvider, error) {
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(config.TracingEndpoint),
		otlptracehttp.WithInsecure(), // Use HTTP instead of HTTPS for local development
	}

	if len(config.OTLPHeaders) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(config.OTLPHeaders))
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	if config.SampleRate >= 1.0 {
		sampler = sdktrace.AlwaysSample()
	} else if config.SampleRate <= 0.0 {
		sampler = sdktrace.NeverSample()
	} else {
		sampler = sdktrace.TraceIDRatioBased(config.SampleRate)
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	return tracerProvider, nil
}

// setupMetrics configures OpenTelemetry metrics
func setupMetrics(ctx context.Context, res *resource.Resource, config *Config) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(config.MetricsEndpoint),
		otlpmetrichttp.WithInsecure(), // Use HTTP instead of HTTPS for local development
	}

	if len(config.OTLPHeaders) > 0 {
		opts = append(opts, otlpmetrichttp.WithHeaders(config.OTLPHeaders))
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(config.MetricInterval))),
	)

	return meterProvider, nil
}

// GetTracer returns a tracer for the given name
func GetTracer(name string) trace.Tracer {
	return otel.Tracer(name, trace.WithInstrumentationVersion("1.0.0"))
}

// GetMeter returns a meter for the given name
func GetMeter(name string) metric.Meter {
	return otel.Meter(name, metric.WithInstrumentationVersion("1.0.0"))
}

// HubMetrics holds application-specific metrics
type HubMetrics struct {
	DeliveriesAttempted metric.Int64Counter
	DeliveriesCompleted metric.Int64Counter
	DeliveriesDead      metric.Int64Counter
	RateLimitDeferrals  metric.Int64Counter
	WebhookDispatches   metric.Int64Counter
	FlowRuns            metric.Int64Counter
	DeliveryDuration    metric.Float64Histogram
	OutboxBacklog       metric.Int64UpDownCounter
}

// NewHubMetrics creates application-specific metrics
func NewHubMetrics() (*HubMetrics, error) {
	meter := GetMeter("hub")

	deliveriesAttempted, err := meter.Int64Counter(
		"hub_deliveries_attempted_total",
		metric.WithDescription("Total number of outbox delivery attempts"),
	)
	if err != nil {
		return nil, err
	}

	deliveriesCompleted, err := meter.Int64Counter(
		"hub_deliveries_completed_total",
		metric.WithDescription("Total number of completed outbox deliveries"),
	)
	if err != nil {
		return nil, err
	}

	deliveriesDead, err := meter.Int64Counter(
		"hub_deliveries_dead_total",
		metric.WithDescription("Total number of outbox items moved to dead"),
	)
	if err != nil {
		return nil, err
	}

	rateLimitDeferrals, err := meter.Int64Counter(
		"hub_rate_limit_deferrals_total",
		metric.WithDescription("Total number of deliveries deferred by rate limiting"),
	)
	if err != nil {
		return nil, err
	}

	webhookDispatches, err := meter.Int64Counter(
		"hub_webhook_dispatches_total",
		metric.WithDescription("Total number of webhook dispatch attempts"),
	)
	if err != nil {
		return nil, err
	}

	flowRuns, err := meter.Int64Counter(
		"hub_flow_runs_total",
		metric.WithDescription("Total number of flow runs"),
	)
	if err != nil {
		return nil, err
	}

	deliveryDuration, err := meter.Float64Histogram(
		"hub_delivery_duration_seconds",
		metric.WithDescription("Duration of outbound deliveries in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	outboxBacklog, err := meter.Int64UpDownCounter(
		"hub_outbox_backlog",
		metric.WithDescription("Current number of claimed outbox items in flight"),
	)
	if err != nil {
		return nil, err
	}

	return &HubMetrics{
		DeliveriesAttempted: deliveriesAttempted,
		DeliveriesCompleted: deliveriesCompleted,
		DeliveriesDead:      deliveriesDead,
		RateLimitDeferrals:  rateLimitDeferrals,
		WebhookDispatches:   webhookDispatches,
		FlowRuns:            flowRuns,
		DeliveryDuration:    deliveryDuration,
		OutboxBacklog:       outboxBacklog,
	}, nil
}
