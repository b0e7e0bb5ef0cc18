package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	paymentsSubmitted metric.Int64Counter
	paymentsApproved  metric.Int64Counter
	creditsGranted    metric.Int64Counter
	creditsConsumed   metric.Int64Counter
	signIns           metric.Int64Counter
	rateLimitDenied   metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "creditdesk"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	counters := []struct {
		name string
		dst  *metric.Int64Counter
	}{
		{"creditdesk_payments_submitted_total", &m.paymentsSubmitted},
		{"creditdesk_payments_approved_total", &m.paymentsApproved},
		{"creditdesk_credits_granted_total", &m.creditsGranted},
		{"creditdesk_credits_consumed_total", &m.creditsConsumed},
		{"creditdesk_sign_ins_total", &m.signIns},
		{"creditdesk_rate_limit_denied_total", &m.rateLimitDenied},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name)
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}
	return m, nil
}

func (m *Metrics) RecordPaymentSubmitted(ctx context.Context, tier string) {
	if m == nil {
		return
	}
	m.paymentsSubmitted.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("tier", tier))...))
}

// RecordPaymentApproved counts the approval and the credits it granted.
func (m *Metrics) RecordPaymentApproved(ctx context.Context, tier string, credits int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(FilterAttributes(attribute.String("tier", tier))...)
	m.paymentsApproved.Add(ctx, 1, attrs)
	m.creditsGranted.Add(ctx, credits, attrs)
}

func (m *Metrics) RecordCreditConsumed(ctx context.Context) {
	if m == nil {
		return
	}
	m.creditsConsumed.Add(ctx, 1)
}

func (m *Metrics) RecordSignIn(ctx context.Context, provider, outcome string) {
	if m == nil {
		return
	}
	m.signIns.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)...))
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("endpoint", endpoint))...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"tier":        {},
	"provider":    {},
	"outcome":     {},
	"endpoint":    {},
	"status_code": {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
