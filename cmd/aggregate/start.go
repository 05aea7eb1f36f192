package aggregate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"

	"github.com/absmach/fedagg"
	"github.com/absmach/fedagg/aggregator"
	"github.com/absmach/fedagg/aggregator/middleware"
	"github.com/absmach/fedagg/pkg/fl"
	"github.com/absmach/fedagg/pkg/mqtt"
	"github.com/absmach/fedagg/pkg/oci"
	fedprom "github.com/absmach/fedagg/pkg/prometheus"
	"github.com/absmach/supermq/pkg/jaeger"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const svcName = "fedagg"

// Runtime is a fully wired aggregation service together with the resources
// that have to be released once the run is over.
type Runtime struct {
	Service aggregator.Service
	Logger  *slog.Logger

	pushURL string
	closers []func(context.Context) error
}

// NewLogger returns a JSON logger writing to w at the given level.
func NewLogger(w io.Writer, logLevel string) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, fmt.Errorf("failed to parse log level: %w", err)
	}
	logHandler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})

	return slog.New(logHandler), nil
}

func NewRuntime(ctx context.Context, cfg fedagg.Config, logOutput io.Writer) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := NewLogger(logOutput, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{
		Logger:  logger,
		pushURL: cfg.PushgatewayURL,
	}

	var otelURL url.URL
	if cfg.OTELURL != "" {
		u, err := url.Parse(cfg.OTELURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse otel url: %w", err)
		}
		otelURL = *u
	}
	var tp trace.TracerProvider
	switch {
	case otelURL == (url.URL{}):
		tp = noop.NewTracerProvider()
	default:
		sdktp, err := jaeger.NewProvider(ctx, svcName, otelURL, uuid.NewString(), cfg.TraceRatio)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize opentelemetry: %w", err)
		}
		rt.closers = append(rt.closers, sdktp.Shutdown)
		tp = sdktp
	}
	tracer := tp.Tracer(svcName)

	var publisher aggregator.Publisher
	if cfg.OCI.LayoutDir != "" {
		pub, err := oci.NewPublisher(oci.Config{
			LayoutDir:  cfg.OCI.LayoutDir,
			Repository: cfg.OCI.Repository,
			Tag:        cfg.OCI.Tag,
			Username:   cfg.OCI.Username,
			Password:   cfg.OCI.Password,
			PlainHTTP:  cfg.OCI.PlainHTTP,
		})
		if err != nil {
			return nil, rt.fail(ctx, fmt.Errorf("failed to initialize OCI publisher: %w", err))
		}
		publisher = pub
	}

	var notifier aggregator.Notifier
	if cfg.MQTT.Address != "" {
		pub, err := mqtt.NewPublisher(mqtt.Config{
			URL:      cfg.MQTT.Address,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			QoS:      cfg.MQTT.QoS,
			Timeout:  cfg.MQTT.Timeout,
		}, logger)
		if err != nil {
			return nil, rt.fail(ctx, fmt.Errorf("failed to initialize mqtt publisher: %w", err))
		}
		rt.closers = append(rt.closers, pub.Disconnect)
		notifier = mqtt.NewNotifier(pub, cfg.MQTT.Topic)
	}

	metrics := fedprom.MakeMetrics(svcName, "aggregation")

	svc := aggregator.NewService(fl.NewFedAvgAggregator(logger), cfg.Workers, publisher, notifier, logger)
	svc = middleware.Logging(logger, svc)
	svc = middleware.Tracing(tracer, svc)
	svc = middleware.Metrics(metrics.Counter, metrics.Latency, metrics.Contributions, svc)
	rt.Service = svc

	return rt, nil
}

// Close pushes collected metrics when a Pushgateway is configured and
// releases tracing and messaging resources.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.pushURL != "" {
		if err := fedprom.Push(ctx, rt.pushURL, svcName); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil

	return errors.Join(errs...)
}

func (rt *Runtime) fail(ctx context.Context, err error) error {
	rt.pushURL = ""
	if cerr := rt.Close(ctx); cerr != nil {
		rt.Logger.Warn("Failed to release resources", slog.Any("error", cerr))
	}

	return err
}
