// Package telemetry exposes the engine's OpenTelemetry counters. Instruments are
// created from the global meter provider; Init installs a real one when
// TAXLINE_OTEL_ENABLED=true, otherwise every counter is a no-op.
package telemetry

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const scopeName = "taxline"

const defaultExportInterval = 15 * time.Second

var shutdownFns []func(context.Context) error

// Enabled reports whether telemetry is active (TAXLINE_OTEL_ENABLED=true).
func Enabled() bool {
	return os.Getenv("TAXLINE_OTEL_ENABLED") == "true"
}

// Init installs the global meter provider. Disabled telemetry installs the
// no-op provider. Enabled telemetry exports to stderr every
// TAXLINE_OTEL_INTERVAL (a Go duration, 15s by default).
func Init(ctx context.Context, serviceName string) error {
	if !Enabled() {
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return nil
	}
	res, err := resource.New(ctx, resource.WithAttributes(attribute.String("service.name", serviceName)))
	if err != nil {
		return fmt.Errorf("telemetry: resource: %w", err)
	}
	interval := defaultExportInterval
	if raw := os.Getenv("TAXLINE_OTEL_INTERVAL"); raw != "" {
		if interval, err = time.ParseDuration(raw); err != nil || interval <= 0 {
			return fmt.Errorf("telemetry: invalid TAXLINE_OTEL_INTERVAL %q", raw)
		}
	}
	exp, err := stdoutmetric.New(stdoutmetric.WithWriter(os.Stderr))
	if err != nil {
		return fmt.Errorf("telemetry: stdout exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(mp)
	shutdownFns = append(shutdownFns, mp.Shutdown)
	return nil
}

// Shutdown flushes pending metrics and stops the installed provider.
func Shutdown(ctx context.Context) {
	for _, fn := range shutdownFns {
		_ = fn(ctx)
	}
	shutdownFns = nil
}

type Metrics struct {
	transitions      metric.Int64Counter
	remindersSent    metric.Int64Counter
	remindersFailed  metric.Int64Counter
	remindersSkipped metric.Int64Counter
}

// New builds the counters from the current global meter provider.
func New() *Metrics {
	return NewWithProvider(otel.GetMeterProvider())
}

func NewWithProvider(mp metric.MeterProvider) *Metrics {
	m := mp.Meter(scopeName)
	transitions, _ := m.Int64Counter("taxline.lifecycle.transitions",
		metric.WithDescription("Applied lifecycle transitions"))
	sent, _ := m.Int64Counter("taxline.reminders.sent",
		metric.WithDescription("Reminders accepted by the dispatcher"))
	failed, _ := m.Int64Counter("taxline.reminders.failed",
		metric.WithDescription("Reminder dispatch or bookkeeping failures"))
	skipped, _ := m.Int64Counter("taxline.reminders.skipped",
		metric.WithDescription("Due reminders whose underlying condition no longer held"))
	return &Metrics{
		transitions:      transitions,
		remindersSent:    sent,
		remindersFailed:  failed,
		remindersSkipped: skipped,
	}
}

func (m *Metrics) Transition(ctx context.Context, to string, standard, soft bool) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("to", to),
		attribute.Bool("standard", standard),
		attribute.Bool("soft", soft),
	))
}

func (m *Metrics) ReminderSent(ctx context.Context, stream string) {
	if m == nil || m.remindersSent == nil {
		return
	}
	m.remindersSent.Add(ctx, 1, metric.WithAttributes(attribute.String("stream", stream)))
}

func (m *Metrics) ReminderFailed(ctx context.Context, stream string) {
	if m == nil || m.remindersFailed == nil {
		return
	}
	m.remindersFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("stream", stream)))
}

func (m *Metrics) ReminderSkipped(ctx context.Context, stream string) {
	if m == nil || m.remindersSkipped == nil {
		return
	}
	m.remindersSkipped.Add(ctx, 1, metric.WithAttributes(attribute.String("stream", stream)))
}
