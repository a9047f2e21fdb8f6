package telemetry

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ftschopp/pve-scripts/pkg/adapters"
	"github.com/ftschopp/pve-scripts/pkg/engine"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{name: "otlp without endpoint", mutate: func(c *Config) { c.Tracing.Exporter = "otlp" }, wantErr: true},
		{name: "otlp with endpoint", mutate: func(c *Config) {
			c.Tracing.Exporter = "otlp"
			c.Tracing.Endpoint = "localhost:4317"
		}},
		{name: "unknown exporter", mutate: func(c *Config) { c.Tracing.Exporter = "jaeger" }, wantErr: true},
		{name: "sampling out of range", mutate: func(c *Config) { c.Tracing.SamplingRate = 1.5 }, wantErr: true},
		{name: "bad event level", mutate: func(c *Config) { c.Events.MinLevel = "debug" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoggerJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, LoggingConfig{Level: "warn", Format: "json"}, nil)

	l.Info().Msg("hidden")
	cl := l.Component("engine")
	cl.Warn().Str("resource", "vm 100").Msg("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info message should be filtered at warn level")
	}
	if !strings.Contains(out, `"component":"engine"`) || !strings.Contains(out, `"resource":"vm 100"`) {
		t.Errorf("expected structured fields, got %s", out)
	}
	if err := l.Close(); err != nil {
		t.Errorf("closing a stream logger should be a no-op: %v", err)
	}
}

func TestLoggerFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pvestack.log")
	l, err := NewLogger(LoggingConfig{Level: "info", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	l.Info().Msg("written to file")
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Errorf("expected log line in file, got %q", data)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("debug") != zerolog.DebugLevel {
		t.Error("expected debug level")
	}
	if ParseLevel("nonsense") != zerolog.InfoLevel {
		t.Error("unknown levels should default to info")
	}
}

func TestMetricsRecorder(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	if err != nil {
		t.Fatal(err)
	}

	m.RecordRun(engine.OperationStart, engine.RunStatusPartialSuccess, 12*time.Second)
	m.RecordResource(adapters.KindMount, engine.OperationStart, engine.ResultFailed, time.Second)
	m.RecordResource(adapters.KindMount, engine.OperationStart, engine.ResultFailed, time.Second)
	m.RecordState(adapters.KindVM, "100", true)

	text := gatherText(t, m)
	for _, want := range []string{
		`pvestack_runs_completed_total{operation="start",status="partial_success"} 1`,
		`pvestack_resource_results_total{kind="mount",operation="start",result="failed"} 2`,
		`pvestack_resource_up{id="100",kind="vm"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in:\n%s", want, text)
		}
	}
}

func gatherText(t *testing.T, m *Metrics) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "metrics.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("failed to write textfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestMetricsTextfile(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	if err != nil {
		t.Fatal(err)
	}
	m.RecordRun(engine.OperationStop, engine.RunStatusSuccess, time.Second)

	data := gatherText(t, m)
	if !strings.Contains(data, `pvestack_runs_completed_total{operation="stop",status="success"} 1`) {
		t.Errorf("unexpected textfile content:\n%s", data)
	}
}

func TestMetricsDisabled(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{})
	if err != nil {
		t.Fatal(err)
	}
	m.RecordRun(engine.OperationStart, engine.RunStatusSuccess, time.Second)
	m.RecordState(adapters.KindVM, "100", true)
	if m.Gatherer() != nil {
		t.Error("disabled metrics should have no gatherer")
	}

	path := filepath.Join(t.TempDir(), "none.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("disabled metrics must not write a textfile")
	}
}

func TestTracerNone(t *testing.T) {
	tr, err := NewTracer(TracingConfig{Exporter: "none"}, "pvestack", "test")
	if err != nil {
		t.Fatal(err)
	}
	ctx, span := tr.Tracer().Start(context.Background(), "noop")
	span.End()
	if TraceID(ctx) != "" {
		t.Error("no-op tracer should not produce a valid trace id")
	}
	if err := tr.Shutdown(context.Background()); err != nil {
		t.Error(err)
	}
}

func TestTracerStdout(t *testing.T) {
	var buf bytes.Buffer
	tr, err := newTracer(TracingConfig{Exporter: "stdout", SamplingRate: 1}, "pvestack", "test", &buf)
	if err != nil {
		t.Fatal(err)
	}

	ctx, span := tr.Tracer().Start(context.Background(), "engine.start")
	if TraceID(ctx) == "" {
		t.Error("expected a valid trace id")
	}
	span.End()

	if err := tr.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "engine.start") {
		t.Errorf("expected exported span, got %q", buf.String())
	}
}

type captureSink struct {
	events []engine.Event
	err    error
}

func (c *captureSink) Publish(_ context.Context, e engine.Event) error {
	c.events = append(c.events, e)
	return c.err
}

func TestEventPublisher(t *testing.T) {
	ep := NewEventPublisher(EventsConfig{Enabled: true, MinLevel: "info"}, zerolog.Nop())

	all := &captureSink{}
	resources := &captureSink{}
	failing := &captureSink{err: errors.New("disk full")}
	ep.Subscribe(all, nil)
	ep.Subscribe(resources, func(e engine.Event) bool { return e.Type == engine.EventResourceResult })
	ep.Subscribe(failing, FilterByLevel(engine.LevelError))

	ctx := context.Background()
	if err := ep.Publish(ctx, engine.Event{Type: engine.EventRunStarted, Level: engine.LevelInfo}); err != nil {
		t.Fatal(err)
	}
	if err := ep.Publish(ctx, engine.Event{Type: engine.EventResourceResult, Level: engine.LevelWarn}); err != nil {
		t.Fatal(err)
	}
	err := ep.Publish(ctx, engine.Event{Type: engine.EventResourceResult, Level: engine.LevelError})
	if err == nil {
		t.Error("expected the failing subscriber's error")
	}

	if len(all.events) != 3 {
		t.Errorf("expected 3 events for the catch-all sink, got %d", len(all.events))
	}
	if len(resources.events) != 2 {
		t.Errorf("expected 2 resource events, got %d", len(resources.events))
	}
	if len(failing.events) != 1 {
		t.Errorf("expected 1 error event, got %d", len(failing.events))
	}
}

func TestEventPublisherMinLevelAndDisabled(t *testing.T) {
	sink := &captureSink{}
	ep := NewEventPublisher(EventsConfig{Enabled: true, MinLevel: "warn"}, zerolog.Nop())
	ep.Subscribe(sink, nil)
	_ = ep.Publish(context.Background(), engine.Event{Type: engine.EventRunStarted, Level: engine.LevelInfo})
	if len(sink.events) != 0 {
		t.Error("info event should be filtered")
	}

	disabled := NewEventPublisher(EventsConfig{}, zerolog.Nop())
	disabled.Subscribe(sink, nil)
	_ = disabled.Publish(context.Background(), engine.Event{Type: engine.EventRunStarted, Level: engine.LevelError})
	if len(sink.events) != 0 {
		t.Error("disabled publisher should drop events")
	}
}

func TestTelemetryShutdownWritesTextfile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Output = filepath.Join(t.TempDir(), "log")
	cfg.Metrics.TextfilePath = filepath.Join(t.TempDir(), "pvestack.prom")

	tel, err := NewTelemetry(cfg)
	if err != nil {
		t.Fatal(err)
	}
	tel.Metrics.RecordRun(engine.OperationStart, engine.RunStatusSuccess, time.Second)

	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(cfg.Metrics.TextfilePath); err != nil {
		t.Errorf("expected textfile: %v", err)
	}
}

func TestTelemetryMetricsFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Output = filepath.Join(t.TempDir(), "log")
	cfg.Tracing.Exporter = "stdout"
	cfg.Metrics.Enabled = true
	cfg.Metrics.Namespace = "\xff"

	tel, err := NewTelemetry(cfg)
	if err == nil {
		t.Fatal("expected metrics registration to fail")
	}
	if tel != nil {
		t.Error("expected no telemetry on failure")
	}
	if !strings.Contains(err.Error(), "failed to register metrics") {
		t.Errorf("unexpected error: %v", err)
	}
}
