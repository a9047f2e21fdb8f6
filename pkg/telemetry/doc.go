// Package telemetry wires logging, tracing, metrics and run events for
// pvestack.
//
// # Architecture
//
//  1. Structured Logging - zerolog, console or JSON, to a stream or file
//  2. Tracing - OpenTelemetry spans per run and phase, exported to stderr
//     or an OTLP collector
//  3. Metrics - Prometheus counters and histograms in a private registry,
//     written as a textfile for node_exporter at shutdown
//  4. Events - a publisher that implements engine.EventSink and fans run
//     events out to subscribed sinks such as the history store
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	cfg.Metrics.TextfilePath = "/var/lib/node_exporter/pvestack.prom"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	tel.Events.Subscribe(store, nil)
//
//	eng, err := engine.New(p, factory, prober,
//	    engine.WithLogger(tel.Logger.Component("engine")),
//	    engine.WithRecorder(tel.Metrics),
//	    engine.WithTracer(tel.Tracer.Tracer()),
//	    engine.WithEventSink(tel.Events),
//	)
//
// # Metrics
//
// All metrics use the configured namespace (default "pvestack"):
//
//   - runs_completed_total{operation,status}
//   - run_duration_seconds{operation}
//   - last_run_timestamp_seconds{operation,status}
//   - resource_results_total{kind,operation,result}
//   - resource_duration_seconds{kind,operation}
//   - resource_up{kind,id}
package telemetry
