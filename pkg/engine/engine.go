package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"

	"github.com/ftschopp/pve-scripts/pkg/plan"
	"github.com/ftschopp/pve-scripts/pkg/poll"
)

const (
	tracerName = "github.com/ftschopp/pve-scripts/pkg/engine"

	// DefaultPollInterval is the interval between VM status checks while
	// waiting for it to report running.
	DefaultPollInterval = 5 * time.Second
)

// Engine runs the start and stop sequences for a plan.
type Engine struct {
	plan     *plan.Plan
	factory  AdapterFactory
	prober   HealthChecker
	clock    clock.Clock
	poller   *poll.Poller
	interval time.Duration
	sink     EventSink
	recorder Recorder
	tracer   trace.Tracer
	logger   zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithEventSink sets where run events are published.
func WithEventSink(sink EventSink) Option {
	return func(e *Engine) {
		if sink != nil {
			e.sink = sink
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(recorder Recorder) Option {
	return func(e *Engine) {
		if recorder != nil {
			e.recorder = recorder
		}
	}
}

// WithTracer sets the tracer. The global otel tracer is used otherwise.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithClock sets the clock used for polling, waits and timestamps.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// New creates an engine for p. prober may be nil when the plan has no VM
// health check.
func New(p *plan.Plan, factory AdapterFactory, prober HealthChecker, opts ...Option) (*Engine, error) {
	if p == nil {
		return nil, errors.New("plan is required")
	}
	if factory == nil {
		return nil, errors.New("adapter factory is required")
	}
	if p.VM != nil && p.VM.HealthCheck != nil && prober == nil {
		return nil, errors.New("a health checker is required when the vm has a health check")
	}

	e := &Engine{
		plan:     p,
		factory:  factory,
		prober:   prober,
		clock:    clock.RealClock{},
		interval: DefaultPollInterval,
		sink:     nopSink{},
		recorder: nopRecorder{},
		tracer:   otel.Tracer(tracerName),
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With().Str("component", "engine").Logger()
	e.poller = poll.New(e.clock, e.logger)

	return e, nil
}

// Restart stops every resource and then starts them again. The returned
// error is the start sequence's fatal error, if any.
func (e *Engine) Restart(ctx context.Context) (stopped, started *Outcome, err error) {
	stopped, err = e.Stop(ctx)
	if err != nil {
		return stopped, nil, err
	}
	started, err = e.Start(ctx)
	return stopped, started, err
}

// sleep waits d on the engine clock. It returns early with the context
// error when ctx is done.
func (e *Engine) sleep(ctx context.Context, d time.Duration) error {
	timer := e.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C():
		return nil
	}
}

// run accumulates the outcome of one Start or Stop call.
type run struct {
	engine  *Engine
	outcome *Outcome
	span    trace.Span
	logger  zerolog.Logger
}

func (e *Engine) newRun(ctx context.Context, op Operation) (context.Context, *run) {
	id := uuid.NewString()
	ctx, span := e.tracer.Start(ctx, "engine."+string(op), trace.WithAttributes(
		attribute.String("run.id", id),
		attribute.String("run.operation", string(op)),
		attribute.String("plan.source", e.plan.Source),
	))

	r := &run{
		engine: e,
		outcome: &Outcome{
			RunID:     id,
			Operation: op,
			StartedAt: e.clock.Now(),
			Resources: make([]ResourceResult, 0, e.plan.ResourceCount()),
		},
		span:   span,
		logger: e.logger.With().Str("run_id", id).Str("operation", string(op)).Logger(),
	}

	r.logger.Info().Int("resources", e.plan.ResourceCount()).Msg("run started")
	r.publish(ctx, Event{
		Type:    EventRunStarted,
		Level:   LevelInfo,
		Message: fmt.Sprintf("%s run started", op),
		Details: map[string]interface{}{"plan": e.plan.Source, "resources": e.plan.ResourceCount()},
	})
	return ctx, r
}

// phase runs fn as one timed, traced stage. Phases with no resources are
// not recorded.
func (r *run) phase(ctx context.Context, phase Phase, count int, fn func(context.Context) error) error {
	if count == 0 {
		return nil
	}

	ctx, span := r.engine.tracer.Start(ctx, "phase."+string(phase), trace.WithAttributes(
		attribute.String("phase", string(phase)),
		attribute.Int("resources", count),
	))
	defer span.End()

	start := r.engine.clock.Now()
	r.logger.Info().Str("phase", string(phase)).Int("resources", count).Msg("phase started")
	r.publish(ctx, Event{Type: EventPhaseStarted, Level: LevelInfo, Phase: phase, Message: fmt.Sprintf("%s phase started", phase)})

	err := fn(ctx)

	timing := PhaseTiming{Phase: phase, StartedAt: start, Duration: r.engine.clock.Since(start)}
	r.outcome.Phases = append(r.outcome.Phases, timing)

	level := LevelInfo
	if err != nil {
		level = LevelError
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	r.logger.Info().Str("phase", string(phase)).Dur("duration", timing.Duration).Err(err).Msg("phase completed")
	r.publish(ctx, Event{
		Type:    EventPhaseCompleted,
		Level:   level,
		Phase:   phase,
		Message: fmt.Sprintf("%s phase completed", phase),
		Details: map[string]interface{}{"duration_ms": timing.Duration.Milliseconds()},
	})
	return err
}

func (r *run) begin(ref ResourceRef, phase Phase) ResourceResult {
	return ResourceResult{
		ResourceRef: ref,
		Phase:       phase,
		StartedAt:   r.engine.clock.Now(),
	}
}

// fail records res as Failed with err as its cause.
func (r *run) fail(ctx context.Context, res ResourceResult, err *EngineError) {
	err.WithResource(res.ResourceRef.String())
	res.Result = ResultFailed
	res.Code = err.Code
	res.Err = err
	r.record(ctx, res)
}

func (r *run) record(ctx context.Context, res ResourceResult) {
	res.Duration = r.engine.clock.Since(res.StartedAt)
	if res.Err != nil {
		res.Error = res.Err.Error()
	}
	r.outcome.Resources = append(r.outcome.Resources, res)

	level := LevelInfo
	var event *zerolog.Event
	switch res.Result {
	case ResultFailed:
		level = LevelError
		event = r.logger.Error().Err(res.Err)
	case ResultSkipped:
		level = LevelWarn
		event = r.logger.Warn()
	default:
		event = r.logger.Info()
	}
	event.
		Str("phase", string(res.Phase)).
		Str("resource", res.ResourceRef.String()).
		Str("name", res.Name).
		Str("result", string(res.Result)).
		Str("reason", res.Reason).
		Dur("duration", res.Duration).
		Msg("resource processed")

	r.engine.recorder.RecordResource(res.Kind, r.outcome.Operation, res.Result, res.Duration)

	trace.SpanFromContext(ctx).AddEvent("resource", trace.WithAttributes(
		attribute.String("resource", res.ResourceRef.String()),
		attribute.String("result", string(res.Result)),
	))

	details := map[string]interface{}{
		"kind":        string(res.Kind),
		"result":      string(res.Result),
		"duration_ms": res.Duration.Milliseconds(),
	}
	if res.Reason != "" {
		details["reason"] = res.Reason
	}
	if res.Code != "" {
		details["code"] = string(res.Code)
	}
	msg := fmt.Sprintf("%s %s", res.ResourceRef, res.Result)
	if res.Error != "" {
		msg += ": " + res.Error
	}
	r.publish(ctx, Event{
		Type:     EventResourceResult,
		Level:    level,
		Phase:    res.Phase,
		Resource: res.ResourceRef.String(),
		Message:  msg,
		Details:  details,
	})
}

func (r *run) has(kinds ...ResultKind) bool {
	for _, res := range r.outcome.Resources {
		for _, k := range kinds {
			if res.Result == k {
				return true
			}
		}
	}
	return false
}

func (r *run) finish(ctx context.Context, status RunStatus, err error) *Outcome {
	defer r.span.End()

	o := r.outcome
	o.Status = status
	o.CompletedAt = r.engine.clock.Now()
	o.Duration = o.CompletedAt.Sub(o.StartedAt)
	if err != nil {
		o.Err = err
		o.Error = err.Error()
		r.span.RecordError(err)
		r.span.SetStatus(codes.Error, err.Error())
	}
	r.span.SetAttributes(attribute.String("run.status", string(status)))

	summary := o.Summary()
	r.logger.Info().
		Str("status", string(status)).
		Dur("duration", o.Duration).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Msg("run completed")

	r.engine.recorder.RecordRun(o.Operation, status, o.Duration)

	level := LevelInfo
	switch status {
	case RunStatusFailed:
		level = LevelError
	case RunStatusPartialSuccess:
		level = LevelWarn
	}
	r.publish(ctx, Event{
		Type:    EventRunCompleted,
		Level:   level,
		Message: fmt.Sprintf("%s run completed: %s", o.Operation, status),
		Details: map[string]interface{}{
			"status":      string(status),
			"duration_ms": o.Duration.Milliseconds(),
			"failed":      summary.Failed,
			"skipped":     summary.Skipped,
		},
	})
	return o
}

func (r *run) publish(ctx context.Context, event Event) {
	event.ID = uuid.NewString()
	event.RunID = r.outcome.RunID
	event.Operation = r.outcome.Operation
	event.Timestamp = r.engine.clock.Now()

	if err := r.engine.sink.Publish(ctx, event); err != nil {
		r.logger.Warn().Err(err).Str("event", string(event.Type)).Msg("failed to publish event")
	}
}
