package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pickup-backup/pickup/pkg/lock"
	"github.com/pickup-backup/pickup/pkg/staging"
)

const tracerName = "github.com/pickup-backup/pickup/pkg/engine"

var validate = validator.New()

// Orchestrator drives one backup run: lock, stage, generate, deliver, clean up.
// It is strictly sequential; a failing plugin never stops the run.
type Orchestrator struct {
	loader   Loader
	lockPath string
	recorder Recorder
	metrics  Metrics
	events   Events
	now      func() time.Time
	logger   zerolog.Logger
	tracer   trace.Tracer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder persists every run report.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithMetrics reports plugin and run observations.
func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithEvents publishes run and plugin lifecycle events.
func WithEvents(e Events) Option {
	return func(o *Orchestrator) { o.events = e }
}

// WithNow replaces the wall clock, mainly for tests.
func WithNow(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithLogger replaces the orchestrator logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// NewOrchestrator creates an orchestrator that loads plugins through loader
// and guards runs with the lock file at lockPath.
func NewOrchestrator(loader Loader, lockPath string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		loader:   loader,
		lockPath: lockPath,
		now:      time.Now,
		logger:   log.With().Str("component", "orchestrator").Logger(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one full backup run.
//
// The returned error is non-nil only for fatal conditions (invalid run spec,
// unusable first target, staging path not a directory, lock held, staging
// root not creatable); those are always *EngineError of class fatal. Plugin
// failures are reported in the RunReport outcomes instead.
func (o *Orchestrator) Run(ctx context.Context, spec RunSpec) (report *RunReport, err error) {
	report = &RunReport{
		RunID:     uuid.NewString(),
		StartedAt: o.now(),
		State:     StateInit,
	}

	ctx = WithClock(ctx, o.now)
	ctx, span := o.tracer.Start(ctx, "pickup.run", trace.WithAttributes(
		attribute.String("run.id", report.RunID),
		attribute.Int("run.generators", len(spec.Generators)),
		attribute.Int("run.targets", len(spec.Targets)),
	))
	logger := o.logger.With().Str("run_id", report.RunID).Logger()
	o.publish(func(e Events) error { return e.PublishRunStarted(report.RunID) })

	defer func() {
		report.FinishedAt = o.now()
		report.Err = err
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			report.State = StateDone
			span.SetStatus(codes.Ok, "")
		}
		span.End()
		o.finish(ctx, report)
	}()

	// Init: everything here is fatal and happens before the lock is touched.
	if err := validateSpec(spec); err != nil {
		return report, err
	}

	stagingPath := spec.StagingArea
	var firstTarget Plugin
	if spec.FirstTargetIsStaging {
		firstTarget, stagingPath, err = o.prepareExternalStaging(ctx, logger, spec.Targets[0])
		if err != nil {
			return report, err
		}
	}
	if err := staging.CheckPath(stagingPath); err != nil {
		return report, NewFatalError("invalid staging area", err).
			WithResource(stagingPath).
			WithCode(ErrCodeNotADirectory)
	}

	lk, err := lock.Acquire(o.lockPath)
	if err != nil {
		fatal := NewFatalError("could not acquire process lock", err).WithResource(o.lockPath)
		var conflict *lock.ConflictError
		if errors.As(err, &conflict) {
			fatal = fatal.WithCode(ErrCodeLockHeld)
		}
		return report, fatal
	}
	report.State = StateLockAcquired
	defer func() {
		if relErr := lk.Release(); relErr != nil {
			logger.Error().Err(NewLockError("could not release process lock", relErr).WithResource(o.lockPath)).
				Msg("lock release failed")
		}
		report.State = StateLockReleased
	}()

	area, err := staging.AllocateRoot(stagingPath, spec.FirstTargetIsStaging)
	if err != nil {
		return report, NewFatalError("could not prepare staging area", err).WithResource(stagingPath)
	}
	report.StagingRoot = area.Root()
	report.External = area.External()
	report.State = StateStagingReady
	defer func() {
		report.State = StateCleanup
		if tdErr := area.Teardown(); tdErr != nil {
			logger.Error().Err(tdErr).Str("staging_root", area.Root()).Msg("could not remove staging area")
		}
	}()
	logger.Info().Str("staging_root", area.Root()).Bool("external", area.External()).Msg("staging area ready")

	for _, g := range spec.Generators {
		report.Outcomes = append(report.Outcomes, o.track(report.RunID, KindGenerator, g, func() PluginOutcome {
			return o.runGenerator(ctx, logger, area, g)
		}))
	}
	report.State = StateGeneratorsRun

	for i, t := range spec.Targets {
		var preloaded Plugin
		if i == 0 {
			preloaded = firstTarget
		}
		report.Outcomes = append(report.Outcomes, o.track(report.RunID, KindTarget, t, func() PluginOutcome {
			return o.runTarget(ctx, logger, area.Root(), t, preloaded)
		}))
	}
	report.State = StateTargetsRun

	return report, nil
}

func validateSpec(spec RunSpec) error {
	for _, group := range [][]ProfileConfig{spec.Generators, spec.Targets} {
		for i, p := range group {
			if err := validate.Struct(p); err != nil {
				return NewFatalError(fmt.Sprintf("invalid profile entry #%d", i+1), err).
					WithResource(p.Name).
					WithCode(ErrCodeValidation)
			}
		}
	}
	if spec.FirstTargetIsStaging && len(spec.Targets) == 0 {
		return NewFatalError("first target is staging, but no target is configured", nil).
			WithCode(ErrCodeValidation)
	}
	return nil
}

// prepareExternalStaging loads the first target and asks it for the folder
// that becomes the staging root.
func (o *Orchestrator) prepareExternalStaging(ctx context.Context, logger zerolog.Logger, profile ProfileConfig) (Plugin, string, error) {
	pctx, _ := pluginContext(ctx, logger, KindTarget, profile)

	p, err := o.loader.Load(pctx, KindTarget, profile)
	if err != nil {
		return nil, "", NewFatalError("first target is staging, but it could not be loaded", err).
			WithResource(profile.Name)
	}
	fp, ok := p.(FolderProvider)
	if !ok {
		return nil, "", NewFatalError("first target is staging, but it does not provide a folder", nil).
			WithResource(profile.Name).
			WithCode(ErrCodeValidation)
	}
	folder, err := fp.Folder()
	if err != nil {
		return nil, "", NewFatalError("first target is staging, but its folder is unavailable", err).
			WithResource(profile.Name)
	}
	logger.Info().Str("target", profile.Name).Str("folder", folder).Msg("using first target as staging area")
	return p, folder, nil
}

func (o *Orchestrator) runGenerator(ctx context.Context, logger zerolog.Logger, area *staging.Area, profile ProfileConfig) PluginOutcome {
	outcome := o.newOutcome(KindGenerator, profile)
	pctx, plog := pluginContext(ctx, logger, KindGenerator, profile)

	p, err := o.loader.Load(pctx, KindGenerator, profile)
	if err != nil {
		return o.failed(plog, outcome, err)
	}

	dir, err := area.AllocateSubfolder(profile.Profile, profile.Name)
	if err != nil {
		return o.failed(plog, outcome, NewRuntimeError("could not allocate staging folder", err).
			WithResource(profile.Name))
	}
	outcome.Path = dir

	plog.Info().Str("path", dir).Msg("running generator")
	if err := o.invoke(pctx, p, profile, dir); err != nil {
		if dErr := area.Discard(dir); dErr != nil {
			plog.Warn().Err(dErr).Str("path", dir).Msg("could not discard staging folder")
		}
		return o.failed(plog, outcome, err)
	}
	return o.succeeded(plog, outcome)
}

func (o *Orchestrator) runTarget(ctx context.Context, logger zerolog.Logger, root string, profile ProfileConfig, preloaded Plugin) PluginOutcome {
	outcome := o.newOutcome(KindTarget, profile)
	outcome.Path = root
	pctx, plog := pluginContext(ctx, logger, KindTarget, profile)

	p := preloaded
	if p == nil {
		var err error
		if p, err = o.loader.Load(pctx, KindTarget, profile); err != nil {
			return o.failed(plog, outcome, err)
		}
	}

	plog.Info().Msg("running target")
	if err := o.invoke(pctx, p, profile, root); err != nil {
		return o.failed(plog, outcome, err)
	}
	return o.succeeded(plog, outcome)
}

// invoke runs the plugin inside its own span and converts errors and panics
// into runtime errors.
func (o *Orchestrator) invoke(ctx context.Context, p Plugin, profile ProfileConfig, path string) (err error) {
	ctx, span := o.tracer.Start(ctx, "pickup.plugin.run", trace.WithAttributes(
		attribute.String("plugin.name", profile.Name),
		attribute.String("plugin.profile", profile.Profile),
		attribute.String("plugin.path", path),
	))
	defer func() {
		if rec := recover(); rec != nil {
			zerolog.Ctx(ctx).Debug().Bytes("stack", debug.Stack()).Msg("plugin panicked")
			err = NewRuntimeError(fmt.Sprintf("run panicked: %v", rec), nil).
				WithResource(profile.Name).
				WithOperation("run").
				WithCode(ErrCodePanic)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if runErr := p.Run(ctx, path); runErr != nil {
		return NewRuntimeError("run failed", runErr).
			WithResource(profile.Name).
			WithOperation("run").
			WithCode(ErrCodePluginFailed)
	}
	return nil
}

func pluginContext(ctx context.Context, logger zerolog.Logger, kind PluginKind, profile ProfileConfig) (context.Context, zerolog.Logger) {
	plog := logger.With().
		Str("kind", string(kind)).
		Str("name", profile.Name).
		Str("profile", profile.Profile).
		Logger()
	return plog.WithContext(ctx), plog
}

func (o *Orchestrator) newOutcome(kind PluginKind, profile ProfileConfig) PluginOutcome {
	return PluginOutcome{
		Kind:    kind,
		Name:    profile.Name,
		Profile: profile.Profile,
		Started: o.now(),
	}
}

func (o *Orchestrator) failed(logger zerolog.Logger, outcome PluginOutcome, err error) PluginOutcome {
	outcome.Err = err
	outcome.Duration = o.now().Sub(outcome.Started)
	if IsLoad(err) {
		outcome.Status = OutcomeSkipped
		logger.Error().Err(err).Msg("plugin unavailable, skipping")
	} else {
		outcome.Status = OutcomeFailed
		logger.Error().Err(err).Msg("plugin failed")
	}
	return outcome
}

func (o *Orchestrator) succeeded(logger zerolog.Logger, outcome PluginOutcome) PluginOutcome {
	outcome.Status = OutcomeSucceeded
	outcome.Duration = o.now().Sub(outcome.Started)
	logger.Info().Dur("duration", outcome.Duration).Msg("plugin finished")
	return outcome
}

// track publishes the start and the outcome of one plugin run.
func (o *Orchestrator) track(runID string, kind PluginKind, profile ProfileConfig, run func() PluginOutcome) PluginOutcome {
	o.publish(func(e Events) error {
		return e.PublishPluginStarted(runID, string(kind), profile.Name, profile.Profile)
	})
	outcome := run()
	o.publish(func(e Events) error {
		if outcome.Status == OutcomeSucceeded {
			return e.PublishPluginCompleted(runID, string(kind), profile.Name, profile.Profile, outcome.Duration)
		}
		return e.PublishPluginFailed(runID, string(kind), profile.Name, profile.Profile,
			string(outcome.Status), outcome.ErrorMessage())
	})
	return outcome
}

func (o *Orchestrator) publish(fn func(Events) error) {
	if o.events == nil {
		return
	}
	if err := fn(o.events); err != nil {
		o.logger.Warn().Err(err).Msg("could not publish run event")
	}
}

func (o *Orchestrator) finish(ctx context.Context, report *RunReport) {
	status := report.Status()
	duration := report.FinishedAt.Sub(report.StartedAt)

	if o.metrics != nil {
		for _, out := range report.Outcomes {
			o.metrics.RecordPluginRun(string(out.Kind), out.Profile, string(out.Status), out.Duration)
		}
		o.metrics.RecordRunCompleted(status, duration)
	}
	o.publish(func(e Events) error {
		if report.Err != nil {
			return e.PublishRunFailed(report.RunID, report.Err.Error())
		}
		return e.PublishRunCompleted(report.RunID, status, duration)
	})
	if o.recorder != nil {
		if err := o.recorder.RecordRun(ctx, report); err != nil {
			o.logger.Warn().Err(err).Str("run_id", report.RunID).Msg("could not record run history")
		}
	}

	event := o.logger.Info()
	if report.Err != nil {
		event = o.logger.Error().Err(report.Err)
	}
	event.Str("run_id", report.RunID).
		Str("status", status).
		Int("failed", len(report.Failed())).
		Dur("duration", duration).
		Msg("run finished")
}
