// Package job drives one analysis pass: it opens the output, classifies
// every event, counts the cut stages and writes the summary at the end.
package job

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ecmcheck/ecmcheck/internal/model"
	"github.com/ecmcheck/ecmcheck/pkg/aggregate"
	"github.com/ecmcheck/ecmcheck/pkg/classify"
	"github.com/ecmcheck/ecmcheck/pkg/config"
	"github.com/ecmcheck/ecmcheck/pkg/cuts"
	"github.com/ecmcheck/ecmcheck/pkg/errors"
	"github.com/ecmcheck/ecmcheck/pkg/report"
	"github.com/ecmcheck/ecmcheck/pkg/source"
	"github.com/ecmcheck/ecmcheck/pkg/telemetry"
	"github.com/ecmcheck/ecmcheck/pkg/writer"
)

// Config holds the settings of one job.
type Config struct {
	Processor         string
	Collection        string
	ECM               float64
	Heartbeat         int64
	MissingCollection string
	CutCapacity       int
	Output            writer.Config
	XLSX              string
}

// DefaultConfig mirrors config.Default.
func DefaultConfig() Config {
	return FromConfig(config.Default())
}

// FromConfig maps the layered configuration onto a job Config.
func FromConfig(c *config.Config) Config {
	out := writer.DefaultConfig()
	out.Path = c.Output.Path
	if f, err := writer.ParseFormat(c.Output.Format); err == nil {
		out.Format = f
	}
	out.Compression = writer.ParseCompression(c.Output.Compression)
	if c.Output.BatchSize > 0 {
		out.BatchSize = c.Output.BatchSize
	}

	return Config{
		Processor:         c.Processor.Name,
		Collection:        c.Processor.Collection,
		ECM:               c.Processor.ECM,
		Heartbeat:         c.Processor.Heartbeat,
		MissingCollection: c.Processor.MissingCollection,
		CutCapacity:       c.Cuts.Capacity,
		Output:            out,
		XLSX:              c.Output.XLSX,
	}
}

// Job is a single-threaded analysis pass. Its methods must not be called
// concurrently.
type Job struct {
	id     string
	cfg    Config
	logger *zap.Logger

	diagnostic io.Writer
	heartbeat  aggregate.HeartbeatFunc
	retainRows bool

	sink       writer.Sink
	classifier *classify.Classifier
	cuts       *cuts.Table
	agg        *aggregate.Aggregator

	started time.Time
	closed  bool
	report  *report.Report
}

// Option configures a Job.
type Option func(*Job)

// WithLogger sets the job logger.
func WithLogger(l *zap.Logger) Option {
	return func(j *Job) {
		j.logger = l
	}
}

// WithDiagnostic redirects the end-of-job summary. It goes to stderr by
// default.
func WithDiagnostic(w io.Writer) Option {
	return func(j *Job) {
		j.diagnostic = w
	}
}

// WithHeartbeat adds a callback run on every heartbeat, after the log line.
func WithHeartbeat(fn aggregate.HeartbeatFunc) Option {
	return func(j *Job) {
		j.heartbeat = fn
	}
}

// WithSink replaces the sink that Open would create from Config.Output.
func WithSink(s writer.Sink) Option {
	return func(j *Job) {
		j.sink = s
	}
}

// WithRetainRows keeps every row in memory for Rows.
func WithRetainRows(retain bool) Option {
	return func(j *Job) {
		j.retainRows = retain
	}
}

// Open validates cfg, opens the output and declares stage 0.
func Open(ctx context.Context, cfg Config, opts ...Option) (j *Job, err error) {
	j = &Job{
		id:         uuid.New().String(),
		cfg:        cfg,
		logger:     zap.NewNop(),
		diagnostic: os.Stderr,
		started:    time.Now(),
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.cfg.Processor == "" {
		j.cfg.Processor = config.Default().Processor.Name
	}
	if j.cfg.MissingCollection == "" {
		j.cfg.MissingCollection = config.PolicySkip
	}
	j.logger = j.logger.With(zap.String("job", j.id))

	_, span := telemetry.StartSpan(ctx, "ecmcheck.open",
		attribute.String("job.id", j.id),
		attribute.String("output.path", cfg.Output.Path))
	defer func() { telemetry.EndSpan(span, err) }()

	if j.cfg.Collection == "" {
		return nil, errors.New(errors.CodeInvalidConfig, "no input collection configured")
	}
	if j.cfg.MissingCollection != config.PolicySkip && j.cfg.MissingCollection != config.PolicyAbort {
		return nil, errors.New(errors.CodeInvalidConfig, fmt.Sprintf("unknown missing-collection policy %q", j.cfg.MissingCollection))
	}

	j.cuts = cuts.New(j.cfg.CutCapacity)
	if _, err := j.cuts.Declare(0, cuts.NoCuts); err != nil {
		return nil, err
	}

	if j.sink == nil {
		out := j.cfg.Output
		out.Metadata = j.metadata()
		j.sink, err = writer.Open(out)
		if err != nil {
			return nil, err
		}
	}

	j.classifier = classify.New(j.cfg.ECM, classify.WithLogger(j.logger))
	j.agg = aggregate.New(
		aggregate.WithSink(j.sink),
		aggregate.WithRetainRows(j.retainRows),
		aggregate.WithHeartbeat(int(j.cfg.Heartbeat), j.onHeartbeat),
	)

	j.logger.Info("job opened",
		zap.String("processor", j.cfg.Processor),
		zap.String("collection", j.cfg.Collection),
		zap.Float64("ecm", j.cfg.ECM),
		zap.Strings("output", j.sink.Paths()))
	return j, nil
}

func (j *Job) metadata() map[string]string {
	return map[string]string{
		"job_id":     j.id,
		"processor":  j.cfg.Processor,
		"collection": j.cfg.Collection,
		"ecm":        strconv.FormatFloat(j.cfg.ECM, 'g', -1, 64),
	}
}

func (j *Job) onHeartbeat(events int64) {
	j.logger.Info("Hello, Analysis!", zap.Int64("no", events))
	if j.heartbeat != nil {
		j.heartbeat(events)
	}
}

// ID returns the job's unique id.
func (j *Job) ID() string { return j.id }

// Cuts exposes the cut table so callers can declare further stages.
func (j *Job) Cuts() *cuts.Table { return j.cuts }

// State returns the current counters.
func (j *Job) State() aggregate.State { return j.agg.State() }

// Rows returns the retained rows. It is empty unless WithRetainRows was set.
func (j *Job) Rows() []classify.Derived { return j.agg.Rows() }

// OnRunStart records a run boundary.
func (j *Job) OnRunStart(ctx context.Context, h model.RunHeader) {
	j.agg.OnRunStart()
	j.logger.Debug("run started",
		zap.Int32("run", h.Number),
		zap.String("detector", h.Detector))
}

// ProcessEvent classifies one event and appends its row. An event without
// the configured collection is skipped and reported as MissingCollection.
func (j *Job) ProcessEvent(ctx context.Context, ev *model.Event) (d classify.Derived, err error) {
	if j.closed {
		return d, errors.New(errors.CodeWriteFailed, "job already closed")
	}

	_, span := telemetry.StartSpan(ctx, "ecmcheck.event",
		attribute.Int("run", int(ev.Run)),
		attribute.Int("event", int(ev.Number)))
	defer func() { telemetry.EndSpan(span, err) }()

	particles, ok := ev.Collection(j.cfg.Collection)
	if !ok {
		j.agg.Skip()
		j.logger.Warn("input collection missing, event skipped",
			zap.String("collection", j.cfg.Collection),
			zap.Int32("run", ev.Run),
			zap.Int32("event", ev.Number))
		return d, errors.MissingCollection(j.cfg.Collection, ev.Run, ev.Number)
	}

	d = j.classifier.Classify(ev, particles)
	if err := j.agg.OnEvent(d); err != nil {
		return d, err
	}
	if err := j.cuts.Pass(0); err != nil {
		return d, err
	}

	span.SetAttributes(
		attribute.Int("nmcp", int(d.NParticles)),
		attribute.Int("norigin", int(d.NOrigin)))
	return d, nil
}

// Run feeds every item of src through the job until src is exhausted.
// Missing collections follow the configured policy; any other error stops
// the run.
func (j *Job) Run(ctx context.Context, src source.Source) error {
	for {
		if err := ctx.Err(); err != nil {
			return errors.ContextCanceled("run", err)
		}

		item, err := src.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		switch {
		case item.Run != nil:
			j.OnRunStart(ctx, *item.Run)
		case item.Event != nil:
			if _, err := j.ProcessEvent(ctx, item.Event); err != nil {
				if !errors.IsFatal(err) && j.cfg.MissingCollection == config.PolicySkip {
					continue
				}
				return err
			}
		}
	}
}

// Close writes the histogram, closes the output and prints the summary.
// It always attempts every step and returns their combined error. Calling
// Close again returns the first report.
func (j *Job) Close(ctx context.Context) (r *report.Report, err error) {
	if j.closed {
		return j.report, nil
	}
	j.closed = true

	_, span := telemetry.StartSpan(ctx, "ecmcheck.close", attribute.String("job.id", j.id))
	defer func() { telemetry.EndSpan(span, err) }()

	var errs errors.MultiError
	errs.Add(j.sink.WriteHistogram(j.cuts.Histogram()))
	errs.Add(j.sink.Close())

	state := j.agg.State()
	if n := j.sink.RowsWritten(); n != state.Events {
		errs.Add(errors.New(errors.CodeWriteFailed,
			fmt.Sprintf("dataset holds %d rows for %d processed events", n, state.Events)))
	}
	j.report = &report.Report{
		Processor: j.cfg.Processor,
		JobID:     j.id,
		Runs:      state.Runs,
		Events:    state.Events,
		Skipped:   state.Skipped,
		Stages:    j.cuts.Render(),
		Output:    j.sink.Paths(),
		Duration:  time.Since(j.started),
	}

	errs.Add(report.Write(j.diagnostic, *j.report))
	if j.cfg.XLSX != "" {
		if err := report.WriteXLSX(j.cfg.XLSX, *j.report); err != nil {
			errs.Add(err)
		} else {
			j.report.Output = append(j.report.Output, j.cfg.XLSX)
		}
	}

	j.logger.Info("job closed",
		zap.Int64("runs", state.Runs),
		zap.Int64("events", state.Events),
		zap.Int64("skipped", state.Skipped),
		zap.Duration("duration", j.report.Duration))

	return j.report, errs.Combined()
}
