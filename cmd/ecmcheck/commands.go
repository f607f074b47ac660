package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ecmcheck/ecmcheck/pkg/config"
	"github.com/ecmcheck/ecmcheck/pkg/errors"
	"github.com/ecmcheck/ecmcheck/pkg/job"
	"github.com/ecmcheck/ecmcheck/pkg/query"
	"github.com/ecmcheck/ecmcheck/pkg/source"
	"github.com/ecmcheck/ecmcheck/pkg/storage/s3"
	"github.com/ecmcheck/ecmcheck/pkg/telemetry"
	"github.com/ecmcheck/ecmcheck/pkg/tui"
	"github.com/ecmcheck/ecmcheck/pkg/writer"
)

// applyFlags copies every flag set on the command line into cfg.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	for name, key := range flagKeys {
		if !cmd.Flags().Changed(name) {
			continue
		}
		if err := cfg.Set(key, cmd.Flags().Lookup(name).Value.String()); err != nil {
			return fmt.Errorf("invalid --%s: %w", name, err)
		}
	}
	return cfg.Validate()
}

// reportError prints err, followed by its stack trace in verbose mode.
func reportError(w io.Writer, err error, withStack bool) {
	fmt.Fprintln(w, err)
	if !withStack {
		return
	}
	if stack := errors.Stack(err); stack != "" {
		fmt.Fprint(w, stack)
	}
}

// signalContext cancels the returned context on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			fmt.Fprintln(os.Stderr, "\nInterrupted, closing output...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

func runAnalysis(cmd *cobra.Command, args []string) error {
	cfg := cfgManager.Get()
	if err := applyFlags(cmd, cfg); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	if cfg.Telemetry.Enabled {
		otlp := telemetry.DefaultOTLPConfig("ecmcheck")
		otlp.Endpoint = cfg.Telemetry.Endpoint
		otlp.InsecureTLS = cfg.Telemetry.Insecure
		otlp.SamplingRatio = cfg.Telemetry.SampleRate
		otlp.ServiceVersion = version

		shutdown, err := telemetry.InitOTLP(ctx, otlp)
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		defer func() {
			if serr := shutdown(context.Background()); serr != nil {
				logger.Warn("telemetry shutdown failed", zap.Error(serr))
			}
		}()
	}

	src, err := source.OpenJSONL(inputFile)
	if err != nil {
		return err
	}
	defer src.Close()

	progressOut := io.Discard
	if tui.IsTerminal(os.Stderr) {
		progressOut = os.Stderr
	}
	progress := tui.NewProgress(progressOut, "events")

	j, err := job.Open(ctx, job.FromConfig(cfg),
		job.WithLogger(logger),
		job.WithHeartbeat(progress.Heartbeat))
	if err != nil {
		return err
	}

	runErr := j.Run(ctx, src)
	progress.Finish()

	// The output is closed even when the run stopped early, so the rows
	// written so far stay readable.
	r, closeErr := j.Close(context.Background())

	var errs errors.MultiError
	errs.Add(runErr)
	errs.Add(closeErr)
	if errs.HasErrors() {
		return errs.Combined()
	}

	if cfg.Publish.S3.Enabled {
		uris, err := publishOutputs(ctx, cfg.Publish.S3, r.JobID, r.Output)
		if err != nil {
			return err
		}
		r.Output = append(r.Output, uris...)
	}

	tui.PrintSummary(cmd.OutOrStdout(), r)
	return nil
}

func publishOutputs(ctx context.Context, c config.S3Config, jobID string, files []string) ([]string, error) {
	s3cfg := s3.DefaultConfig(c.Bucket, c.Region)
	s3cfg.Prefix = c.Prefix
	s3cfg.Endpoint = c.Endpoint
	s3cfg.UsePathStyle = c.UsePathStyle

	client, err := s3.NewClient(ctx, s3cfg)
	if err != nil {
		return nil, err
	}

	uris, err := client.Publish(ctx, jobID, files)
	if err != nil {
		return nil, err
	}
	logger.Info("outputs published", zap.String("bucket", c.Bucket), zap.Strings("objects", uris))
	return uris, nil
}

func openQuery(path string) (*query.Querier, error) {
	format, err := writer.ParseFormat(formatFlag)
	if err != nil {
		return nil, err
	}
	return query.Open(path, format)
}

func runInspect(cmd *cobra.Command, args []string) error {
	q, err := openQuery(args[0])
	if err != nil {
		return err
	}
	defer q.Close()

	ctx, cancel := signalContext()
	defer cancel()

	if exportFile != "" {
		if err := q.Export(ctx, exportFile); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "exported %s to %s\n", args[0], exportFile)
		return nil
	}

	total, err := q.Count(ctx, whereClause)
	if err != nil {
		return err
	}

	res, err := q.Rows(ctx, query.Select{Columns: columns, Where: whereClause, Limit: limit})
	if err != nil {
		return err
	}

	tui.PrintTable(cmd.OutOrStdout(), res.Columns, res.Rows)
	if int64(len(res.Rows)) < total {
		fmt.Fprintf(cmd.OutOrStdout(), "%d of %d matching rows shown\n", len(res.Rows), total)
	}
	return nil
}

func runCuts(cmd *cobra.Command, args []string) error {
	q, err := openQuery(args[0])
	if err != nil {
		return err
	}
	defer q.Close()

	stages, err := q.Cuts(context.Background())
	if err != nil {
		return err
	}
	tui.PrintCuts(cmd.OutOrStdout(), stages)
	return nil
}

func runConfig(cmd *cobra.Command, args []string) error {
	if saveConfig {
		if err := cfgManager.Save(""); err != nil {
			return fmt.Errorf("failed to save configuration: %w", err)
		}
	}

	data, err := cfgManager.Marshal()
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
