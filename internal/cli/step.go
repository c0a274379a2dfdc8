package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jvmscope/jvmscope/internal/analysis/step"
	"github.com/jvmscope/jvmscope/internal/cli/helpers"
	"github.com/jvmscope/jvmscope/internal/errors"
	"github.com/jvmscope/jvmscope/internal/model"
)

type reportRow struct {
	From         time.Time `header:"FROM"`
	To           time.Time `header:"TO"`
	Skipped      bool      `header:"SKIPPED"`
	Flows        int       `header:"FLOWS"`
	NewMethods   int       `header:"NEW METHODS"`
	Snapshot     int       `header:"SNAPSHOT"`
	Reason       string    `header:"REASON"`
	SnapshotSent bool      `header:"SNAPSHOT ACCEPTED"`
}

func newReportRow(r *step.Report) reportRow {
	row := reportRow{
		From:         r.From,
		To:           r.To,
		Skipped:      r.Skipped,
		Snapshot:     r.Duration.Next,
		Reason:       string(r.Duration.Reason),
		SnapshotSent: r.SnapshotAccepted,
	}
	if r.Summary != nil {
		row.Flows = r.Summary.FlowCount()
	}
	if r.Plan != nil {
		row.NewMethods = len(r.Plan.Added)
	}
	if r.Skipped && r.State != nil {
		row.Snapshot = r.State.SnapshotDuration
	}
	return row
}

func newStepCmd(opts *options) *cobra.Command {
	var (
		format    string
		threshold string
	)

	cmd := &cobra.Command{
		Use:   "step <account/agent/jvm>",
		Short: "Run one analysis cycle for a JVM",
		Long: `Runs a single analysis cycle against the DuckDB store, exactly as the
scheduler would, and prints its report. The window ends at --threshold,
which defaults to now minus the configured settle delay.

The store must not be open by a running 'jvmscope start'.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jvm, err := model.ParseAgentJVM(args[0])
			if err != nil {
				return err
			}
			outFormat, err := helpers.ParseFormat(format)
			if err != nil {
				return err
			}
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}

			now := time.Now().UTC()
			end := now.Add(-cfg.Analysis.SettleDelay)
			if threshold != "" {
				if end, err = helpers.ParseTime(threshold, now); err != nil {
					return fmt.Errorf("invalid --threshold: %w", err)
				}
			}

			ctx, cancel := commandTimeout()
			defer cancel()

			db, err := openDatabase(ctx, cfg, logger, false)
			if err != nil {
				return err
			}
			defer errors.DeferClose(logger, db, "Failed to close database")

			report, err := step.NewOrchestrator(step.Dependencies{
				Samples:   db,
				Classes:   db,
				Locker:    db,
				Commander: db,
				Summaries: db,
			}, stepConfig(cfg), logger).Step(ctx, jvm, end)
			if err != nil {
				return err
			}

			if outFormat == helpers.FormatJSON {
				return helpers.Print(cmd.OutOrStdout(), outFormat, report)
			}
			if err := helpers.Print(cmd.OutOrStdout(), outFormat, []reportRow{newReportRow(report)}); err != nil {
				return err
			}
			if report.Summary != nil {
				cmd.Println()
				cmd.Print(helpers.RenderFlowTree(report.Summary))
			}
			return nil
		},
	}

	helpers.AddFormatFlag(cmd, &format)
	cmd.Flags().StringVar(&threshold, "threshold", "", "Window end (RFC3339 or 'now')")
	return cmd
}
