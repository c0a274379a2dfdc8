package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jvmscope/jvmscope/internal/analysis/export"
	"github.com/jvmscope/jvmscope/internal/cli/helpers"
	"github.com/jvmscope/jvmscope/internal/errors"
	"github.com/jvmscope/jvmscope/internal/model"
)

type summaryRow struct {
	From          time.Time `header:"FROM"`
	To            time.Time `header:"TO"`
	Roots         int       `header:"ROOTS"`
	Flows         int       `header:"FLOWS"`
	MinThroughput float64   `header:"MIN/S"`
	Dumps         int       `header:"DUMPS"`
}

func newSummaryRow(s *model.FlowSummary) summaryRow {
	minimum, _ := s.MinThroughput()
	return summaryRow{
		From:          s.From,
		To:            s.To,
		Roots:         len(s.Roots),
		Flows:         s.FlowCount(),
		MinThroughput: minimum,
		Dumps:         len(s.CoveredDumps()),
	}
}

func newSummaryCmd(opts *options) *cobra.Command {
	var (
		format    string
		timeFlags helpers.TimeFlags
		limit     int
		latest    bool
		tree      bool
		pprofOut  string
	)

	cmd := &cobra.Command{
		Use:   "summary <account/agent/jvm>",
		Short: "List or export the flow summaries of a JVM",
		Long: `Lists the flow summaries whose window ends in the selected range.

With --tree the call tree of every summary is printed. With --pprof the
newest selected summary is written as a gzipped pprof profile, which
'go tool pprof -http' and other flame graph viewers can open.

Examples:
  jvmscope summary acme/agent-1/jvm-7 --since 30m
  jvmscope summary acme/agent-1/jvm-7 --latest --tree
  jvmscope summary acme/agent-1/jvm-7 --latest --pprof flows.pb.gz`,
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

			ctx, cancel := commandTimeout()
			defer cancel()

			db, err := openDatabase(ctx, cfg, logger, true)
			if err != nil {
				return err
			}
			defer errors.DeferClose(logger, db, "Failed to close database")

			var summaries []*model.FlowSummary
			if latest {
				s, err := db.LatestFlowSummary(ctx, jvm)
				if err != nil {
					return err
				}
				if s != nil {
					summaries = append(summaries, s)
				}
			} else {
				r, err := timeFlags.Parse(time.Now().UTC())
				if err != nil {
					return err
				}
				if summaries, err = db.QueryFlowSummaries(ctx, jvm, r.Start, r.End, limit); err != nil {
					return err
				}
			}
			if len(summaries) == 0 {
				return fmt.Errorf("no flow summaries for %s in the selected range", jvm)
			}

			if pprofOut != "" {
				return writeProfile(pprofOut, summaries[len(summaries)-1])
			}
			if tree {
				for _, s := range summaries {
					cmd.Print(helpers.RenderFlowTree(s))
					cmd.Println()
				}
				return nil
			}
			if outFormat == helpers.FormatJSON {
				return helpers.Print(cmd.OutOrStdout(), outFormat, summaries)
			}
			rows := make([]summaryRow, 0, len(summaries))
			for _, s := range summaries {
				rows = append(rows, newSummaryRow(s))
			}
			return helpers.Print(cmd.OutOrStdout(), outFormat, rows)
		},
	}

	helpers.AddFormatFlag(cmd, &format)
	timeFlags.AddFlags(cmd.Flags(), "1h")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of summaries (0 for all)")
	cmd.Flags().BoolVar(&latest, "latest", false, "Only the most recent summary")
	cmd.Flags().BoolVar(&tree, "tree", false, "Print the call trees")
	cmd.Flags().StringVar(&pprofOut, "pprof", "", "Write the newest summary as a pprof profile to this file")
	return cmd
}

func writeProfile(path string, s *model.FlowSummary) (err error) {
	f, err := os.Create(path) // #nosec G304 -- operator supplied path.
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", path, cerr)
		}
	}()
	return export.Write(f, s)
}
