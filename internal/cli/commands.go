package cli

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jvmscope/jvmscope/internal/cli/helpers"
	"github.com/jvmscope/jvmscope/internal/errors"
	"github.com/jvmscope/jvmscope/internal/model"
)

type commandRow struct {
	ID        string    `header:"ID"`
	Feature   string    `header:"FEATURE"`
	CreatedAt time.Time `header:"CREATED"`
	Detail    string    `header:"DETAIL"`
}

func newCommandsCmd(opts *options) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "commands <account/agent/jvm>",
		Short: "Deliver the pending agent commands of a JVM",
		Long: `Prints the commands queued for a JVM and marks them delivered, the same
way an agent poll does. Delivering the pending snapshot lets the next cycle
advance its window.`,
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

			db, err := openDatabase(ctx, cfg, logger, false)
			if err != nil {
				return err
			}
			defer errors.DeferClose(logger, db, "Failed to close database")

			pending, err := db.FetchPendingCommands(ctx, jvm)
			if err != nil {
				return err
			}
			if outFormat == helpers.FormatJSON {
				return helpers.Print(cmd.OutOrStdout(), outFormat, pending)
			}

			rows := make([]commandRow, 0, len(pending))
			for _, c := range pending {
				row := commandRow{ID: c.ID, Feature: c.Feature.String(), CreatedAt: c.CreatedAt}
				switch {
				case c.Instrumentation != nil:
					row.Detail = pluralize(c.Instrumentation.Len(), "method")
				case len(c.MissingSignatures) > 0:
					row.Detail = pluralize(len(c.MissingSignatures), "class")
				default:
					row.Detail = pluralize(c.SnapshotDuration, "second")
				}
				rows = append(rows, row)
			}
			return helpers.Print(cmd.OutOrStdout(), outFormat, rows)
		},
	}

	helpers.AddFormatFlag(cmd, &format)
	return cmd
}

func pluralize(n int, noun string) string {
	switch {
	case n == 1:
		return "1 " + noun
	case noun == "class":
		return strconv.Itoa(n) + " classes"
	default:
		return strconv.Itoa(n) + " " + noun + "s"
	}
}
