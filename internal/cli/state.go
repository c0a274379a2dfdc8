package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jvmscope/jvmscope/internal/cli/helpers"
	"github.com/jvmscope/jvmscope/internal/errors"
	"github.com/jvmscope/jvmscope/internal/model"
)

type stateRow struct {
	ProcessedUntil   time.Time `header:"PROCESSED UNTIL"`
	SnapshotDuration int       `header:"SNAPSHOT"`
	Methods          int       `header:"METHODS"`
	Classes          int       `header:"CLASSES"`
}

type methodRow struct {
	Class     string `header:"CLASS"`
	Method    string `header:"METHOD"`
	Signature string `header:"SIGNATURE"`
}

func newStateCmd(opts *options) *cobra.Command {
	var (
		format  string
		methods bool
	)

	cmd := &cobra.Command{
		Use:   "state <account/agent/jvm>",
		Short: "Show the committed analysis state of a JVM",
		Args:  cobra.ExactArgs(1),
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

			state, err := db.LoadAnalysisState(ctx, jvm)
			if err != nil {
				return err
			}
			if state == nil {
				return fmt.Errorf("no analysis state for %s", jvm)
			}

			if outFormat == helpers.FormatJSON {
				return helpers.Print(cmd.OutOrStdout(), outFormat, state)
			}
			if err := helpers.Print(cmd.OutOrStdout(), outFormat, []stateRow{{
				ProcessedUntil:   state.ProcessedUntil,
				SnapshotDuration: state.SnapshotDuration,
				Methods:          state.Instrumentation.Len(),
				Classes:          len(state.Instrumentation.Classes()),
			}}); err != nil {
				return err
			}
			if !methods {
				return nil
			}

			rows := make([]methodRow, 0, state.Instrumentation.Len())
			for _, m := range state.Instrumentation.Sorted() {
				rows = append(rows, methodRow{Class: m.ClassName, Method: m.MethodName, Signature: m.Signature})
			}
			cmd.Println()
			return helpers.Print(cmd.OutOrStdout(), outFormat, rows)
		},
	}

	helpers.AddFormatFlag(cmd, &format)
	cmd.Flags().BoolVar(&methods, "methods", false, "List the instrumented methods")
	return cmd
}
