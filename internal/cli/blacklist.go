package cli

import (
	"github.com/spf13/cobra"

	"github.com/jvmscope/jvmscope/internal/errors"
)

func newBlacklistCmd(opts *options) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "blacklist <account> <class>",
		Short: "Exclude a class from instrumentation",
		Long: `Adds a class to the blacklist of an account. The next cycle of every JVM
of the account drops the class's methods from its instrumentation and never
selects them again.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			if err := db.Blacklist(ctx, args[0], args[1], reason); err != nil {
				return err
			}
			cmd.Printf("Blacklisted %s for account %s\n", args[1], args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Why the class must not be instrumented")
	return cmd
}
