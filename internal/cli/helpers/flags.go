package helpers

import (
	"fmt"

	"github.com/spf13/cobra"
)

// AddFormatFlag adds the standard --format/-o flag.
func AddFormatFlag(cmd *cobra.Command, formatVar *string) {
	cmd.Flags().StringVarP(formatVar, "format", "o", string(FormatTable),
		fmt.Sprintf("Output format (%s, %s)", FormatTable, FormatJSON))

	_ = cmd.RegisterFlagCompletionFunc("format", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{string(FormatTable), string(FormatJSON)}, cobra.ShellCompDirectiveNoFileComp
	})
}
