package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dunamismax/pixelaug/internal/augment"
)

func newOperationsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "operations",
		Short: "List the augmentation operations in pipeline order",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			for _, op := range augment.Operations() {
				fmt.Fprintln(out, op)
			}
		},
	}
}
