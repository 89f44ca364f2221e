package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var version = "dev"

// SetVersion is called from main with the value injected at build time.
func SetVersion(v string) {
	version = v
}

func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "pixelaug",
		Short: "Randomized image augmentation for training datasets",
		Long: `pixelaug applies randomized geometric, photometric and noise
augmentations to images. The augment command runs the same pipeline the
worker uses, reading local files and writing the variants to a directory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newAugmentCommand(), newOperationsCommand(), newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pixelaug %s\n", version)
		},
	}
}
