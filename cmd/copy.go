package cmd

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/EphraimElvis/coralite-io/internal/publish"
)

var copyCmd = &cobra.Command{
	Use:   "copy <from> <to>",
	Short: "Copy a static directory into the build output",
	Long: `Recursively copy a directory, creating the destination as needed and
overwriting existing files.

Examples:
  coralite-dev copy public dist/assets
  coralite-dev copy assets dist/assets`,
	Args: cobra.ExactArgs(2),
	RunE: runCopy,
}

func init() {
	rootCmd.AddCommand(copyCmd)
}

func runCopy(cmd *cobra.Command, args []string) error {
	return copyWith(cmd, afero.NewOsFs(), args[0], args[1])
}

func copyWith(cmd *cobra.Command, fs afero.Fs, from, to string) error {
	stats, err := publish.CopyDir(fs, from, to)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Copied %d files (%d bytes) from %s to %s\n", stats.Files, stats.Bytes, from, to)

	return nil
}
