// Package download provides the download command.
package download

import (
	"context"
	"fmt"

	"github.com/ddrive/ddrive/cmd"
	"github.com/ddrive/ddrive/fs/operations"
	"github.com/spf13/cobra"
)

func init() {
	cmd.Root.AddCommand(commandDefinition)
}

var commandDefinition = &cobra.Command{
	Use:   "download <name> <savePath>",
	Short: `Fetch the chunks of a file and put it back together.`,
	Long: `
Downloads every chunk of the file called <name>, checks each one
against the hash taken when it was uploaded and joins them into
<savePath>. If <savePath> is a directory the file is written inside it
under its name.

The file only appears at <savePath> once it is complete.
`,
	Args: cmd.CheckArgs(2, 2),
	RunE: func(command *cobra.Command, args []string) error {
		return cmd.Run(func(ctx context.Context, e *operations.Engine) error {
			out, err := e.Download(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(command.OutOrStdout(), "Downloaded %q to %s\n", args[0], out)
			return nil
		})
	},
}
