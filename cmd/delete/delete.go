// Package delete provides the delete command.
package delete

import (
	"context"
	"fmt"

	"github.com/ddrive/ddrive/cmd"
	"github.com/ddrive/ddrive/fs"
	"github.com/ddrive/ddrive/fs/operations"
	"github.com/spf13/cobra"
)

func init() {
	cmd.Root.AddCommand(commandDefinition)
}

var commandDefinition = &cobra.Command{
	Use:   "delete <name>",
	Short: `Remove a file's chunks from the accounts.`,
	Long: `
Deletes every chunk of the file called <name> and removes it from the
catalog, giving the space back to the accounts.

Chunks which can't be deleted are reported and left behind on their
account. The file is removed from the catalog regardless.
`,
	Args: cmd.CheckArgs(1, 1),
	RunE: func(command *cobra.Command, args []string) error {
		return cmd.Run(func(ctx context.Context, e *operations.Engine) error {
			summary, err := e.Delete(ctx, args[0])
			if err != nil {
				return err
			}
			out := command.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Deleted %q: %d of %d chunks removed, %v freed\n",
				summary.Name, summary.Deleted, summary.Chunks, fs.SizeSuffix(summary.Freed))
			if summary.Failed > 0 {
				_, _ = fmt.Fprintf(out, "%d chunks could not be deleted and are orphaned\n", summary.Failed)
			}
			return nil
		})
	},
}
