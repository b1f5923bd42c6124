// Package upload provides the upload command.
package upload

import (
	"context"
	"fmt"

	"github.com/ddrive/ddrive/cmd"
	"github.com/ddrive/ddrive/fs"
	"github.com/ddrive/ddrive/fs/config/flags"
	"github.com/ddrive/ddrive/fs/operations"
	"github.com/spf13/cobra"
)

var name = ""

func init() {
	cmd.Root.AddCommand(commandDefinition)
	cmdFlags := commandDefinition.Flags()
	flags.StringVarP(cmdFlags, &name, "name", "", name, "Name to store the file as (default the file's base name)")
}

var commandDefinition = &cobra.Command{
	Use:   "upload <path>",
	Short: `Split a file into chunks and spread them over the accounts.`,
	Long: `
Splits the local file <path> into --chunk-size chunks and uploads them
to the linked accounts, choosing an account for each chunk with the
--policy placement policy. Nothing is uploaded unless there is room
for every chunk.

The file is only added to the catalog once every chunk is stored. If
any chunk fails the chunks which were stored are deleted again, unless
--cleanup-on-failure=false is given.
`,
	Args: cmd.CheckArgs(1, 1),
	RunE: func(command *cobra.Command, args []string) error {
		return cmd.Run(func(ctx context.Context, e *operations.Engine) error {
			f, err := e.Upload(ctx, args[0], name)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(command.OutOrStdout(), "Uploaded %q (%v): %d chunks across %d accounts\n",
				f.Name, fs.SizeSuffix(f.Size), len(f.Chunks), len(f.Accounts()))
			return nil
		})
	},
}
