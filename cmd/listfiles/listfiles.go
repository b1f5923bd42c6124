// Package listfiles provides the list-files command.
package listfiles

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ddrive/ddrive/cmd"
	"github.com/ddrive/ddrive/fs"
	"github.com/ddrive/ddrive/fs/catalog"
	"github.com/ddrive/ddrive/fs/operations"
	"github.com/spf13/cobra"
)

var format = cmd.FormatText

func init() {
	cmd.Root.AddCommand(commandDefinition)
	cmd.AddFormatFlag(commandDefinition.Flags(), &format)
}

// item is a file as shown by list-files
type item struct {
	Name     string    `json:"name" yaml:"name"`
	Size     int64     `json:"size" yaml:"size"`
	Chunks   int       `json:"chunks" yaml:"chunks"`
	Accounts []string  `json:"accounts" yaml:"accounts"`
	Created  time.Time `json:"created" yaml:"created"`
}

func makeItems(files []catalog.ManagedFile) []item {
	items := make([]item, 0, len(files))
	for _, f := range files {
		items = append(items, item{
			Name:     f.Name,
			Size:     f.Size,
			Chunks:   len(f.Chunks),
			Accounts: f.Accounts(),
			Created:  f.Created,
		})
	}
	return items
}

// writeText writes the items as a table
func writeText(out io.Writer, items []item) error {
	if len(items) == 0 {
		_, err := fmt.Fprintln(out, "No files stored")
		return err
	}
	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.Name
	}
	col := cmd.NewColumn("Name", names...)
	_, _ = fmt.Fprintf(out, "%s %10s %6s %s\n", col.Pad("Name"), "Size", "Chunks", "Accounts")
	for _, it := range items {
		_, err := fmt.Fprintf(out, "%s %10v %6d %d\n", col.Pad(it.Name), fs.SizeSuffix(it.Size), it.Chunks, len(it.Accounts))
		if err != nil {
			return err
		}
	}
	return nil
}

var commandDefinition = &cobra.Command{
	Use:     "list-files",
	Aliases: []string{"list"},
	Short:   `List the files stored by ddrive.`,
	Long: `
Lists the files in the catalog in name order with their size, the
number of chunks and the number of accounts holding them.

Use --format json or --format yaml for output a program can read,
which also lists the accounts and when the file was uploaded.
`,
	Args: cmd.CheckArgs(0, 0),
	RunE: func(command *cobra.Command, args []string) error {
		if err := cmd.CheckFormat(format); err != nil {
			return err
		}
		return cmd.Run(func(ctx context.Context, e *operations.Engine) error {
			items := makeItems(e.Files())
			return cmd.WriteList(command.OutOrStdout(), format, items, func(out io.Writer) error {
				return writeText(out, items)
			})
		})
	},
}
