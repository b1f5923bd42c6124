// Package listaccounts provides the list-accounts command.
package listaccounts

import (
	"context"
	"fmt"
	"io"

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

// item is an account as shown by list-accounts
type item struct {
	ID        string `json:"id" yaml:"id"`
	Type      string `json:"type" yaml:"type"`
	Total     int64  `json:"total" yaml:"total"`
	Used      int64  `json:"used" yaml:"used"`
	Available int64  `json:"available" yaml:"available"`
}

func makeItems(accounts []catalog.Account) []item {
	items := make([]item, 0, len(accounts))
	for _, a := range accounts {
		items = append(items, item{
			ID:        a.ID,
			Type:      a.Type,
			Total:     a.Total,
			Used:      a.Used,
			Available: a.Available(),
		})
	}
	return items
}

// writeText writes the items as a table with a total line
func writeText(out io.Writer, items []item) error {
	if len(items) == 0 {
		_, err := fmt.Fprintln(out, "No accounts linked - use add-account to link one")
		return err
	}
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	col := cmd.NewColumn("Account", ids...)
	var total, used, available int64
	_, _ = fmt.Fprintf(out, "%s %-8s %10s %10s %10s\n", col.Pad("Account"), "Type", "Total", "Used", "Available")
	for _, it := range items {
		_, _ = fmt.Fprintf(out, "%s %-8s %10v %10v %10v\n", col.Pad(it.ID), it.Type,
			fs.SizeSuffix(it.Total), fs.SizeSuffix(it.Used), fs.SizeSuffix(it.Available))
		total += it.Total
		used += it.Used
		available += it.Available
	}
	_, err := fmt.Fprintf(out, "%s %-8s %10v %10v %10v\n", col.Pad("Total"), "", fs.SizeSuffix(total), fs.SizeSuffix(used), fs.SizeSuffix(available))
	return err
}

var commandDefinition = &cobra.Command{
	Use:     "list-accounts",
	Aliases: []string{"accounts"},
	Short:   `List the linked accounts and their capacity.`,
	Long: `
Lists the linked accounts in name order with the capacity ddrive may
use on each, how much of it is used and how much is left.

Use --format json or --format yaml for output a program can read.
Sizes in those are in bytes.
`,
	Args: cmd.CheckArgs(0, 0),
	RunE: func(command *cobra.Command, args []string) error {
		if err := cmd.CheckFormat(format); err != nil {
			return err
		}
		return cmd.Run(func(ctx context.Context, e *operations.Engine) error {
			items := makeItems(e.Accounts())
			return cmd.WriteList(command.OutOrStdout(), format, items, func(out io.Writer) error {
				return writeText(out, items)
			})
		})
	},
}
