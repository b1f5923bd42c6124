// Package addaccount provides the add-account command.
package addaccount

import (
	"context"
	"fmt"
	"strings"

	"github.com/ddrive/ddrive/cmd"
	"github.com/ddrive/ddrive/fs"
	"github.com/ddrive/ddrive/fs/config/flags"
	"github.com/ddrive/ddrive/fs/operations"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// Globals
var (
	accountType  = "drive"
	capacity     = fs.SizeSuffix(0)
	root         = ""
	clientID     = ""
	clientSecret = ""
	verifyEmail  = false
	options      []string
)

func init() {
	cmd.Root.AddCommand(commandDefinition)
	cmdFlags := commandDefinition.Flags()
	flags.StringVarP(cmdFlags, &accountType, "type", "", accountType, "Type of the account: drive|dropbox|local|s3")
	flags.FVarP(cmdFlags, &capacity, "capacity", "", "Bytes ddrive may store on the account (default ask the account)")
	flags.StringVarP(cmdFlags, &root, "root", "", root, "Directory to store chunks in for local accounts")
	flags.StringVarP(cmdFlags, &clientID, "client-id", "", clientID, "OAuth client ID for drive and dropbox accounts")
	flags.StringVarP(cmdFlags, &clientSecret, "client-secret", "", clientSecret, "OAuth client secret for drive and dropbox accounts")
	flags.BoolVarP(cmdFlags, &verifyEmail, "verify-email", "", verifyEmail, "Check the account's email matches the one given")
	flags.StringArrayVarP(cmdFlags, &options, "option", "o", nil, "Backend option as key=value (repeat for more)")
}

// parseOptions turns the command line into the backend options
func parseOptions() (map[string]string, error) {
	opts := make(map[string]string, len(options)+4)
	for _, option := range options {
		equals := strings.IndexRune(option, '=')
		if equals <= 0 {
			return nil, cmd.UsageError(errors.Errorf("option %q must be key=value", option))
		}
		opts[option[:equals]] = option[equals+1:]
	}
	if root != "" {
		opts["root"] = root
	}
	if clientID != "" {
		opts["client_id"] = clientID
	}
	if clientSecret != "" {
		opts["client_secret"] = clientSecret
	}
	if verifyEmail {
		opts["verify_email"] = "true"
	}
	return opts, nil
}

var commandDefinition = &cobra.Command{
	Use:   "add-account <email>",
	Short: `Link a storage account.`,
	Long: `
Links the storage account called <email> so ddrive can put chunks on
it. Drive and Dropbox accounts open a browser to authorise ddrive;
their OAuth client comes from --client-id and --client-secret.

Running it again for a linked account refreshes its credentials and
keeps the record of what is stored there.

The capacity is read from the account's quota when it can be, and
--default-capacity is used when it can't. Use --capacity to set it.

    ddrive add-account me@gmail.com --client-id ID --client-secret SECRET
    ddrive add-account disk1 --type local --root /mnt/disk1 --capacity 100G
    ddrive add-account backups --type s3 -o bucket=chunks -o region=eu-west-2
`,
	Args: cmd.CheckArgs(1, 1),
	RunE: func(command *cobra.Command, args []string) error {
		opts, err := parseOptions()
		if err != nil {
			return err
		}
		if _, err = fs.Find(accountType); err != nil {
			return cmd.UsageError(err)
		}
		return cmd.Run(func(ctx context.Context, e *operations.Engine) error {
			a, err := e.LinkAccount(ctx, operations.LinkOptions{
				ID:       args[0],
				Type:     accountType,
				Capacity: capacity,
				Options:  opts,
			})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(command.OutOrStdout(), "Linked %s account %q with %v capacity (%v available)\n",
				a.Type, a.ID, fs.SizeSuffix(a.Total), fs.SizeSuffix(a.Available()))
			return nil
		})
	},
}
