// Package version provides the version command.
package version

import (
	"fmt"
	"io"
	"runtime"

	"github.com/ddrive/ddrive/cmd"
	"github.com/ddrive/ddrive/fs"
	"github.com/spf13/cobra"
)

func init() {
	cmd.Root.AddCommand(commandDefinition)
}

var commandDefinition = &cobra.Command{
	Use:   "version",
	Short: `Show the version number.`,
	Long: `Show the ddrive version number, the go version and the build
target OS and architecture.

For example:

    $ ddrive version
    ddrive v1.0.0
    - os/type: linux
    - os/arch: amd64
    - go/version: go1.21.4
`,
	Args: cmd.CheckArgs(0, 0),
	RunE: func(command *cobra.Command, args []string) error {
		showVersion(command.OutOrStdout())
		return nil
	},
}

// showVersion writes the version information to out
func showVersion(out io.Writer) {
	_, _ = fmt.Fprintf(out, "ddrive %s\n", fs.Version)
	_, _ = fmt.Fprintf(out, "- os/type: %s\n", runtime.GOOS)
	_, _ = fmt.Fprintf(out, "- os/arch: %s\n", runtime.GOARCH)
	_, _ = fmt.Fprintf(out, "- go/version: %s\n", runtime.Version())
}
