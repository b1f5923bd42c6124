// Package shell provides the interactive shell.
package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ddrive/ddrive/cmd"
	"github.com/ddrive/ddrive/fs"
	"github.com/ddrive/ddrive/lib/terminal"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Prompt is shown before each command
const Prompt = "D-Drive> "

// set while the shell is running so it can't be started again inside
// itself
var running bool

func init() {
	cmd.Root.AddCommand(commandDefinition)
}

var commandDefinition = &cobra.Command{
	Use:   "shell",
	Short: `Run ddrive commands interactively.`,
	Long: `
Starts a prompt which reads ddrive commands one per line and runs
them, so several can be run without starting ddrive each time. This is
what ddrive does when run without a command.

Quote arguments containing spaces with single or double quotes.

    D-Drive> upload "holiday video.mp4"
    D-Drive> list-files --format json

Type help for the commands and exit or quit to leave.
`,
	Args: cmd.CheckArgs(0, 0),
	RunE: func(command *cobra.Command, args []string) error {
		if running {
			return errors.New("already in the shell")
		}
		running = true
		defer func() { running = false }()
		// settings from one line mustn't leak into the next
		ci := fs.GetConfig(context.Background())
		saved := *ci
		return runShell(os.Stdin, command.OutOrStdout(), func(args []string) error {
			defer func() { *ci = saved }()
			return execute(command.Root(), args)
		})
	},
}

// runShell reads commands from in until exit, quit or EOF and passes
// them to exec. Errors from commands are printed and the shell goes on.
func runShell(in io.Reader, out io.Writer, exec func(args []string) error) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	_, _ = fmt.Fprintln(out, "D-Drive shell - type help for commands, exit to leave")
	for {
		_, _ = fmt.Fprint(out, terminal.Colorize(terminal.Bright, Prompt))
		if !scanner.Scan() {
			_, _ = fmt.Fprintln(out)
			return scanner.Err()
		}
		args, err := splitArgs(scanner.Text())
		if err != nil {
			printError(out, err)
			continue
		}
		if len(args) == 0 {
			continue
		}
		switch args[0] {
		case "exit", "quit":
			return nil
		case "shell":
			printError(out, errors.New("already in the shell"))
			continue
		}
		if err = exec(args); err != nil {
			printError(out, err)
		}
	}
}

func printError(out io.Writer, err error) {
	_, _ = fmt.Fprintf(out, "%s %v\n", terminal.Colorize(terminal.RedFg, "Error:"), err)
}

// execute runs args as a ddrive command line on root
func execute(root *cobra.Command, args []string) error {
	root.SetArgs(args)
	command, err := root.ExecuteC()
	if command != nil {
		resetFlags(command)
	}
	return err
}

// resetFlags puts the flags of command back to their defaults so one
// line's flags don't leak into the next
func resetFlags(command *cobra.Command) {
	reset := func(flag *pflag.Flag) {
		if !flag.Changed {
			return
		}
		if slice, ok := flag.Value.(pflag.SliceValue); ok {
			_ = slice.Replace(nil)
		} else {
			_ = flag.Value.Set(flag.DefValue)
		}
		flag.Changed = false
	}
	command.Flags().VisitAll(reset)
	command.Root().PersistentFlags().VisitAll(reset)
}

// splitArgs splits line into words like a shell does, handling single
// and double quotes and backslash escapes
func splitArgs(line string) (args []string, err error) {
	var (
		word    strings.Builder
		inWord  bool
		quote   rune
		escaped bool
	)
	for _, c := range line {
		switch {
		case escaped:
			word.WriteRune(c)
			escaped = false
		case c == '\\' && quote != '\'':
			escaped = true
			inWord = true
		case quote != 0:
			if c == quote {
				quote = 0
			} else {
				word.WriteRune(c)
			}
		case c == '"' || c == '\'':
			quote = c
			inWord = true
		case c == ' ' || c == '\t':
			if inWord {
				args = append(args, word.String())
				word.Reset()
				inWord = false
			}
		default:
			word.WriteRune(c)
			inWord = true
		}
	}
	if quote != 0 {
		return nil, errors.Errorf("unterminated %c quote", quote)
	}
	if escaped {
		return nil, errors.New("line ends with an escape")
	}
	if inWord {
		args = append(args, word.String())
	}
	return args, nil
}
