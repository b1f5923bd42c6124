package shell

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitArgs(t *testing.T) {
	for _, test := range []struct {
		in      string
		want    []string
		wantErr bool
	}{
		{"", nil, false},
		{"   ", nil, false},
		{"list-files", []string{"list-files"}, false},
		{"  upload  a.bin   --name b.bin ", []string{"upload", "a.bin", "--name", "b.bin"}, false},
		{`upload "holiday video.mp4"`, []string{"upload", "holiday video.mp4"}, false},
		{`upload 'it''s'`, []string{"upload", "its"}, false},
		{`download "a \"b\"" out`, []string{"download", `a "b"`, "out"}, false},
		{`upload a\ b`, []string{"upload", "a b"}, false},
		{`upload 'a\b'`, []string{"upload", `a\b`}, false},
		{`delete ""`, []string{"delete", ""}, false},
		{"a\tb", []string{"a", "b"}, false},
		{`upload "oops`, nil, true},
		{`upload oops\`, nil, true},
	} {
		got, err := splitArgs(test.in)
		if test.wantErr {
			assert.Error(t, err, test.in)
			continue
		}
		require.NoError(t, err, test.in)
		assert.Equal(t, test.want, got, test.in)
	}
}

func TestRunShell(t *testing.T) {
	in := strings.NewReader("list-files\n\nupload \"a b\"\nbad\nshell\nexit\nlist-accounts\n")
	var out bytes.Buffer
	var got [][]string
	err := runShell(in, &out, func(args []string) error {
		got = append(got, args)
		if args[0] == "bad" {
			return errors.New("unknown command \"bad\"")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"list-files"}, {"upload", "a b"}, {"bad"}}, got)
	assert.Contains(t, out.String(), Prompt)
	assert.Contains(t, out.String(), `unknown command "bad"`)
	assert.Contains(t, out.String(), "already in the shell")
}

func TestRunShellEOF(t *testing.T) {
	var out bytes.Buffer
	calls := 0
	err := runShell(strings.NewReader("quote \"unterminated\nlist-files"), &out, func(args []string) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Contains(t, out.String(), "unterminated \" quote")
}

func TestExecuteResetsFlags(t *testing.T) {
	var name string
	var opts []string
	var seen []string
	root := &cobra.Command{Use: "root", SilenceErrors: true, SilenceUsage: true}
	sub := &cobra.Command{
		Use: "upload",
		RunE: func(command *cobra.Command, args []string) error {
			seen = append(seen, name+":"+strings.Join(opts, ","))
			return nil
		},
	}
	sub.Flags().StringVar(&name, "name", "", "")
	sub.Flags().StringArrayVarP(&opts, "option", "o", nil, "")
	root.AddCommand(sub)

	require.NoError(t, execute(root, []string{"upload", "--name", "x", "-o", "a=1", "-o", "b=2"}))
	require.NoError(t, execute(root, []string{"upload"}))
	require.NoError(t, execute(root, []string{"upload", "-o", "c=3"}))
	assert.Equal(t, []string{"x:a=1,b=2", ":", ":c=3"}, seen)

	assert.Error(t, execute(root, []string{"potato"}))
}
