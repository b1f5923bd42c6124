package cmd

import (
	"encoding/json"
	"io"

	"github.com/ddrive/ddrive/fs/config/flags"
	"github.com/mattn/go-runewidth"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v2"
)

// Output formats for the listing commands
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// AddFormatFlag adds the --format flag to flagSet
func AddFormatFlag(flagSet *pflag.FlagSet, p *string) {
	flags.StringVarP(flagSet, p, "format", "", FormatText, "Output format: text|json|yaml")
}

// CheckFormat returns a usage error if format isn't known
func CheckFormat(format string) error {
	switch format {
	case FormatText, FormatJSON, FormatYAML:
		return nil
	}
	return UsageError(errors.Errorf("unknown format %q - use text, json or yaml", format))
}

// WriteList writes v to out in format, calling text to write the text
// format
func WriteList(out io.Writer, format string, v interface{}, text func(out io.Writer) error) error {
	if err := CheckFormat(format); err != nil {
		return err
	}
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return errors.Wrap(err, "failed to make yaml")
		}
		_, err = out.Write(data)
		return err
	}
	return text(out)
}

// Column pads names to the widest one as displayed in a terminal
type Column int

// NewColumn makes a Column wide enough for title and names
func NewColumn(title string, names ...string) Column {
	width := runewidth.StringWidth(title)
	for _, name := range names {
		if w := runewidth.StringWidth(name); w > width {
			width = w
		}
	}
	return Column(width)
}

// Pad returns s padded with spaces to the width of the column
func (c Column) Pad(s string) string {
	return runewidth.FillRight(s, int(c))
}
