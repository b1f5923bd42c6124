package fs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogLevelString(t *testing.T) {
	for _, test := range []struct {
		in   LogLevel
		want string
	}{
		{LogLevelEmergency, "EMERGENCY"},
		{LogLevelError, "ERROR"},
		{LogLevelWarning, "WARNING"},
		{LogLevelDebug, "DEBUG"},
		{99, "LogLevel(99)"},
	} {
		assert.Equal(t, test.want, test.in.String())
	}
}

func TestLogLevelSet(t *testing.T) {
	var l LogLevel
	require.NoError(t, l.Set("INFO"))
	assert.Equal(t, LogLevelInfo, l)
	assert.Error(t, l.Set("LOUD"))
	assert.Error(t, l.Set(""))
}

func capture(t *testing.T) *[]string {
	var lines []string
	oldLogPrint := LogPrint
	LogPrint = func(level LogLevel, text string) {
		lines = append(lines, level.String()+" "+text)
	}
	t.Cleanup(func() { LogPrint = oldLogPrint })
	return &lines
}

func TestLogFiltering(t *testing.T) {
	ci := GetConfig(context.Background())
	oldLevel := ci.LogLevel
	defer func() { ci.LogLevel = oldLevel }()
	lines := capture(t)

	ci.LogLevel = LogLevelNotice
	Debugf(nil, "hidden %d", 1)
	Infof("acct", "hidden too")
	Logf("acct", "shown %d", 2)
	Warnf("acct", "careful")
	Errorf(nil, "bad")
	assert.Equal(t, []string{
		"NOTICE acct: shown 2",
		"WARNING acct: careful",
		"ERROR bad",
	}, *lines)

	*lines = nil
	ci.LogLevel = LogLevelDebug
	Debugf(nil, "visible")
	assert.Equal(t, []string{"DEBUG visible"}, *lines)
}
