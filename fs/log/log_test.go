package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ddrive/ddrive/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/natefinch/lumberjack.v2"
)

func TestLogWriter(t *testing.T) {
	dir := t.TempDir()

	opt := Options{File: filepath.Join(dir, "plain.log"), MaxSize: -1}
	w, err := logWriter(&opt)
	require.NoError(t, err)
	f, ok := w.(*os.File)
	require.True(t, ok)
	_, err = f.WriteString("hello\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	opt = Options{File: filepath.Join(dir, "rotated.log"), MaxSize: 10 * fs.Mebi, MaxBackups: 3, Compress: true}
	w, err = logWriter(&opt)
	require.NoError(t, err)
	lj, ok := w.(*lumberjack.Logger)
	require.True(t, ok)
	assert.Equal(t, 10, lj.MaxSize)
	assert.Equal(t, 3, lj.MaxBackups)
	assert.True(t, lj.Compress)

	// sizes under a megabyte round up
	opt.MaxSize = 100
	w, err = logWriter(&opt)
	require.NoError(t, err)
	assert.Equal(t, 1, w.(*lumberjack.Logger).MaxSize)
}

func TestRedirected(t *testing.T) {
	old := Opt
	defer func() { Opt = old }()
	Opt.File = ""
	assert.False(t, Redirected())
	Opt.File = "x.log"
	assert.True(t, Redirected())
}
