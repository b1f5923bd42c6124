package terminal

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrite(t *testing.T) {
	Start()
	old := Out
	defer func() { Out = old }()
	var buf bytes.Buffer
	Out = &buf
	WriteString("progress ")
	Write([]byte(EraseLine + "done"))
	assert.Equal(t, "progress "+EraseLine+"done", buf.String())
}

func TestGetSize(t *testing.T) {
	w, h := GetSize()
	assert.Greater(t, w, 0)
	assert.Greater(t, h, 0)
}

func TestColorize(t *testing.T) {
	want := "text"
	if IsTerminal(int(os.Stdout.Fd())) {
		want = RedFg + "text" + Reset
	}
	assert.Equal(t, want, Colorize(RedFg, "text"))
}
