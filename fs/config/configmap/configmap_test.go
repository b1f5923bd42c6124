package configmap

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Mapper = Simple(nil)
	_ Mapper = (*Map)(nil)
)

type failSetter struct{}

func (failSetter) Set(key, value string) error { return errors.New("read only") }

func TestMapGet(t *testing.T) {
	env := Simple{"token": "from-env"}
	file := Simple{"token": "from-file", "type": "drive"}
	m := New().AddGetter(env).AddGetter(file)

	value, found := m.Get("token")
	assert.True(t, found)
	assert.Equal(t, "from-env", value)

	value, found = m.Get("type")
	assert.True(t, found)
	assert.Equal(t, "drive", value)

	_, found = m.Get("missing")
	assert.False(t, found)
}

func TestMapSet(t *testing.T) {
	a, b := Simple{}, Simple{}
	m := New().AddSetter(a).AddSetter(b)
	require.NoError(t, m.Set("key", "value"))
	assert.Equal(t, "value", a["key"])
	assert.Equal(t, "value", b["key"])

	m.AddSetter(failSetter{})
	assert.EqualError(t, m.Set("key", "other"), "read only")
	assert.Equal(t, "other", a["key"])
}

func TestHelpers(t *testing.T) {
	m := Simple{"root": "", "verify": "true", "broken": "maybe"}
	assert.Equal(t, "def", GetDefault(m, "root", "def"))
	assert.Equal(t, "def", GetDefault(m, "missing", "def"))
	assert.True(t, GetBool(m, "verify"))
	assert.False(t, GetBool(m, "broken"))
	assert.False(t, GetBool(m, "missing"))
}

func TestSimpleString(t *testing.T) {
	assert.Equal(t, "", Simple(nil).String())
	assert.Equal(t, `apple="",config1="one",potato="42"`, Simple{
		"config1": "one",
		"potato":  "42",
		"apple":   "",
	}.String())
}
