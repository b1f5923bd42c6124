package configstruct_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/ddrive/ddrive/fs"
	"github.com/ddrive/ddrive/fs/config/configmap"
	"github.com/ddrive/ddrive/fs/config/configstruct"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type conf struct {
	A string
	B string
}

type accountOptions struct {
	RootDir     string `config:"root"`
	VerifyEmail bool
	ChunkRetry  int
	PartSize    int64
	Timeout     time.Duration
	Capacity    fs.SizeSuffix
}

func TestItemsError(t *testing.T) {
	_, err := configstruct.Items(nil)
	assert.EqualError(t, err, "argument must be a pointer")
	_, err = configstruct.Items(new(int))
	assert.EqualError(t, err, "argument must be a pointer to a struct")
}

func TestItems(t *testing.T) {
	in := &accountOptions{
		RootDir:     "/srv",
		VerifyEmail: true,
		ChunkRetry:  42,
		PartSize:    101,
		Timeout:     42 * time.Second,
		Capacity:    fs.SizeSuffix(17 << 20),
	}
	got, err := configstruct.Items(in)
	require.NoError(t, err)
	want := []configstruct.Item{
		{Name: "root", Field: "RootDir", Num: 0, Value: "/srv"},
		{Name: "verify_email", Field: "VerifyEmail", Num: 1, Value: true},
		{Name: "chunk_retry", Field: "ChunkRetry", Num: 2, Value: int(42)},
		{Name: "part_size", Field: "PartSize", Num: 3, Value: int64(101)},
		{Name: "timeout", Field: "Timeout", Num: 4, Value: 42 * time.Second},
		{Name: "capacity", Field: "Capacity", Num: 5, Value: fs.SizeSuffix(17 << 20)},
	}
	assert.Equal(t, want, got)
}

func TestSetBasics(t *testing.T) {
	c := &conf{A: "one", B: "two"}
	err := configstruct.Set(configmap.Simple{}, c)
	require.NoError(t, err)
	assert.Equal(t, &conf{A: "one", B: "two"}, c)

	err = configstruct.Set(configmap.Simple{"a": "ONE"}, c)
	require.NoError(t, err)
	assert.Equal(t, &conf{A: "ONE", B: "two"}, c)
}

func TestSetFull(t *testing.T) {
	in := &accountOptions{Capacity: fs.SizeSuffix(1)}
	m := configmap.Simple{
		"root":         "/data",
		"verify_email": "TRUE",
		"chunk_retry":  "43 ",
		"part_size":    " 102 ",
		"timeout":      "43s",
		"capacity":     "18Mi",
	}
	want := &accountOptions{
		RootDir:     "/data",
		VerifyEmail: true,
		ChunkRetry:  43,
		PartSize:    102,
		Timeout:     43 * time.Second,
		Capacity:    fs.SizeSuffix(18 << 20),
	}
	err := configstruct.Set(m, in)
	require.NoError(t, err)
	assert.Equal(t, want, in)
}

func TestSetEmptyIsUnset(t *testing.T) {
	in := &accountOptions{ChunkRetry: 3}
	require.NoError(t, configstruct.Set(configmap.Simple{"chunk_retry": ""}, in))
	assert.Equal(t, 3, in.ChunkRetry)

	err := configstruct.Set(configmap.Simple{"chunk_retry": "lots"}, in)
	assert.Error(t, err)
}

func TestStringToInterface(t *testing.T) {
	for _, test := range []struct {
		in   string
		def  interface{}
		want interface{}
		err  string
	}{
		{"", string(""), "", ""},
		{"   string   ", string(""), "   string   ", ""},
		{"123", int(0), int(123), ""},
		{"0x123", int(0), int(0x123), ""},
		{"-123", int(0), int(-123), ""},
		{"0", false, false, ""},
		{"1", false, true, ""},
		{"FALSE", false, false, ""},
		{"true", false, true, ""},
		{"truth", false, nil, `parsing "truth" as bool failed: strconv.ParseBool: parsing "truth": invalid syntax`},
		{"123", uint(0), uint(123), ""},
		{"123", int64(0), int64(123), ""},
		{"123x", int64(0), nil, "parsing \"123x\" as int64 failed: expected newline"},
		{"1s", time.Duration(0), time.Second, ""},
		{"1m1s", time.Duration(0), 61 * time.Second, ""},
		{"1potato", time.Duration(0), nil, `parsing "1potato" as time.Duration failed: time: unknown unit "potato" in duration "1potato"`},
		{"1Mi", fs.SizeSuffix(0), fs.Mebi, ""},
		{"1G", fs.SizeSuffix(0), fs.Gibi, ""},
		{"off", fs.SizeSuffix(0), fs.SizeSuffix(-1), ""},
		{"1potato", fs.SizeSuffix(0), nil, `parsing "1potato" as fs.SizeSuffix failed: bad suffix 'o'`},
	} {
		what := fmt.Sprintf("parse %q as %T", test.in, test.def)
		got, err := configstruct.StringToInterface(test.def, test.in)
		if test.err == "" {
			require.NoError(t, err, what)
			assert.Equal(t, test.want, got, what)
		} else {
			assert.Nil(t, got, what)
			assert.EqualError(t, err, test.err, what)
		}
	}
}
