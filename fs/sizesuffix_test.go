package fs

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizeSuffixString(t *testing.T) {
	for _, test := range []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{100, "100"},
		{1024, "1Ki"},
		{1536, "1.500Ki"},
		{50 * 1024 * 1024, "50Mi"},
		{15 * 1024 * 1024 * 1024, "15Gi"},
		{-1, "off"},
	} {
		ss := SizeSuffix(test.in)
		assert.Equal(t, test.want, ss.String(), "%v", test.in)
	}
}

func TestSizeSuffixByteShortUnit(t *testing.T) {
	assert.Equal(t, "0 B", SizeSuffix(0).ByteShortUnit())
	assert.Equal(t, "40 B", SizeSuffix(40).ByteShortUnit())
	assert.Equal(t, "50 MiB", SizeSuffix(50*Mebi).ByteShortUnit())
	assert.Equal(t, "off", SizeSuffix(-1).ByteShortUnit())
}

func TestSizeSuffixSet(t *testing.T) {
	for _, test := range []struct {
		in   string
		want int64
		err  bool
	}{
		{"0", 0, false},
		{"100", 100, false},
		{"10B", 10, false},
		{"1K", 1024, false},
		{"1Ki", 1024, false},
		{"1KiB", 1024, false},
		{"1KB", 1024, false},
		{"1.5M", 1024 * 1024 * 3 / 2, false},
		{"50Mi", 50 * 1024 * 1024, false},
		{"15G", 15 * 1024 * 1024 * 1024, false},
		{"off", -1, false},
		{"OFF", -1, false},
		{"", 0, true},
		{"1x", 0, true},
		{"1iB", 0, true},
		{"-1K", 0, true},
	} {
		ss := SizeSuffix(0)
		err := ss.Set(test.in)
		if test.err {
			assert.Error(t, err, test.in)
			continue
		}
		require.NoError(t, err, test.in)
		assert.Equal(t, test.want, int64(ss), test.in)
	}
}

func TestSizeSuffixUnmarshalJSON(t *testing.T) {
	var ss SizeSuffix
	require.NoError(t, json.Unmarshal([]byte(`"2Mi"`), &ss))
	assert.Equal(t, SizeSuffix(2*Mebi), ss)
	require.NoError(t, json.Unmarshal([]byte(`123`), &ss))
	assert.Equal(t, SizeSuffix(123), ss)
	assert.Error(t, json.Unmarshal([]byte(`"2Q"`), &ss))
}
