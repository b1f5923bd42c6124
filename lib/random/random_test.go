package random

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	for i := 0; i < 100; i++ {
		assert.Equal(t, i, len(String(i)))
	}
}

func TestPassword(t *testing.T) {
	for _, test := range []struct {
		bits int
		want int
	}{
		{0, 0},
		{1, 2},
		{64, 11},
		{128, 22},
	} {
		got, err := Password(test.bits)
		assert.NoError(t, err)
		assert.Equal(t, test.want, len(got), "bits %d", test.bits)
	}
	a, _ := Password(128)
	b, _ := Password(128)
	assert.NotEqual(t, a, b)
}
