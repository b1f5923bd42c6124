package configstruct

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCamelToSnake(t *testing.T) {
	for _, test := range []struct {
		in   string
		want string
	}{
		{"", ""},
		{"Root", "root"},
		{"ChunkSize", "chunk_size"},
		{"VerifyEmail", "verify_email"},
		{"ClientID", "client_id"},
		{"AccessKeyID", "access_key_id"},
		{"ForcePathStyle", "force_path_style"},
	} {
		got := camelToSnake(test.in)
		assert.Equal(t, test.want, got, test.in)
	}
}
