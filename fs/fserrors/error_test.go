package fserrors

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"syscall"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

// make a plausible network error with the underlying errno
func makeNetErr(errno syscall.Errno) error {
	return &net.OpError{
		Op:     "write",
		Net:    "tcp",
		Source: &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 123},
		Addr:   &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 8080},
		Err: &os.SyscallError{
			Syscall: "write",
			Err:     errno,
		},
	}
}

type timeoutError struct{}

func (timeoutError) Error() string { return "timeout" }
func (timeoutError) Timeout() bool { return true }

func TestShouldRetry(t *testing.T) {
	for i, test := range []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("potato"), false},
		{io.EOF, true},
		{errors.Wrap(io.ErrUnexpectedEOF, "reading chunk"), true},
		{makeNetErr(syscall.ECONNRESET), true},
		{makeNetErr(syscall.EPIPE), true},
		{&url.Error{Op: "post", URL: "/", Err: timeoutError{}}, true},
		{&url.Error{Op: "post", URL: "/", Err: errors.New("nope")}, false},
		{fmt.Errorf("read: %s", "use of closed network connection"), true},
		{RetryError(errors.New("again")), true},
		{RetryErrorf("rate limited %d", 1), true},
	} {
		assert.Equal(t, test.want, ShouldRetry(test.err), fmt.Sprintf("test #%d: %v", i, test.err))
	}
}

func TestRetryError(t *testing.T) {
	e := errors.New("underlying")
	err := RetryError(e)
	assert.True(t, IsRetryError(err))
	assert.True(t, errors.Is(err, e))
	assert.True(t, IsRetryError(errors.Wrap(err, "wrapped")))
	assert.False(t, IsRetryError(e))
	assert.Error(t, RetryError(nil))
}

func TestShouldRetryHTTP(t *testing.T) {
	codes := []int{429, 500, 503}
	assert.False(t, ShouldRetryHTTP(nil, codes))
	assert.True(t, ShouldRetryHTTP(&http.Response{StatusCode: 503}, codes))
	assert.False(t, ShouldRetryHTTP(&http.Response{StatusCode: 404}, codes))
}
