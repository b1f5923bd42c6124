package fs

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInsufficientCapacityError(t *testing.T) {
	var err error = &InsufficientCapacityError{Part: 3, Size: 40}
	assert.True(t, errors.Is(err, ErrorInsufficientCapacity))
	assert.False(t, errors.Is(err, ErrorFileNotFound))
	assert.Equal(t, "insufficient capacity: no account has room for part 3 (40)", err.Error())

	var ice *InsufficientCapacityError
	assert.True(t, errors.As(err, &ice))
	assert.Equal(t, 3, ice.Part)
}

func TestTransferError(t *testing.T) {
	var err error = &TransferError{Part: 2, Account: "a@example.com", Err: io.ErrUnexpectedEOF}
	assert.True(t, errors.Is(err, ErrorTransferFailure))
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
	assert.Equal(t, `part 2 on "a@example.com": unexpected EOF`, err.Error())
}

func TestCatalogError(t *testing.T) {
	assert.Nil(t, CatalogError(nil, "save"))
	err := CatalogError(io.ErrShortWrite, "save catalog")
	assert.True(t, errors.Is(err, ErrorCatalogIO))
	assert.True(t, errors.Is(err, io.ErrShortWrite))
	assert.Equal(t, "save catalog: short write", err.Error())
}

func TestAuthError(t *testing.T) {
	assert.Nil(t, AuthError(nil, "x"))
	err := AuthError(io.EOF, "a@example.com")
	assert.True(t, errors.Is(err, ErrorAuthenticationRequired))
	assert.Contains(t, err.Error(), `for "a@example.com"`)
}
