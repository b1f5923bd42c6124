// Errors and error handling

package fs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Globals
var (
	ErrorAuthenticationRequired = errors.New("authentication required")
	ErrorInsufficientCapacity   = errors.New("insufficient capacity")
	ErrorFileNotFound           = errors.New("file not found")
	ErrorDuplicateFile          = errors.New("file already exists")
	ErrorTransferFailure        = errors.New("transfer failed")
	ErrorIncompleteChunkSet     = errors.New("incomplete chunk set")
	ErrorCatalogIO              = errors.New("catalog I/O error")
	ErrorEmptyFile              = errors.New("can't distribute an empty file")
	ErrorNoAccounts             = errors.New("no storage accounts linked")
	ErrorAccountNotFound        = errors.New("account not found")
	ErrorHashMismatch           = errors.New("chunk hash mismatch")
)

// InsufficientCapacityError is returned when no account has room for
// a chunk.
type InsufficientCapacityError struct {
	Part int   // part number of the chunk which didn't fit
	Size int64 // size of that chunk
}

// Error satisfies the error interface
func (e *InsufficientCapacityError) Error() string {
	return fmt.Sprintf("%v: no account has room for part %d (%v)", ErrorInsufficientCapacity, e.Part, SizeSuffix(e.Size))
}

// Is makes errors.Is(err, ErrorInsufficientCapacity) work
func (e *InsufficientCapacityError) Is(target error) bool {
	return target == ErrorInsufficientCapacity
}

// TransferError is the failure of a single chunk transfer
type TransferError struct {
	Part    int
	Account string
	Err     error
}

// Error satisfies the error interface
func (e *TransferError) Error() string {
	return fmt.Sprintf("part %d on %q: %v", e.Part, e.Account, e.Err)
}

// Unwrap returns the underlying error
func (e *TransferError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrorTransferFailure) work
func (e *TransferError) Is(target error) bool {
	return target == ErrorTransferFailure
}

// CatalogError wraps err so it is recognised as ErrorCatalogIO
func CatalogError(err error, what string) error {
	if err == nil {
		return nil
	}
	return &catalogError{err: errors.Wrap(err, what)}
}

type catalogError struct {
	err error
}

func (e *catalogError) Error() string        { return e.err.Error() }
func (e *catalogError) Unwrap() error        { return e.err }
func (e *catalogError) Is(target error) bool { return target == ErrorCatalogIO }

// AuthError wraps err so it is recognised as ErrorAuthenticationRequired
func AuthError(err error, account string) error {
	if err == nil {
		return nil
	}
	return &authError{account: account, err: err}
}

type authError struct {
	account string
	err     error
}

func (e *authError) Error() string {
	return fmt.Sprintf("%v for %q: %v", ErrorAuthenticationRequired, e.account, e.err)
}
func (e *authError) Unwrap() error        { return e.err }
func (e *authError) Is(target error) bool { return target == ErrorAuthenticationRequired }
