//go:build !plan9

package fserrors

import (
	"syscall"
)

func init() {
	retriableErrors = append(retriableErrors,
		syscall.EPIPE,
		syscall.ETIMEDOUT,
		syscall.ECONNREFUSED,
		syscall.EHOSTUNREACH,
		syscall.ECONNABORTED,
		syscall.ECONNRESET,
	)
}
