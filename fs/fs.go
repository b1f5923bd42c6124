// Package fs is a generic interface to the storage accounts ddrive
// spreads its chunks over
package fs

import (
	"context"
	"io"
	"sort"
	"strings"

	"github.com/ddrive/ddrive/fs/config/configmap"
	"github.com/pkg/errors"
)

// Constants
const (
	// SizeUnknown is used in Usage for values a backend can't report
	SizeUnknown = int64(-1)
)

// Globals
var (
	// Filesystem registry
	Registry []*RegInfo
)

// RemoteID is the opaque handle a backend returns for a stored chunk
type RemoteID string

// FolderRef is the opaque handle a backend returns for a folder
//
// The zero value means the root of the account.
type FolderRef string

// ProgressFunc is called by backends with the cumulative number of
// bytes transferred for a single chunk. It must not block.
type ProgressFunc func(bytes int64)

// Usage is returned by the About call
//
// If a value is SizeUnknown then it isn't supported by the backend
type Usage struct {
	Total int64 // quota of bytes that can be used
	Used  int64 // bytes in use
	Free  int64 // bytes which can be uploaded before reaching the quota
}

// Backend is the interface a storage account must satisfy to hold
// chunks.
type Backend interface {
	// Name of the account, usually the email address
	Name() string

	// String returns a description of the backend
	String() string

	// Authenticate makes sure there is a valid session, refreshing or
	// re-requesting credentials as required.
	//
	// It returns an error wrapping ErrorAuthenticationRequired if
	// the credentials can't be made valid without user interaction.
	Authenticate(ctx context.Context) error

	// FindOrCreateFolder finds the folder called name inside parent,
	// creating it if it doesn't exist.
	FindOrCreateFolder(ctx context.Context, name string, parent FolderRef) (FolderRef, error)

	// UploadChunk uploads size bytes from in as remoteName inside
	// folder returning the id of the stored object.
	UploadChunk(ctx context.Context, in io.Reader, size int64, remoteName string, folder FolderRef, progress ProgressFunc) (RemoteID, error)

	// DownloadChunk writes the object with the id given to out
	// returning the number of bytes written.
	DownloadChunk(ctx context.Context, id RemoteID, out io.Writer, progress ProgressFunc) (int64, error)

	// DeleteChunk removes the object with the id given.
	DeleteChunk(ctx context.Context, id RemoteID) error
}

// Abouter is an optional interface for Backend
type Abouter interface {
	// About gets quota information from the backend
	About(ctx context.Context) (*Usage, error)
}

// Shutdowner is an optional interface for Backend
type Shutdowner interface {
	// Shutdown the backend, flushing any pending state
	Shutdown(ctx context.Context) error
}

// RegInfo provides information about a backend type
type RegInfo struct {
	// Name of this backend type, stored in the config file as "type"
	Name string
	// Description of this backend type
	Description string
	// NewBackend makes a new backend for the account name with the
	// config in m
	NewBackend func(ctx context.Context, name string, m configmap.Mapper) (Backend, error)
	// Config does the interactive part of linking an account. It
	// may be nil if nothing is needed.
	Config func(ctx context.Context, name string, m configmap.Mapper) error
	// Options for this backend, used for help text
	Options Options
}

// Option describes an option for the config wizard
type Option struct {
	Name     string
	Help     string
	Default  string
	Required bool
}

// Options is a slice of configuration Option for a backend
type Options []Option

// Register a backend type
//
// Backends should call this in an init() function
func Register(info *RegInfo) {
	Registry = append(Registry, info)
}

// Find looks for a RegInfo object for the name passed in
//
// Services are looked up in the config file
func Find(name string) (*RegInfo, error) {
	for _, item := range Registry {
		if item.Name == name {
			return item, nil
		}
	}
	return nil, errors.Errorf("didn't find backend called %q (known: %s)", name, strings.Join(BackendNames(), ", "))
}

// BackendNames returns the names of the registered backend types
func BackendNames() []string {
	names := make([]string, 0, len(Registry))
	for _, item := range Registry {
		names = append(names, item.Name)
	}
	sort.Strings(names)
	return names
}
