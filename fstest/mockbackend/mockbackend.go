// Package mockbackend provides an in memory fs.Backend useful for
// testing.
//
// It records the number of calls in flight so tests can check
// concurrency limits and it can be told to fail selected calls.
package mockbackend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ddrive/ddrive/fs"
	"github.com/pkg/errors"
)

// ErrInjected is returned by calls told to fail
var ErrInjected = errors.New("mockbackend: injected failure")

// Object is a chunk stored in the Backend
type Object struct {
	ID     fs.RemoteID
	Name   string
	Folder fs.FolderRef
	Data   []byte
}

// Backend is an in memory fs.Backend
type Backend struct {
	name string

	// Latency is slept inside every transfer call so calls overlap
	Latency time.Duration
	// FailUpload fails the upload of chunks for which it returns true
	FailUpload func(remoteName string) bool
	// FailDownload fails the download of the ids for which it returns true
	FailDownload func(id fs.RemoteID) bool
	// FailDelete fails the delete of the ids for which it returns true
	FailDelete func(id fs.RemoteID) bool
	// AuthErr is returned by Authenticate if set
	AuthErr error
	// Usage is returned by About if set
	Usage *fs.Usage

	// Gauge counts transfer calls in flight. Backends may share one
	// to measure concurrency across accounts.
	Gauge *Gauge

	calls int64 // atomic

	mu      sync.Mutex
	nextID  int
	objects map[fs.RemoteID]*Object
	folders map[string]fs.FolderRef // parent/name -> ref
	authed  bool
}

// New makes an empty Backend called name
func New(name string) *Backend {
	return &Backend{
		name:    name,
		Gauge:   new(Gauge),
		objects: make(map[fs.RemoteID]*Object),
		folders: make(map[string]fs.FolderRef),
	}
}

// Name of the account
func (b *Backend) Name() string {
	return b.name
}

// String returns a description of the backend
func (b *Backend) String() string {
	return "mock:" + b.name
}

// Authenticate returns AuthErr if set
func (b *Backend) Authenticate(ctx context.Context) error {
	if b.AuthErr != nil {
		return fs.AuthError(b.AuthErr, b.name)
	}
	b.mu.Lock()
	b.authed = true
	b.mu.Unlock()
	return nil
}

// Authenticated returns whether Authenticate has succeeded
func (b *Backend) Authenticated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.authed
}

// FindOrCreateFolder finds or makes the folder name in parent
func (b *Backend) FindOrCreateFolder(ctx context.Context, name string, parent fs.FolderRef) (fs.FolderRef, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := string(parent) + "/" + name
	if ref, ok := b.folders[key]; ok {
		return ref, nil
	}
	ref := fs.FolderRef(key)
	b.folders[key] = ref
	return ref, nil
}

// enter records a call starting, returning a func to call when it ends
func (b *Backend) enter(ctx context.Context) (func(), error) {
	atomic.AddInt64(&b.calls, 1)
	b.Gauge.enter()
	leave := b.Gauge.leave
	if b.Latency > 0 {
		select {
		case <-time.After(b.Latency):
		case <-ctx.Done():
			leave()
			return nil, ctx.Err()
		}
	}
	return leave, nil
}

// UploadChunk stores the data read from in
func (b *Backend) UploadChunk(ctx context.Context, in io.Reader, size int64, remoteName string, folder fs.FolderRef, progress fs.ProgressFunc) (fs.RemoteID, error) {
	leave, err := b.enter(ctx)
	if err != nil {
		return "", err
	}
	defer leave()
	if b.FailUpload != nil && b.FailUpload(remoteName) {
		return "", errors.Wrap(ErrInjected, remoteName)
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", err
	}
	if size >= 0 && int64(len(data)) != size {
		return "", errors.Errorf("upload of %q: read %d bytes, expected %d", remoteName, len(data), size)
	}
	if progress != nil {
		progress(int64(len(data)) / 2)
		progress(int64(len(data)))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := fs.RemoteID(fmt.Sprintf("%s-%d", b.name, b.nextID))
	b.objects[id] = &Object{ID: id, Name: remoteName, Folder: folder, Data: data}
	return id, nil
}

// DownloadChunk writes the stored data to out
func (b *Backend) DownloadChunk(ctx context.Context, id fs.RemoteID, out io.Writer, progress fs.ProgressFunc) (int64, error) {
	leave, err := b.enter(ctx)
	if err != nil {
		return 0, err
	}
	defer leave()
	if b.FailDownload != nil && b.FailDownload(id) {
		return 0, errors.Wrap(ErrInjected, string(id))
	}
	b.mu.Lock()
	o, ok := b.objects[id]
	b.mu.Unlock()
	if !ok {
		return 0, errors.Errorf("object %q not found", id)
	}
	n, err := io.Copy(out, bytes.NewReader(o.Data))
	if progress != nil {
		progress(n)
	}
	return n, err
}

// DeleteChunk removes the object
func (b *Backend) DeleteChunk(ctx context.Context, id fs.RemoteID) error {
	leave, err := b.enter(ctx)
	if err != nil {
		return err
	}
	defer leave()
	if b.FailDelete != nil && b.FailDelete(id) {
		return errors.Wrap(ErrInjected, string(id))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[id]; !ok {
		return errors.Errorf("object %q not found", id)
	}
	delete(b.objects, id)
	return nil
}

// About returns Usage if set
func (b *Backend) About(ctx context.Context) (*fs.Usage, error) {
	if b.Usage == nil {
		return nil, errors.New("about not supported")
	}
	u := *b.Usage
	return &u, nil
}

// Objects returns copies of the stored objects sorted by name
func (b *Backend) Objects() []Object {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Object, 0, len(b.objects))
	for _, o := range b.objects {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Put stores data directly, bypassing the call accounting
func (b *Backend) Put(name string, data []byte) fs.RemoteID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := fs.RemoteID(fmt.Sprintf("%s-%d", b.name, b.nextID))
	b.objects[id] = &Object{ID: id, Name: name, Data: data}
	return id
}

// Corrupt replaces the data stored under id
func (b *Backend) Corrupt(id fs.RemoteID, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if o, ok := b.objects[id]; ok {
		o.Data = data
	}
}

// Gauge records how many calls are running at once
type Gauge struct {
	inFlight int64 // atomic
	max      int64 // atomic
}

func (g *Gauge) enter() {
	n := atomic.AddInt64(&g.inFlight, 1)
	for {
		max := atomic.LoadInt64(&g.max)
		if n <= max || atomic.CompareAndSwapInt64(&g.max, max, n) {
			return
		}
	}
}

func (g *Gauge) leave() {
	atomic.AddInt64(&g.inFlight, -1)
}

// Max returns the most calls that were ever running at once
func (g *Gauge) Max() int {
	return int(atomic.LoadInt64(&g.max))
}

// InFlight returns the number of calls running now
func (g *Gauge) InFlight() int {
	return int(atomic.LoadInt64(&g.inFlight))
}

// MaxInFlight returns the most transfer calls that were ever running
// at once on the Gauge
func (b *Backend) MaxInFlight() int {
	return b.Gauge.Max()
}

// Calls returns the number of transfer calls made
func (b *Backend) Calls() int {
	return int(atomic.LoadInt64(&b.calls))
}

// Check the interfaces are satisfied
var (
	_ fs.Backend = (*Backend)(nil)
	_ fs.Abouter = (*Backend)(nil)
)
