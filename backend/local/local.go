// Package local provides a storage account backed by a local directory
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ddrive/ddrive/fs"
	"github.com/ddrive/ddrive/fs/config/configmap"
	"github.com/ddrive/ddrive/fs/config/configstruct"
	"github.com/ddrive/ddrive/lib/diskusage"
	"github.com/ddrive/ddrive/lib/readers"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Register with Fs
func init() {
	fs.Register(&fs.RegInfo{
		Name:        "local",
		Description: "Local directory",
		NewBackend:  NewBackend,
		Options: fs.Options{{
			Name:     "root",
			Help:     "Directory the chunks are stored in.",
			Required: true,
		}, {
			Name: "capacity",
			Help: "Bytes ddrive may store here.\nLeave blank to use the free space on the disk.",
		}},
	})
}

// Options defines the configuration for this backend
type Options struct {
	Root     string        `config:"root"`
	Capacity fs.SizeSuffix `config:"capacity"`
}

// Fs represents a local directory holding chunks
type Fs struct {
	name string  // name of this account
	opt  Options // parsed config options
	root string  // absolute path of the directory
}

// NewBackend constructs an Fs from the config in m
func NewBackend(ctx context.Context, name string, m configmap.Mapper) (fs.Backend, error) {
	opt := new(Options)
	err := configstruct.Set(m, opt)
	if err != nil {
		return nil, err
	}
	if opt.Root == "" {
		return nil, errors.Errorf("local account %q needs a root directory", name)
	}
	root, err := filepath.Abs(opt.Root)
	if err != nil {
		return nil, errors.Wrap(err, "failed to make root absolute")
	}
	return &Fs{
		name: name,
		opt:  *opt,
		root: root,
	}, nil
}

// Name of the account
func (f *Fs) Name() string {
	return f.name
}

// String converts this Fs to a string
func (f *Fs) String() string {
	return fmt.Sprintf("Local directory %s", f.root)
}

// Authenticate makes sure the root directory exists
func (f *Fs) Authenticate(ctx context.Context) error {
	err := os.MkdirAll(f.root, 0777)
	if err != nil {
		return errors.Wrap(err, "failed to make root directory")
	}
	fi, err := os.Stat(f.root)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return errors.Errorf("%q is not a directory", f.root)
	}
	return nil
}

// checkLeaf makes sure name is a single path element
func checkLeaf(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return errors.Errorf("invalid name %q", name)
	}
	return nil
}

// localPath turns a slash separated path relative to the root into
// an OS path, refusing paths which escape the root
func (f *Fs) localPath(rel string) (string, error) {
	clean := path.Clean("/" + rel)
	if clean != "/"+rel && rel != "" {
		return "", errors.Errorf("invalid path %q", rel)
	}
	return filepath.Join(f.root, filepath.FromSlash(clean)), nil
}

// FindOrCreateFolder makes the directory name inside parent
func (f *Fs) FindOrCreateFolder(ctx context.Context, name string, parent fs.FolderRef) (fs.FolderRef, error) {
	if err := checkLeaf(name); err != nil {
		return "", err
	}
	rel := path.Join(string(parent), name)
	dir, err := f.localPath(rel)
	if err != nil {
		return "", err
	}
	if err = os.MkdirAll(dir, 0777); err != nil {
		return "", errors.Wrap(err, "failed to make directory")
	}
	return fs.FolderRef(rel), nil
}

// UploadChunk writes in to a new object inside folder
//
// The object is written to a temporary name and renamed into place so
// a failed upload leaves nothing behind.
func (f *Fs) UploadChunk(ctx context.Context, in io.Reader, size int64, remoteName string, folder fs.FolderRef, progress fs.ProgressFunc) (id fs.RemoteID, err error) {
	if err = checkLeaf(remoteName); err != nil {
		return "", err
	}
	rel := path.Join(string(folder), uuid.New().String()+"-"+remoteName)
	dst, err := f.localPath(rel)
	if err != nil {
		return "", err
	}
	out, err := os.CreateTemp(filepath.Dir(dst), ".partial-*")
	if err != nil {
		return "", errors.Wrap(err, "failed to create chunk")
	}
	defer func() {
		if err != nil {
			_ = out.Close()
			_ = os.Remove(out.Name())
		}
	}()
	in = readers.NewContextReader(ctx, in)
	n, err := io.Copy(out, readers.NewProgressReader(in, progress))
	if err != nil {
		return "", errors.Wrap(err, "failed to write chunk")
	}
	if n != size {
		return "", errors.Errorf("short upload: wrote %d bytes, expected %d", n, size)
	}
	if err = out.Close(); err != nil {
		return "", errors.Wrap(err, "failed to close chunk")
	}
	if err = os.Rename(out.Name(), dst); err != nil {
		return "", errors.Wrap(err, "failed to move chunk into place")
	}
	fs.Debugf(f, "Stored %q as %q", remoteName, rel)
	return fs.RemoteID(rel), nil
}

// DownloadChunk copies the object with id to out
func (f *Fs) DownloadChunk(ctx context.Context, id fs.RemoteID, out io.Writer, progress fs.ProgressFunc) (int64, error) {
	src, err := f.localPath(string(id))
	if err != nil {
		return 0, err
	}
	in, err := os.Open(src)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to open chunk %q", id)
	}
	defer func() {
		_ = in.Close()
	}()
	n, err := io.Copy(readers.NewProgressWriter(out, progress), readers.NewContextReader(ctx, in))
	if err != nil {
		return n, errors.Wrapf(err, "failed to read chunk %q", id)
	}
	return n, nil
}

// DeleteChunk removes the object with id
func (f *Fs) DeleteChunk(ctx context.Context, id fs.RemoteID) error {
	src, err := f.localPath(string(id))
	if err != nil {
		return err
	}
	if err = os.Remove(src); err != nil {
		if os.IsNotExist(err) {
			fs.Debugf(f, "Chunk %q already deleted", id)
			return nil
		}
		return errors.Wrapf(err, "failed to delete chunk %q", id)
	}
	// Tidy the file's folder if that was its last chunk
	dir := filepath.Dir(src)
	if dir != f.root {
		_ = os.Remove(dir)
	}
	return nil
}

// About reports the configured capacity, or the disk space if there
// isn't one
func (f *Fs) About(ctx context.Context) (*fs.Usage, error) {
	if f.opt.Capacity > 0 {
		return &fs.Usage{
			Total: int64(f.opt.Capacity),
			Used:  fs.SizeUnknown,
			Free:  fs.SizeUnknown,
		}, nil
	}
	info, err := diskusage.New(f.root)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read disk usage")
	}
	return &fs.Usage{
		Total: int64(info.Total),
		Used:  int64(info.Total - info.Free),
		Free:  int64(info.Available),
	}, nil
}

// Check the interfaces are satisfied
var (
	_ fs.Backend = (*Fs)(nil)
	_ fs.Abouter = (*Fs)(nil)
)
