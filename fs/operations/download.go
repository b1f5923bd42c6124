package operations

import (
	"context"
	"os"
	"path/filepath"

	"github.com/ddrive/ddrive/fs"
	"github.com/ddrive/ddrive/fs/catalog"
	"github.com/ddrive/ddrive/fs/chunk"
	"github.com/ddrive/ddrive/fs/transfer"
	"github.com/pkg/errors"
)

// Download fetches the chunks of the file called name and writes the
// reassembled file to dest.
//
// If dest is an existing directory the file is written inside it
// under name. The file only appears at dest once it is complete.
// It returns the path written.
func (e *Engine) Download(ctx context.Context, name, dest string) (out string, err error) {
	name = cleanName(name)
	t := e.track(OpDownload, name)

	// Lookup
	t.to(StateLookup)
	f, err := e.cat.Get(name)
	if err != nil {
		return "", t.fail(err)
	}
	if err = catalog.Validate(f); err != nil {
		return "", t.fail(err)
	}
	out, err = resolveDest(dest, name)
	if err != nil {
		return "", t.fail(err)
	}

	// Transferring
	t.to(StateTransferring)
	dir, err := e.makeStagingDir(OpDownload)
	if err != nil {
		return "", t.fail(err)
	}
	defer removeStagingDir(dir)
	staged, err := e.downloadChunks(ctx, f, dir)
	if err != nil {
		return "", t.fail(err)
	}

	// Merging
	t.to(StateMerging)
	if err = mergeInto(out, staged, f.Size); err != nil {
		return "", t.fail(err)
	}
	fs.Infof(name, "Downloaded %d chunks to %q", len(staged), out)
	t.to(StateDone)
	return out, nil
}

// resolveDest works out the path to write the file called name to
func resolveDest(dest, name string) (string, error) {
	if dest == "" {
		return "", errors.New("no destination given")
	}
	fi, err := os.Stat(dest)
	if err == nil && fi.IsDir() {
		dest = filepath.Join(dest, name)
	}
	return filepath.Abs(dest)
}

// downloadChunks fetches every chunk of f into dir
func (e *Engine) downloadChunks(ctx context.Context, f catalog.ManagedFile, dir string) ([]chunk.Staged, error) {
	jobs := make([]transfer.DownloadJob, len(f.Chunks))
	for i, c := range f.Chunks {
		b, err := e.backend(ctx, c.Account)
		if err != nil {
			return nil, err
		}
		jobs[i] = transfer.DownloadJob{
			Part:     c.Part,
			Account:  c.Account,
			Backend:  b,
			RemoteID: c.RemoteID,
			Path:     filepath.Join(dir, chunk.Name("download", c.Part)),
			Size:     c.Size,
			Hash:     c.Hash,
		}
	}
	results := e.scheduler().RunDownloads(ctx, jobs)
	if err := results.Err("download failed"); err != nil {
		return nil, err
	}
	staged := make([]chunk.Staged, len(results))
	for i, r := range results {
		staged[i] = chunk.Staged{Number: r.Part, Path: r.Path, Size: r.Bytes, Hash: r.Hash}
	}
	return staged, nil
}

// mergeInto writes the staged chunks to a temporary file next to out
// and renames it into place once it is complete
func mergeInto(out string, staged []chunk.Staged, size int64) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(out), "."+filepath.Base(out)+".ddrive-*")
	if err != nil {
		return errors.Wrap(err, "failed to create output file")
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			if removeErr := os.Remove(tmp.Name()); removeErr != nil && !os.IsNotExist(removeErr) {
				fs.Errorf(tmp.Name(), "Failed to remove partial file: %v", removeErr)
			}
		}
	}()
	written, err := chunk.Merge(tmp, staged)
	if err != nil {
		return err
	}
	if written != size {
		return errors.Errorf("reassembled %d bytes, expected %d", written, size)
	}
	if err = tmp.Sync(); err != nil {
		return errors.Wrap(err, "failed to sync output file")
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close output file")
	}
	if err = os.Rename(tmp.Name(), out); err != nil {
		return errors.Wrap(err, "failed to move output file into place")
	}
	return nil
}
