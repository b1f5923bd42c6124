package operations

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ddrive/ddrive/fs"
	"github.com/ddrive/ddrive/fs/catalog"
	"github.com/ddrive/ddrive/fs/chunk"
	"github.com/ddrive/ddrive/fs/ledger"
	"github.com/ddrive/ddrive/fs/transfer"
	"github.com/pkg/errors"
	"golang.org/x/text/unicode/norm"
)

// cleanName puts name into NFC so the same name typed on different
// systems finds the same catalog entry
func cleanName(name string) string {
	return norm.NFC.String(name)
}

// checkName makes sure name can be used as a catalog key and remote
// folder name
func checkName(name string) error {
	if name == "" || name == "." || name == ".." {
		return errors.Errorf("invalid file name %q", name)
	}
	if strings.ContainsAny(name, `/\`) {
		return errors.Errorf("file name %q must not contain path separators", name)
	}
	return nil
}

// Upload splits the file at localPath into chunks, spreads them over
// the accounts and records it in the catalog as name.
//
// If name is empty the base name of localPath is used.
//
// Either every chunk is stored and the file is in the catalog, or the
// upload fails and no catalog entry is made. When CleanupOnFailure is
// set the chunks which did make it are deleted again.
func (e *Engine) Upload(ctx context.Context, localPath, name string) (f catalog.ManagedFile, err error) {
	if name == "" {
		name = filepath.Base(localPath)
	}
	name = cleanName(name)
	t := e.track(OpUpload, name)

	// Validating
	t.to(StateValidating)
	size, err := e.validateUpload(localPath, name)
	if err != nil {
		return f, t.fail(err)
	}

	// Splitting
	t.to(StateSplitting)
	dir, err := e.makeStagingDir(OpUpload)
	if err != nil {
		return f, t.fail(err)
	}
	defer removeStagingDir(dir)
	parts, err := splitFile(ctx, localPath, int64(e.opt.ChunkSize), dir, name)
	if err != nil {
		return f, t.fail(err)
	}
	var total int64
	sizes := make([]int64, len(parts))
	for i, part := range parts {
		sizes[i] = part.Size
		total += part.Size
	}
	if total != size {
		fs.Logf(name, "File changed size while being split: was %d, now %d", size, total)
	}
	fs.Debugf(name, "Split into %d chunks", len(parts))

	// Placing
	t.to(StatePlacing)
	reservations, err := e.ledger.Place(sizes, e.policy)
	if err != nil {
		return f, t.fail(err)
	}

	// Transferring
	t.to(StateTransferring)
	results, err := e.uploadChunks(ctx, name, parts, reservations)
	if err != nil {
		return f, t.fail(err)
	}
	if failed := results.Failed(); len(failed) > 0 {
		err = results.Err("upload failed")
		fs.Errorf(name, "%d of %d chunks failed to upload", len(failed), len(parts))
		e.discardUploaded(ctx, name, results, reservations)
		return f, t.fail(err)
	}

	// Committing
	t.to(StateCommitting)
	f = catalog.ManagedFile{
		Name:    name,
		Size:    total,
		Created: time.Now().UTC(),
		Chunks:  make([]catalog.Chunk, len(parts)),
	}
	for i, part := range parts {
		r := results[i]
		f.Chunks[i] = catalog.Chunk{
			Part:     part.Number,
			Account:  r.Account,
			RemoteID: r.RemoteID,
			Size:     part.Size,
			Hash:     part.Hash,
		}
	}
	if err = e.cat.Put(f); err != nil {
		e.discardUploaded(ctx, name, results, reservations)
		return catalog.ManagedFile{}, t.fail(err)
	}
	if err = e.save(); err != nil {
		return f, t.fail(err)
	}
	fs.Infof(name, "Uploaded %d chunks across %d accounts", len(f.Chunks), len(f.Accounts()))
	t.to(StateDone)
	return f, nil
}

// validateUpload checks the upload can go ahead returning the size of
// the file
func (e *Engine) validateUpload(localPath, name string) (int64, error) {
	if err := checkName(name); err != nil {
		return 0, err
	}
	if e.cat.Has(name) {
		return 0, errors.Wrap(fs.ErrorDuplicateFile, name)
	}
	if len(e.ledger.Accounts()) == 0 {
		return 0, fs.ErrorNoAccounts
	}
	fi, err := os.Stat(localPath)
	if err != nil {
		return 0, errors.Wrap(err, "can't upload")
	}
	if !fi.Mode().IsRegular() {
		return 0, errors.Errorf("can't upload %q: not a regular file", localPath)
	}
	if fi.Size() == 0 {
		return 0, errors.Wrap(fs.ErrorEmptyFile, localPath)
	}
	return fi.Size(), nil
}

// splitFile stages the chunks of the file at localPath into dir
func splitFile(ctx context.Context, localPath string, chunkSize int64, dir, name string) (parts []chunk.Staged, err error) {
	in, err := os.Open(localPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open file")
	}
	defer func() {
		_ = in.Close()
	}()
	return chunk.SplitToDir(ctx, in, chunkSize, dir, name)
}

// uploadChunks uploads each part to the account it was placed on.
//
// Each reservation is committed or rolled back as soon as its
// transfer finishes. If an account can't be prepared all the
// reservations are rolled back and nothing is uploaded.
func (e *Engine) uploadChunks(ctx context.Context, name string, parts []chunk.Staged, reservations []*ledger.Reservation) (transfer.Results, error) {
	folders := make(map[string]fs.FolderRef)
	backends := make(map[string]fs.Backend)
	for _, r := range reservations {
		if _, ok := backends[r.Account]; ok {
			continue
		}
		b, folder, err := e.prepareAccount(ctx, r.Account, name)
		if err != nil {
			ledger.RollbackAll(reservations)
			return nil, err
		}
		backends[r.Account] = b
		folders[r.Account] = folder
	}

	jobs := make([]transfer.UploadJob, len(parts))
	for i, part := range parts {
		account := reservations[i].Account
		jobs[i] = transfer.UploadJob{
			Part:       part.Number,
			Account:    account,
			Backend:    backends[account],
			Folder:     folders[account],
			RemoteName: chunk.Name(name, part.Number),
			Path:       part.Path,
			Size:       part.Size,
		}
	}
	s := e.scheduler()
	s.OnResult = func(r transfer.Result) {
		reservation := reservations[r.Part-1]
		if r.Err == nil {
			reservation.Commit()
		} else {
			reservation.Rollback()
		}
	}
	return s.RunUploads(ctx, jobs), nil
}

// prepareAccount authenticates the account and finds the folder the
// chunks of name go in
func (e *Engine) prepareAccount(ctx context.Context, id, name string) (fs.Backend, fs.FolderRef, error) {
	b, err := e.backend(ctx, id)
	if err != nil {
		return nil, "", err
	}
	root, err := b.FindOrCreateFolder(ctx, e.opt.RootFolder, "")
	if err != nil {
		return nil, "", errors.Wrapf(err, "failed to find folder %q on %q", e.opt.RootFolder, id)
	}
	folder, err := b.FindOrCreateFolder(ctx, name, root)
	if err != nil {
		return nil, "", errors.Wrapf(err, "failed to find folder %q on %q", name, id)
	}
	return b, folder, nil
}

// discardUploaded undoes a failed upload.
//
// With CleanupOnFailure the chunks which were stored are deleted and
// their capacity released. Otherwise they are left behind with their
// capacity still counted as used.
func (e *Engine) discardUploaded(ctx context.Context, name string, results transfer.Results, reservations []*ledger.Reservation) {
	succeeded := results.Succeeded()
	defer func() {
		if err := e.save(); err != nil {
			fs.Errorf(name, "Failed to save catalog: %v", err)
		}
	}()
	if len(succeeded) == 0 {
		return
	}
	if !e.opt.CleanupOnFailure {
		fs.Logf(name, "Leaving %d uploaded chunks in place as cleanup on failure is off", len(succeeded))
		return
	}
	jobs := make([]transfer.DeleteJob, 0, len(succeeded))
	for _, r := range succeeded {
		b, err := e.backend(ctx, r.Account)
		if err != nil {
			fs.Errorf(name, "Can't delete uploaded part %d from %q: %v", r.Part, r.Account, err)
			continue
		}
		jobs = append(jobs, transfer.DeleteJob{Part: r.Part, Account: r.Account, Backend: b, RemoteID: r.RemoteID})
	}
	deleted := e.scheduler().RunDeletes(ctx, jobs)
	for _, r := range deleted.Failed() {
		fs.Errorf(name, "Failed to clean up part %d on %q - it is orphaned: %v", r.Part, r.Account, r.Err)
	}
	for _, r := range succeeded {
		if _, err := e.ledger.Release(r.Account, reservations[r.Part-1].Bytes); err != nil {
			fs.Errorf(name, "Failed to release capacity of part %d: %v", r.Part, err)
		}
	}
	fs.Infof(name, "Cleaned up %d of %d uploaded chunks", len(deleted.Succeeded()), len(succeeded))
}
