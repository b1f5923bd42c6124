package operations

import (
	"context"

	"github.com/ddrive/ddrive/fs"
	"github.com/ddrive/ddrive/fs/transfer"
	"github.com/pkg/errors"
)

// DeleteSummary reports what a Delete did
type DeleteSummary struct {
	Name    string
	Chunks  int   // chunks the file had
	Deleted int   // chunks deleted remotely
	Failed  int   // chunks which couldn't be deleted and are orphaned
	Freed   int64 // bytes of capacity released
}

// Delete removes the chunks of the file called name and drops it from
// the catalog.
//
// Chunks which can't be deleted remotely are logged and counted in
// the summary. The catalog entry is removed and all the capacity
// released regardless.
func (e *Engine) Delete(ctx context.Context, name string) (summary DeleteSummary, err error) {
	name = cleanName(name)
	summary.Name = name
	t := e.track(OpDelete, name)

	// Lookup
	t.to(StateLookup)
	f, err := e.cat.Get(name)
	if err != nil {
		return summary, t.fail(err)
	}
	summary.Chunks = len(f.Chunks)

	// Transferring
	t.to(StateTransferring)
	jobs := make([]transfer.DeleteJob, 0, len(f.Chunks))
	for _, c := range f.Chunks {
		b, err := e.backend(ctx, c.Account)
		if err != nil {
			fs.Logf(name, "Can't delete part %d from %q - it is orphaned: %v", c.Part, c.Account, err)
			summary.Failed++
			continue
		}
		jobs = append(jobs, transfer.DeleteJob{Part: c.Part, Account: c.Account, Backend: b, RemoteID: c.RemoteID})
	}
	results := e.scheduler().RunDeletes(ctx, jobs)
	for _, r := range results {
		if r.Err != nil {
			fs.Logf(name, "Failed to delete part %d from %q - it is orphaned: %v", r.Part, r.Account, r.Err)
			summary.Failed++
		} else {
			summary.Deleted++
		}
	}

	// Committing
	t.to(StateCommitting)
	if err = e.cat.Remove(name); err != nil {
		return summary, t.fail(err)
	}
	for _, c := range f.Chunks {
		if _, err := e.ledger.Release(c.Account, c.Size); err != nil {
			fs.Errorf(name, "Failed to release capacity of part %d: %v", c.Part, err)
			continue
		}
		summary.Freed += c.Size
	}
	if err = e.save(); err != nil {
		return summary, t.fail(errors.Wrap(err, "file deleted but catalog not saved"))
	}
	if summary.Failed > 0 {
		fs.Logf(name, "Deleted with %d of %d chunks left orphaned", summary.Failed, summary.Chunks)
	} else {
		fs.Infof(name, "Deleted %d chunks", summary.Deleted)
	}
	t.to(StateDone)
	return summary, nil
}
