// Package transfer runs chunk uploads, downloads and deletes with a
// bounded number in flight.
//
// Every job is attempted. A failed job does not cancel its siblings,
// so the caller always gets one Result per job and can clean up
// exactly the chunks which made it.
package transfer

import (
	"context"
	"io"
	"os"
	"sort"
	"time"

	"github.com/ddrive/ddrive/fs"
	"github.com/ddrive/ddrive/fs/accounting"
	"github.com/ddrive/ddrive/fs/chunk"
	"github.com/ddrive/ddrive/fs/fserrors"
	"github.com/ddrive/ddrive/lib/errcount"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// UploadJob uploads a staged chunk file to an account
type UploadJob struct {
	Part       int
	Account    string
	Backend    fs.Backend
	Folder     fs.FolderRef
	RemoteName string
	Path       string // staged chunk file
	Size       int64
}

// DownloadJob downloads a chunk to a local file
type DownloadJob struct {
	Part     int
	Account  string
	Backend  fs.Backend
	RemoteID fs.RemoteID
	Path     string // file to write, created or truncated
	Size     int64  // expected size or fs.SizeUnknown
	Hash     string // expected hash or "" not to check
}

// DeleteJob deletes a chunk from an account
type DeleteJob struct {
	Part     int
	Account  string
	Backend  fs.Backend
	RemoteID fs.RemoteID
}

// Result is the outcome of one job
type Result struct {
	Part     int
	Account  string
	RemoteID fs.RemoteID // id of the uploaded or deleted chunk
	Path     string      // local file of a download
	Bytes    int64       // bytes moved
	Hash     string      // hash of a download
	Err      error       // nil on success, otherwise a *fs.TransferError
}

// Results of a batch of jobs in part order
type Results []Result

// Failed returns the results which failed
func (rs Results) Failed() Results {
	var out Results
	for _, r := range rs {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

// Succeeded returns the results which succeeded
func (rs Results) Succeeded() Results {
	var out Results
	for _, r := range rs {
		if r.Err == nil {
			out = append(out, r)
		}
	}
	return out
}

// ByPart returns the results indexed by part number
func (rs Results) ByPart() map[int]Result {
	out := make(map[int]Result, len(rs))
	for _, r := range rs {
		out[r.Part] = r
	}
	return out
}

// Err summarises the failures with txt in front, or returns nil if
// every job succeeded.
//
// The summary wraps the last failure so errors.Is(err,
// fs.ErrorTransferFailure) works on it.
func (rs Results) Err(txt string) error {
	ec := errcount.New()
	for _, r := range rs {
		ec.Add(r.Err)
	}
	return ec.Err(txt)
}

// Scheduler runs jobs with at most Transfers in flight
type Scheduler struct {
	transfers int
	stats     *accounting.StatsInfo

	// LowLevelRetries is the number of tries for each job when the
	// error returned is worth retrying
	LowLevelRetries int

	// OnResult is called once per job as soon as it finishes. It
	// may be called from several goroutines at once.
	OnResult func(Result)
}

// New makes a Scheduler running at most transfers jobs at once.
//
// If stats is nil the global stats are used.
func New(transfers int, stats *accounting.StatsInfo) *Scheduler {
	if transfers < 1 {
		transfers = 1
	}
	if stats == nil {
		stats = accounting.GlobalStats()
	}
	return &Scheduler{
		transfers:       transfers,
		stats:           stats,
		LowLevelRetries: fs.GetConfig(context.Background()).LowLevelRetries,
	}
}

// Transfers returns the number of jobs run at once
func (s *Scheduler) Transfers() int {
	return s.transfers
}

// run calls fn for each of n jobs with the concurrency limit and
// returns the results sorted by part
func (s *Scheduler) run(n int, fn func(i int) Result) Results {
	results := make(Results, n)
	var g errgroup.Group
	g.SetLimit(s.transfers)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			r := fn(i)
			results[i] = r
			if s.OnResult != nil {
				s.OnResult(r)
			}
			return nil
		})
	}
	_ = g.Wait()
	sort.SliceStable(results, func(i, j int) bool { return results[i].Part < results[j].Part })
	return results
}

// retry calls fn until it succeeds, returns an error which isn't worth
// retrying or runs out of tries
func (s *Scheduler) retry(ctx context.Context, what string, fn func() error) (err error) {
	maxTries := s.LowLevelRetries
	if maxTries < 1 {
		maxTries = 1
	}
	for tries := 1; tries <= maxTries; tries++ {
		err = fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if !(fserrors.IsRetryError(err) || fserrors.ShouldRetry(err)) {
			return err
		}
		if tries < maxTries {
			fs.Debugf(what, "Received error: %v - low level retry %d/%d", err, tries, maxTries)
			select {
			case <-time.After(retrySleep(tries)):
			case <-ctx.Done():
				return err
			}
		}
	}
	return err
}

// retrySleep is how long to wait before try number tries+1
var retrySleep = func(tries int) time.Duration {
	return time.Duration(tries) * 100 * time.Millisecond
}

// RunUploads runs the upload jobs returning a result for each
func (s *Scheduler) RunUploads(ctx context.Context, jobs []UploadJob) Results {
	return s.run(len(jobs), func(i int) Result {
		return s.upload(ctx, jobs[i])
	})
}

func (s *Scheduler) upload(ctx context.Context, job UploadJob) Result {
	r := Result{Part: job.Part, Account: job.Account}
	tr := s.stats.NewTransfer(job.RemoteName, job.Account, accounting.Upload, job.Size)
	err := s.retry(ctx, job.RemoteName, func() error {
		in, err := os.Open(job.Path)
		if err != nil {
			return errors.Wrap(err, "failed to open staged chunk")
		}
		defer func() {
			_ = in.Close()
		}()
		tr.Progress(0)
		id, err := job.Backend.UploadChunk(ctx, accounting.WrapReader(ctx, in), job.Size, job.RemoteName, job.Folder, tr.ProgressFunc())
		if err != nil {
			return err
		}
		r.RemoteID = id
		return nil
	})
	if err == nil {
		r.Bytes = job.Size
		tr.Progress(job.Size)
		fs.Debugf(job.RemoteName, "Uploaded to %s as %q", job.Account, r.RemoteID)
	} else {
		r.Err = &fs.TransferError{Part: job.Part, Account: job.Account, Err: err}
		fs.Errorf(job.RemoteName, "Failed to upload to %s: %v", job.Account, err)
	}
	tr.Done(err)
	return r
}

// RunDownloads runs the download jobs returning a result for each
func (s *Scheduler) RunDownloads(ctx context.Context, jobs []DownloadJob) Results {
	return s.run(len(jobs), func(i int) Result {
		return s.download(ctx, jobs[i])
	})
}

func (s *Scheduler) download(ctx context.Context, job DownloadJob) Result {
	r := Result{Part: job.Part, Account: job.Account, RemoteID: job.RemoteID, Path: job.Path}
	tr := s.stats.NewTransfer(string(job.RemoteID), job.Account, accounting.Download, job.Size)
	err := s.retry(ctx, string(job.RemoteID), func() (err error) {
		tr.Progress(0)
		n, hash, err := downloadToFile(ctx, job, tr.ProgressFunc())
		if err != nil {
			return err
		}
		if job.Size >= 0 && n != job.Size {
			return fserrors.RetryErrorf("downloaded %d bytes, expected %d", n, job.Size)
		}
		if job.Hash != "" && hash != job.Hash {
			return errors.Wrapf(fs.ErrorHashMismatch, "got %s, expected %s", hash, job.Hash)
		}
		r.Bytes = n
		r.Hash = hash
		return nil
	})
	if err == nil {
		tr.Progress(r.Bytes)
		fs.Debugf(job.RemoteID, "Downloaded part %d from %s", job.Part, job.Account)
	} else {
		r.Err = &fs.TransferError{Part: job.Part, Account: job.Account, Err: err}
		fs.Errorf(job.RemoteID, "Failed to download part %d from %s: %v", job.Part, job.Account, err)
	}
	tr.Done(err)
	return r
}

// downloadToFile writes the chunk to job.Path returning its size and hash
func downloadToFile(ctx context.Context, job DownloadJob, progress fs.ProgressFunc) (n int64, hash string, err error) {
	out, err := os.OpenFile(job.Path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return 0, "", errors.Wrap(err, "failed to create chunk file")
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = errors.Wrap(closeErr, "failed to close chunk file")
		}
	}()
	h := chunk.NewHash()
	var w io.Writer = io.MultiWriter(out, h)
	n, err = job.Backend.DownloadChunk(ctx, job.RemoteID, accounting.WrapWriter(ctx, w), progress)
	if err != nil {
		return n, "", err
	}
	return n, chunk.SumString(h), nil
}

// RunDeletes runs the delete jobs returning a result for each
func (s *Scheduler) RunDeletes(ctx context.Context, jobs []DeleteJob) Results {
	return s.run(len(jobs), func(i int) Result {
		return s.delete(ctx, jobs[i])
	})
}

func (s *Scheduler) delete(ctx context.Context, job DeleteJob) Result {
	r := Result{Part: job.Part, Account: job.Account, RemoteID: job.RemoteID}
	tr := s.stats.NewTransfer(string(job.RemoteID), job.Account, accounting.Delete, 0)
	err := s.retry(ctx, string(job.RemoteID), func() error {
		return job.Backend.DeleteChunk(ctx, job.RemoteID)
	})
	if err != nil {
		r.Err = &fs.TransferError{Part: job.Part, Account: job.Account, Err: err}
		fs.Errorf(job.RemoteID, "Failed to delete part %d from %s: %v", job.Part, job.Account, err)
	}
	tr.Done(err)
	return r
}
