package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ddrive/ddrive/fs"
	"github.com/ddrive/ddrive/fs/accounting"
	"github.com/ddrive/ddrive/fs/chunk"
	"github.com/ddrive/ddrive/fs/fserrors"
	"github.com/ddrive/ddrive/fstest/mockbackend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	retrySleep = func(int) time.Duration { return 0 }
}

func newScheduler(t *testing.T, transfers int) (context.Context, *Scheduler) {
	ctx := context.Background()
	s := New(transfers, accounting.NewStats(ctx))
	s.LowLevelRetries = 3
	return ctx, s
}

// stageFiles writes n chunk files of size bytes to a temp dir
func stageFiles(t *testing.T, n int, size int) []chunk.Staged {
	dir := t.TempDir()
	var parts []chunk.Staged
	for i := 1; i <= n; i++ {
		path := filepath.Join(dir, chunk.Name("file", i))
		data := []byte(strings.Repeat(fmt.Sprint(i%10), size))
		require.NoError(t, os.WriteFile(path, data, 0600))
		h := chunk.NewHash()
		_, _ = h.Write(data)
		parts = append(parts, chunk.Staged{Number: i, Path: path, Size: int64(size), Hash: chunk.SumString(h)})
	}
	return parts
}

func uploadJobs(parts []chunk.Staged, backends ...*mockbackend.Backend) []UploadJob {
	jobs := make([]UploadJob, len(parts))
	for i, p := range parts {
		b := backends[i%len(backends)]
		jobs[i] = UploadJob{
			Part:       p.Number,
			Account:    b.Name(),
			Backend:    b,
			RemoteName: filepath.Base(p.Path),
			Path:       p.Path,
			Size:       p.Size,
		}
	}
	return jobs
}

func TestUploadsConcurrencyBound(t *testing.T) {
	ctx, s := newScheduler(t, 3)
	gauge := new(mockbackend.Gauge)
	a, b := mockbackend.New("A"), mockbackend.New("B")
	for _, m := range []*mockbackend.Backend{a, b} {
		m.Gauge = gauge
		m.Latency = 20 * time.Millisecond
	}
	parts := stageFiles(t, 12, 10)

	var mu sync.Mutex
	seen := map[int]bool{}
	s.OnResult = func(r Result) {
		mu.Lock()
		seen[r.Part] = true
		mu.Unlock()
	}
	results := s.RunUploads(ctx, uploadJobs(parts, a, b))

	require.Len(t, results, 12)
	assert.NoError(t, results.Err("upload"))
	assert.LessOrEqual(t, gauge.Max(), 3)
	assert.Greater(t, gauge.Max(), 1)
	assert.Len(t, seen, 12)
	for i, r := range results {
		assert.Equal(t, i+1, r.Part)
		assert.NotEmpty(t, r.RemoteID)
		assert.Equal(t, int64(10), r.Bytes)
	}
	assert.Len(t, a.Objects(), 6)
	assert.Len(t, b.Objects(), 6)
}

func TestUploadsFailureDoesNotCancelSiblings(t *testing.T) {
	ctx, s := newScheduler(t, 2)
	a := mockbackend.New("A")
	a.FailUpload = func(name string) bool { return strings.HasSuffix(name, ".002") }
	parts := stageFiles(t, 5, 4)

	results := s.RunUploads(ctx, uploadJobs(parts, a))
	require.Len(t, results, 5)
	failed := results.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, 2, failed[0].Part)
	assert.Len(t, results.Succeeded(), 4)
	assert.Len(t, a.Objects(), 4)

	err := results.Err("upload failed")
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrorTransferFailure))
	assert.True(t, errors.Is(err, mockbackend.ErrInjected))
	var te *fs.TransferError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "A", te.Account)
}

func TestUploadRetries(t *testing.T) {
	ctx, s := newScheduler(t, 1)
	a := mockbackend.New("A")
	var mu sync.Mutex
	tries := 0
	a.FailUpload = func(string) bool {
		mu.Lock()
		defer mu.Unlock()
		tries++
		return tries < 3
	}
	// injected errors aren't retried
	results := s.RunUploads(ctx, uploadJobs(stageFiles(t, 1, 4), a))
	assert.Error(t, results.Err("upload"))
	assert.Equal(t, 1, tries)

	calls := 0
	err := s.retry(ctx, "x", func() error {
		calls++
		if calls < 3 {
			return fserrors.RetryErrorf("try again")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = s.retry(ctx, "x", func() error {
		calls++
		return fserrors.RetryErrorf("always")
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDownloads(t *testing.T) {
	ctx, s := newScheduler(t, 4)
	a := mockbackend.New("A")
	dir := t.TempDir()
	var jobs []DownloadJob
	for i := 1; i <= 4; i++ {
		data := []byte(strings.Repeat(fmt.Sprint(i), 8))
		h := chunk.NewHash()
		_, _ = h.Write(data)
		id := a.Put(chunk.Name("file", i), data)
		jobs = append(jobs, DownloadJob{
			Part:     i,
			Account:  "A",
			Backend:  a,
			RemoteID: id,
			Path:     filepath.Join(dir, chunk.Name("file", i)),
			Size:     8,
			Hash:     chunk.SumString(h),
		})
	}
	// corrupt part 3
	a.Corrupt(jobs[2].RemoteID, []byte("xxxxxxxx"))

	results := s.RunDownloads(ctx, jobs)
	require.Len(t, results, 4)
	failed := results.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, 3, failed[0].Part)
	assert.True(t, errors.Is(failed[0].Err, fs.ErrorHashMismatch))

	got, err := os.ReadFile(results[0].Path)
	require.NoError(t, err)
	assert.Equal(t, "11111111", string(got))
	assert.Equal(t, jobs[0].Hash, results[0].Hash)
}

func TestDownloadShort(t *testing.T) {
	ctx, s := newScheduler(t, 1)
	a := mockbackend.New("A")
	id := a.Put("x", []byte("abc"))
	results := s.RunDownloads(ctx, []DownloadJob{{
		Part: 1, Account: "A", Backend: a, RemoteID: id,
		Path: filepath.Join(t.TempDir(), "x"), Size: 10,
	}})
	assert.Error(t, results.Err("download"))
	// short reads are retried
	assert.Equal(t, 3, a.Calls())
}

func TestDeletes(t *testing.T) {
	ctx, s := newScheduler(t, 2)
	a := mockbackend.New("A")
	id1 := a.Put("one", []byte("1"))
	id2 := a.Put("two", []byte("2"))
	a.FailDelete = func(id fs.RemoteID) bool { return id == id2 }

	results := s.RunDeletes(ctx, []DeleteJob{
		{Part: 2, Account: "A", Backend: a, RemoteID: id2},
		{Part: 1, Account: "A", Backend: a, RemoteID: id1},
	})
	require.Len(t, results, 2)
	assert.Equal(t, 1, results[0].Part)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	require.Len(t, a.Objects(), 1)
	assert.Equal(t, "two", a.Objects()[0].Name)
}

func TestNewDefaults(t *testing.T) {
	s := New(0, nil)
	assert.Equal(t, 1, s.Transfers())
	assert.Equal(t, fs.GetConfig(context.Background()).LowLevelRetries, s.LowLevelRetries)
	assert.Equal(t, accounting.GlobalStats(), s.stats)

	s.LowLevelRetries = 0
	calls := 0
	_ = s.retry(context.Background(), "x", func() error {
		calls++
		return fserrors.RetryErrorf("again")
	})
	assert.Equal(t, 1, calls)
}

func TestResultsByPart(t *testing.T) {
	rs := Results{{Part: 2, Account: "B"}, {Part: 1, Account: "A"}}
	byPart := rs.ByPart()
	assert.Equal(t, "A", byPart[1].Account)
	assert.Equal(t, "B", byPart[2].Account)
	assert.NoError(t, rs.Err("none"))
}
