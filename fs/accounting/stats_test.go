package accounting

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsError(t *testing.T) {
	s := NewStats(context.Background())
	assert.Equal(t, int64(0), s.GetErrors())
	assert.NoError(t, s.Error(nil))
	assert.Equal(t, int64(0), s.GetErrors())

	err := errors.New("boom")
	assert.Equal(t, err, s.Error(err))
	assert.Equal(t, int64(1), s.GetErrors())
	assert.Equal(t, err, s.GetLastError())

	s.ResetCounters()
	assert.Equal(t, int64(0), s.GetErrors())
	assert.NoError(t, s.GetLastError())
}

func TestTransferProgress(t *testing.T) {
	s := NewStats(context.Background())
	tr := s.NewTransfer("file.ddrive_chunk.001", "A", Upload, 100)
	assert.Equal(t, 1, s.Transferring())

	tr.Progress(30)
	tr.Progress(80)
	assert.Equal(t, int64(80), s.GetBytes())
	assert.Contains(t, s.String(), "file.ddrive_chunk.001 (A):  80%")

	// a restarted chunk takes its bytes off again
	tr.Progress(10)
	assert.Equal(t, int64(10), s.GetBytes())
	tr.Progress(100)
	assert.Equal(t, int64(100), s.GetBytes())

	tr.Done(nil)
	tr.Done(errors.New("ignored"))
	assert.Equal(t, 0, s.Transferring())
	assert.Equal(t, int64(1), s.GetTransfers())
	assert.Equal(t, int64(0), s.GetErrors())
	assert.NotContains(t, s.String(), "Transferring:")
}

func TestTransferDoneError(t *testing.T) {
	s := NewStats(context.Background())
	tr := s.NewTransfer("x", "B", Delete, 0)
	tr.Done(errors.New("failed"))
	assert.Equal(t, int64(1), s.GetErrors())
	assert.Equal(t, int64(0), s.GetDeletes())

	tr = s.NewTransfer("y", "B", Delete, 0)
	tr.Done(nil)
	assert.Equal(t, int64(1), s.GetDeletes())
}

func TestTransferProgressConcurrent(t *testing.T) {
	s := NewStats(context.Background())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr := s.NewTransfer("chunk", "A", Download, 1000)
			for n := int64(0); n <= 1000; n += 100 {
				tr.Progress(n)
			}
			tr.Done(nil)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(8000), s.GetBytes())
	assert.Equal(t, int64(8), s.GetTransfers())
}

func TestStatsString(t *testing.T) {
	s := NewStats(context.Background())
	out := s.String()
	for _, want := range []string{"Transferred:", "Errors:", "Chunks:", "Elapsed time:"} {
		assert.True(t, strings.Contains(out, want), want)
	}
}

func TestMetrics(t *testing.T) {
	old := DefaultMetrics
	defer func() { DefaultMetrics = old }()
	DefaultMetrics = NewMetrics("ddrive_test")
	require.Len(t, DefaultMetrics.Collectors(), 2)

	s := NewStats(context.Background())
	tr := s.NewTransfer("c", "A", Upload, 10)
	tr.Progress(10)
	tr.Done(nil)
	tr = s.NewTransfer("c", "A", Upload, 10)
	tr.Done(errors.New("bad"))

	assert.Equal(t, 1.0, testutil.ToFloat64(DefaultMetrics.Transfers.WithLabelValues("upload", "A", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(DefaultMetrics.Transfers.WithLabelValues("upload", "A", "failure")))
	assert.Equal(t, 10.0, testutil.ToFloat64(DefaultMetrics.Bytes.WithLabelValues("upload", "A")))

	var nilMetrics *Metrics
	assert.Nil(t, nilMetrics.Collectors())
}
