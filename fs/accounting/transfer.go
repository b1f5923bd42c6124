package accounting

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ddrive/ddrive/fs"
)

// Direction of a transfer, used to label metrics
type Direction string

// Directions
const (
	Upload   Direction = "upload"
	Download Direction = "download"
	Delete   Direction = "delete"
)

// Transfer keeps track of a single chunk transfer.
//
// Done must be called when it is finished.
type Transfer struct {
	stats     *StatsInfo
	name      string
	account   string
	direction Direction
	size      int64
	startedAt time.Time

	bytes int64 // atomic, cumulative bytes reported

	mu   sync.Mutex
	done bool
	err  error
}

// NewTransfer starts accounting for a transfer of size bytes of the
// chunk called name on account.
func (s *StatsInfo) NewTransfer(name, account string, direction Direction, size int64) *Transfer {
	tr := &Transfer{
		stats:     s,
		name:      name,
		account:   account,
		direction: direction,
		size:      size,
		startedAt: time.Now(),
	}
	s.addTransfer(tr)
	return tr
}

// Progress records that cumulative bytes of this transfer have been
// moved. It is safe to call from any goroutine and never blocks.
//
// If a backend restarts a chunk the cumulative count may go down,
// which is taken off the totals.
func (tr *Transfer) Progress(cumulative int64) {
	old := atomic.SwapInt64(&tr.bytes, cumulative)
	if delta := cumulative - old; delta != 0 {
		tr.stats.Bytes(delta)
	}
}

// ProgressFunc returns Progress as an fs.ProgressFunc
func (tr *Transfer) ProgressFunc() fs.ProgressFunc {
	return tr.Progress
}

// Bytes returns the cumulative bytes reported so far
func (tr *Transfer) Bytes() int64 {
	return atomic.LoadInt64(&tr.bytes)
}

// Done ends the transfer. Calls after the first are ignored.
func (tr *Transfer) Done(err error) {
	tr.mu.Lock()
	if tr.done {
		tr.mu.Unlock()
		return
	}
	tr.done = true
	tr.err = err
	tr.mu.Unlock()

	if err != nil {
		_ = tr.stats.Error(err)
	}
	if tr.direction == Delete && err == nil {
		tr.stats.Deletes(1)
	}
	tr.stats.removeTransfer(tr)
	DefaultMetrics.observe(tr, err)
}

// String prints the state of the transfer for the progress display
func (tr *Transfer) String() string {
	done := tr.Bytes()
	percentage := 0
	if tr.size > 0 {
		percentage = int(100 * done / tr.size)
	}
	return fmt.Sprintf("%s (%s): %3d%% /%s", tr.name, tr.account, percentage, fs.SizeSuffix(tr.size).ByteShortUnit())
}
