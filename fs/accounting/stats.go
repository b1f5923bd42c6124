// Package accounting aggregates the progress of chunk transfers
package accounting

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ddrive/ddrive/fs"
)

var (
	globalStats = NewStats(context.Background())
)

// GlobalStats returns the stats the commands render
func GlobalStats() *StatsInfo {
	return globalStats
}

// StatsInfo accounts all transfers
//
// The byte and error counters are atomics so transfers never wait on
// each other to report progress. The lock only guards the set of
// transfers in flight and the last error.
type StatsInfo struct {
	bytes     int64 // atomic
	errors    int64 // atomic
	transfers int64 // atomic, completed transfers
	deletes   int64 // atomic

	mu           sync.RWMutex
	ci           *fs.ConfigInfo
	lastError    error
	start        time.Time
	transferring map[*Transfer]struct{}
}

// NewStats creates an initialised StatsInfo
func NewStats(ctx context.Context) *StatsInfo {
	return &StatsInfo{
		ci:           fs.GetConfig(ctx),
		start:        time.Now(),
		transferring: make(map[*Transfer]struct{}),
	}
}

// Bytes updates the stats for bytes bytes
func (s *StatsInfo) Bytes(bytes int64) {
	atomic.AddInt64(&s.bytes, bytes)
}

// GetBytes returns the number of bytes transferred so far
func (s *StatsInfo) GetBytes() int64 {
	return atomic.LoadInt64(&s.bytes)
}

// Error adds a single error into the stats and returns it
func (s *StatsInfo) Error(err error) error {
	if err == nil {
		return nil
	}
	atomic.AddInt64(&s.errors, 1)
	s.mu.Lock()
	s.lastError = err
	s.mu.Unlock()
	return err
}

// GetErrors reads the number of errors
func (s *StatsInfo) GetErrors() int64 {
	return atomic.LoadInt64(&s.errors)
}

// GetLastError returns the lastError
func (s *StatsInfo) GetLastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// GetTransfers reads the number of completed transfers
func (s *StatsInfo) GetTransfers() int64 {
	return atomic.LoadInt64(&s.transfers)
}

// Deletes updates the stats for deletes
func (s *StatsInfo) Deletes(deletes int64) int64 {
	return atomic.AddInt64(&s.deletes, deletes)
}

// GetDeletes reads the number of deletes
func (s *StatsInfo) GetDeletes() int64 {
	return atomic.LoadInt64(&s.deletes)
}

// Transferring returns the number of transfers in flight
func (s *StatsInfo) Transferring() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.transferring)
}

// ResetCounters sets the counters back to zero, ready for the next
// operation
func (s *StatsInfo) ResetCounters() {
	atomic.StoreInt64(&s.bytes, 0)
	atomic.StoreInt64(&s.errors, 0)
	atomic.StoreInt64(&s.transfers, 0)
	atomic.StoreInt64(&s.deletes, 0)
	s.mu.Lock()
	s.lastError = nil
	s.start = time.Now()
	s.transferring = make(map[*Transfer]struct{})
	s.mu.Unlock()
}

func (s *StatsInfo) addTransfer(tr *Transfer) {
	s.mu.Lock()
	s.transferring[tr] = struct{}{}
	s.mu.Unlock()
}

func (s *StatsInfo) removeTransfer(tr *Transfer) {
	s.mu.Lock()
	delete(s.transferring, tr)
	s.mu.Unlock()
	atomic.AddInt64(&s.transfers, 1)
}

// String convert the StatsInfo to a string for printing
func (s *StatsInfo) String() string {
	s.mu.RLock()
	dt := time.Since(s.start)
	inFlight := make([]*Transfer, 0, len(s.transferring))
	for tr := range s.transferring {
		inFlight = append(inFlight, tr)
	}
	s.mu.RUnlock()

	transferred := s.GetBytes()
	speed := 0.0
	if dt > 0 {
		speed = float64(transferred) / dt.Seconds()
	}
	dtRounded := dt - (dt % (time.Second / 10))

	buf := &bytes.Buffer{}
	_, _ = fmt.Fprintf(buf, `
Transferred:   %10s (%s/s)
Errors:        %10d
Chunks:        %10d
Deleted:       %10d
Elapsed time:  %10v
`,
		fs.SizeSuffix(transferred).ByteShortUnit(), fs.SizeSuffix(int64(speed)).ByteShortUnit(),
		s.GetErrors(),
		s.GetTransfers(),
		s.GetDeletes(),
		dtRounded)

	if len(inFlight) > 0 {
		sort.Slice(inFlight, func(i, j int) bool { return inFlight[i].name < inFlight[j].name })
		lines := make([]string, len(inFlight))
		for i, tr := range inFlight {
			lines[i] = " * " + tr.String()
		}
		_, _ = fmt.Fprintf(buf, "Transferring:\n%s\n", strings.Join(lines, "\n"))
	}
	return buf.String()
}

// Log outputs the StatsInfo to the log
func (s *StatsInfo) Log() {
	fs.LogLevelPrintf(s.ci.StatsLogLevel, nil, "%v\n", s)
}
