package accounting

import (
	"context"
	"io"
	"sync"

	"github.com/ddrive/ddrive/fs"
	"golang.org/x/time/rate"
)

// Globals
var (
	tokenBucketMu sync.Mutex // protects the token bucket
	tokenBucket   *rate.Limiter
)

const maxBurstSize = 4 * 1024 * 1024 // must be bigger than the biggest request

// make a new empty token bucket with the bandwidth given
func newTokenBucket(bandwidth fs.SizeSuffix) *rate.Limiter {
	tb := rate.NewLimiter(rate.Limit(bandwidth), maxBurstSize)
	// empty the bucket
	err := tb.WaitN(context.Background(), maxBurstSize)
	if err != nil {
		fs.Errorf(nil, "Failed to empty token bucket: %v", err)
	}
	return tb
}

// StartTokenBucket starts the token bucket if the config has a
// bandwidth limit
func StartTokenBucket(ctx context.Context) {
	ci := fs.GetConfig(ctx)
	tokenBucketMu.Lock()
	defer tokenBucketMu.Unlock()
	if ci.BwLimit > 0 {
		tokenBucket = newTokenBucket(ci.BwLimit)
		fs.Infof(nil, "Starting bandwidth limiter at %vB/s", ci.BwLimit)
	} else {
		tokenBucket = nil
	}
}

// limit waits for n bytes worth of tokens if the limiter is running
func limit(ctx context.Context, n int) error {
	tokenBucketMu.Lock()
	tb := tokenBucket
	tokenBucketMu.Unlock()
	if tb == nil {
		return nil
	}
	for n > 0 {
		take := n
		if take > maxBurstSize {
			take = maxBurstSize
		}
		if err := tb.WaitN(ctx, take); err != nil {
			return err
		}
		n -= take
	}
	return nil
}

// limitedReader applies the bandwidth limit to an io.Reader
type limitedReader struct {
	ctx context.Context
	in  io.Reader
}

// Read bytes from the underlying reader, waiting for tokens afterwards
func (lr *limitedReader) Read(p []byte) (n int, err error) {
	n, err = lr.in.Read(p)
	if n > 0 {
		if limitErr := limit(lr.ctx, n); limitErr != nil && err == nil {
			err = limitErr
		}
	}
	return n, err
}

// WrapReader returns in limited to the configured bandwidth.
//
// If no limit is set in is returned unchanged.
func WrapReader(ctx context.Context, in io.Reader) io.Reader {
	tokenBucketMu.Lock()
	running := tokenBucket != nil
	tokenBucketMu.Unlock()
	if !running {
		return in
	}
	return &limitedReader{ctx: ctx, in: in}
}

// limitedWriter applies the bandwidth limit to an io.Writer
type limitedWriter struct {
	ctx context.Context
	out io.Writer
}

// Write bytes to the underlying writer, waiting for tokens first
func (lw *limitedWriter) Write(p []byte) (n int, err error) {
	if err = limit(lw.ctx, len(p)); err != nil {
		return 0, err
	}
	return lw.out.Write(p)
}

// WrapWriter returns out limited to the configured bandwidth.
//
// If no limit is set out is returned unchanged.
func WrapWriter(ctx context.Context, out io.Writer) io.Writer {
	tokenBucketMu.Lock()
	running := tokenBucket != nil
	tokenBucketMu.Unlock()
	if !running {
		return out
	}
	return &limitedWriter{ctx: ctx, out: out}
}
