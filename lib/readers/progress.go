package readers

import (
	"io"

	"github.com/ddrive/ddrive/fs"
)

// NewProgressReader returns a reader which calls fn with the total
// number of bytes read so far after every Read.
//
// If fn is nil then r is returned unchanged.
func NewProgressReader(r io.Reader, fn fs.ProgressFunc) io.Reader {
	if fn == nil {
		return r
	}
	return &progressReader{r: r, fn: fn}
}

type progressReader struct {
	r     io.Reader
	fn    fs.ProgressFunc
	total int64
}

// Read bytes as per io.Reader interface
func (pr *progressReader) Read(p []byte) (n int, err error) {
	n, err = pr.r.Read(p)
	if n > 0 {
		pr.total += int64(n)
		pr.fn(pr.total)
	}
	return n, err
}

// NewProgressWriter returns a writer which calls fn with the total
// number of bytes written so far after every Write.
//
// If fn is nil then w is returned unchanged.
func NewProgressWriter(w io.Writer, fn fs.ProgressFunc) io.Writer {
	if fn == nil {
		return w
	}
	return &progressWriter{w: w, fn: fn}
}

type progressWriter struct {
	w     io.Writer
	fn    fs.ProgressFunc
	total int64
}

// Write bytes as per io.Writer interface
func (pw *progressWriter) Write(p []byte) (n int, err error) {
	n, err = pw.w.Write(p)
	if n > 0 {
		pw.total += int64(n)
		pw.fn(pw.total)
	}
	return n, err
}
