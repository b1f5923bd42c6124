// Package chunk splits a stream into fixed size numbered parts and
// joins them back together.
package chunk

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/ddrive/ddrive/fs"
	"github.com/pkg/errors"
	"github.com/zeebo/blake3"
)

const (
	// nameSep separates the file name from the part number in a
	// chunk object name
	nameSep = ".ddrive_chunk."

	// maxSafeChunkNumber stops runaway splits of huge files with a
	// tiny chunk size
	maxSafeChunkNumber = 10000000
)

// ErrChunkOverflow is returned when a file would need more than
// maxSafeChunkNumber chunks
var ErrChunkOverflow = errors.New("chunk number overflow")

var nameRegexp = regexp.MustCompile(`^(.+)` + regexp.QuoteMeta(nameSep) + `([0-9]{3,})$`)

// Name returns the remote object name for part of the file base
func Name(base string, part int) string {
	return fmt.Sprintf("%s%s%03d", base, nameSep, part)
}

// Parse splits a chunk object name back into the file name and part
// number. ok is false if name isn't a chunk name.
func Parse(name string) (base string, part int, ok bool) {
	m := nameRegexp.FindStringSubmatch(name)
	if m == nil {
		return "", 0, false
	}
	part, err := strconv.Atoi(m[2])
	if err != nil || part < 1 {
		return "", 0, false
	}
	return m[1], part, true
}

// NewHash returns the hash used to check chunk contents
func NewHash() hash.Hash {
	return blake3.New()
}

// SumString returns the hex digest of h
func SumString(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}

// Part is one chunk of the source stream. Its contents must be read
// before the next part is requested.
type Part struct {
	Number int // 1 based part number
	r      *io.LimitedReader
	max    int64
}

// Read reads the contents of the part
func (p *Part) Read(b []byte) (int, error) {
	return p.r.Read(b)
}

// Consumed returns the number of bytes read from the part so far
func (p *Part) Consumed() int64 {
	return p.max - p.r.N
}

// Splitter produces the parts of a stream lazily
type Splitter struct {
	in        *bufio.Reader
	chunkSize int64
	n         int
	last      *Part
}

// NewSplitter returns a Splitter which cuts in into chunkSize pieces
func NewSplitter(in io.Reader, chunkSize int64) *Splitter {
	if chunkSize <= 0 {
		panic("chunk size must be positive")
	}
	return &Splitter{
		in:        bufio.NewReader(in),
		chunkSize: chunkSize,
	}
}

// Next returns the next part or io.EOF when the stream is exhausted.
//
// An empty stream yields no parts at all. The final part may be
// shorter than the chunk size but is never empty.
func (s *Splitter) Next() (*Part, error) {
	if s.last != nil {
		// skip anything the caller didn't read
		if _, err := io.Copy(io.Discard, s.last); err != nil {
			return nil, err
		}
		s.last = nil
	}
	if _, err := s.in.Peek(1); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, errors.Wrap(err, "failed to read source")
	}
	if s.n >= maxSafeChunkNumber {
		return nil, ErrChunkOverflow
	}
	s.n++
	s.last = &Part{
		Number: s.n,
		r:      &io.LimitedReader{R: s.in, N: s.chunkSize},
		max:    s.chunkSize,
	}
	return s.last, nil
}

// Staged is a part written to local disk
type Staged struct {
	Number int
	Path   string
	Size   int64
	Hash   string
}

// SplitToDir splits in into chunkSize pieces stored as separate files
// in dir named after base.
//
// It returns fs.ErrorEmptyFile if in produced no data.
func SplitToDir(ctx context.Context, in io.Reader, chunkSize int64, dir, base string) (parts []Staged, err error) {
	s := NewSplitter(in, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		part, err := s.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		staged, err := stage(part, dir, filepath.Base(base))
		if err != nil {
			return nil, err
		}
		fs.Debugf(base, "staged chunk %d (%d bytes)", staged.Number, staged.Size)
		parts = append(parts, staged)
	}
	if len(parts) == 0 {
		return nil, fs.ErrorEmptyFile
	}
	return parts, nil
}

// stage writes part to its own file in dir
func stage(part *Part, dir, base string) (staged Staged, err error) {
	path := filepath.Join(dir, Name(base, part.Number))
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return staged, errors.Wrap(err, "failed to create chunk file")
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = errors.Wrap(closeErr, "failed to close chunk file")
		}
	}()
	h := NewHash()
	n, err := io.Copy(io.MultiWriter(out, h), part)
	if err != nil {
		return staged, errors.Wrapf(err, "failed to write chunk %d", part.Number)
	}
	return Staged{
		Number: part.Number,
		Path:   path,
		Size:   n,
		Hash:   SumString(h),
	}, nil
}

// CheckContiguous checks that numbers are exactly 1..N in any order
func CheckContiguous(numbers []int) error {
	if len(numbers) == 0 {
		return errors.Wrap(fs.ErrorIncompleteChunkSet, "no chunks")
	}
	sorted := append([]int(nil), numbers...)
	sort.Ints(sorted)
	for i, n := range sorted {
		want := i + 1
		switch {
		case n == want:
		case i > 0 && n == sorted[i-1]:
			return errors.Wrapf(fs.ErrorIncompleteChunkSet, "duplicate part %d", n)
		default:
			return errors.Wrapf(fs.ErrorIncompleteChunkSet, "missing part %d", want)
		}
	}
	return nil
}

// Merge writes the staged parts to out in ascending part order
// whatever order they are passed in.
func Merge(out io.Writer, parts []Staged) (written int64, err error) {
	numbers := make([]int, len(parts))
	for i, part := range parts {
		numbers[i] = part.Number
	}
	if err := CheckContiguous(numbers); err != nil {
		return 0, err
	}
	sorted := append([]Staged(nil), parts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })
	for _, part := range sorted {
		n, err := appendFile(out, part.Path)
		written += n
		if err != nil {
			return written, errors.Wrapf(err, "failed to merge part %d", part.Number)
		}
	}
	return written, nil
}

func appendFile(out io.Writer, path string) (int64, error) {
	in, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = in.Close()
	}()
	return io.Copy(out, in)
}
