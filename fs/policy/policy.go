// Package policy decides which account each chunk of a file is
// placed on
package policy

import (
	"sort"
	"strings"

	"github.com/ddrive/ddrive/fs"
	"github.com/pkg/errors"
)

var policies = make(map[string]Policy)

// Candidate is an account chunks may be placed on
type Candidate struct {
	ID        string // account identifier
	Total     int64  // total capacity in bytes
	Used      int64  // bytes committed
	Available int64  // bytes which can still be placed, tentative reservations excluded
}

// Policy is the interface of placement policies
type Policy interface {
	// Assign returns the index into candidates chosen for each of
	// the chunk sizes passed in, which are in part order.
	//
	// It must never assign more bytes to a candidate than its
	// Available and returns an *fs.InsufficientCapacityError naming
	// the first chunk which doesn't fit anywhere.
	Assign(sizes []int64, candidates []Candidate) ([]int, error)
}

func registerPolicy(name string, p Policy) {
	policies[strings.ToLower(name)] = p
}

// Get a Policy from the list
func Get(name string) (Policy, error) {
	p, ok := policies[strings.ToLower(name)]
	if !ok {
		return nil, errors.Errorf("didn't find policy called %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	return p, nil
}

// Names returns the names of the registered policies
func Names() []string {
	names := make([]string, 0, len(policies))
	for name := range policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// working is a scratch copy of the candidates' free space which is
// decremented as chunks are assigned
type working []int64

func newWorking(candidates []Candidate) working {
	w := make(working, len(candidates))
	for i, c := range candidates {
		w[i] = c.Available
	}
	return w
}

// fits reports whether a chunk of size can go on candidate i
func (w working) fits(i int, size int64) bool {
	return w[i] >= size
}

// take places size bytes on candidate i
func (w working) take(i int, size int64) {
	w[i] -= size
}

func insufficient(part int, size int64) error {
	return &fs.InsufficientCapacityError{Part: part, Size: size}
}

// assignOrdered places each chunk on the first candidate in the order
// given by pick which has room
func assignOrdered(sizes []int64, candidates []Candidate, pick func(w working, part int) []int) ([]int, error) {
	w := newWorking(candidates)
	out := make([]int, len(sizes))
	for i, size := range sizes {
		chosen := -1
		for _, j := range pick(w, i) {
			if w.fits(j, size) {
				chosen = j
				break
			}
		}
		if chosen < 0 {
			return nil, insufficient(i+1, size)
		}
		w.take(chosen, size)
		out[i] = chosen
	}
	return out, nil
}
