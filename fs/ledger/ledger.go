// Package ledger keeps track of how much of each account's capacity
// is used or spoken for.
//
// Capacity is reserved in two phases. Placement records a tentative
// reservation for every chunk while holding the ledger lock, so
// concurrent operations can never over-subscribe an account. Each
// reservation is then committed when its transfer succeeds or rolled
// back when it fails.
package ledger

import (
	"sort"
	"sync"

	"github.com/ddrive/ddrive/fs"
	"github.com/ddrive/ddrive/fs/policy"
	"github.com/pkg/errors"
)

// Account is the capacity state of one account
type Account struct {
	ID       string
	Total    int64 // total capacity in bytes
	Used     int64 // committed bytes
	Reserved int64 // tentatively reserved bytes
}

// Available returns the bytes which can still be placed on the account
func (a Account) Available() int64 {
	avail := a.Total - a.Used - a.Reserved
	if avail < 0 {
		return 0
	}
	return avail
}

// Ledger tracks the capacity of a set of accounts
type Ledger struct {
	mu       sync.Mutex
	accounts map[string]*Account
}

// New makes a Ledger from the accounts passed in
func New(accounts []Account) *Ledger {
	l := &Ledger{
		accounts: make(map[string]*Account, len(accounts)),
	}
	for _, a := range accounts {
		l.Add(a)
	}
	return l
}

// Add starts tracking a, replacing any account with the same ID
func (l *Ledger) Add(a Account) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a.Reserved = 0
	if a.Used < 0 {
		fs.Warnf(a.ID, "used capacity %d is negative - resetting to 0", a.Used)
		a.Used = 0
	}
	if old, ok := l.accounts[a.ID]; ok {
		a.Reserved = old.Reserved
	}
	l.accounts[a.ID] = &a
}

// SetTotal changes the total capacity of an account
func (l *Ledger) SetTotal(id string, total int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.accounts[id]
	if !ok {
		return errors.Wrap(fs.ErrorAccountNotFound, id)
	}
	a.Total = total
	return nil
}

// Usage returns a copy of the state of account id
func (l *Ledger) Usage(id string) (Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.accounts[id]
	if !ok {
		return Account{}, errors.Wrap(fs.ErrorAccountNotFound, id)
	}
	return *a, nil
}

// Available returns the bytes which can still be placed on account id
func (l *Ledger) Available(id string) int64 {
	a, err := l.Usage(id)
	if err != nil {
		return 0
	}
	return a.Available()
}

// Accounts returns copies of all the accounts sorted by ID
//
// This is the stable order placement scans accounts in.
func (l *Ledger) Accounts() []Account {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l._accounts()
}

// _accounts must be called with the lock held
func (l *Ledger) _accounts() []Account {
	out := make([]Account, 0, len(l.accounts))
	for _, a := range l.accounts {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Reservation is a tentative claim on capacity which must be
// committed or rolled back exactly once.
type Reservation struct {
	l       *Ledger
	Account string
	Bytes   int64
	state   reservationState // protected by l.mu
}

type reservationState byte

const (
	statePending reservationState = iota
	stateCommitted
	stateRolledBack
)

// Reserve tentatively claims n bytes on account id
func (l *Ledger) Reserve(id string, n int64) (*Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.accounts[id]
	if !ok {
		return nil, errors.Wrap(fs.ErrorAccountNotFound, id)
	}
	if a.Available() < n {
		return nil, errors.Wrapf(fs.ErrorInsufficientCapacity, "%s has %d bytes available, need %d", id, a.Available(), n)
	}
	return l._reserve(a, n), nil
}

// _reserve must be called with the lock held
func (l *Ledger) _reserve(a *Account, n int64) *Reservation {
	a.Reserved += n
	return &Reservation{l: l, Account: a.ID, Bytes: n}
}

// Place runs p over the chunk sizes passed in and tentatively
// reserves capacity for every chunk.
//
// The policy sees a snapshot of the accounts taken under the ledger
// lock and the reservations are made before the lock is released, so
// no other placement can see the same free space. The reservations
// are returned in part order.
func (l *Ledger) Place(sizes []int64, p policy.Policy) ([]*Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	accounts := l._accounts()
	candidates := make([]policy.Candidate, len(accounts))
	for i, a := range accounts {
		candidates[i] = policy.Candidate{
			ID:        a.ID,
			Total:     a.Total,
			Used:      a.Used,
			Available: a.Available(),
		}
	}
	choices, err := p.Assign(sizes, candidates)
	if err != nil {
		return nil, err
	}
	if len(choices) != len(sizes) {
		return nil, errors.Errorf("placement policy returned %d choices for %d chunks", len(choices), len(sizes))
	}
	reservations := make([]*Reservation, len(sizes))
	for i, choice := range choices {
		reservations[i] = l._reserve(l.accounts[accounts[choice].ID], sizes[i])
	}
	return reservations, nil
}

// Commit turns the reservation into used capacity.
//
// It returns false if the reservation had already been committed or
// rolled back.
func (r *Reservation) Commit() bool {
	return r.finish(stateCommitted)
}

// Rollback drops the reservation.
//
// It returns false if the reservation had already been committed or
// rolled back.
func (r *Reservation) Rollback() bool {
	return r.finish(stateRolledBack)
}

func (r *Reservation) finish(to reservationState) bool {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	if r.state != statePending {
		return false
	}
	r.state = to
	a, ok := r.l.accounts[r.Account]
	if !ok {
		fs.Warnf(r.Account, "account vanished with %d bytes reserved", r.Bytes)
		return true
	}
	a.Reserved -= r.Bytes
	if a.Reserved < 0 {
		fs.Warnf(a.ID, "reserved capacity went negative - resetting to 0")
		a.Reserved = 0
	}
	if to == stateCommitted {
		a.Used += r.Bytes
	}
	return true
}

// RollbackAll rolls back any of the reservations still pending
func RollbackAll(reservations []*Reservation) {
	for _, r := range reservations {
		if r != nil {
			r.Rollback()
		}
	}
}

// Release gives back n bytes of used capacity on account id, for
// example after a chunk is deleted.
//
// Used capacity never goes below zero. If it would, it is clamped,
// a consistency warning is logged and clamped is returned as true.
func (l *Ledger) Release(id string, n int64) (clamped bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.accounts[id]
	if !ok {
		return false, errors.Wrap(fs.ErrorAccountNotFound, id)
	}
	a.Used -= n
	if a.Used < 0 {
		fs.Warnf(id, "releasing %d bytes would make used capacity negative (%d) - clamping to 0", n, a.Used)
		a.Used = 0
		clamped = true
	}
	return clamped, nil
}
