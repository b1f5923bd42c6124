package operations

import (
	"context"
	"sort"

	"github.com/ddrive/ddrive/fs"
	"github.com/ddrive/ddrive/fs/catalog"
	"github.com/ddrive/ddrive/fs/config"
	"github.com/ddrive/ddrive/fs/ledger"
	"github.com/pkg/errors"
)

// LinkOptions describe an account to link
type LinkOptions struct {
	ID       string            // account ID, usually the email address
	Type     string            // backend type
	Capacity fs.SizeSuffix     // capacity to use, 0 to work it out
	Options  map[string]string // backend options stored in the config
}

// LinkAccount links a storage account, or refreshes the credentials
// of an account which is already linked.
//
// The backend's config step is run to get credentials, then the
// account is authenticated and its capacity worked out. Relinking an
// account keeps its used capacity.
func (e *Engine) LinkAccount(ctx context.Context, opt LinkOptions) (a catalog.Account, err error) {
	if opt.ID == "" {
		return a, errors.New("account ID is required")
	}
	if opt.Type == "" {
		return a, errors.New("account type is required")
	}
	if opt.Capacity < 0 {
		return a, errors.Errorf("capacity can't be negative: %v", opt.Capacity)
	}
	m := e.opt.ConfigMap(opt.ID)
	if err = m.Set(config.ConfigType, opt.Type); err != nil {
		return a, errors.Wrap(err, "failed to save account config")
	}
	keys := make([]string, 0, len(opt.Options))
	for k := range opt.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err = m.Set(k, opt.Options[k]); err != nil {
			return a, errors.Wrap(err, "failed to save account config")
		}
	}
	if info, findErr := fs.Find(opt.Type); findErr == nil && info.Config != nil {
		if err = info.Config(ctx, opt.ID, m); err != nil {
			return a, errors.Wrapf(err, "failed to configure %q", opt.ID)
		}
	}

	a = catalog.Account{ID: opt.ID, Type: opt.Type, TokenRef: opt.ID}
	relink := false
	if old, err := e.cat.Account(opt.ID); err == nil {
		a.Used = old.Used
		a.Total = old.Total
		relink = true
	}

	e.forget(opt.ID)
	b, err := e.opt.NewBackend(ctx, a)
	if err != nil {
		return a, errors.Wrapf(err, "failed to make backend for %q", opt.ID)
	}
	if err = b.Authenticate(ctx); err != nil {
		return a, err
	}

	switch {
	case opt.Capacity > 0:
		a.Total = int64(opt.Capacity)
	case relink && a.Total > 0:
	default:
		a.Total = e.discoverCapacity(ctx, b, a.Used)
	}
	if err = e.cat.AddAccount(a); err != nil {
		return a, err
	}
	e.ledger.Add(ledger.Account{ID: a.ID, Total: a.Total, Used: a.Used})
	e.mu.Lock()
	e.backends[a.ID] = b
	e.mu.Unlock()
	if err = e.save(); err != nil {
		return a, err
	}
	if relink {
		fs.Infof(a.ID, "Refreshed credentials of %s account", a.Type)
	} else {
		fs.Infof(a.ID, "Linked %s account with %v capacity", a.Type, fs.SizeSuffix(a.Total))
	}
	return a, nil
}

// discoverCapacity asks the backend how much it can hold, falling back
// to the default capacity
func (e *Engine) discoverCapacity(ctx context.Context, b fs.Backend, ours int64) int64 {
	abouter, ok := b.(fs.Abouter)
	if !ok {
		return int64(e.opt.DefaultCapacity)
	}
	usage, err := abouter.About(ctx)
	if err != nil {
		fs.Debugf(b, "Can't read quota - using default capacity: %v", err)
		return int64(e.opt.DefaultCapacity)
	}
	return capacityFromUsage(usage, ours, int64(e.opt.DefaultCapacity))
}

// capacityFromUsage works out the capacity ddrive may use from the
// quota a backend reports.
//
// Space used by other files is not ours to use, so the capacity is
// the free space plus the ours bytes ddrive already stores there.
func capacityFromUsage(usage *fs.Usage, ours, def int64) int64 {
	if usage == nil {
		return def
	}
	switch {
	case usage.Free >= 0:
		return usage.Free + ours
	case usage.Total >= 0 && usage.Used >= 0:
		if free := usage.Total - usage.Used; free > 0 {
			return free + ours
		}
		return ours
	case usage.Total >= 0:
		return usage.Total
	}
	return def
}
