// Package operations distributes files over the linked accounts and
// puts them back together.
package operations

import (
	"context"
	"os"
	"sync"

	"github.com/ddrive/ddrive/fs"
	"github.com/ddrive/ddrive/fs/accounting"
	"github.com/ddrive/ddrive/fs/catalog"
	"github.com/ddrive/ddrive/fs/config"
	"github.com/ddrive/ddrive/fs/config/configmap"
	"github.com/ddrive/ddrive/fs/ledger"
	"github.com/ddrive/ddrive/fs/policy"
	"github.com/ddrive/ddrive/fs/transfer"
	"github.com/pkg/errors"
)

// BackendFunc makes the backend for a linked account
type BackendFunc func(ctx context.Context, a catalog.Account) (fs.Backend, error)

// ConfigFunc returns the config section for an account
type ConfigFunc func(name string) configmap.Mapper

// AuthorizeFunc runs the authorization flow for an account again,
// storing fresh credentials in its config section
type AuthorizeFunc func(ctx context.Context, a catalog.Account) error

// Options for the Engine
type Options struct {
	ChunkSize        fs.SizeSuffix // size of each chunk
	Transfers        int           // chunk transfers in flight
	LowLevelRetries  int           // tries for each chunk transfer
	Policy           string        // placement policy name
	CleanupOnFailure bool          // delete the chunks of a failed upload
	StagingDir       string        // parent of the staging directories, "" for the OS default
	RootFolder       string        // remote folder holding a folder per file
	DefaultCapacity  fs.SizeSuffix // capacity of accounts which can't report one

	// NewBackend makes the backend for an account. If nil the
	// account type is looked up in the backend registry.
	NewBackend BackendFunc
	// ConfigMap returns the config section for an account. If nil
	// the config file is used.
	ConfigMap ConfigFunc
	// Reauthorize runs Authorize when an account's credentials are
	// refused, then tries them once more. Leave it off to fail fast
	// when nobody is there to authorize.
	Reauthorize bool
	// Authorize runs the authorization flow for an account. If nil
	// the Config step of the account's backend type is used.
	Authorize AuthorizeFunc
	// OnState is called on every state transition if set
	OnState StateFunc
	// Stats receive the transfer progress. If nil the global stats
	// are used.
	Stats *accounting.StatsInfo
}

// DefaultOptions returns the Options set by the config in ctx
func DefaultOptions(ctx context.Context) Options {
	ci := fs.GetConfig(ctx)
	return Options{
		ChunkSize:        ci.ChunkSize,
		Transfers:        ci.Transfers,
		LowLevelRetries:  ci.LowLevelRetries,
		Policy:           ci.Policy,
		CleanupOnFailure: ci.CleanupOnFailure,
		StagingDir:       ci.StagingDir,
		RootFolder:       ci.RootFolder,
		DefaultCapacity:  ci.DefaultCapacity,
		Reauthorize:      ci.Reauthorize,
	}
}

// Engine runs uploads, downloads and deletes against a catalog
type Engine struct {
	cat    *catalog.Catalog
	opt    Options
	policy policy.Policy
	ledger *ledger.Ledger

	mu       sync.Mutex
	backends map[string]fs.Backend // authenticated backends by account ID
	authMu   sync.Mutex            // one authorization flow at a time
}

// NewEngine makes an Engine for the accounts and files in cat
func NewEngine(cat *catalog.Catalog, opt Options) (*Engine, error) {
	if cat == nil {
		return nil, errors.New("no catalog")
	}
	if opt.ChunkSize <= 0 {
		return nil, errors.Errorf("chunk size must be positive, got %v", opt.ChunkSize)
	}
	if opt.Transfers < 1 {
		opt.Transfers = 1
	}
	if opt.RootFolder == "" {
		opt.RootFolder = fs.GetConfig(context.Background()).RootFolder
	}
	if opt.DefaultCapacity <= 0 {
		opt.DefaultCapacity = fs.GetConfig(context.Background()).DefaultCapacity
	}
	if opt.Policy == "" {
		opt.Policy = "ff"
	}
	p, err := policy.Get(opt.Policy)
	if err != nil {
		return nil, err
	}
	if opt.ConfigMap == nil {
		opt.ConfigMap = config.SectionMap
	}
	if opt.NewBackend == nil {
		opt.NewBackend = registryBackend(opt.ConfigMap)
	}
	if opt.Authorize == nil {
		opt.Authorize = registryAuthorize(opt.ConfigMap)
	}
	if opt.Stats == nil {
		opt.Stats = accounting.GlobalStats()
	}
	e := &Engine{
		cat:      cat,
		opt:      opt,
		policy:   p,
		backends: make(map[string]fs.Backend),
	}
	accounts := cat.ListAccounts()
	la := make([]ledger.Account, len(accounts))
	for i, a := range accounts {
		la[i] = ledger.Account{ID: a.ID, Total: a.Total, Used: a.Used}
	}
	e.ledger = ledger.New(la)
	return e, nil
}

// registryBackend makes backends from the registered backend types
func registryBackend(configMap ConfigFunc) BackendFunc {
	return func(ctx context.Context, a catalog.Account) (fs.Backend, error) {
		info, err := fs.Find(a.Type)
		if err != nil {
			return nil, err
		}
		return info.NewBackend(ctx, a.ID, configMap(accountSection(a)))
	}
}

// accountSection returns the config section holding a's credentials
func accountSection(a catalog.Account) string {
	if a.TokenRef != "" {
		return a.TokenRef
	}
	return a.ID
}

// registryAuthorize runs the Config step of the registered backend type
func registryAuthorize(configMap ConfigFunc) AuthorizeFunc {
	return func(ctx context.Context, a catalog.Account) error {
		info, err := fs.Find(a.Type)
		if err != nil {
			return err
		}
		if info.Config == nil {
			return errors.Errorf("%s accounts can't be authorized again", a.Type)
		}
		return info.Config(ctx, a.ID, configMap(accountSection(a)))
	}
}

// Catalog returns the catalog the engine works on
func (e *Engine) Catalog() *catalog.Catalog {
	return e.cat
}

// Ledger returns the capacity ledger
func (e *Engine) Ledger() *ledger.Ledger {
	return e.ledger
}

// Accounts returns a snapshot of the linked accounts
func (e *Engine) Accounts() []catalog.Account {
	return e.cat.Snapshot().ListAccounts()
}

// Files returns a snapshot of the distributed files
func (e *Engine) Files() []catalog.ManagedFile {
	return e.cat.Snapshot().ListFiles()
}

// Shutdown shuts down any backends which need it
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var lastErr error
	for id, b := range e.backends {
		if s, ok := b.(fs.Shutdowner); ok {
			if err := s.Shutdown(ctx); err != nil {
				fs.Errorf(id, "Failed to shut down: %v", err)
				lastErr = err
			}
		}
	}
	e.backends = make(map[string]fs.Backend)
	return lastErr
}

// backend returns the authenticated backend for account id
func (e *Engine) backend(ctx context.Context, id string) (fs.Backend, error) {
	e.mu.Lock()
	b, ok := e.backends[id]
	e.mu.Unlock()
	if ok {
		return b, nil
	}
	a, err := e.cat.Account(id)
	if err != nil {
		return nil, err
	}
	b, err = e.authenticate(ctx, a)
	if errors.Is(err, fs.ErrorAuthenticationRequired) && e.opt.Reauthorize {
		b, err = e.reauthorize(ctx, a, err)
	}
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.backends[id] = b
	e.mu.Unlock()
	return b, nil
}

// authenticate makes the backend for a and authenticates it
func (e *Engine) authenticate(ctx context.Context, a catalog.Account) (fs.Backend, error) {
	b, err := e.opt.NewBackend(ctx, a)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to make backend for %q", a.ID)
	}
	if err = b.Authenticate(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// reauthorize runs the authorization flow for a once after authErr
// and authenticates with the new credentials
func (e *Engine) reauthorize(ctx context.Context, a catalog.Account, authErr error) (fs.Backend, error) {
	e.authMu.Lock()
	defer e.authMu.Unlock()
	// another caller may have authorized the account while we waited
	e.mu.Lock()
	b, ok := e.backends[a.ID]
	e.mu.Unlock()
	if ok {
		return b, nil
	}
	fs.Logf(a.ID, "Credentials refused (%v) - authorizing again", authErr)
	if err := e.opt.Authorize(ctx, a); err != nil {
		return nil, fs.AuthError(errors.Wrap(err, "failed to authorize again"), a.ID)
	}
	return e.authenticate(ctx, a)
}

// forget drops a cached backend so the next use authenticates again
func (e *Engine) forget(id string) {
	e.mu.Lock()
	delete(e.backends, id)
	e.mu.Unlock()
}

// scheduler makes a transfer scheduler with the engine settings
func (e *Engine) scheduler() *transfer.Scheduler {
	s := transfer.New(e.opt.Transfers, e.opt.Stats)
	if e.opt.LowLevelRetries > 0 {
		s.LowLevelRetries = e.opt.LowLevelRetries
	}
	return s
}

// syncUsage copies the used capacity from the ledger to the catalog
func (e *Engine) syncUsage() {
	for _, a := range e.ledger.Accounts() {
		if err := e.cat.SetUsed(a.ID, a.Used); err != nil {
			fs.Errorf(a.ID, "Failed to record used capacity: %v", err)
		}
	}
}

// save syncs the usage and writes the catalog
func (e *Engine) save() error {
	e.syncUsage()
	return e.cat.Save()
}

// makeStagingDir makes a fresh directory to stage chunks in
func (e *Engine) makeStagingDir(op Operation) (string, error) {
	if e.opt.StagingDir != "" {
		if err := os.MkdirAll(e.opt.StagingDir, 0700); err != nil {
			return "", errors.Wrap(err, "failed to make staging directory")
		}
	}
	dir, err := os.MkdirTemp(e.opt.StagingDir, "ddrive-"+string(op)+"-")
	if err != nil {
		return "", errors.Wrap(err, "failed to make staging directory")
	}
	return dir, nil
}

// removeStagingDir removes dir and everything in it
func removeStagingDir(dir string) {
	if dir == "" {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		fs.Errorf(dir, "Failed to remove staging directory: %v", err)
	}
}
