// Package catalog is the persistent record of linked accounts and
// distributed files.
//
// The catalog is a single JSON document. It is only written when it
// has changed and every write replaces the old file atomically.
package catalog

import (
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/ddrive/ddrive/fs"
	"github.com/ddrive/ddrive/fs/chunk"
	"github.com/ddrive/ddrive/fs/config/configfile"
	"github.com/pkg/errors"
)

// Account is a linked storage account
type Account struct {
	ID       string `json:"-"`
	Type     string `json:"type"`
	TokenRef string `json:"token_ref"` // config file section holding the credentials
	Total    int64  `json:"total_capacity_bytes"`
	Used     int64  `json:"used_capacity_bytes"`
}

// Available returns the capacity left on the account
func (a Account) Available() int64 {
	if a.Used >= a.Total {
		return 0
	}
	return a.Total - a.Used
}

// Chunk records where one part of a file is stored
type Chunk struct {
	Part     int         `json:"part"`
	Account  string      `json:"account"`
	RemoteID fs.RemoteID `json:"remote_id"`
	Size     int64       `json:"size_bytes"`
	Hash     string      `json:"hash,omitempty"`
}

// ManagedFile is a file distributed over the accounts
type ManagedFile struct {
	Name    string    `json:"-"`
	Size    int64     `json:"total_size_bytes"`
	Created time.Time `json:"created"`
	Chunks  []Chunk   `json:"chunks"`
}

// Accounts returns the distinct accounts the file's chunks are on
func (f ManagedFile) Accounts() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, c := range f.Chunks {
		if _, ok := seen[c.Account]; !ok {
			seen[c.Account] = struct{}{}
			out = append(out, c.Account)
		}
	}
	sort.Strings(out)
	return out
}

// Validate checks the chunks of f are numbered 1..N and that their
// sizes add up to the size of the file.
func Validate(f ManagedFile) error {
	numbers := make([]int, len(f.Chunks))
	var total int64
	for i, c := range f.Chunks {
		numbers[i] = c.Part
		if c.Size < 0 {
			return errors.Errorf("%q: part %d has negative size %d", f.Name, c.Part, c.Size)
		}
		total += c.Size
	}
	if err := chunk.CheckContiguous(numbers); err != nil {
		return errors.Wrapf(err, "%q", f.Name)
	}
	if total != f.Size {
		return errors.Errorf("%q: chunk sizes add up to %d but the file is %d bytes", f.Name, total, f.Size)
	}
	return nil
}

// document is the on disk form of the catalog
type document struct {
	Accounts map[string]*Account     `json:"accounts"`
	Files    map[string]*ManagedFile `json:"files"`
}

// Catalog is the set of accounts and files
//
// It is safe for concurrent use.
type Catalog struct {
	mu       sync.Mutex
	path     string
	readOnly bool
	dirty    bool
	doc      document
}

func newCatalog(path string) *Catalog {
	return &Catalog{
		path: path,
		doc: document{
			Accounts: make(map[string]*Account),
			Files:    make(map[string]*ManagedFile),
		},
	}
}

// Load reads the catalog at path.
//
// A missing file gives an empty catalog. Any other failure is returned
// as an fs.ErrorCatalogIO.
func Load(path string) (*Catalog, error) {
	c := newCatalog(path)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		fs.Debugf(nil, "No catalog at %q - starting empty", path)
		return c, nil
	}
	if err != nil {
		return nil, fs.CatalogError(err, "failed to read catalog")
	}
	if err = json.Unmarshal(data, &c.doc); err != nil {
		return nil, fs.CatalogError(err, "failed to parse catalog "+path)
	}
	if c.doc.Accounts == nil {
		c.doc.Accounts = make(map[string]*Account)
	}
	if c.doc.Files == nil {
		c.doc.Files = make(map[string]*ManagedFile)
	}
	for id, a := range c.doc.Accounts {
		if a == nil {
			delete(c.doc.Accounts, id)
			continue
		}
		a.ID = id
	}
	for name, f := range c.doc.Files {
		if f == nil {
			delete(c.doc.Files, name)
			continue
		}
		f.Name = name
		if err := Validate(*f); err != nil {
			fs.Errorf(name, "Catalog record is inconsistent: %v", err)
		}
	}
	return c, nil
}

// Path returns where the catalog is stored
func (c *Catalog) Path() string {
	return c.path
}

// Dirty returns whether the catalog has unsaved changes
func (c *Catalog) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// Save writes the catalog back if it has changed
func (c *Catalog) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}
	if c.readOnly {
		return errors.New("can't save a catalog snapshot")
	}
	data, err := json.MarshalIndent(&c.doc, "", "  ")
	if err != nil {
		return fs.CatalogError(err, "failed to encode catalog")
	}
	if err = configfile.WriteFileAtomic(c.path, data, 0600); err != nil {
		return fs.CatalogError(err, "failed to save catalog")
	}
	c.dirty = false
	fs.Debugf(nil, "Saved catalog to %q", c.path)
	return nil
}

// Get returns the file called name
func (c *Catalog) Get(name string) (ManagedFile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.doc.Files[name]
	if !ok {
		return ManagedFile{}, errors.Wrap(fs.ErrorFileNotFound, name)
	}
	return copyFile(f), nil
}

// Has returns whether there is a file called name
func (c *Catalog) Has(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.doc.Files[name]
	return ok
}

// Put adds f to the catalog
//
// It returns fs.ErrorDuplicateFile if there is already a file with
// that name.
func (c *Catalog) Put(f ManagedFile) error {
	if f.Name == "" {
		return errors.New("can't add a file with no name")
	}
	if err := Validate(f); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.doc.Files[f.Name]; ok {
		return errors.Wrap(fs.ErrorDuplicateFile, f.Name)
	}
	cp := copyFile(&f)
	sort.Slice(cp.Chunks, func(i, j int) bool { return cp.Chunks[i].Part < cp.Chunks[j].Part })
	c.doc.Files[f.Name] = &cp
	c.dirty = true
	return nil
}

// Remove deletes the file called name from the catalog
func (c *Catalog) Remove(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.doc.Files[name]; !ok {
		return errors.Wrap(fs.ErrorFileNotFound, name)
	}
	delete(c.doc.Files, name)
	c.dirty = true
	return nil
}

// ListFiles returns all the files sorted by name
func (c *Catalog) ListFiles() []ManagedFile {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ManagedFile, 0, len(c.doc.Files))
	for _, f := range c.doc.Files {
		out = append(out, copyFile(f))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ListAccounts returns all the accounts sorted by ID
func (c *Catalog) ListAccounts() []Account {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Account, 0, len(c.doc.Accounts))
	for _, a := range c.doc.Accounts {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AddAccount adds a or replaces the account with the same ID
func (c *Catalog) AddAccount(a Account) error {
	if a.ID == "" {
		return errors.New("can't add an account with no ID")
	}
	if a.Total < 0 || a.Used < 0 {
		return errors.Errorf("account %q: capacity can't be negative", a.ID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.doc.Accounts[a.ID] = &a
	c.dirty = true
	return nil
}

// Account returns the account with the ID given
func (c *Catalog) Account(id string) (Account, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.doc.Accounts[id]
	if !ok {
		return Account{}, errors.Wrap(fs.ErrorAccountNotFound, id)
	}
	return *a, nil
}

// SetUsed records the used capacity of an account
func (c *Catalog) SetUsed(id string, used int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.doc.Accounts[id]
	if !ok {
		return errors.Wrap(fs.ErrorAccountNotFound, id)
	}
	if a.Used != used {
		a.Used = used
		c.dirty = true
	}
	return nil
}

// Snapshot returns a copy of the catalog which can't be saved
func (c *Catalog) Snapshot() *Catalog {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := newCatalog(c.path)
	s.readOnly = true
	for id, a := range c.doc.Accounts {
		cp := *a
		s.doc.Accounts[id] = &cp
	}
	for name, f := range c.doc.Files {
		cp := copyFile(f)
		s.doc.Files[name] = &cp
	}
	return s
}

func copyFile(f *ManagedFile) ManagedFile {
	cp := *f
	cp.Chunks = append([]Chunk(nil), f.Chunks...)
	return cp
}
