// Package configfile implements a config file loader and saver
package configfile

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"

	"github.com/Unknwon/goconfig"
	"github.com/ddrive/ddrive/fs"
	"github.com/pkg/errors"
)

// ErrorConfigFileNotFound is returned by Load when the config file
// doesn't exist yet
var ErrorConfigFileNotFound = errors.New("config file not found")

// Storage keeps the per account config in a simple INI based file.
//
// Each linked account is a section named by its account ID.
type Storage struct {
	mu   sync.Mutex           // to protect the following variables
	path string               // where the file lives
	gc   *goconfig.ConfigFile // config file loaded - not thread safe
}

// New makes a Storage for the config file at path. Call Load to read it.
func New(path string) *Storage {
	s := &Storage{path: path}
	s.gc, _ = goconfig.LoadFromReader(bytes.NewReader([]byte{}))
	return s
}

// Path returns the location of the config file
func (s *Storage) Path() string {
	return s.path
}

// _load the config from permanent storage
//
// mu must be held when calling this
func (s *Storage) _load() (err error) {
	fd, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrorConfigFileNotFound
		}
		return err
	}
	defer func() {
		if closeErr := fd.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	gc, err := goconfig.LoadFromReader(fd)
	if err != nil {
		return errors.Wrapf(err, "failed to parse config file %q", s.path)
	}
	s.gc = gc
	return nil
}

// Load the config from permanent storage
func (s *Storage) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s._load()
}

// WriteFileAtomic writes data to path by way of a temporary file in
// the same directory which is synced then renamed over the original.
//
// The previous version is kept as path.old until the rename succeeds.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	dir, name := filepath.Split(path)
	if dir != "" {
		if err = os.MkdirAll(dir, 0700); err != nil {
			return errors.Wrap(err, "failed to create directory")
		}
	}
	td, err := os.CreateTemp(dir, name)
	if err != nil {
		return errors.Wrap(err, "failed to create temp file")
	}
	defer func() {
		_ = td.Close()
		if err := os.Remove(td.Name()); err != nil && !os.IsNotExist(err) {
			fs.Errorf(nil, "Failed to remove temp file: %v", err)
		}
	}()

	if _, err = td.Write(data); err != nil {
		return errors.Wrap(err, "failed to write temp file")
	}
	if err = td.Sync(); err != nil {
		return errors.Wrap(err, "failed to sync temp file to disk")
	}
	if err = td.Close(); err != nil {
		return errors.Wrap(err, "failed to close temp file")
	}

	info, statErr := os.Stat(path)
	if statErr == nil && info.Mode().Perm() != perm {
		fs.Debugf(nil, "Keeping previous permissions for %q: %v", path, info.Mode().Perm())
		perm = info.Mode().Perm()
	}
	if err = os.Chmod(td.Name(), perm); err != nil {
		fs.Errorf(nil, "Failed to set permissions on %q: %v", path, err)
	}

	if err = os.Rename(path, path+".old"); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to move previous file to backup location")
	}
	if err = os.Rename(td.Name(), path); err != nil {
		return errors.Wrapf(err, "failed to move newly written file from %s to final location", td.Name())
	}
	if err := os.Remove(path + ".old"); err != nil && !os.IsNotExist(err) {
		fs.Errorf(nil, "Failed to remove backup file: %v", err)
	}
	return nil
}

// _save the config to permanent storage
//
// mu must be held when calling this
func (s *Storage) _save() error {
	if s.path == "" {
		return errors.New("failed to save config file, path is empty")
	}
	var buf bytes.Buffer
	if err := goconfig.SaveConfigData(s.gc, &buf); err != nil {
		return errors.Wrap(err, "failed to save config file")
	}
	return WriteFileAtomic(s.path, buf.Bytes(), 0600)
}

// Save the config to permanent storage
func (s *Storage) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s._save()
}

// Serialize the config into a string
func (s *Storage) Serialize() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var buf bytes.Buffer
	if err := goconfig.SaveConfigData(s.gc, &buf); err != nil {
		return "", errors.Wrap(err, "failed to save config file")
	}
	return buf.String(), nil
}

// HasSection returns true if section exists in the config file
func (s *Storage) HasSection(section string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.gc.GetSection(section)
	return err == nil
}

// DeleteSection removes the named section and all config from the
// config file
func (s *Storage) DeleteSection(section string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gc.DeleteSection(section)
}

// GetSectionList returns a slice of strings with names for all the
// sections
func (s *Storage) GetSectionList() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sections []string
	for _, section := range s.gc.GetSectionList() {
		// goconfig always has a DEFAULT section
		if section != goconfig.DEFAULT_SECTION {
			sections = append(sections, section)
		}
	}
	return sections
}

// GetValue returns the key in section with a found flag
func (s *Storage) GetValue(section string, key string) (value string, found bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, err := s.gc.GetValue(section, key)
	if err != nil {
		return "", false
	}
	return value, true
}

// SetValue sets the value under key in section
func (s *Storage) SetValue(section string, key string, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gc.SetValue(section, key, value)
}

// DeleteKey removes the key under section
func (s *Storage) DeleteKey(section string, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.gc.DeleteKey(section, key)
}
