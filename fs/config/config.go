// Package config reads, writes and edits the config file which holds
// the linked accounts
package config

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/ddrive/ddrive/fs"
	"github.com/ddrive/ddrive/fs/config/configfile"
	"github.com/ddrive/ddrive/fs/config/configmap"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
)

const (
	configFileName = "ddrive.conf"
	catalogName    = "catalog.json"
	hiddenDirName  = ".ddrive"

	// ConfigType is the config key holding the backend type
	ConfigType = "type"
	// ConfigToken is the config key holding the OAuth token
	ConfigToken = "token"
	// ConfigCapacity is the config key holding an explicit capacity
	ConfigCapacity = "capacity"
	// ConfigClientID is the config key used to store the client id
	ConfigClientID = "client_id"
	// ConfigClientSecret is the config key used to store the client secret
	ConfigClientSecret = "client_secret"
	// ConfigAuthNoBrowser is the config key to stop a browser being opened
	ConfigAuthNoBrowser = "config_no_browser"
)

// Global
var (
	// ConfigPath points to the config file
	ConfigPath = makeConfigPath(configFileName)

	// CatalogPath points to the catalog document
	CatalogPath = makeConfigPath(catalogName)

	dataMu sync.Mutex
	data   = configfile.New(ConfigPath)
)

// Return the path to a file in the config dir, honouring
// XDG_CONFIG_HOME and falling back to ~/.ddrive
func makeConfigPath(name string) string {
	if xdgdir := os.Getenv("XDG_CONFIG_HOME"); xdgdir != "" {
		return filepath.Join(xdgdir, "ddrive", name)
	}
	if cfgdir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(cfgdir, "ddrive", name)
	}
	if home, err := homedir.Dir(); err == nil {
		return filepath.Join(home, hiddenDirName, name)
	}
	return name
}

// ExpandPath expands a leading ~ in path to the home directory.
// Paths which can't be expanded are returned unchanged.
func ExpandPath(path string) string {
	expanded, err := homedir.Expand(path)
	if err != nil {
		fs.Debugf(nil, "Failed to expand %q: %v", path, err)
		return path
	}
	return expanded
}

// Data returns the config file storage in use
func Data() *configfile.Storage {
	dataMu.Lock()
	defer dataMu.Unlock()
	return data
}

// LoadConfig loads the config file from ConfigPath and installs the
// hooks fs uses to read and write it.
//
// A missing config file is not an error.
func LoadConfig() error {
	ConfigPath = ExpandPath(ConfigPath)
	CatalogPath = ExpandPath(CatalogPath)

	dataMu.Lock()
	data = configfile.New(ConfigPath)
	d := data
	dataMu.Unlock()

	fs.ConfigFileGet = d.GetValue
	fs.ConfigFileSet = func(section, key, value string) error {
		d.SetValue(section, key, value)
		return d.Save()
	}

	err := d.Load()
	if err == configfile.ErrorConfigFileNotFound {
		fs.Debugf(nil, "Config file %q not found - using defaults", ConfigPath)
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to load config file")
	}
	fs.Debugf(nil, "Using config file from %q", ConfigPath)
	return nil
}

// SaveConfig writes the config file to disk
func SaveConfig() error {
	return Data().Save()
}

// envGetter looks up section keys in DDRIVE_CONFIG_<SECTION>_<KEY>
type envGetter string

func (section envGetter) Get(key string) (value string, ok bool) {
	return os.LookupEnv(fs.ConfigToEnv(string(section), key))
}

// fileMapper reads and writes one section of the config file,
// saving the file on every write so refreshed tokens survive.
type fileMapper string

func (section fileMapper) Get(key string) (value string, ok bool) {
	return Data().GetValue(string(section), key)
}

func (section fileMapper) Set(key, value string) error {
	d := Data()
	d.SetValue(string(section), key, value)
	return d.Save()
}

// SectionMap returns a Mapper for the account section name. Values
// from the environment override the config file.
func SectionMap(name string) configmap.Mapper {
	return configmap.New().
		AddGetter(envGetter(name)).
		AddGetter(fileMapper(name)).
		AddSetter(fileMapper(name))
}

// FileSections returns the names of the accounts in the config file
func FileSections() []string {
	return Data().GetSectionList()
}

// DeleteSection removes an account from the config file
func DeleteSection(name string) error {
	d := Data()
	d.DeleteSection(name)
	return d.Save()
}
