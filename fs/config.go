package fs

import (
	"context"
	"strings"
	"time"
)

// Global
var (
	// globalConfig for ddrive
	globalConfig = NewConfig()

	// Version of ddrive
	Version = "v1.0.0-DEV"

	// Read a value from the config file
	//
	// This is a function pointer to decouple the config
	// implementation from the fs
	ConfigFileGet = func(section, key string) (string, bool) { return "", false }

	// Set a value into the config file and persist it
	//
	// This is a function pointer to decouple the config
	// implementation from the fs
	ConfigFileSet = func(section, key, value string) (err error) {
		Errorf(nil, "No config handler to set %q = %q in section %q of the config file", key, value, section)
		return nil
	}
)

// ConfigInfo is ddrive config options
type ConfigInfo struct {
	LogLevel         LogLevel
	StatsLogLevel    LogLevel
	UseJSONLog       bool
	ChunkSize        SizeSuffix // size of each chunk a file is split into
	Transfers        int        // number of chunk transfers in flight
	LowLevelRetries  int
	Policy           string // placement policy name
	CleanupOnFailure bool   // delete uploaded chunks if an upload fails
	Reauthorize      bool   // run the authorization flow again when credentials are refused
	RootFolder       string // remote folder holding per-file chunk folders
	StagingDir       string // where chunks are staged locally, "" for the OS temp dir
	BwLimit          SizeSuffix
	DefaultCapacity  SizeSuffix // capacity of accounts which can't report a quota
	Progress         bool
	StatsInterval    time.Duration
	MetricsAddr      string
	ConnectTimeout   time.Duration
	Timeout          time.Duration
	UserAgent        string
}

// NewConfig creates a new config with everything set to the default
// value.  These are the ultimate defaults and are overridden by the
// config module.
func NewConfig() *ConfigInfo {
	c := new(ConfigInfo)

	// Set any values which aren't the zero for the type
	c.LogLevel = LogLevelNotice
	c.StatsLogLevel = LogLevelInfo
	c.ChunkSize = 50 * Mebi
	c.Transfers = 8
	c.LowLevelRetries = 10
	c.Policy = "ff"
	c.CleanupOnFailure = true
	c.Reauthorize = true
	c.RootFolder = "ddrive-chunks"
	c.BwLimit = -1
	c.DefaultCapacity = 15 * Gibi
	c.StatsInterval = 500 * time.Millisecond
	c.ConnectTimeout = 60 * time.Second
	c.Timeout = 5 * 60 * time.Second
	c.UserAgent = "ddrive/" + Version

	return c
}

type configContextKeyType struct{}

// Context key for config
var configContextKey = configContextKeyType{}

// GetConfig returns the global or context sensitive context
func GetConfig(ctx context.Context) *ConfigInfo {
	if ctx == nil {
		return globalConfig
	}
	c := ctx.Value(configContextKey)
	if c == nil {
		return globalConfig
	}
	return c.(*ConfigInfo)
}

// AddConfig returns a mutable config structure based on a shallow
// copy of that found in ctx and returns a new context with that added
// to it.
func AddConfig(ctx context.Context) (context.Context, *ConfigInfo) {
	c := GetConfig(ctx)
	cCopy := new(ConfigInfo)
	*cCopy = *c
	newCtx := context.WithValue(ctx, configContextKey, cCopy)
	return newCtx, cCopy
}

// ConfigToEnv converts a config section and name, e.g. ("myremote",
// "client-id") into an environment name
// "DDRIVE_CONFIG_MYREMOTE_CLIENT_ID"
func ConfigToEnv(section, name string) string {
	return "DDRIVE_CONFIG_" + strings.ToUpper(strings.NewReplacer("-", "_", "@", "_", ".", "_").Replace(section+"_"+name))
}

// OptionToEnv converts an option name, e.g. "chunk-size" into an
// environment name "DDRIVE_CHUNK_SIZE"
func OptionToEnv(name string) string {
	return "DDRIVE_" + strings.ToUpper(strings.Replace(name, "-", "_", -1))
}
