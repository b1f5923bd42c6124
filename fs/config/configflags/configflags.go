// Package configflags defines the flags used by ddrive.  It is
// decoupled into a separate package so it can be replaced.
package configflags

// Options set by command line flags
import (
	"path/filepath"

	"github.com/ddrive/ddrive/fs"
	"github.com/ddrive/ddrive/fs/config"
	"github.com/ddrive/ddrive/fs/config/flags"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

var (
	// these will get interpreted into fs.Config via SetFlags() below
	verbose int
	quiet   bool
)

// AddFlags adds the non backend specific flags to the command
func AddFlags(ci *fs.ConfigInfo, flagSet *pflag.FlagSet) {
	// NB defaults which aren't the zero for the type should be set in fs/config.go NewConfig
	flags.CountVarP(flagSet, &verbose, "verbose", "v", "Print lots more stuff (repeat for more)")
	flags.BoolVarP(flagSet, &quiet, "quiet", "q", false, "Print as little stuff as possible")
	flags.StringVarP(flagSet, &config.ConfigPath, "config", "", config.ConfigPath, "Config file holding the linked accounts")
	flags.StringVarP(flagSet, &config.CatalogPath, "catalog", "", config.CatalogPath, "Catalog of distributed files")
	flags.IntVarP(flagSet, &ci.Transfers, "transfers", "", ci.Transfers, "Number of chunk transfers to run in parallel")
	flags.FVarP(flagSet, &ci.ChunkSize, "chunk-size", "", "Size of the chunks files are split into")
	flags.IntVarP(flagSet, &ci.LowLevelRetries, "low-level-retries", "", ci.LowLevelRetries, "Number of low level retries to do")
	flags.StringVarP(flagSet, &ci.Policy, "policy", "", ci.Policy, "Placement policy: ff|mfs|lus|rr")
	flags.BoolVarP(flagSet, &ci.CleanupOnFailure, "cleanup-on-failure", "", ci.CleanupOnFailure, "Delete already uploaded chunks when an upload fails")
	flags.BoolVarP(flagSet, &ci.Reauthorize, "reauthorize", "", ci.Reauthorize, "Authorize an account again if its credentials are refused (set false for unattended runs)")
	flags.StringVarP(flagSet, &ci.RootFolder, "root-folder", "", ci.RootFolder, "Remote folder the chunk folders are created in")
	flags.StringVarP(flagSet, &ci.StagingDir, "staging-dir", "", ci.StagingDir, "Local directory for staged chunks (default the system temp dir)")
	flags.FVarP(flagSet, &ci.BwLimit, "bwlimit", "", "Bandwidth limit in Bytes/s, or use suffix B|K|M|G")
	flags.FVarP(flagSet, &ci.DefaultCapacity, "default-capacity", "", "Capacity of accounts which can't report a quota")
	flags.BoolVarP(flagSet, &ci.Progress, "progress", "P", ci.Progress, "Show progress during transfer")
	flags.DurationVarP(flagSet, &ci.StatsInterval, "stats", "", ci.StatsInterval, "Interval between printing progress")
	flags.StringVarP(flagSet, &ci.MetricsAddr, "metrics-addr", "", ci.MetricsAddr, "Serve prometheus metrics on this address, e.g. localhost:9090")
	flags.DurationVarP(flagSet, &ci.ConnectTimeout, "contimeout", "", ci.ConnectTimeout, "Connect timeout")
	flags.DurationVarP(flagSet, &ci.Timeout, "timeout", "", ci.Timeout, "IO idle timeout")
	flags.StringVarP(flagSet, &ci.UserAgent, "user-agent", "", ci.UserAgent, "Set the user-agent to a specified string")
	flags.BoolVarP(flagSet, &ci.UseJSONLog, "use-json-log", "", ci.UseJSONLog, "Use json log format")
	flags.FVarP(flagSet, &ci.LogLevel, "log-level", "", "Log level DEBUG|INFO|NOTICE|ERROR")
	flags.FVarP(flagSet, &ci.StatsLogLevel, "stats-log-level", "", "Log level to show --stats output DEBUG|INFO|NOTICE|ERROR")
}

// SetFlags converts any flags into config which weren't straight forward
func SetFlags(ci *fs.ConfigInfo, flagSet *pflag.FlagSet) error {
	if verbose >= 2 {
		ci.LogLevel = fs.LogLevelDebug
	} else if verbose >= 1 {
		ci.LogLevel = fs.LogLevelInfo
	}
	if quiet {
		if verbose > 0 {
			return errors.New("can't set -v and -q")
		}
		ci.LogLevel = fs.LogLevelError
	}
	logLevelFlag := flagSet.Lookup("log-level")
	if logLevelFlag != nil && logLevelFlag.Changed {
		if verbose > 0 {
			return errors.New("can't set -v and --log-level")
		}
		if quiet {
			return errors.New("can't set -q and --log-level")
		}
	}

	if ci.ChunkSize <= 0 {
		return errors.Errorf("--chunk-size must be positive, got %v", ci.ChunkSize)
	}
	if ci.Transfers <= 0 {
		return errors.Errorf("--transfers must be at least 1, got %d", ci.Transfers)
	}

	// Make the config and catalog paths absolute
	if configPath, err := filepath.Abs(config.ExpandPath(config.ConfigPath)); err == nil {
		config.ConfigPath = configPath
	}
	if catalogPath, err := filepath.Abs(config.ExpandPath(config.CatalogPath)); err == nil {
		config.CatalogPath = catalogPath
	}
	return nil
}
