// Package cmd implements the ddrive command
//
// It is in a sub package so its internals can be re-used elsewhere
package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/ddrive/ddrive/fs"
	"github.com/ddrive/ddrive/fs/accounting"
	"github.com/ddrive/ddrive/fs/catalog"
	"github.com/ddrive/ddrive/fs/config"
	"github.com/ddrive/ddrive/fs/config/configflags"
	"github.com/ddrive/ddrive/fs/fshttp"
	fslog "github.com/ddrive/ddrive/fs/log"
	"github.com/ddrive/ddrive/fs/operations"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

const (
	exitCodeSuccess = iota
	exitCodeError
	exitCodeUsageError
)

// Root is the main ddrive command
var Root = &cobra.Command{
	Use:   "ddrive",
	Short: "Spread files over many storage accounts",
	Long: `
ddrive splits files into chunks and spreads them over the storage
accounts you link to it, so several small accounts can hold files
bigger than any one of them. It keeps a catalog of where every chunk
went so the file can be put back together later.

Run without a command to start the interactive shell.
`,
	SilenceErrors:     true,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
	RunE: func(command *cobra.Command, args []string) error {
		shell, _, err := command.Find([]string{"shell"})
		if err != nil || shell == command || shell.RunE == nil {
			return command.Help()
		}
		return shell.RunE(shell, args)
	},
}

func init() {
	ci := fs.GetConfig(context.Background())
	flagSet := Root.PersistentFlags()
	configflags.AddFlags(ci, flagSet)
	fslog.AddFlags(flagSet)
	Root.SetFlagErrorFunc(func(command *cobra.Command, err error) error {
		return UsageError(err)
	})
}

// usageError marks an error as the user's mistake in calling ddrive
type usageError struct {
	error
}

func (e usageError) Unwrap() error { return e.error }

// UsageError marks err as a usage error
func UsageError(err error) error {
	if err == nil {
		return nil
	}
	return usageError{err}
}

// IsUsageError returns true if err is a usage error or one of
// cobra's command line errors
func IsUsageError(err error) bool {
	var u usageError
	if errors.As(err, &u) {
		return true
	}
	return err != nil && strings.HasPrefix(err.Error(), "unknown command")
}

// CheckArgs returns a validator which checks there are between
// MinArgs and MaxArgs arguments
func CheckArgs(MinArgs, MaxArgs int) cobra.PositionalArgs {
	return func(command *cobra.Command, args []string) error {
		if len(args) < MinArgs {
			return UsageError(errors.Errorf("command %s needs %d arguments minimum: you provided %d non flag arguments: %q", command.Name(), MinArgs, len(args), args))
		} else if len(args) > MaxArgs {
			return UsageError(errors.Errorf("command %s needs %d arguments maximum: you provided %d non flag arguments: %q", command.Name(), MaxArgs, len(args), args))
		}
		return nil
	}
}

var initOnce sync.Once

// initConfig is run by cobra after initialising the flags
func initConfig(command *cobra.Command, args []string) error {
	ctx := context.Background()
	ci := fs.GetConfig(ctx)

	// Finish parsing any command line flags
	if err := configflags.SetFlags(ci, command.Flags()); err != nil {
		return UsageError(err)
	}

	initOnce.Do(func() {
		// Start the logger
		fslog.InitLogging()

		// Serve the metrics if required
		if ci.MetricsAddr != "" {
			startMetrics(ci.MetricsAddr)
		}
	})

	// Start the bandwidth limiter
	accounting.StartTokenBucket(ctx)

	// Load the config
	if err := config.LoadConfig(); err != nil {
		return err
	}
	fs.Debugf("ddrive", "Version %q starting with parameters %q", fs.Version, os.Args)
	return nil
}

// newMetricsHandler registers the transfer and HTTP metrics and
// returns the handler serving them
func newMetricsHandler() http.Handler {
	if accounting.DefaultMetrics == nil {
		accounting.DefaultMetrics = accounting.NewMetrics("ddrive")
	}
	if fshttp.DefaultMetrics == nil {
		fshttp.DefaultMetrics = fshttp.NewMetrics("ddrive")
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(accounting.DefaultMetrics.Collectors()...)
	registry.MustRegister(fshttp.DefaultMetrics.Collectors()...)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// newMetricsRouter routes /metrics to the metrics handler
func newMetricsRouter() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Method(http.MethodGet, "/metrics", newMetricsHandler())
	return router
}

// startMetrics serves the prometheus metrics on addr
func startMetrics(addr string) {
	go func() {
		fs.Infof(nil, "Serving metrics on http://%s/metrics", addr)
		if err := http.ListenAndServe(addr, newMetricsRouter()); err != nil {
			fs.Errorf(nil, "Metrics server failed: %v", err)
		}
	}()
}

// NewEngine loads the catalog and makes an engine with the options
// set on the command line
func NewEngine(ctx context.Context) (*operations.Engine, error) {
	cat, err := catalog.Load(config.CatalogPath)
	if err != nil {
		return nil, err
	}
	return operations.NewEngine(cat, operations.DefaultOptions(ctx))
}

// Run makes an engine and calls f with it, showing the progress if
// required. The engine is shut down afterwards.
func Run(f func(ctx context.Context, e *operations.Engine) error) (err error) {
	ctx := context.Background()
	ci := fs.GetConfig(ctx)
	e, err := NewEngine(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if shutdownErr := e.Shutdown(ctx); shutdownErr != nil && err == nil {
			err = shutdownErr
		}
	}()
	stats := accounting.GlobalStats()
	stats.ResetCounters()
	stopProgress := func() {}
	if ci.Progress {
		stopProgress = startProgress(ci.StatsInterval)
	}
	err = f(ctx, e)
	stopProgress()
	if stats.GetTransfers() > 0 || stats.GetErrors() > 0 {
		stats.Log()
	}
	fs.Debugf(nil, "%d go routines active", runtime.NumGoroutine())
	return err
}

// exitCode works out the exit code for err
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitCodeSuccess
	case IsUsageError(err):
		return exitCodeUsageError
	default:
		return exitCodeError
	}
}

// Main runs ddrive interpreting flags and commands out of os.Args
func Main() {
	command, err := Root.ExecuteC()
	if err != nil {
		if IsUsageError(err) {
			_, _ = fmt.Fprintf(os.Stderr, "Error: %v\nRun '%s --help' for usage.\n", err, command.CommandPath())
		} else {
			fs.Errorf(nil, "Failed to %s: %v", command.Name(), err)
		}
	}
	os.Exit(exitCode(err))
}
