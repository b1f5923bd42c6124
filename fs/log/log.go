// Package log provides logging for ddrive
package log

import (
	"context"
	"io"
	"log"
	"os"

	"github.com/ddrive/ddrive/fs"
	"github.com/ddrive/ddrive/fs/config/flags"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options contains options for controlling the logging
type Options struct {
	File       string        // Log everything to this file
	MaxSize    fs.SizeSuffix // Max size of log file before rotation
	MaxBackups int           // Max number of rotated log files kept
	MaxAge     int           // Max age in days of rotated log files
	Compress   bool          // Set to compress rotated log files
}

// DefaultOpt is the default values used for Opt
var DefaultOpt = Options{
	MaxSize: -1,
}

// Opt is the options for the logger
var Opt = DefaultOpt

// AddFlags adds the logging flags to the flagSet
func AddFlags(flagSet *pflag.FlagSet) {
	flags.StringVarP(flagSet, &Opt.File, "log-file", "", Opt.File, "Log everything to this file")
	flags.FVarP(flagSet, &Opt.MaxSize, "log-file-max-size", "", "Maximum size of the log file before it's rotated (e.g. 10M)")
	flags.IntVarP(flagSet, &Opt.MaxBackups, "log-file-max-backups", "", Opt.MaxBackups, "Maximum number of old log files to retain")
	flags.IntVarP(flagSet, &Opt.MaxAge, "log-file-max-age", "", Opt.MaxAge, "Maximum number of days to retain old log files")
	flags.BoolVarP(flagSet, &Opt.Compress, "log-file-compress", "", Opt.Compress, "If set, compress rotated log files using gzip")
}

// logWriter returns the writer for the log file, rotating it with
// lumberjack if a maximum size was given
func logWriter(opt *Options) (io.Writer, error) {
	if opt.MaxSize > 0 {
		megabytes := int(opt.MaxSize / fs.Mebi)
		if megabytes < 1 {
			megabytes = 1
		}
		return &lumberjack.Logger{
			Filename:   opt.File,
			MaxSize:    megabytes,
			MaxBackups: opt.MaxBackups,
			MaxAge:     opt.MaxAge,
			Compress:   opt.Compress,
		}, nil
	}
	return os.OpenFile(opt.File, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0640)
}

// InitLogging start the logging as per the command line flags
func InitLogging() {
	ci := fs.GetConfig(context.Background())
	flagsStr := ""
	if Opt.File != "" {
		w, err := logWriter(&Opt)
		if err != nil {
			log.Fatalf("Failed to open log file: %v", err)
		}
		log.SetOutput(w)
		logrus.SetOutput(w)
		flagsStr += ",file"
	}

	// Setup the JSON logger if required
	if ci.UseJSONLog {
		logrus.SetFormatter(&logrus.JSONFormatter{})
		logrus.SetLevel(logrus.DebugLevel)
		flagsStr += ",json"
	}
	if flagsStr != "" {
		fs.Debugf(nil, "Logging with flags %q", flagsStr[1:])
	}
}

// Redirected returns true if the log has been redirected from stdout
func Redirected() bool {
	return Opt.File != ""
}
