//  Copyright 2026 Google LLC
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

// schedtoold watches the process table and applies scheduling policies to new
// processes matching its rules.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/GoogleCloudPlatform/guest-logging-go/logger"
	"github.com/GoogleCloudPlatform/schedtoold/schedtoold/cfg"
	"github.com/GoogleCloudPlatform/schedtoold/schedtoold/poller"
	"github.com/GoogleCloudPlatform/schedtoold/schedtoold/rules"
	"github.com/spf13/cobra"
)

var (
	programName = "schedtoold"
	version     string
)

// options holds the command line flags.
type options struct {
	intervalMS int
	rulesFile  string
	cfgFile    string
	verbose    bool
}

// settings is the effective configuration, cfg values overridden by flags.
type settings struct {
	interval       time.Duration
	rulesFile      string
	utility        string
	verbose        bool
	debug          bool
	statusEnabled  bool
	statusInterval time.Duration
	controlEnabled bool
	pipe           string
	pipeMode       os.FileMode
	pipeGroup      string
	requestTimeout time.Duration
}

func logFormat(e logger.LogEntry) string {
	switch e.Severity {
	case logger.Error, logger.Critical, logger.Debug:
		// ERROR file.go:82 This is a log message.
		return fmt.Sprintf("%s %s:%d %s", strings.ToUpper(e.Severity.String()), e.Source.File, e.Source.Line, e.Message)
	default:
		// This is a log message.
		return e.Message
	}
}

func initLogger(ctx context.Context, s *settings) error {
	opts := logger.LogOpts{
		LoggerName:     programName,
		FormatFunction: logFormat,
		Writers:        []io.Writer{os.Stdout},
		// Local logging is syslog, stdout ends up in the journal anyway.
		DisableLocalLogging: true,
		DisableCloudLogging: true,
		Debug:               s.debug,
	}
	if err := logger.Init(ctx, opts); err != nil {
		return fmt.Errorf("error initializing logger: %w", err)
	}
	return nil
}

// loadSettings loads the daemon configuration and applies the flags the user
// explicitly set on top of it.
func loadSettings(cmd *cobra.Command, o *options) (*settings, error) {
	if err := cfg.Load(o.cfgFile, nil); err != nil {
		return nil, err
	}
	c := cfg.Get()

	s := &settings{
		interval:       c.Daemon.Interval(),
		rulesFile:      c.Daemon.RulesFile,
		utility:        c.Daemon.Utility,
		verbose:        c.Daemon.Verbose,
		debug:          c.Daemon.Debug || os.Getenv("SCHEDTOOLD_DEBUG") != "",
		statusEnabled:  c.Status.Enabled,
		statusInterval: time.Duration(c.Status.IntervalSeconds) * time.Second,
		controlEnabled: c.Command.Enabled,
		pipe:           c.Command.PipePath,
		pipeGroup:      c.Command.PipeGroup,
	}

	var err error
	if s.pipeMode, err = c.Command.Mode(); err != nil {
		return nil, err
	}
	if s.requestTimeout, err = c.Command.Timeout(); err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("interval") {
		if o.intervalMS <= 0 {
			return nil, fmt.Errorf("invalid polling interval %dms, must be positive", o.intervalMS)
		}
		s.interval = time.Duration(o.intervalMS) * time.Millisecond
	}
	if flags.Changed("config") {
		s.rulesFile = o.rulesFile
	}
	if flags.Changed("verbose") {
		s.verbose = o.verbose
	}
	return s, nil
}

// setup resolves the settings and initializes the logger, every command goes
// through it first.
func setup(cmd *cobra.Command, o *options) (*settings, error) {
	s, err := loadSettings(cmd, o)
	if err != nil {
		return nil, err
	}
	if err := initLogger(cmd.Context(), s); err != nil {
		return nil, err
	}
	return s, nil
}

func newRootCommand(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:           programName,
		Short:         "Apply scheduling policies to new processes",
		Long:          "schedtoold polls the process table and runs a scheduling utility against every new process matching one of its rules.",
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := setup(cmd, o)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, s)
		},
	}

	flags := cmd.PersistentFlags()
	flags.IntVarP(&o.intervalMS, "interval", "i", int(poller.DefaultInterval.Milliseconds()), "polling interval in milliseconds")
	flags.StringVarP(&o.rulesFile, "config", "c", rules.DefaultPath, "rules file path")
	flags.StringVar(&o.cfgFile, "cfg-file", "", "daemon configuration file (default /etc/default/schedtoold.cfg)")
	flags.BoolVarP(&o.verbose, "verbose", "v", false, "log every match before applying it")

	cmd.AddCommand(newCheckCommand(o), newMatchCommand(o), newStatusCommand(o), newServiceCommand(o))
	return cmd
}

func main() {
	if err := newRootCommand(new(options)).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", programName, err)
		os.Exit(1)
	}
}
