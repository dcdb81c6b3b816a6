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

// Package cfg is package responsible to loading and accessing the daemon
// configuration.
package cfg

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/go-ini/ini"
)

var (
	// instance is the single instance of configuration sections, once loaded this package
	// should always return it.
	instance *Sections

	// dataSources is a pointer to a data source loading/defining function, unit tests will
	// want to change this pointer to whatever makes sense to its implementation.
	dataSources = defaultDataSources

	// configFile resolves the user configuration file for an OS.
	configFile = defaultConfigFile
)

const (
	winConfigPath  = `C:\ProgramData\schedtoold\schedtoold.cfg`
	unixConfigPath = `/etc/default/schedtoold.cfg`

	defaultConfig = `
[Daemon]
interval_ms = 2000
rules_file = /etc/schedtoold.yaml
utility = schedtool
verbose = false
debug = false

[Status]
enabled = true
interval_seconds = 600

[Command]
enabled = true
pipe_path = /run/schedtoold/commands.sock
pipe_mode = 0770
pipe_group =
request_timeout = 10s
`
)

// Sections encapsulates all the configuration sections.
type Sections struct {
	// Daemon defines the polling loop behavior, where rules are read from and
	// which utility is applied to matched processes.
	Daemon *Daemon `ini:"Daemon,omitempty"`

	// Status defines the periodic status report.
	Status *Status `ini:"Status,omitempty"`

	// Command defines the control socket answering status queries of a
	// running daemon.
	Command *Command `ini:"Command,omitempty"`
}

// Daemon contains the configurations of Daemon section.
type Daemon struct {
	IntervalMS int    `ini:"interval_ms,omitempty"`
	RulesFile  string `ini:"rules_file,omitempty"`
	Utility    string `ini:"utility,omitempty"`
	Verbose    bool   `ini:"verbose,omitempty"`
	Debug      bool   `ini:"debug,omitempty"`
}

// Interval returns the polling interval as a duration.
func (d *Daemon) Interval() time.Duration {
	return time.Duration(d.IntervalMS) * time.Millisecond
}

// Status contains the configurations of Status section.
type Status struct {
	Enabled         bool `ini:"enabled,omitempty"`
	IntervalSeconds int  `ini:"interval_seconds,omitempty"`
}

// Command contains the configurations of Command section.
type Command struct {
	Enabled        bool   `ini:"enabled,omitempty"`
	PipePath       string `ini:"pipe_path,omitempty"`
	PipeMode       string `ini:"pipe_mode,omitempty"`
	PipeGroup      string `ini:"pipe_group,omitempty"`
	RequestTimeout string `ini:"request_timeout,omitempty"`
}

// Mode returns the socket file mode, pipe_mode is an octal string.
func (c *Command) Mode() (os.FileMode, error) {
	mode, err := strconv.ParseUint(c.PipeMode, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("could not parse pipe_mode %q as octal integer: %w", c.PipeMode, err)
	}
	return os.FileMode(mode).Perm(), nil
}

// Timeout returns the delay a client has to send its request.
func (c *Command) Timeout() (time.Duration, error) {
	to, err := time.ParseDuration(c.RequestTimeout)
	if err != nil {
		return 0, fmt.Errorf("request_timeout %q is not a valid duration: %w", c.RequestTimeout, err)
	}
	return to, nil
}

func defaultConfigFile(osName string) string {
	if osName == "windows" {
		return winConfigPath
	}
	return unixConfigPath
}

// defaultDataSources lists the configuration sources, later sources override
// earlier ones. file is the user configuration, if empty the OS default is used.
func defaultDataSources(file string, extraDefaults []byte) []interface{} {
	if file == "" {
		file = configFile(runtime.GOOS)
	}

	res := []interface{}{[]byte(defaultConfig)}
	if len(extraDefaults) > 0 {
		res = append(res, extraDefaults)
	}

	return append(res, []interface{}{
		file + ".template",
		file + ".distro",
		file,
	}...)
}

// Load loads default configuration and the configuration from file and its
// .template and .distro companions. Missing files are ignored.
func Load(file string, extraDefaults []byte) error {
	opts := ini.LoadOptions{
		Loose:       true,
		Insensitive: true,
	}

	sources := dataSources(file, extraDefaults)
	cfg, err := ini.LoadSources(opts, sources[0], sources[1:]...)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %+v", err)
	}

	sections := new(Sections)
	if err := cfg.MapTo(sections); err != nil {
		return fmt.Errorf("failed to map configuration to object: %+v", err)
	}

	if err := sections.validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	instance = sections
	return nil
}

func (s *Sections) validate() error {
	if s.Daemon.IntervalMS <= 0 {
		return fmt.Errorf("Daemon.interval_ms must be positive, got %d", s.Daemon.IntervalMS)
	}
	if s.Daemon.RulesFile == "" {
		return fmt.Errorf("Daemon.rules_file must be set")
	}
	if s.Daemon.Utility == "" {
		return fmt.Errorf("Daemon.utility must be set")
	}
	if s.Status.Enabled && s.Status.IntervalSeconds <= 0 {
		return fmt.Errorf("Status.interval_seconds must be positive, got %d", s.Status.IntervalSeconds)
	}
	if s.Command.PipePath == "" {
		return fmt.Errorf("Command.pipe_path must be set")
	}
	if _, err := s.Command.Mode(); err != nil {
		return err
	}
	if _, err := s.Command.Timeout(); err != nil {
		return err
	}
	return nil
}

// Get returns the configuration's instance previously loaded with Load().
func Get() *Sections {
	if instance == nil {
		panic("cfg package was not initialized, Load() " +
			"should be called in the early initialization code path")
	}
	return instance
}
