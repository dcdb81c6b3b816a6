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

// Package poller implements the process polling loop: it samples the process
// table, evaluates every newly seen process against the rules exactly once and
// applies the matching rules' flags.
package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/GoogleCloudPlatform/guest-logging-go/logger"
	"github.com/GoogleCloudPlatform/schedtoold/schedtoold/ps"
	"github.com/GoogleCloudPlatform/schedtoold/schedtoold/rules"
)

const (
	// DefaultInterval is the delay between two process table samples.
	DefaultInterval = 2000 * time.Millisecond
)

// Source gives access to the process table.
type Source interface {
	// Snapshot returns the set of live process ids.
	Snapshot(ctx context.Context) (ps.Set, error)
	// Resolve resolves a process' identity, best effort.
	Resolve(pid int) ps.Identity
}

// Applier applies a rule's flags to a process.
type Applier interface {
	Apply(ctx context.Context, pid int, flags string) error
}

// processTable is the Source backed by the ps package.
type processTable struct{}

// ProcessTable returns the Source reading the host's process table.
func ProcessTable() Source {
	return processTable{}
}

func (processTable) Snapshot(ctx context.Context) (ps.Set, error) {
	return ps.Snapshot(ctx)
}

func (processTable) Resolve(pid int) ps.Identity {
	return ps.Resolve(pid)
}

// Options configures a Poller.
type Options struct {
	// Rules is the rule set every new process is evaluated against.
	Rules *rules.RuleSet
	// Source is the process table, defaults to ProcessTable().
	Source Source
	// Applier applies matched rules, required.
	Applier Applier
	// Interval is the delay between two ticks, defaults to DefaultInterval.
	Interval time.Duration
	// Verbose logs every match before applying it.
	Verbose bool
	// Stats collects counters, optional.
	Stats *Stats
}

// Poller owns the polling loop.
type Poller struct {
	rules     *rules.RuleSet
	source    Source
	applier   Applier
	interval  time.Duration
	verbose   bool
	stats     *Stats
	schedAttr func(pid int) (*ps.Sched, error)
}

// Match is a rule matching a process.
type Match struct {
	Identity ps.Identity
	Rule     rules.Rule
}

// New allocates a Poller based on opts.
func New(opts Options) (*Poller, error) {
	if opts.Rules == nil {
		return nil, fmt.Errorf("rule set must be provided")
	}
	if opts.Applier == nil {
		return nil, fmt.Errorf("applier must be provided")
	}

	res := &Poller{
		rules:     opts.Rules,
		source:    opts.Source,
		applier:   opts.Applier,
		interval:  opts.Interval,
		verbose:   opts.Verbose,
		stats:     opts.Stats,
		schedAttr: ps.SchedAttr,
	}

	if res.source == nil {
		res.source = ProcessTable()
	}
	if res.interval <= 0 {
		res.interval = DefaultInterval
	}
	if res.stats == nil {
		res.stats = new(Stats)
	}
	return res, nil
}

// NewPids returns the pids of current which were not part of the previous
// sample.
func NewPids(previous, current ps.Set) []int {
	return current.Difference(previous)
}

// Tick runs a single polling iteration. processed is the previous sample, the
// returned set replaces it for the next tick. An enumeration failure is
// returned as is, processed is left untouched in that case.
func (p *Poller) Tick(ctx context.Context, processed ps.Set) (ps.Set, error) {
	current, err := p.source.Snapshot(ctx)
	if err != nil {
		return processed, fmt.Errorf("failed to enumerate processes: %w", err)
	}

	for _, pid := range NewPids(processed, current) {
		p.evaluate(ctx, p.source.Resolve(pid))
	}

	p.stats.Ticks.Add(1)
	p.stats.Tracked.Store(int64(len(current)))
	return current, nil
}

// evaluate applies every rule matching id.
func (p *Poller) evaluate(ctx context.Context, id ps.Identity) {
	p.stats.Evaluated.Add(1)

	for _, rule := range p.rules.Match(id.Exe, id.CommandName) {
		p.stats.Matched.Add(1)

		if p.verbose {
			logger.Infof("Matched %s, name = %q, flags = %q", id, rule.Pattern, rule.Flags)
		} else {
			logger.Debugf("Matched %s, name = %q, flags = %q", id, rule.Pattern, rule.Flags)
		}

		// A started utility always runs to completion.
		if err := p.applier.Apply(context.WithoutCancel(ctx), id.Pid, rule.Flags); err != nil {
			p.stats.Failed.Add(1)
			logger.Warningf("Failed to apply flags %q to pid %d: %v", rule.Flags, id.Pid, err)
			continue
		}
		p.stats.Applied.Add(1)

		if p.verbose {
			p.reportSched(id.Pid)
		}
	}
}

// reportSched logs the scheduling attributes pid ended up with.
func (p *Poller) reportSched(pid int) {
	sched, err := p.schedAttr(pid)
	if err != nil {
		logger.Debugf("Not reporting scheduling attributes: %v", err)
		return
	}
	logger.Infof("Pid %d is now running with %s", pid, sched)
}

// Run polls the process table until ctx is done. It only returns an error if
// the process table couldn't be enumerated.
func (p *Poller) Run(ctx context.Context) error {
	logger.Infof("Polling processes every %v against %d rule(s)", p.interval, len(p.rules.Items))

	processed := make(ps.Set)
	for {
		var err error
		if processed, err = p.Tick(ctx, processed); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			logger.Infof("Stopped polling processes: %v", ctx.Err())
			return nil
		case <-time.After(p.interval):
		}
	}
}

// Matches evaluates every live process against the rules without applying
// anything.
func (p *Poller) Matches(ctx context.Context) ([]Match, error) {
	current, err := p.source.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate processes: %w", err)
	}

	var res []Match
	for _, pid := range NewPids(nil, current) {
		id := p.source.Resolve(pid)
		for _, rule := range p.rules.Match(id.Exe, id.CommandName) {
			res = append(res, Match{Identity: id, Rule: rule})
		}
	}
	return res, nil
}
