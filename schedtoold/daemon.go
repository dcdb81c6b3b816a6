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

package main

import (
	"context"
	"time"

	"github.com/GoogleCloudPlatform/guest-logging-go/logger"
	"github.com/GoogleCloudPlatform/schedtoold/schedtoold/poller"
	"github.com/GoogleCloudPlatform/schedtoold/schedtoold/rules"
	"github.com/GoogleCloudPlatform/schedtoold/schedtoold/scheduler"
)

const statusJobID = "status"

// statusJob periodically logs the polling loop counters.
type statusJob struct {
	stats    *poller.Stats
	enabled  bool
	interval time.Duration
}

func (j *statusJob) ID() string {
	return statusJobID
}

func (j *statusJob) Interval() (time.Duration, bool) {
	return j.interval, false
}

func (j *statusJob) ShouldEnable(context.Context) bool {
	return j.enabled
}

func (j *statusJob) Run(context.Context) (bool, error) {
	logger.Infof("Status: %s", j.stats)
	return true, nil
}

// runDaemon loads the rules and polls until ctx is done. Any returned error
// is fatal.
func runDaemon(ctx context.Context, s *settings) error {
	rs, err := rules.Load(s.rulesFile)
	if err != nil {
		return err
	}

	stats := new(poller.Stats)
	p, err := poller.New(poller.Options{
		Rules:    rs,
		Applier:  poller.Invoker{Utility: s.utility},
		Interval: s.interval,
		Verbose:  s.verbose,
		Stats:    stats,
	})
	if err != nil {
		return err
	}

	logger.Infof("%s started (version %s), rules loaded from %s", programName, version, s.rulesFile)

	sched := scheduler.New()
	sched.Start()
	defer sched.Stop()

	job := &statusJob{stats: stats, enabled: s.statusEnabled, interval: s.statusInterval}
	if job.enabled {
		if err := sched.Schedule(ctx, job); err != nil {
			logger.Warningf("Failed to schedule status report: %v", err)
		}
	}

	if s.controlEnabled {
		if srv := startControl(ctx, s, rs, stats); srv != nil {
			defer srv.Close()
		}
	}

	err = p.Run(ctx)
	logger.Infof("%s stopped, %s", programName, stats)
	return err
}
