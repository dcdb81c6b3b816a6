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

// Package scheduler runs periodic background jobs next to the polling loop.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/GoogleCloudPlatform/guest-logging-go/logger"
	"github.com/robfig/cron/v3"
)

// Job defines the interface between the scheduler and the actual job.
type Job interface {
	// ID returns the job id.
	ID() string
	// Interval returns the interval at which job should be rescheduled and
	// a bool determining if job should be scheduled starting now.
	// If false, first run will be at time now+interval.
	Interval() (time.Duration, bool)
	// ShouldEnable specifies if the job should be enabled for scheduling.
	ShouldEnable(context.Context) bool
	// Run triggers the job for single execution. It returns error if any
	// and a bool stating if scheduler should continue or stop scheduling.
	Run(context.Context) (bool, error)
}

// Scheduler keeps track of the scheduled jobs.
type Scheduler struct {
	cron *cron.Cron
	mu   sync.Mutex
	jobs map[string]cron.EntryID
}

// cronLogger routes cron's own messages to the daemon logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Debugf("cron: %s %v", msg, keysAndValues)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Errorf("cron: %s %v: %v", msg, keysAndValues, err)
}

// New returns a stopped scheduler.
func New() *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithLogger(cronLogger{}), cron.WithChain(cron.SkipIfStillRunning(cronLogger{}))),
		jobs: make(map[string]cron.EntryID),
	}
}

// wrap generates the function run by cron for job.
func (s *Scheduler) wrap(ctx context.Context, job Job) func() {
	return func() {
		if ctx.Err() != nil {
			return
		}
		schedule, err := job.Run(ctx)
		if !schedule {
			s.Unschedule(job.ID())
		}
		if err != nil {
			logger.Errorf("Failed to execute job %s: %v", job.ID(), err)
		}
	}
}

// Schedule adds job to run at its interval. Scheduling a job id twice is a
// no-op.
func (s *Scheduler) Schedule(ctx context.Context, job Job) error {
	if !job.ShouldEnable(ctx) {
		return fmt.Errorf("ShouldEnable() returned false, cannot schedule job %s", job.ID())
	}

	interval, startNow := job.Interval()
	if interval < time.Second {
		return fmt.Errorf("unable to schedule %q: interval %v is below one second", job.ID(), interval)
	}

	s.mu.Lock()
	if _, found := s.jobs[job.ID()]; found {
		s.mu.Unlock()
		logger.Debugf("Skipping, job %q is already scheduled", job.ID())
		return nil
	}

	f := s.wrap(ctx, job)
	entry, err := s.cron.AddFunc(fmt.Sprintf("@every %ds", int(interval.Seconds())), f)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("unable to schedule %q: %w", job.ID(), err)
	}
	s.jobs[job.ID()] = entry
	s.mu.Unlock()

	logger.Debugf("Scheduled job %q every %v", job.ID(), interval)

	if startNow {
		go f()
	}
	return nil
}

// Unschedule removes the job from schedule.
func (s *Scheduler) Unschedule(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, found := s.jobs[jobID]
	if found {
		logger.Debugf("Unscheduling job %q", jobID)
		s.cron.Remove(entry)
		delete(s.jobs, jobID)
	}
}

// Scheduled reports whether jobID is currently scheduled.
func (s *Scheduler) Scheduled(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, found := s.jobs[jobID]
	return found
}

// Start begins executing each job at its interval.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling jobs and waits for the running ones to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
