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

package poller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/GoogleCloudPlatform/schedtoold/schedtoold/ps"
	"github.com/GoogleCloudPlatform/schedtoold/schedtoold/rules"
	"github.com/google/go-cmp/cmp"
)

// fakeSource replays a sequence of snapshots.
type fakeSource struct {
	snapshots  []ps.Set
	identities map[int]ps.Identity
	// failAt makes the snapshot with this index fail, -1 disables it.
	failAt int
	// onExhausted is called when all snapshots were replayed.
	onExhausted func()

	calls    int
	resolved []int
}

func (f *fakeSource) Snapshot(context.Context) (ps.Set, error) {
	idx := f.calls
	f.calls++
	if idx == f.failAt {
		return nil, errors.New("proc is unreadable")
	}
	if idx >= len(f.snapshots) {
		if f.onExhausted != nil {
			f.onExhausted()
		}
		return f.snapshots[len(f.snapshots)-1], nil
	}
	return f.snapshots[idx], nil
}

func (f *fakeSource) Resolve(pid int) ps.Identity {
	f.resolved = append(f.resolved, pid)
	id, found := f.identities[pid]
	if !found {
		return ps.Identity{Pid: pid, ExeErr: errors.New("gone"), CommandNameErr: errors.New("gone")}
	}
	id.Pid = pid
	return id
}

// invocation is a recorded Apply call.
type invocation struct {
	Pid   int
	Flags string
}

// fakeApplier records calls and fails for the configured flags.
type fakeApplier struct {
	calls     []invocation
	failFlags map[string]bool
}

func (f *fakeApplier) Apply(_ context.Context, pid int, flags string) error {
	f.calls = append(f.calls, invocation{pid, flags})
	if f.failFlags[flags] {
		return errors.New("utility not found")
	}
	return nil
}

func testRules() *rules.RuleSet {
	return &rules.RuleSet{
		Version: rules.SupportedVersion,
		Items: []rules.Rule{
			{Pattern: "nginx", Flags: "-B -p 5"},
			{Pattern: "worker", Flags: "-B -p 3"},
		},
	}
}

func newTestPoller(t *testing.T, src Source, applier Applier, rs *rules.RuleSet) *Poller {
	t.Helper()
	p, err := New(Options{
		Rules:    rs,
		Source:   src,
		Applier:  applier,
		Interval: time.Millisecond,
		Verbose:  true,
	})
	if err != nil {
		t.Fatalf("New() failed with error: %v", err)
	}
	p.schedAttr = func(pid int) (*ps.Sched, error) { return &ps.Sched{Policy: 3}, nil }
	return p
}

func TestNewValidatesOptions(t *testing.T) {
	if _, err := New(Options{Applier: &fakeApplier{}}); err == nil {
		t.Errorf("New() without rules succeeded, expected error")
	}
	if _, err := New(Options{Rules: testRules()}); err == nil {
		t.Errorf("New() without applier succeeded, expected error")
	}

	p, err := New(Options{Rules: testRules(), Applier: &fakeApplier{}})
	if err != nil {
		t.Fatalf("New() failed with error: %v", err)
	}
	if p.interval != DefaultInterval {
		t.Errorf("New() interval = %v, want %v", p.interval, DefaultInterval)
	}
	if p.source == nil || p.stats == nil {
		t.Errorf("New() didn't set default source and stats")
	}
}

func TestNewPids(t *testing.T) {
	if diff := cmp.Diff([]int{1, 2}, NewPids(nil, ps.NewSet(2, 1))); diff != "" {
		t.Errorf("NewPids() on first tick returned unexpected pids (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{4}, NewPids(ps.NewSet(1, 2, 3), ps.NewSet(2, 3, 4))); diff != "" {
		t.Errorf("NewPids() returned unexpected pids (-want +got):\n%s", diff)
	}
}

// TestTickEvaluatesDelta checks that the pids evaluated at tick n are exactly
// snapshot(n) - snapshot(n-1).
func TestTickEvaluatesDelta(t *testing.T) {
	snapshots := []ps.Set{
		ps.NewSet(10, 11, 12),
		ps.NewSet(10, 11, 12, 13),
		ps.NewSet(11, 13),
		// 10 is back, e.g. the pid was recycled.
		ps.NewSet(10, 11, 13, 14),
		ps.NewSet(10, 11, 13, 14),
	}
	wantEvaluated := [][]int{
		{10, 11, 12},
		{13},
		nil,
		{10, 14},
		nil,
	}

	src := &fakeSource{snapshots: snapshots, failAt: -1}
	p := newTestPoller(t, src, &fakeApplier{}, testRules())

	processed := make(ps.Set)
	for i := range snapshots {
		src.resolved = nil

		var err error
		processed, err = p.Tick(context.Background(), processed)
		if err != nil {
			t.Fatalf("Tick(%d) failed with error: %v", i, err)
		}

		if diff := cmp.Diff(wantEvaluated[i], src.resolved); diff != "" {
			t.Errorf("Tick(%d) evaluated unexpected pids (-want +got):\n%s", i, diff)
		}
		if diff := cmp.Diff(snapshots[i], processed); diff != "" {
			t.Errorf("Tick(%d) didn't replace the processed set (-want +got):\n%s", i, diff)
		}
	}

	if got := p.stats.Ticks.Load(); got != uint64(len(snapshots)) {
		t.Errorf("Stats.Ticks = %d, want %d", got, len(snapshots))
	}
	if got := p.stats.Evaluated.Load(); got != 6 {
		t.Errorf("Stats.Evaluated = %d, want 6", got)
	}
}

func TestTickAppliesMatchingRules(t *testing.T) {
	tests := []struct {
		name     string
		identity ps.Identity
		want     []invocation
	}{
		{
			name:     "exe-match",
			identity: ps.Identity{Exe: "/usr/sbin/nginx", CommandName: "nginx"},
			want:     []invocation{{100, "-B -p 5"}},
		},
		{
			name:     "cmdline-match",
			identity: ps.Identity{Exe: "/usr/bin/worker-main", CommandName: "worker"},
			want:     []invocation{{100, "-B -p 3"}},
		},
		{
			name:     "exe-unreadable",
			identity: ps.Identity{ExeErr: errors.New("permission denied"), CommandName: "/opt/bin/worker"},
			want:     []invocation{{100, "-B -p 3"}},
		},
		{
			name:     "both-rules",
			identity: ps.Identity{Exe: "/usr/sbin/nginx", CommandName: "worker"},
			want:     []invocation{{100, "-B -p 5"}, {100, "-B -p 3"}},
		},
		{
			name:     "no-match",
			identity: ps.Identity{Exe: "/usr/bin/bash", CommandName: "-bash"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			src := &fakeSource{
				snapshots:  []ps.Set{ps.NewSet(100)},
				identities: map[int]ps.Identity{100: tc.identity},
				failAt:     -1,
			}
			applier := &fakeApplier{}
			p := newTestPoller(t, src, applier, testRules())

			if _, err := p.Tick(context.Background(), nil); err != nil {
				t.Fatalf("Tick() failed with error: %v", err)
			}

			if diff := cmp.Diff(tc.want, applier.calls); diff != "" {
				t.Errorf("Tick() made unexpected invocations (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTickContinuesAfterFailedInvocation(t *testing.T) {
	rs := &rules.RuleSet{
		Version: rules.SupportedVersion,
		Items: []rules.Rule{
			{Pattern: "app", Flags: "-missing"},
			{Pattern: "app", Flags: "-B"},
		},
	}
	src := &fakeSource{
		snapshots: []ps.Set{ps.NewSet(1000, 1001)},
		identities: map[int]ps.Identity{
			1000: {Exe: "/usr/bin/app"},
			1001: {CommandName: "app"},
		},
		failAt: -1,
	}
	applier := &fakeApplier{failFlags: map[string]bool{"-missing": true}}
	p := newTestPoller(t, src, applier, rs)

	if _, err := p.Tick(context.Background(), nil); err != nil {
		t.Fatalf("Tick() failed with error: %v", err)
	}

	want := []invocation{{1000, "-missing"}, {1000, "-B"}, {1001, "-missing"}, {1001, "-B"}}
	if diff := cmp.Diff(want, applier.calls); diff != "" {
		t.Errorf("Tick() made unexpected invocations (-want +got):\n%s", diff)
	}
	if got := p.stats.Failed.Load(); got != 2 {
		t.Errorf("Stats.Failed = %d, want 2", got)
	}
	if got := p.stats.Applied.Load(); got != 2 {
		t.Errorf("Stats.Applied = %d, want 2", got)
	}
}

func TestTickSnapshotFailure(t *testing.T) {
	src := &fakeSource{snapshots: []ps.Set{ps.NewSet(1)}, failAt: 0}
	applier := &fakeApplier{}
	p := newTestPoller(t, src, applier, testRules())

	processed := ps.NewSet(7)
	got, err := p.Tick(context.Background(), processed)
	if err == nil {
		t.Fatalf("Tick() succeeded, expected error")
	}
	if diff := cmp.Diff(processed, got); diff != "" {
		t.Errorf("Tick() changed the processed set on failure (-want +got):\n%s", diff)
	}
	if len(applier.calls) != 0 {
		t.Errorf("Tick() invoked the utility on failure: %+v", applier.calls)
	}
}

func TestRunStopsOnSnapshotFailure(t *testing.T) {
	src := &fakeSource{
		snapshots:  []ps.Set{ps.NewSet(100), ps.NewSet(100, 101)},
		identities: map[int]ps.Identity{100: {Exe: "/usr/sbin/nginx"}, 101: {Exe: "/usr/sbin/nginx"}},
		failAt:     2,
	}
	applier := &fakeApplier{}
	p := newTestPoller(t, src, applier, testRules())

	err := p.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "proc is unreadable") {
		t.Fatalf("Run() returned %v, expected the enumeration error", err)
	}

	want := []invocation{{100, "-B -p 5"}, {101, "-B -p 5"}}
	if diff := cmp.Diff(want, applier.calls); diff != "" {
		t.Errorf("Run() made unexpected invocations (-want +got):\n%s", diff)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &fakeSource{
		snapshots:   []ps.Set{ps.NewSet(100), ps.NewSet(100)},
		identities:  map[int]ps.Identity{100: {Exe: "/usr/sbin/nginx"}},
		failAt:      -1,
		onExhausted: cancel,
	}
	applier := &fakeApplier{}
	p := newTestPoller(t, src, applier, testRules())

	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run() returned error: %v, expected nil on cancellation", err)
	}

	// The process stayed alive across ticks, it must be handled once.
	if diff := cmp.Diff([]invocation{{100, "-B -p 5"}}, applier.calls); diff != "" {
		t.Errorf("Run() made unexpected invocations (-want +got):\n%s", diff)
	}
}

func TestMatches(t *testing.T) {
	src := &fakeSource{
		snapshots: []ps.Set{ps.NewSet(3, 2, 1)},
		identities: map[int]ps.Identity{
			1: {Exe: "/usr/sbin/nginx"},
			2: {Exe: "/usr/bin/bash"},
			3: {Exe: "/usr/sbin/nginx", CommandName: "worker"},
		},
		failAt: -1,
	}
	applier := &fakeApplier{}
	p := newTestPoller(t, src, applier, testRules())

	got, err := p.Matches(context.Background())
	if err != nil {
		t.Fatalf("Matches() failed with error: %v", err)
	}

	var summary []string
	for _, m := range got {
		summary = append(summary, fmt.Sprintf("%d:%s", m.Identity.Pid, m.Rule.Pattern))
	}
	if diff := cmp.Diff([]string{"1:nginx", "3:nginx", "3:worker"}, summary); diff != "" {
		t.Errorf("Matches() returned unexpected matches (-want +got):\n%s", diff)
	}
	if len(applier.calls) != 0 {
		t.Errorf("Matches() invoked the utility: %+v", applier.calls)
	}
}

func TestStatsString(t *testing.T) {
	s := new(Stats)
	s.Ticks.Add(3)
	s.Tracked.Store(120)
	s.Applied.Add(2)

	want := "ticks=3 tracked=120 evaluated=0 matched=0 applied=2 failed=0"
	if got := s.String(); got != want {
		t.Errorf("Stats.String() = %q, want %q", got, want)
	}

	if diff := cmp.Diff(Counters{Ticks: 3, Tracked: 120, Applied: 2}, s.Counters()); diff != "" {
		t.Errorf("Stats.Counters() returned unexpected counters (-want +got):\n%s", diff)
	}
}
