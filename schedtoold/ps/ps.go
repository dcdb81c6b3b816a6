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

// Package ps enumerates live processes and resolves their identity without
// using the ps CLI tool.
package ps

import (
	"context"
	"fmt"
	"os"
	"sort"
)

const (
	// initPid is the host's root process, it is never reported by Snapshot.
	initPid = 1
)

// Client for enumerating processes.
var Client ProcessInterface

// ProcessInterface is the minimum required process table access.
type ProcessInterface interface {
	// Pids lists every process id currently enumerable on the host. It fails
	// only if the enumeration itself can't be performed.
	Pids(ctx context.Context) ([]int, error)

	// Exe resolves the path of the process' executable image.
	Exe(pid int) (string, error)

	// CommandName resolves the process' zeroth argument, the program name as
	// it was invoked.
	CommandName(pid int) (string, error)
}

// Set is a set of process ids.
type Set map[int]struct{}

// NewSet builds a set containing pids.
func NewSet(pids ...int) Set {
	res := make(Set, len(pids))
	for _, pid := range pids {
		res[pid] = struct{}{}
	}
	return res
}

// Contains reports whether pid is a member of s.
func (s Set) Contains(pid int) bool {
	_, found := s[pid]
	return found
}

// Difference returns the members of s that are not in other, sorted in
// ascending order.
func (s Set) Difference(other Set) []int {
	var res []int
	for pid := range s {
		if !other.Contains(pid) {
			res = append(res, pid)
		}
	}
	sort.Ints(res)
	return res
}

// Identity describes what a process was resolved to at lookup time. Each
// lookup is independent: a failed one leaves its string empty and records the
// error, the other one may still have succeeded.
type Identity struct {
	// Pid is the process id the identity was resolved for.
	Pid int

	// Exe is the path of the process' executable file.
	Exe string

	// ExeErr is set if the executable path couldn't be resolved.
	ExeErr error

	// CommandName is the zeroth command line argument.
	CommandName string

	// CommandNameErr is set if the command line couldn't be read.
	CommandNameErr error
}

func (id Identity) String() string {
	return fmt.Sprintf("pid = %d, exe = %q, cmdline = %q", id.Pid, id.Exe, id.CommandName)
}

// Snapshot returns the set of all live process ids, excluding the current
// process and the init process.
func Snapshot(ctx context.Context) (Set, error) {
	pids, err := Client.Pids(ctx)
	if err != nil {
		return nil, err
	}

	self := os.Getpid()
	res := make(Set, len(pids))
	for _, pid := range pids {
		if pid == initPid || pid == self {
			continue
		}
		res[pid] = struct{}{}
	}
	return res, nil
}

// Resolve resolves the identity of pid. It never fails as a whole, the
// process may have exited since it was enumerated.
func Resolve(pid int) Identity {
	id := Identity{Pid: pid}
	id.Exe, id.ExeErr = Client.Exe(pid)
	if id.ExeErr != nil {
		id.Exe = ""
	}
	id.CommandName, id.CommandNameErr = Client.CommandName(pid)
	if id.CommandNameErr != nil {
		id.CommandName = ""
	}
	return id
}

// Sched describes the scheduling attributes of a process.
type Sched struct {
	Policy   uint32
	Nice     int32
	Priority uint32
}

// policyNames maps the kernel's scheduling policy ids to their names.
var policyNames = map[uint32]string{
	0: "SCHED_NORMAL",
	1: "SCHED_FIFO",
	2: "SCHED_RR",
	3: "SCHED_BATCH",
	4: "SCHED_ISO",
	5: "SCHED_IDLE",
	6: "SCHED_DEADLINE",
}

func (s Sched) String() string {
	name, found := policyNames[s.Policy]
	if !found {
		name = fmt.Sprintf("policy(%d)", s.Policy)
	}
	return fmt.Sprintf("%s nice=%d prio=%d", name, s.Nice, s.Priority)
}
