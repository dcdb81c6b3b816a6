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

package ps

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"strconv"

	"golang.org/x/sys/unix"
)

// LinuxClient is for enumerating processes on linux distributions.
type LinuxClient struct{}

const (
	// defaultLinuxProcDir is the default location of proc filesystem mount point in
	// a linux system.
	defaultLinuxProcDir = "/proc/"
)

var (
	// linuxProcDir is the location of proc filesystem mount point currently set up
	// in the current execution. Unit tests may want to adjust it in order to simulate
	// the target system.
	linuxProcDir = defaultLinuxProcDir
)

// init creates the Linux process client.
func init() {
	Client = &LinuxClient{}
}

// Pids lists the numeric entries of the proc filesystem. Entries that are not
// directories or don't parse as a pid are skipped, the listing races with
// process creation and destruction.
func (p LinuxClient) Pids(ctx context.Context) ([]int, error) {
	files, err := os.ReadDir(linuxProcDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read linux proc dir: %w", err)
	}

	var result []int
	for _, file := range files {
		if !file.IsDir() {
			continue
		}

		pid, err := strconv.ParseUint(file.Name(), 10, 32)
		if err != nil {
			continue
		}

		result = append(result, int(pid))
	}

	return result, nil
}

// Exe reads the process' exe link.
func (p LinuxClient) Exe(pid int) (string, error) {
	return os.Readlink(path.Join(linuxProcDir, strconv.Itoa(pid), "exe"))
}

// CommandName reads the process' cmdline file and returns everything up to the
// first NUL byte. Kernel threads and zombies have an empty cmdline.
func (p LinuxClient) CommandName(pid int) (string, error) {
	dat, err := os.ReadFile(path.Join(linuxProcDir, strconv.Itoa(pid), "cmdline"))
	if err != nil {
		return "", err
	}

	if idx := bytes.IndexByte(dat, 0); idx >= 0 {
		dat = dat[:idx]
	}
	return string(dat), nil
}

// SchedAttr queries the scheduling attributes currently applied to pid.
func SchedAttr(pid int) (*Sched, error) {
	attr, err := unix.SchedGetattr(pid, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to get scheduling attributes of pid %d: %w", pid, err)
	}

	return &Sched{
		Policy:   attr.Policy,
		Nice:     attr.Nice,
		Priority: attr.Priority,
	}, nil
}
