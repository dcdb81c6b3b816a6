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

//go:build !linux
// +build !linux

package ps

import (
	"context"
	"errors"
	"fmt"

	"github.com/shirou/gopsutil/v3/process"
)

// ErrUnsupported is returned for queries the platform can't answer.
var ErrUnsupported = errors.New("not supported on this platform")

// PortableClient enumerates processes through the platform's native process
// API, for hosts without a proc filesystem.
type PortableClient struct{}

// init creates the portable process client.
func init() {
	Client = &PortableClient{}
}

// Pids lists the process ids known to the OS.
func (p PortableClient) Pids(ctx context.Context) ([]int, error) {
	pids, err := process.PidsWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	result := make([]int, 0, len(pids))
	for _, pid := range pids {
		if pid < 0 {
			continue
		}
		result = append(result, int(pid))
	}
	return result, nil
}

// Exe returns the process' executable path.
func (p PortableClient) Exe(pid int) (string, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return "", err
	}
	return proc.Exe()
}

// CommandName returns the process' zeroth argument.
func (p PortableClient) CommandName(pid int) (string, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return "", err
	}

	args, err := proc.CmdlineSlice()
	if err != nil {
		return "", err
	}

	if len(args) == 0 {
		return "", nil
	}
	return args[0], nil
}

// SchedAttr is only implemented on linux.
func SchedAttr(pid int) (*Sched, error) {
	return nil, fmt.Errorf("failed to get scheduling attributes of pid %d: %w", pid, ErrUnsupported)
}
