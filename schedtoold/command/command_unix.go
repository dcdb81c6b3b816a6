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

//go:build unix

package command

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/user"
	"path"
	"runtime"
	"strconv"

	"golang.org/x/sys/unix"
)

// lookupGid resolves grp, either a numeric gid or a group name.
func lookupGid(grp string) (int, error) {
	if gid, err := strconv.Atoi(grp); err == nil {
		return gid, nil
	}
	group, err := user.LookupGroup(grp)
	if err != nil {
		return -1, err
	}
	return strconv.Atoi(group.Gid)
}

func listen(ctx context.Context, pipe string, mode os.FileMode, grp string) (net.Listener, error) {
	gid := -1
	if grp != "" {
		var err error
		if gid, err = lookupGid(grp); err != nil {
			return nil, fmt.Errorf("pipe group %q is not a gid nor a valid group: %w", grp, err)
		}
	}

	if err := os.MkdirAll(path.Dir(pipe), 0755); err != nil {
		return nil, err
	}

	// A stale socket of a previous run makes listen fail.
	if err := os.Remove(pipe); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	// Lock OS thread while mutating umask so we don't lose a thread with a
	// mutated mask.
	runtime.LockOSThread()
	oldmask := unix.Umask(int(0777 &^ mode.Perm()))
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "unix", pipe)
	unix.Umask(oldmask)
	runtime.UnlockOSThread()
	if err != nil {
		return nil, err
	}

	if gid != -1 {
		if err := os.Chown(pipe, -1, gid); err != nil {
			l.Close()
			return nil, err
		}
	}
	return l, nil
}

func dialPipe(ctx context.Context, pipe string) (net.Conn, error) {
	var dialer net.Dialer
	return dialer.DialContext(ctx, "unix", pipe)
}
