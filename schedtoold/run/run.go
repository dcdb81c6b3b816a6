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

// Package run is a package with utilities for running external commands and
// handling their exit status.
package run

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/GoogleCloudPlatform/guest-logging-go/logger"
)

var (
	// Client is the Runner running commands.
	Client RunnerInterface
)

// Result wraps a failed command execution.
type Result struct {
	// Exit code. Set to -1 if we failed to run the command.
	ExitCode int
	// Err is the error returned when starting or waiting for the command.
	Err error
}

// RunnerInterface defines the runner running commands.
type RunnerInterface interface {
	// Quiet runs a command with its standard streams attached to the null
	// device, and returns an error in case it couldn't be started or exited
	// with a non zero status.
	Quiet(ctx context.Context, name string, args ...string) error
}

// init initializes the RunClient.
func init() {
	Client = Runner{}
}

// Error describes why the command failed.
func (e *Result) Error() string {
	if e.ExitCode == -1 {
		return fmt.Sprintf("failed to run command: %v", e.Err)
	}
	return fmt.Sprintf("command exited with status %d", e.ExitCode)
}

// Unwrap returns the underlying exec error.
func (e *Result) Unwrap() error {
	return e.Err
}

// Runner implements the RunnerInterface and represents the runner running commands.
type Runner struct{}

// Quiet runs a command and doesn't return a result, but an error in case of failure.
func (r Runner) Quiet(ctx context.Context, name string, args ...string) error {
	return execCommand(exec.CommandContext(ctx, name, args...))
}

// Quiet runs the current RunClient's Quiet() function.
func Quiet(ctx context.Context, name string, args ...string) error {
	return Client.Quiet(ctx, name, args...)
}

// IsNotStarted reports whether err describes a command that couldn't be
// executed at all, as opposed to one that exited with a failure status.
func IsNotStarted(err error) bool {
	var res *Result
	return errors.As(err, &res) && res.ExitCode == -1
}

func execCommand(cmd *exec.Cmd) error {
	logger.Debugf("exec: %v", cmd)

	// Nil streams are connected to the null device.
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	err := cmd.Run()
	if err == nil {
		return nil
	}

	if ee, ok := err.(*exec.ExitError); ok {
		return &Result{
			ExitCode: ee.ExitCode(),
			Err:      err,
		}
	}
	return &Result{
		ExitCode: -1,
		Err:      err,
	}
}
