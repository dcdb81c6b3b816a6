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
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/GoogleCloudPlatform/guest-logging-go/logger"
	"github.com/kardianos/service"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var serviceActions = []string{"install", "uninstall", "start", "stop", "restart", "run"}

// program adapts the daemon to the service manager.
type program struct {
	run  func(context.Context) error
	exit func(code int)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Start launches the daemon in the background, a fatal daemon error
// terminates the process with a non zero status.
func (p *program) Start(service.Service) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		if err := p.run(ctx); err != nil {
			logger.Errorf("%s failed: %v", programName, err)
			p.exit(1)
		}
	}(p.done)
	return nil
}

// Stop cancels the daemon and waits for the current tick to complete.
func (p *program) Stop(service.Service) error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// serviceArguments forwards the flags the user set at install time to the
// installed service command line.
func serviceArguments(cmd *cobra.Command) []string {
	args := []string{"service", "run"}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		args = append(args, fmt.Sprintf("--%s=%s", f.Name, f.Value.String()))
	})
	return args
}

func newService(cmd *cobra.Command, prg service.Interface) (service.Service, error) {
	svcConfig := &service.Config{
		Name:        programName,
		DisplayName: programName,
		Description: "Applies scheduling policies to new processes matching the configured rules",
		Arguments:   serviceArguments(cmd),
	}
	return service.New(prg, svcConfig)
}

func newServiceCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:       "service <" + strings.Join(serviceActions, "|") + ">",
		Short:     "Manage " + programName + " as a system service",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: serviceActions,
		RunE: func(cmd *cobra.Command, args []string) error {
			action := args[0]

			if action != "run" {
				s, err := newService(cmd, &program{})
				if err != nil {
					return err
				}
				if err := service.Control(s, action); err != nil {
					return fmt.Errorf("failed to %s service: %w", action, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: service %s done\n", programName, action)
				return nil
			}

			st, err := setup(cmd, o)
			if err != nil {
				return err
			}

			prg := &program{
				run:  func(ctx context.Context) error { return runDaemon(ctx, st) },
				exit: os.Exit,
			}
			s, err := newService(cmd, prg)
			if err != nil {
				return err
			}
			return s.Run()
		},
	}
}
