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
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/GoogleCloudPlatform/guest-logging-go/logger"
	"github.com/GoogleCloudPlatform/schedtoold/schedtoold/command"
	"github.com/GoogleCloudPlatform/schedtoold/schedtoold/poller"
	"github.com/GoogleCloudPlatform/schedtoold/schedtoold/rules"
	"github.com/spf13/cobra"
)

const (
	statusCommand = "status"
	rulesCommand  = "rules"
)

type statusResponse struct {
	command.Response
	Version   string
	RulesFile string
	Interval  time.Duration
	Started   time.Time
	Counters  poller.Counters
}

type rulesResponse struct {
	command.Response
	Version int
	Items   []rules.Rule
}

// startControl serves status queries on the command socket until ctx is
// done. The daemon keeps running if the socket can't be set up.
func startControl(ctx context.Context, s *settings, rs *rules.RuleSet, stats *poller.Stats) *command.Server {
	srv := command.NewServer(command.Options{
		Pipe:    s.pipe,
		Mode:    s.pipeMode,
		Group:   s.pipeGroup,
		Timeout: s.requestTimeout,
	})

	started := time.Now()
	srv.RegisterHandler(statusCommand, func([]byte) ([]byte, error) {
		return json.Marshal(statusResponse{
			Version:   version,
			RulesFile: s.rulesFile,
			Interval:  s.interval,
			Started:   started,
			Counters:  stats.Counters(),
		})
	})
	srv.RegisterHandler(rulesCommand, func([]byte) ([]byte, error) {
		return json.Marshal(rulesResponse{Version: rs.Version, Items: rs.Items})
	})

	if err := srv.Start(ctx); err != nil {
		logger.Warningf("Status queries are disabled: %v", err)
		return nil
	}
	logger.Debugf("Listening for commands on %s", s.pipe)
	return srv
}

func newStatusCommand(o *options) *cobra.Command {
	var showRules bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query the running daemon for its counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := setup(cmd, o)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), s.requestTimeout)
			defer cancel()

			var status statusResponse
			if err := command.Call(ctx, s.pipe, statusCommand, &status); err != nil {
				return fmt.Errorf("failed to query %s on %s: %w", programName, s.pipe, err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "version\t%s\n", status.Version)
			fmt.Fprintf(w, "rules file\t%s\n", status.RulesFile)
			fmt.Fprintf(w, "interval\t%v\n", status.Interval)
			fmt.Fprintf(w, "uptime\t%v\n", time.Since(status.Started).Round(time.Second))
			c := status.Counters
			fmt.Fprintf(w, "ticks\t%d\n", c.Ticks)
			fmt.Fprintf(w, "tracked\t%d\n", c.Tracked)
			fmt.Fprintf(w, "evaluated\t%d\n", c.Evaluated)
			fmt.Fprintf(w, "matched\t%d\n", c.Matched)
			fmt.Fprintf(w, "applied\t%d\n", c.Applied)
			fmt.Fprintf(w, "failed\t%d\n", c.Failed)

			if showRules {
				var rs rulesResponse
				if err := command.Call(ctx, s.pipe, rulesCommand, &rs); err != nil {
					return fmt.Errorf("failed to query rules of %s: %w", programName, err)
				}
				for i, rule := range rs.Items {
					fmt.Fprintf(w, "rule %d\t%s %q\n", i, rule.Pattern, rule.Args())
				}
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&showRules, "rules", false, "also print the rules the daemon runs with")
	return cmd
}
