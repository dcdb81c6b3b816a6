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
	"fmt"
	"text/tabwriter"

	"github.com/GoogleCloudPlatform/schedtoold/schedtoold/poller"
	"github.com/GoogleCloudPlatform/schedtoold/schedtoold/rules"
	"github.com/spf13/cobra"
)

func newCheckCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the rules file and print its rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := setup(cmd, o)
			if err != nil {
				return err
			}

			rs, err := rules.Load(s.rulesFile)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "#\tPATTERN\tARGS\n")
			for i, rule := range rs.Items {
				fmt.Fprintf(w, "%d\t%s\t%q\n", i, rule.Pattern, rule.Args())
			}
			if err := w.Flush(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rule(s), version %d\n", s.rulesFile, len(rs.Items), rs.Version)
			return nil
		},
	}
}

func newMatchCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "match",
		Short: "Print the live processes matching the rules without applying anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := setup(cmd, o)
			if err != nil {
				return err
			}

			rs, err := rules.Load(s.rulesFile)
			if err != nil {
				return err
			}

			p, err := poller.New(poller.Options{Rules: rs, Applier: poller.Invoker{Utility: s.utility}})
			if err != nil {
				return err
			}

			matches, err := p.Matches(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "PID\tEXE\tCMD\tPATTERN\tCOMMAND\n")
			for _, m := range matches {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s %q\n", m.Identity.Pid, m.Identity.Exe, m.Identity.CommandName,
					m.Rule.Pattern, s.utility, poller.Args(m.Identity.Pid, m.Rule.Flags))
			}
			return w.Flush()
		},
	}
}
