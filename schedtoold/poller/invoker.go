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
	"strconv"

	"github.com/GoogleCloudPlatform/schedtoold/schedtoold/rules"
	"github.com/GoogleCloudPlatform/schedtoold/schedtoold/run"
)

// DefaultUtility is the scheduling utility invoked for matched processes.
const DefaultUtility = "schedtool"

// Invoker is the Applier running the external scheduling utility.
type Invoker struct {
	// Utility is the name or path of the scheduling utility.
	Utility string
}

// Args builds the utility's argument list: the flags split on whitespace
// followed by the decimal pid.
func Args(pid int, flags string) []string {
	return append(rules.Rule{Flags: flags}.Args(), strconv.Itoa(pid))
}

// Apply runs the utility against pid, its output is discarded.
func (i Invoker) Apply(ctx context.Context, pid int, flags string) error {
	utility := i.Utility
	if utility == "" {
		utility = DefaultUtility
	}
	return run.Quiet(ctx, utility, Args(pid, flags)...)
}
