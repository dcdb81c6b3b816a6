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
	"fmt"
	"sync/atomic"
)

// Stats counts what the polling loop did since it started. It is safe to read
// while the loop is running.
type Stats struct {
	// Ticks is the number of completed ticks.
	Ticks atomic.Uint64
	// Evaluated is the number of processes evaluated against the rules.
	Evaluated atomic.Uint64
	// Matched is the number of (process, rule) matches.
	Matched atomic.Uint64
	// Applied is the number of successful utility invocations.
	Applied atomic.Uint64
	// Failed is the number of failed utility invocations.
	Failed atomic.Uint64
	// Tracked is the size of the last process sample.
	Tracked atomic.Int64
}

func (s *Stats) String() string {
	return fmt.Sprintf("ticks=%d tracked=%d evaluated=%d matched=%d applied=%d failed=%d",
		s.Ticks.Load(), s.Tracked.Load(), s.Evaluated.Load(), s.Matched.Load(), s.Applied.Load(), s.Failed.Load())
}

// Counters is a point in time copy of Stats.
type Counters struct {
	Ticks     uint64
	Tracked   int64
	Evaluated uint64
	Matched   uint64
	Applied   uint64
	Failed    uint64
}

// Counters returns the current counter values.
func (s *Stats) Counters() Counters {
	return Counters{
		Ticks:     s.Ticks.Load(),
		Tracked:   s.Tracked.Load(),
		Evaluated: s.Evaluated.Load(),
		Matched:   s.Matched.Load(),
		Applied:   s.Applied.Load(),
		Failed:    s.Failed.Load(),
	}
}
