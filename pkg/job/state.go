/*
Copyright 2026 The DocFusion Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package job

import "fmt"

// State is a Job's position in the lifecycle state machine (spec.md §3, §4.8).
type State string

const (
	StatePending     State = "PENDING"
	StateAnalyzing   State = "ANALYZING"
	StateExtracting  State = "EXTRACTING"
	StateComparing   State = "COMPARING"
	StateNeedsReview State = "NEEDS_REVIEW"
	StateArbitrated  State = "ARBITRATED"
	StateCompleted   State = "COMPLETED"
	StateFailed      State = "FAILED"
	StateTimeout     State = "TIMEOUT"
)

// allStates is the complete, closed set of valid states.
var allStates = map[State]bool{
	StatePending:     true,
	StateAnalyzing:   true,
	StateExtracting:  true,
	StateComparing:   true,
	StateNeedsReview: true,
	StateArbitrated:  true,
	StateCompleted:   true,
	StateFailed:      true,
	StateTimeout:     true,
}

// terminalStates holds the states a job never leaves. ARBITRATED is
// deliberately absent: the glossary calls it "transiently" terminal —
// it always progresses to COMPLETED and is never a resting state.
var terminalStates = map[State]bool{
	StateCompleted: true,
	StateFailed:    true,
	StateTimeout:   true,
}

// IsTerminal reports whether s is a terminal state, one a job can no
// longer leave.
func IsTerminal(s State) bool {
	return terminalStates[s]
}

// transitions enumerates every legal (from, to) edge of the state
// machine in spec.md §4.8's transition table. A job in a terminal state
// has no outgoing edges (enforced separately in CanTransition so the
// table itself only needs to describe non-terminal reachability).
var transitions = map[State]map[State]bool{
	StatePending: {
		StateAnalyzing: true,
		StateFailed:    true,
		StateTimeout:   true,
	},
	StateAnalyzing: {
		StateExtracting: true,
		StateFailed:     true,
		StateTimeout:    true,
	},
	StateExtracting: {
		StateCompleted: true,
		StateComparing: true,
		StateFailed:    true,
		StateTimeout:   true,
	},
	StateComparing: {
		StateCompleted:   true,
		StateNeedsReview: true,
		StateFailed:      true,
		StateTimeout:     true,
	},
	StateNeedsReview: {
		StateArbitrated: true,
		StateFailed:     true,
		StateTimeout:    true,
	},
	StateArbitrated: {
		StateCompleted: true,
		StateFailed:    true,
		StateTimeout:   true,
	},
}

// CanTransition reports whether a job may move from `from` to `to`.
// Terminal states accept no transition at all, including to themselves.
func CanTransition(from, to State) bool {
	if IsTerminal(from) {
		return false
	}
	edges, ok := transitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// Validate reports an error if s is not one of the nine known states.
func Validate(s State) error {
	if !allStates[s] {
		return fmt.Errorf("invalid job state: %q", s)
	}
	return nil
}

// progressFor is the fixed progress waypoint for a state, per spec.md
// §4.8's progress policy. Extractor sub-progress is never surfaced.
func progressFor(s State) int {
	switch s {
	case StatePending:
		return 0
	case StateAnalyzing:
		return 5
	case StateExtracting:
		return 25
	case StateComparing:
		return 75
	case StateNeedsReview:
		return 80
	case StateCompleted, StateFailed, StateTimeout:
		return 100
	case StateArbitrated:
		return 90
	default:
		return 0
	}
}

// ProgressFor exposes progressFor for callers outside the package
// (JobTracker enforces the monotonic-progress invariant using it).
func ProgressFor(s State) int {
	return progressFor(s)
}
