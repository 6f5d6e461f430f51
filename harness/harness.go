// Package harness holds the host-side test model. Items are built from the
// runner's discovery report, never from scanning source files: the runner is
// the only authority on what tests exist.
package harness

import (
	"context"
	"strings"
	"time"
)

// Separator joins suite names into a test's display name.
const Separator = "::"

// Status represents the possible outcomes of a test execution
type Status string

const (
	StatusPass Status = "pass"
	StatusFail Status = "fail"
	// StatusError marks a test whose exchange broke the protocol. It ends
	// the whole session, not just the test.
	StatusError Status = "error"
)

// TestID identifies one remote test: the spec file that declares it and the
// chain of suite names leading to it, outermost first.
type TestID struct {
	File    string
	Parents []string
}

// Name returns the display name, suite names joined by Separator.
func (id TestID) Name() string {
	return strings.Join(id.Parents, Separator)
}

func (id TestID) String() string {
	if len(id.Parents) == 0 {
		return id.File
	}
	return id.File + " " + id.Name()
}

// Item is one runnable test injected into the host's collection. Run drives
// the item's whole protocol exchange and returns nil on pass, a translated
// failure on fail, or the underlying protocol error when the exchange broke.
type Item struct {
	ID  TestID
	Run func(ctx context.Context) error
}

// Group collects the items declared by a single spec file, in the order the
// runner reported them.
type Group struct {
	File  string
	Items []Item
}

// Result captures the outcome of a single executed item.
type Result struct {
	ID       TestID
	Status   Status
	Error    error
	Duration time.Duration
}

// Results aggregates a whole run.
type Results struct {
	Results  []Result
	Passed   int
	Failed   int
	Errored  int
	Duration time.Duration
}

// Record appends one result and updates the counters.
func (r *Results) Record(res Result) {
	r.Results = append(r.Results, res)
	r.Duration += res.Duration
	switch res.Status {
	case StatusPass:
		r.Passed++
	case StatusFail:
		r.Failed++
	case StatusError:
		r.Errored++
	}
}

// Total returns the number of recorded results.
func (r *Results) Total() int {
	return len(r.Results)
}

// Overall reduces the run to a single status. Any protocol error dominates,
// then any test failure.
func (r *Results) Overall() Status {
	switch {
	case r.Errored > 0:
		return StatusError
	case r.Failed > 0:
		return StatusFail
	default:
		return StatusPass
	}
}
