package harness

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
)

// RunLogger receives run progress. The run loop is single-goroutine, so
// implementations only need to be safe for sequential use; CapturingLogger
// locks anyway so tests can read while a run is in flight.
type RunLogger interface {
	RunStarted(total int)
	GroupStarted(file string)
	TestStarted(id TestID)
	TestPassed(id TestID, d time.Duration)
	TestFailed(id TestID, err error, d time.Duration)
	RunFinished(res *Results)
}

type nullRunLogger struct{}

func (nullRunLogger) RunStarted(int)                          {}
func (nullRunLogger) GroupStarted(string)                     {}
func (nullRunLogger) TestStarted(TestID)                      {}
func (nullRunLogger) TestPassed(TestID, time.Duration)        {}
func (nullRunLogger) TestFailed(TestID, error, time.Duration) {}
func (nullRunLogger) RunFinished(*Results)                    {}

// NullRunLogger discards everything.
func NullRunLogger() RunLogger {
	return nullRunLogger{}
}

var (
	passMark = color.New(color.FgGreen).Sprint("✓")
	failMark = color.New(color.FgRed).Sprint("✗")
	fileHead = color.New(color.Bold)
)

// ConsoleRunLogger prints mocha-style progress to a terminal.
type ConsoleRunLogger struct {
	out io.Writer
}

func NewConsoleRunLogger(out io.Writer) *ConsoleRunLogger {
	return &ConsoleRunLogger{out: out}
}

func (l *ConsoleRunLogger) RunStarted(total int) {
	fmt.Fprintf(l.out, "running %d tests\n", total)
}

func (l *ConsoleRunLogger) GroupStarted(file string) {
	fmt.Fprintf(l.out, "\n%s\n", fileHead.Sprint(file))
}

func (l *ConsoleRunLogger) TestStarted(TestID) {}

func (l *ConsoleRunLogger) TestPassed(id TestID, d time.Duration) {
	fmt.Fprintf(l.out, "  %s %s (%s)\n", passMark, id.Name(), d.Round(time.Millisecond))
}

func (l *ConsoleRunLogger) TestFailed(id TestID, err error, d time.Duration) {
	fmt.Fprintf(l.out, "  %s %s (%s)\n      %v\n", failMark, id.Name(), d.Round(time.Millisecond), err)
}

func (l *ConsoleRunLogger) RunFinished(res *Results) {
	fmt.Fprintf(l.out, "\n%d passed, %d failed, %d errored in %s\n",
		res.Passed, res.Failed, res.Errored, res.Duration.Round(time.Millisecond))
}

// CapturingLogger records progress as plain strings for assertions.
type CapturingLogger struct {
	mu     sync.Mutex
	events []string
}

func (l *CapturingLogger) record(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
}

func (l *CapturingLogger) RunStarted(total int)     { l.record("run started total=%d", total) }
func (l *CapturingLogger) GroupStarted(file string) { l.record("group %s", file) }
func (l *CapturingLogger) TestStarted(id TestID)    { l.record("start %s", id) }
func (l *CapturingLogger) TestPassed(id TestID, _ time.Duration) {
	l.record("pass %s", id)
}
func (l *CapturingLogger) TestFailed(id TestID, err error, _ time.Duration) {
	l.record("fail %s: %v", id, err)
}
func (l *CapturingLogger) RunFinished(res *Results) {
	l.record("run finished passed=%d failed=%d errored=%d", res.Passed, res.Failed, res.Errored)
}

// Events returns a copy of everything recorded so far.
func (l *CapturingLogger) Events() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	copy(out, l.events)
	return out
}
