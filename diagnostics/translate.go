// Package diagnostics turns runner-reported failures into host errors
// anchored at the original source location, and renders them with the
// remote source in view.
package diagnostics

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"

	"github.com/acarl005/stripansi"
	"github.com/ethereum/go-ethereum/log"
)

// framePattern matches one stack frame of the form
//
//	at <context> (<file>:<line>:<col>)
//
// The first match in the stack is the innermost frame, the point where the
// assertion actually failed.
var framePattern = regexp.MustCompile(`(?m)at (\S+) \((.+):(\d+):(\d+)\)$`)

// RemoteFailure is a test failure whose stack resolved to a source location.
// The referenced file's content is registered with the source store at
// translation time, so renderers show the code the runner actually executed.
type RemoteFailure struct {
	Message    string
	Stack      string
	SourceFile string
	SourceLine int
}

func (e *RemoteFailure) Error() string {
	return fmt.Sprintf("%s (%s:%d)", e.Message, e.SourceFile, e.SourceLine)
}

// UnrecognizedFailure is a test failure whose stack did not match the frame
// pattern. It carries the raw message and nothing else.
type UnrecognizedFailure struct {
	Message string
}

func (e *UnrecognizedFailure) Error() string {
	return e.Message
}

// IsFailure reports whether err is a per-test failure rather than a
// session-fatal error. The run loop keeps going on failures and aborts on
// everything else.
func IsFailure(err error) bool {
	var remote *RemoteFailure
	var raw *UnrecognizedFailure
	return err != nil && (errors.As(err, &remote) || errors.As(err, &raw))
}

// Translator converts fail events into host errors.
type Translator struct {
	sources *SourceStore
	log     log.Logger
}

func NewTranslator(sources *SourceStore, logger log.Logger) *Translator {
	if logger == nil {
		logger = log.New()
	}
	return &Translator{sources: sources, log: logger}
}

// Translate builds the error a failing test item returns. Translation never
// fails itself: a stack with no recognizable frame, or a source file the
// host cannot read, degrades to the raw message.
func (t *Translator) Translate(message, stack string) error {
	m := framePattern.FindStringSubmatch(stripansi.Strip(stack))
	if m == nil {
		return &UnrecognizedFailure{Message: message}
	}

	file := m[2]
	line, err := strconv.Atoi(m[3])
	if err != nil {
		return &UnrecognizedFailure{Message: message}
	}

	src, err := os.ReadFile(file)
	if err != nil {
		t.log.Debug("Cannot read remote source, reporting raw failure", "file", file, "err", err)
		return &UnrecognizedFailure{Message: message}
	}
	t.sources.Register(file, string(src))

	return &RemoteFailure{
		Message:    message,
		Stack:      stack,
		SourceFile: file,
		SourceLine: line,
	}
}
