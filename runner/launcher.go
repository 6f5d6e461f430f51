package runner

import (
	"fmt"
	"strings"

	"github.com/alessio/shellescape"
)

// Default binaries used to launch the runner script.
const (
	DefaultTSNodeBin = "ts-node"
	DefaultNodeBin   = "node"
)

// LaunchSpec describes how to start the external Mocha runner.
type LaunchSpec struct {
	// Script is the runner entrypoint, a TypeScript file that performs
	// discovery and then executes tests as the host drives it.
	Script string

	// TSNodeBin and NodeBin override the binaries on PATH.
	TSNodeBin string
	NodeBin   string

	// Debug attaches a Node inspector on DebugPort. DebugSuspend makes the
	// runner wait for the debugger before executing anything, which is the
	// only way to break on code that runs during discovery.
	Debug        bool
	DebugPort    int
	DebugSuspend bool
}

// Argv builds the runner command line. The plain launch goes through
// ts-node; a debug launch goes through node itself so the inspector flag
// applies, with ts-node loaded as a require hook.
func (s LaunchSpec) Argv() []string {
	if !s.Debug {
		return []string{s.tsNodeBin(), s.Script}
	}
	flag := "inspect"
	if s.DebugSuspend {
		flag = "inspect-brk"
	}
	return []string{
		s.nodeBin(),
		fmt.Sprintf("--%s=%d", flag, s.DebugPort),
		"-r", "ts-node/register",
		s.Script,
	}
}

// String renders the command shell-quoted, for operator-facing logs.
func (s LaunchSpec) String() string {
	argv := s.Argv()
	quoted := make([]string, len(argv))
	for i, arg := range argv {
		quoted[i] = shellescape.Quote(arg)
	}
	return strings.Join(quoted, " ")
}

func (s LaunchSpec) tsNodeBin() string {
	if s.TSNodeBin != "" {
		return s.TSNodeBin
	}
	return DefaultTSNodeBin
}

func (s LaunchSpec) nodeBin() string {
	if s.NodeBin != "" {
		return s.NodeBin
	}
	return DefaultNodeBin
}
