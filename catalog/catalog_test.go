package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/channelkit/mocha-bridge/diagnostics"
	"github.com/channelkit/mocha-bridge/protocol"
)

// scriptedExchange plays the runner side of one or more exchanges: Expect
// pops the next scripted event, Write records the command. Order of calls is
// captured so tests can assert the exact four-step sequence.
type scriptedExchange struct {
	events []protocol.Event
	calls  []string
	writes []protocol.Event
}

func (s *scriptedExchange) Write(ev protocol.Event) error {
	s.calls = append(s.calls, "write:"+ev.Type)
	s.writes = append(s.writes, ev)
	return nil
}

func (s *scriptedExchange) Expect(types ...string) (protocol.Event, error) {
	if len(s.events) == 0 {
		return protocol.Event{}, fmt.Errorf("script exhausted, expected %v", types)
	}
	ev := s.events[0]
	s.events = s.events[1:]
	s.calls = append(s.calls, "expect:"+ev.Type)
	for _, t := range types {
		if t == ev.Type {
			return ev, nil
		}
	}
	return protocol.Event{}, &protocol.ViolationError{Expected: types, Actual: ev.Type}
}

type staticAddress struct{}

func (staticAddress) BaseURL() string { return "http://localhost:43211" }
func (staticAddress) WSURL() string   { return "ws://localhost:43211" }

func newTranslator(t *testing.T) (*diagnostics.Translator, *diagnostics.SourceStore) {
	t.Helper()
	sources := diagnostics.NewSourceStore()
	return diagnostics.NewTranslator(sources, log.New()), sources
}

func TestBuildGroupsByFileFirstSeen(t *testing.T) {
	descs := []protocol.TestDescriptor{
		{File: "a.spec", Parents: []string{"Suite", "x"}},
		{File: "a.spec", Parents: []string{"Suite", "y"}},
		{File: "b.spec", Parents: []string{"z"}},
	}
	tr, _ := newTranslator(t)

	groups := Build(descs, &scriptedExchange{}, staticAddress{}, tr)

	require.Len(t, groups, 2)
	assert.Equal(t, "a.spec", groups[0].File)
	require.Len(t, groups[0].Items, 2)
	assert.Equal(t, "Suite::x", groups[0].Items[0].ID.Name())
	assert.Equal(t, "Suite::y", groups[0].Items[1].ID.Name())

	assert.Equal(t, "b.spec", groups[1].File)
	require.Len(t, groups[1].Items, 1)
	assert.Equal(t, "z", groups[1].Items[0].ID.Name())
}

func TestBuildOneItemPerDescriptor(t *testing.T) {
	var descs []protocol.TestDescriptor
	for i := 0; i < 7; i++ {
		descs = append(descs, protocol.TestDescriptor{
			File:    fmt.Sprintf("f%d.spec", i%3),
			Parents: []string{fmt.Sprintf("t%d", i)},
		})
	}
	tr, _ := newTranslator(t)

	groups := Build(descs, &scriptedExchange{}, staticAddress{}, tr)

	total := 0
	for _, g := range groups {
		total += len(g.Items)
	}
	assert.Equal(t, len(descs), total)
}

func TestBuildEmpty(t *testing.T) {
	tr, _ := newTranslator(t)
	groups := Build(nil, &scriptedExchange{}, staticAddress{}, tr)
	assert.Empty(t, groups)
}

func TestRunBodyPassingExchange(t *testing.T) {
	ex := &scriptedExchange{events: []protocol.Event{
		{Type: protocol.TypeTest},
		{Type: protocol.TypePass},
		{Type: protocol.TypeTestEnd},
	}}
	tr, _ := newTranslator(t)

	groups := Build([]protocol.TestDescriptor{{File: "a.spec", Parents: []string{"x"}}}, ex, staticAddress{}, tr)
	require.Len(t, groups, 1)
	require.Len(t, groups[0].Items, 1)

	err := groups[0].Items[0].Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"expect:test",
		"write:server-info",
		"expect:pass",
		"expect:test-end",
	}, ex.calls)

	require.Len(t, ex.writes, 1)
	assert.Equal(t, "http://localhost:43211", ex.writes[0].URL)
	assert.Equal(t, "ws://localhost:43211", ex.writes[0].WSURL)
}

func TestRunBodyFailureIsTranslated(t *testing.T) {
	spec := filepath.Join(t.TempDir(), "a.spec")
	content := "line one\nexpect(thing).to.be.true\nline three\n"
	require.NoError(t, os.WriteFile(spec, []byte(content), 0o644))

	ex := &scriptedExchange{events: []protocol.Event{
		{Type: protocol.TypeTest},
		{Type: protocol.TypeFail, Err: "boom", Stack: fmt.Sprintf("Error: boom\n    at ctx (%s:2:3)", spec)},
		{Type: protocol.TypeTestEnd},
	}}
	tr, sources := newTranslator(t)

	groups := Build([]protocol.TestDescriptor{{File: "a.spec", Parents: []string{"x"}}}, ex, staticAddress{}, tr)
	err := groups[0].Items[0].Run(context.Background())
	require.Error(t, err)

	var remote *diagnostics.RemoteFailure
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "boom", remote.Message)
	assert.Equal(t, spec, remote.SourceFile)
	assert.Equal(t, 2, remote.SourceLine)

	// test-end is still consumed after a failure: the runner's after hooks
	// run either way.
	assert.Equal(t, "expect:test-end", ex.calls[len(ex.calls)-1])

	registered, ok := sources.Lookup(spec)
	require.True(t, ok)
	assert.Equal(t, content, registered)
}

func TestRunBodyPropagatesViolation(t *testing.T) {
	ex := &scriptedExchange{events: []protocol.Event{
		{Type: protocol.TypeTest},
		{Type: protocol.TypeCollect}, // a second collect is never valid here
	}}
	tr, _ := newTranslator(t)

	groups := Build([]protocol.TestDescriptor{{File: "a.spec", Parents: []string{"x"}}}, ex, staticAddress{}, tr)
	err := groups[0].Items[0].Run(context.Background())
	require.Error(t, err)

	var violation *protocol.ViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, []string{protocol.TypePass, protocol.TypeFail}, violation.Expected)
	assert.Equal(t, protocol.TypeCollect, violation.Actual)
	assert.False(t, diagnostics.IsFailure(err), "a violation must not be mistaken for a test failure")
}
