// Package catalog converts the runner's discovery report into the host's
// native test items. The host never scans spec files itself; the descriptor
// list from the collect handshake is the only source of truth.
package catalog

import (
	"context"

	"github.com/channelkit/mocha-bridge/diagnostics"
	"github.com/channelkit/mocha-bridge/harness"
	"github.com/channelkit/mocha-bridge/protocol"
)

// Exchanger is the strictly ordered event channel a test item drives. The
// runner coordinator implements it; tests script it.
type Exchanger interface {
	Write(ev protocol.Event) error
	Expect(types ...string) (protocol.Event, error)
}

// Addresser supplies the live service endpoints each test forwards to the
// runner.
type Addresser interface {
	BaseURL() string
	WSURL() string
}

// Build turns descriptors into runnable items grouped by declaring file, in
// first-seen order. Every descriptor becomes exactly one item; items carry
// their position's protocol exchange and nothing else.
func Build(descs []protocol.TestDescriptor, ex Exchanger, addr Addresser, tr *diagnostics.Translator) []harness.Group {
	var groups []harness.Group
	index := make(map[string]int)

	for _, d := range descs {
		i, ok := index[d.File]
		if !ok {
			i = len(groups)
			index[d.File] = i
			groups = append(groups, harness.Group{File: d.File})
		}
		groups[i].Items = append(groups[i].Items, harness.Item{
			ID:  harness.TestID{File: d.File, Parents: d.Parents},
			Run: runBody(ex, addr, tr),
		})
	}
	return groups
}

// runBody is one test's exchange. The runner executes tests in its own
// reported order and the host runs items in that same order, which is the
// entire correlation between the two sides:
//
//	expect(test) -> write(server-info) -> expect(pass|fail) -> expect(test-end)
//
// There is no mid-test cancellation in the protocol; an abandoned exchange
// is resolved by tearing the runner down, not by the context.
func runBody(ex Exchanger, addr Addresser, tr *diagnostics.Translator) func(context.Context) error {
	return func(_ context.Context) error {
		if _, err := ex.Expect(protocol.TypeTest); err != nil {
			return err
		}
		if err := ex.Write(protocol.ServerInfo(addr.BaseURL(), addr.WSURL())); err != nil {
			return err
		}
		outcome, err := ex.Expect(protocol.TypePass, protocol.TypeFail)
		if err != nil {
			return err
		}
		// test-end arrives after the runner's own after hooks finish, pass
		// or fail.
		if _, err := ex.Expect(protocol.TypeTestEnd); err != nil {
			return err
		}
		if outcome.Type == protocol.TypeFail {
			return tr.Translate(outcome.Err, outcome.Stack)
		}
		return nil
	}
}
