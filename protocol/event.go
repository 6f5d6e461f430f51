// Package protocol defines the line-oriented event protocol spoken between
// the host and the external Mocha runner. Every message is one JSON object
// on one line. There are no request IDs: the exchange is strictly
// one-outstanding-request, so position on the wire is the only thing that
// correlates a response to its request.
package protocol

// Event types emitted by the runner.
const (
	TypeCollect = "collect"
	TypeTest    = "test"
	TypePass    = "pass"
	TypeFail    = "fail"
	TypeTestEnd = "test-end"
)

// Event types sent by the host.
const (
	TypeServerInfo = "server-info"
)

// Event is one wire record. Type discriminates which of the optional fields
// are meaningful.
type Event struct {
	Type string `json:"type"`

	// Tests is set on collect events only.
	Tests []TestDescriptor `json:"tests,omitempty"`

	// Err and Stack are set on fail events only.
	Err   string `json:"err,omitempty"`
	Stack string `json:"stack,omitempty"`

	// URL and WSURL are set on server-info events only.
	URL   string `json:"url,omitempty"`
	WSURL string `json:"ws_url,omitempty"`
}

// TestDescriptor names one test the runner discovered: the spec file that
// declares it and the chain of suite names leading to it, outermost first.
// Descriptors arrive exactly once, in the single collect event, and are
// never produced again.
type TestDescriptor struct {
	File    string   `json:"file"`
	Parents []string `json:"parents"`
}

// ServerInfo builds the command event that hands the live service's
// endpoints to the runner before each test body executes.
func ServerInfo(url, wsURL string) Event {
	return Event{Type: TypeServerInfo, URL: url, WSURL: wsURL}
}
