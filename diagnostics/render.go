package diagnostics

import (
	"errors"
	"strings"
)

// snippetContext is how many lines either side of the failure Render shows.
const snippetContext = 3

// Render formats a test failure for the console. Anchored failures include
// the remote source around the failing line; everything else prints as-is.
func Render(sources *SourceStore, err error) string {
	var remote *RemoteFailure
	if !errors.As(err, &remote) {
		return err.Error()
	}

	var b strings.Builder
	b.WriteString(remote.Message)
	b.WriteString("\n")

	if snippet, ok := sources.Snippet(remote.SourceFile, remote.SourceLine, snippetContext); ok {
		b.WriteString("\n")
		b.WriteString(snippet)
	}

	if remote.Stack != "" {
		b.WriteString("\n")
		b.WriteString(remote.Stack)
	}
	return b.String()
}
