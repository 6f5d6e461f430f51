package diagnostics

import (
	"fmt"
	"strings"
	"sync"
)

// SourceStore holds the text of remote source files referenced by translated
// failures. Registration pins a file's content as seen at translation time;
// renderers consult the store instead of re-reading disk.
type SourceStore struct {
	mu    sync.RWMutex
	files map[string]string
}

func NewSourceStore() *SourceStore {
	return &SourceStore{files: make(map[string]string)}
}

// Register records content as the authoritative text of file, replacing any
// earlier registration.
func (s *SourceStore) Register(file, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[file] = content
}

// Lookup returns the registered content of file.
func (s *SourceStore) Lookup(file string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	content, ok := s.files[file]
	return content, ok
}

// Snippet renders the registered source around line, context lines either
// side, with a gutter marking the line itself. Returns false when the file
// is unregistered or the line falls outside it.
func (s *SourceStore) Snippet(file string, line, context int) (string, bool) {
	content, ok := s.Lookup(file)
	if !ok {
		return "", false
	}
	lines := strings.Split(content, "\n")
	if line < 1 || line > len(lines) {
		return "", false
	}

	first := line - context
	if first < 1 {
		first = 1
	}
	last := line + context
	if last > len(lines) {
		last = len(lines)
	}
	width := len(fmt.Sprint(last))

	var b strings.Builder
	for n := first; n <= last; n++ {
		marker := "  "
		if n == line {
			marker = "> "
		}
		fmt.Fprintf(&b, "%s%*d | %s\n", marker, width, n, lines[n-1])
	}
	return b.String(), true
}
