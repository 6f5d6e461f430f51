// Package storage validates the durable store shared between the host and
// the live service, and guards the host's exclusive lock on it.
package storage

import (
	"errors"
	"fmt"
	"strings"
)

// Supported storage engines.
const (
	EngineSQLite   = "sqlite"
	EnginePostgres = "postgres"
	EngineMemory   = "memory"
)

// ErrMemoryBackend marks a store that exists only inside this process. The
// live service child forks away from the host, so it would see a copy of an
// in-memory store rather than the store itself.
var ErrMemoryBackend = errors.New("in-memory storage cannot be shared with the live service")

// Backend describes the durable store the session and the live service
// operate on.
type Backend struct {
	Engine string `yaml:"engine"`
	Path   string `yaml:"path"`
}

func (b Backend) String() string {
	if b.Path == "" {
		return b.Engine
	}
	return fmt.Sprintf("%s:%s", b.Engine, b.Path)
}

// Validate rejects every in-memory variant. SQLite has several spellings of
// "in memory": the :memory: path, an empty path, and the mode=memory query
// parameter.
func Validate(b Backend) error {
	switch b.Engine {
	case EngineMemory:
		return fmt.Errorf("%w: engine %q", ErrMemoryBackend, b.Engine)
	case EngineSQLite:
		if b.Path == "" || b.Path == ":memory:" || strings.Contains(b.Path, "mode=memory") {
			return fmt.Errorf("%w: sqlite path %q", ErrMemoryBackend, b.Path)
		}
	case EnginePostgres:
		if b.Path == "" {
			return errors.New("postgres storage requires a connection string")
		}
	case "":
		return errors.New("no storage engine configured")
	}
	return nil
}
