package runner

import (
	"testing"

	"go.uber.org/goleak"
)

// The coordinator tests drive scripted runners over in-memory pipes; a
// leaked goroutine here means a script and its test deadlocked half way.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
