// Package exitcodes defines the standard exit codes used by mocha-bridge.
package exitcodes

// Exit code constants used by mocha-bridge
// These constants define the exit codes that the application uses to indicate
// various states when it exits:
//
// * Success (0): Used when all tests pass successfully
// * TestFailure (1): Used when one or more tests fail
// * RuntimeErr (2): Used for runtime errors such as protocol violations, startup failures or panics
// * NoTestsCollected (5): Used when the runner's discovery reports an empty test list
const (
	Success          = 0 // All tests pass
	TestFailure      = 1 // Test failures
	RuntimeErr       = 2 // Runtime errors, protocol violations or timeouts
	NoTestsCollected = 5 // Discovery reported no tests
)
