// Package runner owns the external Mocha runner subprocess.
//
// The main components are:
//   - LaunchSpec: builds the runner's command line, plain or with a Node inspector attached
//   - Spawner: starts the process and hands back the host ends of its stdio
//   - Coordinator: drives the line-oriented event protocol over those pipes,
//     one request outstanding at a time, and caches the one-time discovery report
//
// All traffic is synchronous and position-correlated; there are no request
// IDs, so an unexpected event aborts the session instead of being retried.
package runner
