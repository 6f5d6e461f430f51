package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"slices"
	"sync"
	"syscall"

	"github.com/ethereum/go-ethereum/log"

	"github.com/channelkit/mocha-bridge/protocol"
)

// Config configures the runner subprocess.
type Config struct {
	Launch LaunchSpec

	// Spawner overrides process creation; nil spawns real processes.
	Spawner Spawner
}

// Coordinator owns the runner subprocess and its event stream. All traffic
// is synchronous: one outstanding request at a time, every write flushed
// before the next read. Position on the wire is the only correlation
// between request and response, so the coordinator never retries after an
// unexpected event; it reports it and the session dies.
type Coordinator struct {
	proc   Process
	stdin  io.WriteCloser
	stdout io.ReadCloser
	enc    *protocol.Encoder
	dec    *protocol.Decoder
	tests  []protocol.TestDescriptor
	log    log.Logger

	closeOnce sync.Once
	closeErr  error
}

// New spawns the runner and performs the one-time discovery handshake: the
// runner reports every test it found in a single collect event, then idles
// until Start. The descriptors are cached for the life of the session.
func New(ctx context.Context, cfg Config, logger log.Logger) (*Coordinator, error) {
	if logger == nil {
		logger = log.New()
	}
	spawner := cfg.Spawner
	if spawner == nil {
		spawner = execSpawner{}
	}

	logger.Info("Starting mocha runner", "cmd", cfg.Launch.String())
	proc, stdout, stdin, err := spawner.Spawn(ctx, cfg.Launch.Argv())
	if err != nil {
		return nil, fmt.Errorf("starting runner: %w", err)
	}

	c := &Coordinator{
		proc:   proc,
		stdin:  stdin,
		stdout: stdout,
		enc:    protocol.NewEncoder(stdin),
		dec:    protocol.NewDecoder(stdout),
		log:    logger,
	}

	ev, err := c.Expect(protocol.TypeCollect)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("collecting tests from runner: %w", err)
	}
	c.tests = ev.Tests
	logger.Info("Runner reported tests", "count", len(c.tests))
	return c, nil
}

// Tests returns the descriptors from the discovery handshake, in the order
// the runner will execute them.
func (c *Coordinator) Tests() []protocol.TestDescriptor {
	return c.tests
}

// Write sends one event. The encoder writes straight through to the pipe;
// the runner blocks reading between events, so delivery is immediate.
func (c *Coordinator) Write(ev protocol.Event) error {
	c.log.Debug("Wrote event to runner", "type", ev.Type)
	return c.enc.Encode(ev)
}

// Read blocks until the runner emits exactly one line.
func (c *Coordinator) Read() (protocol.Event, error) {
	ev, err := c.dec.Decode()
	if err != nil {
		return protocol.Event{}, err
	}
	c.log.Debug("Read event from runner", "type", ev.Type)
	return ev, nil
}

// Expect reads one event and checks its type against the allowed set. A
// mismatch comes back as a protocol.ViolationError naming both sides;
// callers must abort the session on it rather than read further.
func (c *Coordinator) Expect(types ...string) (protocol.Event, error) {
	ev, err := c.Read()
	if err != nil {
		return protocol.Event{}, err
	}
	if !slices.Contains(types, ev.Type) {
		return protocol.Event{}, &protocol.ViolationError{Expected: types, Actual: ev.Type}
	}
	return ev, nil
}

// Start signals the runner to begin executing tests. After discovery the
// runner parks on a blocking read; the bare newline is its wake-up.
func (c *Coordinator) Start() error {
	c.log.Debug("Signalled runner to start")
	return c.enc.Signal()
}

// Close terminates the runner and reaps it. Safe to call more than once;
// later calls return the first outcome.
func (c *Coordinator) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.shutdown()
	})
	return c.closeErr
}

func (c *Coordinator) shutdown() error {
	// Closing stdin is the polite exit: the runner sees EOF and stops on
	// its own. The signal covers runners stuck mid-test.
	_ = c.stdin.Close()
	_ = c.proc.Signal(syscall.SIGTERM)
	err := c.proc.Wait()
	_ = c.stdout.Close()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil
		}
		return fmt.Errorf("waiting for runner exit: %w", err)
	}
	return nil
}
