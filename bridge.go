// Package bridge drives one Mocha test session from a Go host: it spawns the
// external runner, performs the discovery handshake, starts the live service
// the tests talk to, and executes the runner's tests through the host's own
// sequential run loop.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/channelkit/mocha-bridge/catalog"
	"github.com/channelkit/mocha-bridge/diagnostics"
	"github.com/channelkit/mocha-bridge/exitcodes"
	"github.com/channelkit/mocha-bridge/harness"
	"github.com/channelkit/mocha-bridge/liveserver"
	"github.com/channelkit/mocha-bridge/metrics"
	"github.com/channelkit/mocha-bridge/protocol"
	"github.com/channelkit/mocha-bridge/runner"
	"github.com/channelkit/mocha-bridge/storage"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
)

// Bridge implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &Bridge{}

// sessionCoordinator is the runner surface the session drives.
// runner.Coordinator implements it; tests script it.
type sessionCoordinator interface {
	Tests() []protocol.TestDescriptor
	Write(ev protocol.Event) error
	Expect(types ...string) (protocol.Event, error)
	Start() error
	Close() error
}

// sessionServer is the live service surface. liveserver.Server implements it.
type sessionServer interface {
	Start(ctx context.Context) error
	Stop() error
	BaseURL() string
	WSURL() string
}

// storageLock is the host's exclusive hold on the durable store.
type storageLock interface {
	Acquire(ctx context.Context) error
	Release() error
	Held() bool
}

// Bridge is one test session: created once at startup, run once, stopped once.
type Bridge struct {
	cfg     *Config
	version string
	runID   string

	coord   sessionCoordinator
	server  sessionServer
	guard   storageLock
	sources *diagnostics.SourceStore
	groups  []harness.Group
	runLog  harness.RunLogger
	results *harness.Results

	running       atomic.Bool
	serverStarted bool

	shutdownCallback func(error) // Callback to signal application shutdown
}

// New builds the whole session. The runner coordinator is constructed
// eagerly: its discovery handshake happens exactly once, here, before any
// collection or execution, and the reported descriptors become the host's
// test items on the spot.
func New(ctx context.Context, cfg *Config, version string, shutdownCallback func(error)) (*Bridge, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}

	cfg.Log.Debug("Creating bridge session",
		"runnerScript", cfg.RunnerScript,
		"serviceHost", cfg.ServiceHost,
		"storage", cfg.Storage.String(),
		"debug", cfg.Debug)

	guard := storage.NewGuard(cfg.Storage.Path, cfg.Log)
	hosts := liveserver.NewAllowance()
	server, err := liveserver.New(liveserver.Config{
		Command:      cfg.ServiceCommand,
		Host:         cfg.ServiceHost,
		Backend:      cfg.Storage,
		StartTimeout: cfg.StartupTimeout,
	}, guard, hosts, cfg.Log)
	if err != nil {
		return nil, err
	}

	coord, err := runner.New(ctx, runner.Config{
		Launch: runner.LaunchSpec{
			Script:       cfg.RunnerScript,
			TSNodeBin:    cfg.TSNodeBin,
			NodeBin:      cfg.NodeBin,
			Debug:        cfg.Debug,
			DebugPort:    cfg.DebugPort,
			DebugSuspend: cfg.DebugSuspend,
		},
	}, cfg.Log)
	if err != nil {
		return nil, NewRuntimeError(err)
	}

	sources := diagnostics.NewSourceStore()
	translator := diagnostics.NewTranslator(sources, cfg.Log)
	groups := catalog.Build(coord.Tests(), coord, server, translator)

	return &Bridge{
		cfg:              cfg,
		version:          version,
		runID:            uuid.New().String(),
		coord:            coord,
		server:           server,
		guard:            guard,
		sources:          sources,
		groups:           groups,
		runLog:           harness.NewConsoleRunLogger(os.Stdout),
		shutdownCallback: shutdownCallback,
	}, nil
}

// Start acquires the storage lock, brings the live service up, and runs
// every collected test in the runner's reported order. It returns nil when
// all tests pass, a TestFailureError when some fail, and a RuntimeError when
// the protocol broke.
// Start implements the cliapp.Lifecycle interface.
func (b *Bridge) Start(ctx context.Context) error {
	// A panic here is a runtime error, not a test failure.
	defer func() {
		if r := recover(); r != nil {
			b.cfg.Log.Error("Runtime error occurred", "error", r)
			os.Exit(exitcodes.RuntimeErr)
		}
	}()

	b.running.Store(true)

	total := 0
	for _, g := range b.groups {
		total += len(g.Items)
	}
	if total == 0 {
		b.cfg.Log.Warn("Runner reported no tests")
		return ErrNoTests
	}
	b.cfg.Log.Info("Starting session", "run_id", b.runID, "tests", total, "files", len(b.groups))

	if err := b.guard.Acquire(ctx); err != nil {
		return NewRuntimeError(err)
	}

	serverStart := time.Now()
	if err := b.server.Start(ctx); err != nil {
		metrics.RecordErrorDetails("live server start", err)
		return err
	}
	b.serverStarted = true
	metrics.RecordLiveServerStartup(time.Since(serverStart))

	err := b.run(ctx, total)
	if err != nil {
		return err
	}

	// All tests passed; ask the app to shut down cleanly.
	go func() {
		b.shutdownCallback(nil)
	}()
	return nil
}

// run executes the collected items strictly sequentially, in the order the
// runner reported them. The runner serializes tests on its side too, so this
// single loop is the entire scheduling model.
func (b *Bridge) run(ctx context.Context, total int) error {
	tracer := otel.Tracer("mocha-bridge")
	ctx, span := tracer.Start(ctx, "session.run",
		trace.WithAttributes(attribute.String("run.id", b.runID)))
	defer span.End()

	if err := b.coord.Start(); err != nil {
		return NewRuntimeError(fmt.Errorf("signalling runner start: %w", err))
	}

	b.runLog.RunStarted(total)
	results := &harness.Results{}
	var fatal error

loop:
	for _, group := range b.groups {
		b.runLog.GroupStarted(group.File)
		for _, item := range group.Items {
			res, err := b.runItem(ctx, tracer, item)
			results.Record(res)
			metrics.RecordTest(b.runID, res.ID.File, res.ID.Name(), res.Status, res.Duration)
			if err != nil {
				// The protocol is position-correlated; after one broken
				// exchange no later exchange can be trusted.
				fatal = err
				break loop
			}
		}
	}

	b.results = results
	b.runLog.RunFinished(results)
	b.printResultsTable(results)
	b.printFailureDetails(results)
	metrics.RecordRun(b.runID, string(results.Overall()),
		results.Total(), results.Passed, results.Failed, results.Errored, results.Duration)
	b.cfg.Log.Info("Session completed", "run_id", b.runID, "status", results.Overall())

	if fatal != nil {
		return fatal
	}
	if results.Failed > 0 {
		return NewTestFailureError(fmt.Sprintf("%d of %d tests failed", results.Failed, results.Total()))
	}
	return nil
}

// runItem drives one item's exchange. A translated failure is contained to
// the item's result; anything else means the session is desynchronized and
// comes back as the fatal error.
func (b *Bridge) runItem(ctx context.Context, tracer trace.Tracer, item harness.Item) (harness.Result, error) {
	b.runLog.TestStarted(item.ID)
	_, span := tracer.Start(ctx, "test", trace.WithAttributes(
		attribute.String("test.file", item.ID.File),
		attribute.String("test.name", item.ID.Name()),
	))
	defer span.End()

	start := time.Now()
	err := item.Run(ctx)
	duration := time.Since(start)

	switch {
	case err == nil:
		span.SetAttributes(attribute.String("test.status", string(harness.StatusPass)))
		b.runLog.TestPassed(item.ID, duration)
		return harness.Result{ID: item.ID, Status: harness.StatusPass, Duration: duration}, nil

	case diagnostics.IsFailure(err):
		span.SetAttributes(attribute.String("test.status", string(harness.StatusFail)))
		b.runLog.TestFailed(item.ID, err, duration)
		return harness.Result{ID: item.ID, Status: harness.StatusFail, Error: err, Duration: duration}, nil

	default:
		span.SetAttributes(attribute.String("test.status", string(harness.StatusError)))
		var violation *protocol.ViolationError
		if errors.As(err, &violation) {
			metrics.RecordProtocolViolation()
		}
		b.cfg.Log.Error("Protocol-fatal error during test", "test", item.ID.String(), "error", err)
		return harness.Result{ID: item.ID, Status: harness.StatusError, Error: err, Duration: duration},
			NewRuntimeError(fmt.Errorf("test %s: %w", item.ID, err))
	}
}

// Stop stops the session: live service down, runner down, storage lock
// released. Stop implements the cliapp.Lifecycle interface.
func (b *Bridge) Stop(ctx context.Context) error {
	b.cfg.Log.Info("Stopping mocha-bridge")

	if !b.running.Load() {
		b.cfg.Log.Debug("Session already stopped, nothing to do")
		return nil
	}
	b.running.Store(false)

	var errs []error
	if b.serverStarted {
		if err := b.server.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stopping live server: %w", err))
		}
	}
	if err := b.coord.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing runner: %w", err))
	}
	if b.guard.Held() {
		if err := b.guard.Release(); err != nil {
			errs = append(errs, err)
		}
	}

	b.cfg.Log.Info("mocha-bridge stopped")
	return errors.Join(errs...)
}

// Stopped returns true if the session is stopped.
// Stopped implements the cliapp.Lifecycle interface.
func (b *Bridge) Stopped() bool {
	return !b.running.Load()
}

// Results exposes the recorded outcomes, for tests and callers that report.
func (b *Bridge) Results() *harness.Results {
	return b.results
}

// printResultsTable prints the per-test outcomes grouped by spec file.
func (b *Bridge) printResultsTable(results *harness.Results) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle(fmt.Sprintf("Mocha Bridge Results (%s)", formatDuration(results.Duration)))

	t.AppendHeader(table.Row{"File", "Test", "Duration", "Status", "Error"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "File", AutoMerge: true},
		{Name: "Test", WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Error", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, res := range results.Results {
		errMsg := ""
		if res.Error != nil {
			errMsg = firstLine(res.Error.Error())
		}
		t.AppendRow(table.Row{
			res.ID.File,
			res.ID.Name(),
			formatDuration(res.Duration),
			statusString(res.Status),
			errMsg,
		})
	}

	switch results.Overall() {
	case harness.StatusPass:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		fmt.Sprintf("%d tests", results.Total()),
		formatDuration(results.Duration),
		statusString(results.Overall()),
		fmt.Sprintf("%d passed, %d failed, %d errored", results.Passed, results.Failed, results.Errored),
	})

	t.Render()
}

// printFailureDetails prints each failure with the remote source around the
// failing line, when the stack resolved to one.
func (b *Bridge) printFailureDetails(results *harness.Results) {
	for _, res := range results.Results {
		if res.Status != harness.StatusFail {
			continue
		}
		fmt.Printf("\n--- %s\n%s\n", res.ID, diagnostics.Render(b.sources, res.Error))
	}
}

func statusString(status harness.Status) string {
	switch status {
	case harness.StatusPass:
		return "✓ pass"
	case harness.StatusFail:
		return "✗ fail"
	default:
		return "! error"
	}
}

// Helper function to format duration to seconds with 1 decimal place
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
