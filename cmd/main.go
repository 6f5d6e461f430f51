package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	bridge "github.com/channelkit/mocha-bridge"
	"github.com/channelkit/mocha-bridge/exitcodes"
	"github.com/channelkit/mocha-bridge/flags"
	"github.com/channelkit/mocha-bridge/liveserver"
	"github.com/channelkit/mocha-bridge/service"
	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/ctxinterrupt"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "mocha-bridge"
	app.Usage = "Mocha Integration Test Bridge"
	app.Description = "mocha-bridge drives a Mocha/ts-node test runner against a live service from a Go host session"
	app.Flags = cliapp.ProtectFlags(flags.Flags)
	app.Action = cliapp.LifecycleCmd(run)
	app.ExitErrHandler = func(c *cli.Context, err error) {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			// Use the exit code from the ExitCoder
			cli.HandleExitCoder(exitErr)
		} else if err != nil {
			cli.HandleExitCoder(cli.Exit(err.Error(), exitCodeFor(err)))
		}
	}

	// Start telemetry
	ctx, shutdown, err := telemetry.SetupOpenTelemetry(
		context.Background(),
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		log.Crit("Failed to setup open telemetry", "message", err)
	}
	defer shutdown()

	// Start server
	svc := service.New(app.Version)
	svc.Start(ctx)
	defer svc.Shutdown()

	// Start CLI
	ctx = ctxinterrupt.WithSignalWaiterMain(ctx)
	err = app.RunContext(ctx, os.Args)
	if err != nil {
		log.Crit("Application failed", "message", err)
	}
}

// exitCodeFor maps the session's error taxonomy to process exit codes: empty
// discovery is its own condition, anything structural is a runtime error, and
// plain test failures keep the conventional code 1.
func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, bridge.ErrNoTests):
		return exitcodes.NoTestsCollected
	case bridge.IsRuntimeError(err),
		liveserver.IsConfigurationError(err),
		liveserver.IsChildStartupError(err):
		return exitcodes.RuntimeErr
	case bridge.IsTestFailureError(err):
		return exitcodes.TestFailure
	default:
		return exitcodes.TestFailure
	}
}

func run(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
	logCfg := oplog.ReadCLIConfig(ctx)
	log := oplog.NewLogger(oplog.AppOut(ctx), logCfg)
	oplog.SetGlobalLogHandler(log.Handler())
	oplog.SetupDefaults()

	cfg, err := bridge.NewConfig(ctx, log)
	if err != nil {
		// Wrap in RuntimeError to signal this should exit with code 2
		return nil, bridge.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}

	cfg.Log.Debug("Config", "config", cfg)

	// Creating the session spawns the runner and performs the one-time
	// discovery handshake, before any collection or execution.
	session, err := bridge.New(ctx.Context, cfg, Version, closeApp)
	if err != nil {
		return nil, err
	}

	return session, nil
}
