package flags

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

const EnvVarPrefix = "MOCHA_BRIDGE"

// EnvLiveServerHost is read directly rather than derived from the flag name:
// it is the documented override for the live service's bind host and predates
// the flag spelling.
const EnvLiveServerHost = "MOCHA_BRIDGE_LIVE_SERVER_HOST"

var (
	RunnerScript = &cli.StringFlag{
		Name:    "runner.script",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUNNER_SCRIPT"),
		Usage:   "Path to the Mocha runner entrypoint (eg. 'runner.ts')",
	}
	RunnerTSNode = &cli.StringFlag{
		Name:    "runner.ts-node",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUNNER_TS_NODE"),
		Usage:   "Path to the ts-node binary used for plain launches",
	}
	RunnerNode = &cli.StringFlag{
		Name:    "runner.node",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUNNER_NODE"),
		Usage:   "Path to the node binary used for debug launches",
	}
	Debug = &cli.BoolFlag{
		Name:    "debug",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "DEBUG"),
		Usage:   "Attach a Node inspector to the runner",
	}
	DebugPort = &cli.IntFlag{
		Name:    "debug-port",
		Value:   9229,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "DEBUG_PORT"),
		Usage:   "Port the Node inspector listens on",
	}
	DebugSuspend = &cli.BoolFlag{
		Name:    "debug-suspend",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "DEBUG_SUSPEND"),
		Usage:   "Suspend the runner until a debugger attaches",
	}
	ServiceCommand = &cli.StringSliceFlag{
		Name:    "service.command",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SERVICE_COMMAND"),
		Usage:   "Command that starts the live service child (repeat the flag per argv element)",
	}
	ServiceHost = &cli.StringFlag{
		Name:    "service.host",
		Value:   "",
		EnvVars: []string{EnvLiveServerHost},
		Usage:   "Host name the live service binds; must not carry a port (default: loopback)",
	}
	StorageEngine = &cli.StringFlag{
		Name:    "storage.engine",
		Value:   "sqlite",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "STORAGE_ENGINE"),
		Usage:   "Durable storage engine shared with the live service ('sqlite' or 'postgres')",
	}
	StoragePath = &cli.StringFlag{
		Name:    "storage.path",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "STORAGE_PATH"),
		Usage:   "Storage location: sqlite file path, or postgres connection string",
	}
	ConfigFile = &cli.StringFlag{
		Name:    "config",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CONFIG"),
		Usage:   "Path to an optional bridge.yaml config file; explicit flags override it",
	}
	StartupTimeout = &cli.DurationFlag{
		Name:    "timeout.startup",
		Value:   30 * time.Second,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TIMEOUT_STARTUP"),
		Usage:   "How long to wait for the live service's ready signal",
	}
)

// requiredFlags must be set on the command line unless a config file supplies
// them; NewConfig enforces that after the merge.
var requiredFlags = []cli.Flag{
	RunnerScript,
	ServiceCommand,
	StoragePath,
}

var optionalFlags = []cli.Flag{
	RunnerTSNode,
	RunnerNode,
	Debug,
	DebugPort,
	DebugSuspend,
	ServiceHost,
	StorageEngine,
	ConfigFile,
	StartupTimeout,
}
var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return nil
}
