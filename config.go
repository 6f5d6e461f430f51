package bridge

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/channelkit/mocha-bridge/flags"
	"github.com/channelkit/mocha-bridge/storage"
	"github.com/ethereum/go-ethereum/log"
)

// Config holds the application configuration
type Config struct {
	RunnerScript string // Path to the Mocha runner entrypoint
	TSNodeBin    string // ts-node binary for plain launches
	NodeBin      string // node binary for debug launches
	Debug        bool   // Attach a Node inspector to the runner
	DebugPort    int    // Inspector port
	DebugSuspend bool   // Suspend the runner until a debugger attaches

	ServiceCommand []string        // argv of the live service child
	ServiceHost    string          // Host the live service binds (no port)
	Storage        storage.Backend // Durable store shared with the live service
	StartupTimeout time.Duration   // Wait budget for the service's ready signal

	Log log.Logger
}

// fileConfig mirrors the optional bridge.yaml file. Explicit flags override
// anything set here.
type fileConfig struct {
	Runner struct {
		Script string `yaml:"script"`
		TSNode string `yaml:"ts-node"`
		Node   string `yaml:"node"`
	} `yaml:"runner"`
	Service struct {
		Command []string `yaml:"command"`
		Host    string   `yaml:"host"`
	} `yaml:"service"`
	Storage  storage.Backend `yaml:"storage"`
	Timeouts struct {
		Startup string `yaml:"startup"`
	} `yaml:"timeouts"`
}

// NewConfig creates a new Config from cli context, merging in the optional
// config file when one is named. Flag values win over file values; the file
// only fills what the command line left unset.
func NewConfig(ctx *cli.Context, logger log.Logger) (*Config, error) {
	var file fileConfig
	if path := ctx.String(flags.ConfigFile.Name); path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(buf, &file); err != nil {
			return nil, fmt.Errorf("parsing config file %q: %w", path, err)
		}
	} else {
		// With no file everything must come from flags.
		if err := flags.CheckRequired(ctx); err != nil {
			return nil, fmt.Errorf("missing required flags: %w", err)
		}
	}

	cfg := &Config{
		RunnerScript: stringOr(ctx, flags.RunnerScript.Name, file.Runner.Script),
		TSNodeBin:    stringOr(ctx, flags.RunnerTSNode.Name, file.Runner.TSNode),
		NodeBin:      stringOr(ctx, flags.RunnerNode.Name, file.Runner.Node),
		Debug:        ctx.Bool(flags.Debug.Name),
		DebugPort:    ctx.Int(flags.DebugPort.Name),
		DebugSuspend: ctx.Bool(flags.DebugSuspend.Name),

		ServiceHost:    stringOr(ctx, flags.ServiceHost.Name, file.Service.Host),
		StartupTimeout: ctx.Duration(flags.StartupTimeout.Name),
		Log:            logger,
	}

	cfg.ServiceCommand = ctx.StringSlice(flags.ServiceCommand.Name)
	if len(cfg.ServiceCommand) == 0 {
		cfg.ServiceCommand = file.Service.Command
	}

	cfg.Storage = storage.Backend{
		Engine: stringOr(ctx, flags.StorageEngine.Name, file.Storage.Engine),
		Path:   stringOr(ctx, flags.StoragePath.Name, file.Storage.Path),
	}

	if !ctx.IsSet(flags.StartupTimeout.Name) && file.Timeouts.Startup != "" {
		d, err := time.ParseDuration(file.Timeouts.Startup)
		if err != nil {
			return nil, fmt.Errorf("parsing timeouts.startup %q: %w", file.Timeouts.Startup, err)
		}
		cfg.StartupTimeout = d
	}

	if cfg.RunnerScript == "" {
		return nil, errors.New("runner script is required")
	}
	absScript, err := filepath.Abs(cfg.RunnerScript)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for runner script '%s': %w", cfg.RunnerScript, err)
	}
	cfg.RunnerScript = absScript

	if len(cfg.ServiceCommand) == 0 {
		return nil, errors.New("service command is required")
	}
	if cfg.DebugPort <= 0 || cfg.DebugPort > 65535 {
		return nil, fmt.Errorf("invalid debug port %d", cfg.DebugPort)
	}

	return cfg, nil
}

// stringOr returns the flag's value, falling back to the file value when the
// flag was neither set explicitly nor carries a non-empty default.
func stringOr(ctx *cli.Context, name, fileValue string) string {
	if ctx.IsSet(name) {
		return ctx.String(name)
	}
	if fileValue != "" {
		return fileValue
	}
	return ctx.String(name)
}
