// Package liveserver manages the live application instance the tests run
// against: a child process spawned once per session, reachable over HTTP
// and websocket on a port it picks and reports itself.
package liveserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/alessio/shellescape"
	"github.com/ethereum/go-ethereum/log"

	"github.com/channelkit/mocha-bridge/storage"
)

const (
	// DefaultHost is the loopback name the server binds when no override is
	// configured.
	DefaultHost = "localhost"

	// DefaultStartTimeout bounds the wait for the child's ready signal.
	DefaultStartTimeout = 30 * time.Second
)

// Environment passed to the child.
const (
	EnvServerAddress = "MOCHA_BRIDGE_LIVE_SERVER_ADDRESS"
	EnvAllowedHosts  = "MOCHA_BRIDGE_ALLOWED_HOSTS"
)

// Boot channel event types. The child prints exactly one of these on its
// stdout, as a single JSON line, once it knows whether it can serve.
const (
	bootReady = "ready"
	bootError = "error"
)

type bootEvent struct {
	Type  string `json:"type"`
	Port  int    `json:"port"`
	Error string `json:"error"`
}

type bootOutcome struct {
	port int
	err  error
}

// LockGuard scopes the host's exclusive hold on durable storage around the
// child spawn. storage.Guard implements it.
type LockGuard interface {
	WithReleased(ctx context.Context, fn func() error) error
}

// Config configures the live server child.
type Config struct {
	// Command is the child's argv. The child must print a boot event on
	// stdout once it has bound its port.
	Command []string

	// Host is the name the server binds. It must not carry a port; the
	// child picks a free port itself and reports it.
	Host string

	// Backend is the durable store the child will serve from.
	Backend storage.Backend

	// Environ is extra child environment, KEY=value form.
	Environ []string

	StartTimeout time.Duration

	// Spawner overrides process creation; nil spawns real processes.
	Spawner Spawner
}

// Server manages one live server child.
type Server struct {
	cfg     Config
	guard   LockGuard
	hosts   *Allowance
	spawner Spawner
	log     log.Logger

	proc         Process
	stdout       io.ReadCloser
	port         int
	restoreHosts func()
}

// New validates cfg and prepares a server. Everything that can be rejected
// without side effects is rejected here, before any subprocess exists.
func New(cfg Config, guard LockGuard, hosts *Allowance, logger log.Logger) (*Server, error) {
	if logger == nil {
		logger = log.New()
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if strings.Contains(cfg.Host, ":") {
		return nil, NewConfigurationError(fmt.Errorf("host %q must not carry a port, the server picks its own", cfg.Host))
	}
	if err := storage.Validate(cfg.Backend); err != nil {
		return nil, NewConfigurationError(err)
	}
	if len(cfg.Command) == 0 {
		return nil, NewConfigurationError(errors.New("no server command configured"))
	}

	spawner := cfg.Spawner
	if spawner == nil {
		spawner = execSpawner{}
	}
	return &Server{
		cfg:     cfg,
		guard:   guard,
		hosts:   hosts,
		spawner: spawner,
		log:     logger,
	}, nil
}

// Start spawns the child and blocks until it is ready to serve. The host's
// storage lock is released for the spawn itself and reacquired as soon as
// the spawn returns, success or not: the child takes its own hold on the
// store while it forks, and must never inherit ours.
func (s *Server) Start(ctx context.Context) error {
	restore := s.hosts.Add(s.cfg.Host)
	s.log.Info("Starting live server", "cmd", shellescape.QuoteCommand(s.cfg.Command), "host", s.cfg.Host)

	if err := s.guard.WithReleased(ctx, func() error { return s.spawn(ctx) }); err != nil {
		restore()
		return err
	}
	s.restoreHosts = restore

	if err := s.awaitReady(ctx, s.watchBoot()); err != nil {
		_ = s.terminate()
		s.restoreHosts()
		return err
	}
	s.log.Info("Live server ready", "url", s.BaseURL())
	return nil
}

// Stop asks the child to exit and waits for it. Call it exactly once per
// started server; a second call is caller error and is not guarded against.
func (s *Server) Stop() error {
	defer s.restoreHosts()
	s.log.Info("Stopping live server")
	return s.terminate()
}

// BaseURL is the HTTP endpoint of the running server.
func (s *Server) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", s.cfg.Host, s.port)
}

// WSURL is the websocket endpoint of the running server.
func (s *Server) WSURL() string {
	return fmt.Sprintf("ws://%s:%d", s.cfg.Host, s.port)
}

func (s *Server) spawn(ctx context.Context) error {
	env := append(slices.Clone(s.cfg.Environ),
		fmt.Sprintf("%s=%s", EnvServerAddress, s.cfg.Host),
		fmt.Sprintf("%s=%s", EnvAllowedHosts, strings.Join(s.hosts.List(), ",")),
	)
	proc, stdout, err := s.spawner.Spawn(ctx, s.cfg.Command, env)
	if err != nil {
		return fmt.Errorf("starting live server: %w", err)
	}
	s.proc = proc
	s.stdout = stdout
	return nil
}

// watchBoot consumes the child's stdout. The first boot event decides the
// outcome; everything else is forwarded to the debug log. The goroutine
// drains until the child exits so the child never blocks on a full pipe.
func (s *Server) watchBoot() <-chan bootOutcome {
	ch := make(chan bootOutcome, 1)
	go func() {
		reported := false
		report := func(o bootOutcome) {
			if !reported {
				reported = true
				ch <- o
			}
		}
		sc := bufio.NewScanner(s.stdout)
		for sc.Scan() {
			line := sc.Text()
			var ev bootEvent
			if err := json.Unmarshal([]byte(line), &ev); err != nil {
				s.log.Debug("Live server output", "line", line)
				continue
			}
			switch ev.Type {
			case bootReady:
				report(bootOutcome{port: ev.Port})
			case bootError:
				report(bootOutcome{err: errors.New(ev.Error)})
			default:
				s.log.Debug("Live server output", "line", line)
			}
		}
		report(bootOutcome{err: errors.New("exited before signalling ready")})
	}()
	return ch
}

// awaitReady blocks until the boot outcome arrives. An error observed on
// the boot channel surfaces immediately; it always wins over waiting for a
// ready that will never come.
func (s *Server) awaitReady(ctx context.Context, boot <-chan bootOutcome) error {
	timeout := s.cfg.StartTimeout
	if timeout == 0 {
		timeout = DefaultStartTimeout
	}
	select {
	case out := <-boot:
		if out.err != nil {
			return NewChildStartupError(out.err)
		}
		s.port = out.port
		return nil
	case <-time.After(timeout):
		return NewChildStartupError(fmt.Errorf("no ready signal within %s", timeout))
	case <-ctx.Done():
		return NewChildStartupError(ctx.Err())
	}
}

func (s *Server) terminate() error {
	_ = s.proc.Signal(syscall.SIGTERM)
	err := s.proc.Wait()
	_ = s.stdout.Close()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil
		}
		return fmt.Errorf("waiting for live server exit: %w", err)
	}
	return nil
}
