package liveserver

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/channelkit/mocha-bridge/storage"
)

type fakeProcess struct {
	mu      sync.Mutex
	signals []os.Signal
	waits   int
}

func (p *fakeProcess) Signal(sig os.Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signals = append(p.signals, sig)
	return nil
}

func (p *fakeProcess) Wait() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waits++
	return nil
}

func (p *fakeProcess) stats() ([]os.Signal, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]os.Signal(nil), p.signals...), p.waits
}

type fakeSpawner struct {
	proc    *fakeProcess
	stdout  io.ReadCloser
	err     error
	argv    []string
	env     []string
	calls   int
	onSpawn func()
}

func (s *fakeSpawner) Spawn(_ context.Context, argv, env []string) (Process, io.ReadCloser, error) {
	s.calls++
	s.argv = argv
	s.env = env
	if s.onSpawn != nil {
		s.onSpawn()
	}
	if s.err != nil {
		return nil, nil, s.err
	}
	return s.proc, s.stdout, nil
}

// seqGuard records when the lock scope opens and closes so tests can check
// the spawn lands inside it.
type seqGuard struct {
	seq *[]string
}

func (g *seqGuard) WithReleased(_ context.Context, fn func() error) error {
	*g.seq = append(*g.seq, "release")
	err := fn()
	*g.seq = append(*g.seq, "reacquire")
	return err
}

func bootLines(lines ...string) io.ReadCloser {
	return io.NopCloser(strings.NewReader(strings.Join(lines, "\n") + "\n"))
}

func validConfig(spawner Spawner) Config {
	return Config{
		Command: []string{"app-server", "--test-mode"},
		Backend: storage.Backend{Engine: storage.EngineSQLite, Path: "/var/lib/app/test.sqlite3"},
		Spawner: spawner,
	}
}

func TestNewRejectsMemoryBackends(t *testing.T) {
	tests := []struct {
		name    string
		backend storage.Backend
	}{
		{name: "memory engine", backend: storage.Backend{Engine: storage.EngineMemory}},
		{name: "sqlite memory path", backend: storage.Backend{Engine: storage.EngineSQLite, Path: ":memory:"}},
		{name: "sqlite empty path", backend: storage.Backend{Engine: storage.EngineSQLite}},
		{name: "sqlite shared memory uri", backend: storage.Backend{Engine: storage.EngineSQLite, Path: "file:x?mode=memory"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spawner := &fakeSpawner{}
			cfg := validConfig(spawner)
			cfg.Backend = tt.backend

			_, err := New(cfg, &seqGuard{seq: new([]string)}, NewAllowance(), log.New())
			require.Error(t, err)
			assert.True(t, IsConfigurationError(err))
			assert.ErrorIs(t, err, storage.ErrMemoryBackend)
			assert.Zero(t, spawner.calls, "nothing may spawn for a rejected configuration")
		})
	}
}

func TestNewRejectsHostWithPort(t *testing.T) {
	cfg := validConfig(&fakeSpawner{})
	cfg.Host = "localhost:8000"

	_, err := New(cfg, &seqGuard{seq: new([]string)}, NewAllowance(), log.New())
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
	assert.Contains(t, err.Error(), "port")
}

func TestNewRequiresCommand(t *testing.T) {
	cfg := validConfig(&fakeSpawner{})
	cfg.Command = nil

	_, err := New(cfg, &seqGuard{seq: new([]string)}, NewAllowance(), log.New())
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
}

func TestStartSpawnsInsideReleasedLock(t *testing.T) {
	var seq []string
	spawner := &fakeSpawner{
		proc:    &fakeProcess{},
		stdout:  bootLines(`{"type":"ready","port":43211}`),
		onSpawn: func() { seq = append(seq, "spawn") },
	}

	srv, err := New(validConfig(spawner), &seqGuard{seq: &seq}, NewAllowance(), log.New())
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	defer func() {
		require.NoError(t, srv.Stop())
	}()

	assert.Equal(t, []string{"release", "spawn", "reacquire"}, seq)
}

func TestStartReacquiresLockOnSpawnFailure(t *testing.T) {
	var seq []string
	boom := errors.New("binary missing")
	spawner := &fakeSpawner{
		err:     boom,
		onSpawn: func() { seq = append(seq, "spawn") },
	}
	hosts := NewAllowance()

	srv, err := New(validConfig(spawner), &seqGuard{seq: &seq}, hosts, log.New())
	require.NoError(t, err)

	err = srv.Start(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"release", "spawn", "reacquire"}, seq,
		"the lock scope must close even when the spawn fails")
	assert.Empty(t, hosts.List(), "host allowance must be rolled back")
}

func TestStartReadyReportsEndpoints(t *testing.T) {
	spawner := &fakeSpawner{
		proc:   &fakeProcess{},
		stdout: bootLines("migrating schema", `{"type":"ready","port":43211}`),
	}
	hosts := NewAllowance("api.internal")

	srv, err := New(validConfig(spawner), &seqGuard{seq: new([]string)}, hosts, log.New())
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))

	assert.Equal(t, "http://localhost:43211", srv.BaseURL())
	assert.Equal(t, "ws://localhost:43211", srv.WSURL())
	assert.Contains(t, hosts.List(), "localhost", "live host joins the allowance while running")
	assert.Contains(t, spawner.env, EnvServerAddress+"=localhost")
	assert.Contains(t, spawner.env, EnvAllowedHosts+"=api.internal,localhost")

	require.NoError(t, srv.Stop())
	assert.Equal(t, []string{"api.internal"}, hosts.List(), "allowance restored after stop")

	signals, waits := spawner.proc.stats()
	assert.Equal(t, []os.Signal{os.Signal(syscall.SIGTERM)}, signals)
	assert.Equal(t, 1, waits)
}

func TestStartErrorBeforeReadyWins(t *testing.T) {
	spawner := &fakeSpawner{
		proc: &fakeProcess{},
		stdout: bootLines(
			`{"type":"error","error":"address already in use"}`,
			`{"type":"ready","port":43211}`,
		),
	}

	srv, err := New(validConfig(spawner), &seqGuard{seq: new([]string)}, NewAllowance(), log.New())
	require.NoError(t, err)

	err = srv.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsChildStartupError(err))
	assert.Contains(t, err.Error(), "address already in use")

	signals, waits := spawner.proc.stats()
	assert.Contains(t, signals, os.Signal(syscall.SIGTERM), "failed startup must reap the child")
	assert.Equal(t, 1, waits)
}

func TestStartChildExitBeforeReady(t *testing.T) {
	spawner := &fakeSpawner{
		proc:   &fakeProcess{},
		stdout: io.NopCloser(strings.NewReader("")),
	}

	srv, err := New(validConfig(spawner), &seqGuard{seq: new([]string)}, NewAllowance(), log.New())
	require.NoError(t, err)

	err = srv.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsChildStartupError(err))
	assert.Contains(t, err.Error(), "exited before")
}

func TestStartTimeout(t *testing.T) {
	silent, keepOpen := io.Pipe()
	defer keepOpen.Close()

	spawner := &fakeSpawner{proc: &fakeProcess{}, stdout: silent}
	cfg := validConfig(spawner)
	cfg.StartTimeout = 50 * time.Millisecond

	srv, err := New(cfg, &seqGuard{seq: new([]string)}, NewAllowance(), log.New())
	require.NoError(t, err)

	err = srv.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsChildStartupError(err))
	assert.Contains(t, err.Error(), "within")
}

func TestStartContextCancelled(t *testing.T) {
	silent, keepOpen := io.Pipe()
	defer keepOpen.Close()

	spawner := &fakeSpawner{proc: &fakeProcess{}, stdout: silent}

	srv, err := New(validConfig(spawner), &seqGuard{seq: new([]string)}, NewAllowance(), log.New())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = srv.Start(ctx)
	require.Error(t, err)
	assert.True(t, IsChildStartupError(err))
}
