package liveserver

import (
	"context"
	"io"
	"os"
	"os/exec"
)

// Process is the subprocess surface the server manager drives. The child
// forks further internally to serve requests; only the top-level process is
// visible here.
type Process interface {
	Signal(sig os.Signal) error
	Wait() error
}

// Spawner starts the server child and hands back its stdout, the boot
// channel the child reports readiness on. Tests substitute scripted pipes.
type Spawner interface {
	Spawn(ctx context.Context, argv, env []string) (Process, io.ReadCloser, error)
}

type execSpawner struct{}

func (execSpawner) Spawn(ctx context.Context, argv, env []string) (Process, io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stderr = os.Stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, err
	}
	return &execProcess{cmd: cmd}, stdout, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Signal(sig os.Signal) error {
	return p.cmd.Process.Signal(sig)
}

func (p *execProcess) Wait() error {
	return p.cmd.Wait()
}
