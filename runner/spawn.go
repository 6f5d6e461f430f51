package runner

import (
	"context"
	"io"
	"os"
	"os/exec"
)

// Process is the subprocess surface the coordinator drives.
type Process interface {
	Signal(sig os.Signal) error
	Wait() error
}

// Spawner starts the runner process and hands back the host ends of its
// stdio: the runner's stdout to read events from and its stdin to write
// commands to. Tests substitute in-memory pipes.
type Spawner interface {
	Spawn(ctx context.Context, argv []string) (Process, io.ReadCloser, io.WriteCloser, error)
}

// execSpawner launches real processes. The child's stderr is inherited
// unmodified: mocha writes its own progress and diagnostics there and the
// operator needs to see them live.
type execSpawner struct{}

func (execSpawner) Spawn(ctx context.Context, argv []string) (Process, io.ReadCloser, io.WriteCloser, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, nil, err
	}
	return &execProcess{cmd: cmd}, stdout, stdin, nil
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
