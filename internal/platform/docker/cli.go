package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dontdude/codebox/internal/sandbox"
)

// CLI launches sandbox containers by running the docker command-line client.
type CLI struct {
	binary string
	log    zerolog.Logger
}

// Check if CLI implements sandbox.Launcher
var _ sandbox.Launcher = (*CLI)(nil)

// NewCLI returns a launcher that runs binary, "docker" if empty.
func NewCLI(binary string, logger zerolog.Logger) *CLI {
	if binary == "" {
		binary = "docker"
	}
	return &CLI{binary: binary, log: logger.With().Str("component", "docker-cli").Logger()}
}

func containerName() string {
	return "sandbox-" + uuid.NewString()
}

// runArgs builds the arguments of one `docker run` invocation.
func runArgs(name string, spec sandbox.LaunchSpec) []string {
	l := spec.Limits
	args := []string{"run", "--rm", "-i", "--name", name}

	if l.Memory != "" {
		args = append(args, "--memory="+l.Memory)
		swap := l.MemorySwap
		if swap == "" {
			swap = l.Memory
		}
		args = append(args, "--memory-swap="+swap)
	}
	if l.CPUs > 0 {
		args = append(args, "--cpus="+strconv.FormatFloat(l.CPUs, 'f', -1, 64))
	}
	if l.Pids > 0 {
		args = append(args, "--pids-limit="+strconv.FormatInt(l.Pids, 10))
	}
	if l.CPUTime > 0 {
		args = append(args, fmt.Sprintf("--ulimit=cpu=%d:%d", l.CPUTime, l.CPUTime))
	}
	if l.NoFile > 0 {
		args = append(args, fmt.Sprintf("--ulimit=nofile=%d:%d", l.NoFile, l.NoFile))
	}
	network := l.Network
	if network == "" {
		network = "none"
	}
	args = append(args, "--network="+network, "--security-opt=no-new-privileges")

	args = append(args, spec.Image)
	return append(args, spec.Command...)
}

// Launch starts `docker run` in the foreground. The process lives as long as the container.
func (c *CLI) Launch(ctx context.Context, spec sandbox.LaunchSpec, stdout, stderr io.Writer) (sandbox.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name := containerName()
	// Not CommandContext: the engine decides when to kill, and Kill also reaches the container.
	cmd := exec.Command(c.binary, runArgs(name, spec)...)
	cmd.Stdin = strings.NewReader(spec.Stdin)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start sandbox: %w", err)
	}

	p := &cliProcess{
		cmd:    cmd,
		name:   name,
		binary: c.binary,
		done:   make(chan struct{}),
		log:    c.log,
	}
	go p.wait()
	return p, nil
}

// cliProcess is one foreground `docker run`.
type cliProcess struct {
	cmd    *exec.Cmd
	name   string
	binary string
	log    zerolog.Logger

	killOnce sync.Once
	reaped   chan struct{} // closed when `docker kill` returns; nil if never issued
	done     chan struct{}
	status   sandbox.ExitStatus
}

func (p *cliProcess) ID() string { return p.name }

func (p *cliProcess) Done() <-chan struct{} { return p.done }

func (p *cliProcess) Wait() sandbox.ExitStatus {
	<-p.done
	return p.status
}

// Kill force-stops the container and the client process.
func (p *cliProcess) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}

	p.killOnce.Do(func() {
		p.reaped = make(chan struct{})
		go func() {
			defer close(p.reaped)
			p.killContainer()
		}()
	})

	err := p.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// killContainer is best effort: the container may already be gone.
func (p *cliProcess) killContainer() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, p.binary, "kill", p.name).CombinedOutput()
	if err != nil {
		p.log.Debug().Err(err).Str("container", p.name).Bytes("output", out).Msg("docker kill did not succeed")
	}
}

// wait reports the process as done only after any `docker kill` it triggered has returned,
// so the container is gone by the time the registry lets go of it.
func (p *cliProcess) wait() {
	p.status = exitStatus(p.cmd.Wait())

	// Once the client has exited no new `docker kill` may start.
	p.killOnce.Do(func() {})
	if p.reaped != nil {
		<-p.reaped
	}
	close(p.done)
}

// exitStatus maps the result of cmd.Wait. A signal termination reports 128 + the signal.
func exitStatus(err error) sandbox.ExitStatus {
	if err == nil {
		return sandbox.ExitStatus{}
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return sandbox.ExitStatus{Code: -1, Err: fmt.Errorf("failed to wait for sandbox: %w", err)}
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		sig := ws.Signal()
		return sandbox.ExitStatus{Code: 128 + int(sig), Signal: signalName(sig)}
	}
	return sandbox.ExitStatus{Code: exitErr.ExitCode()}
}

func signalName(sig syscall.Signal) string {
	switch sig {
	case syscall.SIGKILL:
		return "SIGKILL"
	case syscall.SIGTERM:
		return "SIGTERM"
	case syscall.SIGSEGV:
		return "SIGSEGV"
	case syscall.SIGINT:
		return "SIGINT"
	default:
		return sig.String()
	}
}
