package docker

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-units"
	"github.com/rs/zerolog"

	"github.com/dontdude/codebox/internal/sandbox"
)

// Client launches sandbox containers through the Docker Engine API.
type Client struct {
	cli *client.Client
	log zerolog.Logger
}

// Check if Client implements sandbox.Launcher
var _ sandbox.Launcher = (*Client)(nil)

// NewClient connects to the Docker daemon from the environment and pings it,
// so a broken daemon is reported at startup rather than on the first submission.
func NewClient(ctx context.Context, logger zerolog.Logger) (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to connect to docker daemon: %w", err)
	}

	logger.Info().Msg("docker client initialized")
	return &Client{cli: cli, log: logger.With().Str("component", "docker").Logger()}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.cli.Close()
}

// EnsureImage pulls img unless it is already present.
func (c *Client) EnsureImage(ctx context.Context, img string) error {
	if _, _, err := c.cli.ImageInspectWithRaw(ctx, img); err == nil {
		return nil
	}

	c.log.Info().Str("image", img).Msg("pulling image")
	reader, err := c.cli.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", img, err)
	}
	defer reader.Close()

	// The pull only completes once the progress stream is drained.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", img, err)
	}
	c.log.Info().Str("image", img).Msg("image pulled")
	return nil
}

// Launch creates, attaches and starts one container.
func (c *Client) Launch(ctx context.Context, spec sandbox.LaunchSpec, stdout, stderr io.Writer) (sandbox.Process, error) {
	hostConfig, err := hostConfigFor(spec.Limits)
	if err != nil {
		return nil, err
	}

	name := containerName()
	resp, err := c.cli.ContainerCreate(ctx, &container.Config{
		Image:           spec.Image,
		Cmd:             spec.Command,
		OpenStdin:       true,
		StdinOnce:       true,
		AttachStdin:     true,
		AttachStdout:    true,
		AttachStderr:    true,
		NetworkDisabled: isolated(spec.Limits.Network),
	}, hostConfig, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	p := &apiProcess{cli: c.cli, id: resp.ID, name: name, done: make(chan struct{}), log: c.log}

	attach, err := c.cli.ContainerAttach(ctx, resp.ID, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		p.remove()
		return nil, fmt.Errorf("failed to attach container: %w", err)
	}

	// Register for the exit before starting, so a fast exit cannot be missed.
	waitCh, errCh := c.cli.ContainerWait(context.Background(), resp.ID, container.WaitConditionNextExit)

	if err := c.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		attach.Close()
		p.remove()
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	go func() {
		if spec.Stdin != "" {
			if _, err := io.WriteString(attach.Conn, spec.Stdin); err != nil {
				c.log.Debug().Err(err).Str("container", name).Msg("failed to write stdin")
			}
		}
		if err := attach.CloseWrite(); err != nil {
			c.log.Debug().Err(err).Str("container", name).Msg("failed to close stdin")
		}
	}()

	copied := make(chan struct{})
	go func() {
		defer close(copied)
		if _, err := stdcopy.StdCopy(stdout, stderr, attach.Reader); err != nil {
			c.log.Debug().Err(err).Str("container", name).Msg("output stream ended with error")
		}
	}()

	go func() {
		var status sandbox.ExitStatus
		select {
		case w := <-waitCh:
			status.Code = int(w.StatusCode)
			if w.Error != nil && w.Error.Message != "" {
				status.Err = fmt.Errorf("container wait: %s", w.Error.Message)
			}
		case err := <-errCh:
			status = sandbox.ExitStatus{Code: -1, Err: fmt.Errorf("container wait: %w", err)}
		}
		<-copied
		attach.Close()
		p.remove()
		p.finish(status)
	}()

	return p, nil
}

func isolated(network string) bool {
	return network == "" || network == "none"
}

func hostConfigFor(l sandbox.Limits) (*container.HostConfig, error) {
	res := container.Resources{NanoCPUs: int64(l.CPUs * 1e9)}
	if l.Memory != "" {
		memory, err := l.MemoryBytes()
		if err != nil {
			return nil, fmt.Errorf("invalid memory limit %q: %w", l.Memory, err)
		}
		swap, err := l.MemorySwapBytes()
		if err != nil {
			return nil, fmt.Errorf("invalid memory swap limit %q: %w", l.MemorySwap, err)
		}
		res.Memory, res.MemorySwap = memory, swap
	}

	network := l.Network
	if network == "" {
		network = "none"
	}

	if l.Pids > 0 {
		pids := l.Pids
		res.PidsLimit = &pids
	}
	if l.CPUTime > 0 {
		res.Ulimits = append(res.Ulimits, &units.Ulimit{Name: "cpu", Soft: l.CPUTime, Hard: l.CPUTime})
	}
	if l.NoFile > 0 {
		res.Ulimits = append(res.Ulimits, &units.Ulimit{Name: "nofile", Soft: l.NoFile, Hard: l.NoFile})
	}

	return &container.HostConfig{
		NetworkMode: container.NetworkMode(network),
		Resources:   res,
		SecurityOpt: []string{"no-new-privileges"},
	}, nil
}

// apiProcess is a container started through the Engine API.
type apiProcess struct {
	cli  *client.Client
	id   string
	name string
	log  zerolog.Logger

	once   sync.Once
	done   chan struct{}
	status sandbox.ExitStatus
}

func (p *apiProcess) ID() string { return p.name }

func (p *apiProcess) Done() <-chan struct{} { return p.done }

func (p *apiProcess) Wait() sandbox.ExitStatus {
	<-p.done
	return p.status
}

func (p *apiProcess) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := p.cli.ContainerKill(ctx, p.id, "KILL")
	if err != nil && isGone(err) {
		return nil
	}
	return err
}

func (p *apiProcess) finish(status sandbox.ExitStatus) {
	p.once.Do(func() {
		p.status = status
		close(p.done)
	})
}

func (p *apiProcess) remove() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.cli.ContainerRemove(ctx, p.id, container.RemoveOptions{Force: true}); err != nil && !isGone(err) {
		p.log.Warn().Err(err).Str("container", p.name).Msg("failed to remove container")
	}
}

// isGone reports errors for containers that already exited or were removed.
func isGone(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "No such container") ||
		strings.Contains(msg, "is not running") ||
		strings.Contains(msg, "already in progress")
}
