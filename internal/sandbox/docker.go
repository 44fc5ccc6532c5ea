package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/rs/zerolog"
)

const execPollInterval = 10 * time.Millisecond

type DockerEngine struct {
	cli    *client.Client
	logger *zerolog.Logger
}

func NewDockerEngine(logger *zerolog.Logger) (*DockerEngine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &DockerEngine{cli: cli, logger: logger}, nil
}

func (e *DockerEngine) Close() error {
	return e.cli.Close()
}

func (e *DockerEngine) FindContainer(ctx context.Context, name string) (*ContainerState, error) {
	list, err := e.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", "^/"+name+"$")),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	for _, c := range list {
		for _, n := range c.Names {
			if strings.TrimPrefix(n, "/") == name {
				return &ContainerState{ID: c.ID, Running: c.State == "running"}, nil
			}
		}
	}
	return nil, nil
}

func (e *DockerEngine) ImageExists(ctx context.Context, ref string) (bool, error) {
	images, err := e.cli.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", ref)),
	})
	if err != nil {
		return false, fmt.Errorf("failed to list images: %w", err)
	}
	return len(images) > 0, nil
}

func (e *DockerEngine) BuildImage(ctx context.Context, ref, contextDir string) error {
	buildContext, err := archive.TarWithOptions(contextDir, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("failed to archive build context %s: %w", contextDir, err)
	}
	defer buildContext.Close()

	e.logger.Info().Str("image", ref).Str("context", contextDir).Msg("building docker image")
	resp, err := e.cli.ImageBuild(ctx, buildContext, types.ImageBuildOptions{
		Tags:        []string{ref},
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return fmt.Errorf("failed to build image %s: %w", ref, err)
	}
	defer resp.Body.Close()

	if err := e.drainProgress(resp.Body, ref); err != nil {
		return fmt.Errorf("failed to build image %s: %w", ref, err)
	}
	e.logger.Info().Str("image", ref).Msg("successfully built docker image")
	return nil
}

func (e *DockerEngine) PullImage(ctx context.Context, ref string) error {
	e.logger.Info().Str("image", ref).Msg("pulling docker image")
	reader, err := e.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer reader.Close()

	// the pull only completes once the stream is consumed
	if err := e.drainProgress(reader, ref); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	e.logger.Info().Str("image", ref).Msg("successfully pulled docker image")
	return nil
}

// drainProgress consumes a build or pull stream and surfaces the first error message in it.
func (e *DockerEngine) drainProgress(r io.Reader, ref string) error {
	dec := json.NewDecoder(r)
	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if msg.Error != nil {
			return msg.Error
		}
		if line := strings.TrimSpace(msg.Stream); line != "" {
			e.logger.Debug().Str("image", ref).Msg(line)
		} else if msg.Status != "" {
			e.logger.Debug().Str("image", ref).Str("progress", msg.Status).Msg("image progress")
		}
	}
}

func (e *DockerEngine) CreateContainer(ctx context.Context, spec CreateSpec) (string, error) {
	pidsLimit := spec.PidsLimit
	securityOpt := []string{"no-new-privileges"}
	if spec.SeccompProfile != "" {
		securityOpt = append(securityOpt, "seccomp="+spec.SeccompProfile)
	}

	resp, err := e.cli.ContainerCreate(ctx, &container.Config{
		Image:           spec.Image,
		Cmd:             spec.Cmd,
		Tty:             true,
		OpenStdin:       true,
		NetworkDisabled: true,
	}, &container.HostConfig{
		Binds:          spec.Binds,
		ReadonlyRootfs: true,
		NetworkMode:    "none",
		Resources: container.Resources{
			Memory:     spec.MemoryBytes,
			MemorySwap: spec.MemoryBytes, // no swap
			NanoCPUs:   spec.NanoCPUs,
			PidsLimit:  &pidsLimit,
		},
		SecurityOpt: securityOpt,
		Tmpfs:       spec.Tmpfs,
	}, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container %s: %w", spec.Name, err)
	}
	for _, w := range resp.Warnings {
		e.logger.Warn().Str("container", spec.Name).Msg(w)
	}
	return resp.ID, nil
}

func (e *DockerEngine) StartContainer(ctx context.Context, id string) error {
	if err := e.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", id, err)
	}
	return nil
}

// Exec runs one fresh process in a running container and waits for it.
func (e *DockerEngine) Exec(ctx context.Context, containerID string, req ExecRequest) (*ExecResult, error) {
	execResp, err := e.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          req.Cmd,
		WorkingDir:   req.WorkingDir,
		AttachStdin:  req.Stdin != nil,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create exec: %w", err)
	}

	attachResp, err := e.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to attach exec: %w", err)
	}
	defer attachResp.Close()

	if req.Stdin != nil {
		go func() {
			_, _ = io.Copy(attachResp.Conn, req.Stdin)
			_ = attachResp.CloseWrite()
		}()
	}

	var stdout, stderr bytes.Buffer
	done := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, attachResp.Reader)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("failed to read exec output: %w", err)
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	for {
		inspect, err := e.cli.ContainerExecInspect(ctx, execResp.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to inspect exec: %w", err)
		}
		if !inspect.Running {
			return &ExecResult{
				Stdout:   stdout.String(),
				Stderr:   stderr.String(),
				ExitCode: inspect.ExitCode,
			}, nil
		}
		select {
		case <-time.After(execPollInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
