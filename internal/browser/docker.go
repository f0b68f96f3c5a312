package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/shehryarbajwa/renderpool/internal/logger"
)

// DefaultDockerImage is the browser image used when none is configured
const DefaultDockerImage = "browserless/chrome:latest"

// DockerConfig configures browsers launched as containers
type DockerConfig struct {
	Image         string
	Host          string
	LaunchTimeout time.Duration
}

// DockerLauncher runs each browser in its own browserless/chrome container
type DockerLauncher struct {
	client *client.Client
	cfg    DockerConfig
	log    logger.Logger
}

// NewDockerLauncher creates a docker-backed launcher using the environment's docker settings
func NewDockerLauncher(cfg DockerConfig, log logger.Logger) (*DockerLauncher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	if cfg.Image == "" {
		cfg.Image = DefaultDockerImage
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.LaunchTimeout <= 0 {
		cfg.LaunchTimeout = DefaultLaunchTimeout
	}

	return &DockerLauncher{client: cli, cfg: cfg, log: log}, nil
}

// Launch starts a container, waits for its CDP endpoint and connects to it
func (d *DockerLauncher) Launch(ctx context.Context, sessionID string) (Handle, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.LaunchTimeout)
	defer cancel()

	containerConfig := &container.Config{
		Image: d.cfg.Image,
		Labels: map[string]string{
			"session-id": sessionID,
			"managed-by": "renderpool",
		},
		Env: []string{
			"CONNECTION_TIMEOUT=-1",        // the pool owns the lifetime, not browserless
			"MAX_CONCURRENT_SESSIONS=1",    // one session per container
			"PREBOOT_CHROME=true",          // faster first connection
			"EXIT_ON_HEALTH_FAILURE=false", // health is checked by the session actor
		},
		ExposedPorts: nat.PortSet{
			"3000/tcp": struct{}{},
		},
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			"3000/tcp": []nat.PortBinding{
				{
					HostIP:   "0.0.0.0",
					HostPort: "0",
				},
			},
		},
		AutoRemove: false,
	}

	resp, err := d.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, containerName(sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	if err := d.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		d.removeContainer(resp.ID)
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	inspect, err := d.client.ContainerInspect(ctx, resp.ID)
	if err != nil {
		d.removeContainer(resp.ID)
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}

	bindings := inspect.NetworkSettings.Ports["3000/tcp"]
	if len(bindings) == 0 {
		d.removeContainer(resp.ID)
		return nil, fmt.Errorf("container %s has no published CDP port", resp.ID[:12])
	}
	port := bindings[0].HostPort

	if err := d.waitForBrowserReady(ctx, port); err != nil {
		d.removeContainer(resp.ID)
		return nil, fmt.Errorf("browser failed to become ready: %w", err)
	}

	controlURL := fmt.Sprintf("ws://%s:%s", d.cfg.Host, port)
	b, err := connect(ctx, controlURL)
	if err != nil {
		d.removeContainer(resp.ID)
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	d.log.Debug("Browser container started",
		logger.String("session_id", sessionID),
		logger.String("container_id", resp.ID[:12]),
		logger.String("port", port))

	containerID := resp.ID
	return newRodHandle(b, controlURL, func() { d.removeContainer(containerID) }), nil
}

// containerName is unique per session; fallback ids share a prefix, so the
// whole id is kept
func containerName(sessionID string) string {
	return "renderpool-" + sessionID
}

// removeContainer stops and removes a container, logging failures
func (d *DockerLauncher) removeContainer(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	timeout := 10
	if err := d.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		d.log.Warn("Failed to stop container", logger.String("container_id", containerID), logger.Error(err))
	}
	if err := d.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		d.log.Warn("Failed to remove container", logger.String("container_id", containerID), logger.Error(err))
	}
}

// EnsureImage pulls the browser image if it is not present locally
func (d *DockerLauncher) EnsureImage(ctx context.Context) error {
	images, err := d.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return err
	}

	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == d.cfg.Image {
				return nil
			}
		}
	}

	reader, err := d.client.ImagePull(ctx, d.cfg.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

// Close releases the docker client
func (d *DockerLauncher) Close() error {
	return d.client.Close()
}

// waitForBrowserReady polls /json/version until the browser answers or ctx ends
func (d *DockerLauncher) waitForBrowserReady(ctx context.Context, port string) error {
	url := fmt.Sprintf("http://%s:%s/json/version", d.cfg.Host, port)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("browser did not answer on port %s: %w", port, ctx.Err())
		case <-ticker.C:
		}
	}
}
