package sandbox

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/docker/docker/errdefs"
	"github.com/itstheanurag/codesandbox/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// EnvironmentSpec describes the image and container backing one role.
type EnvironmentSpec struct {
	Role      Role
	Image     string
	Container string

	// BuildContext is a directory holding the image's Dockerfile. When empty
	// the image is pulled if Pull is set, and otherwise assumed to exist.
	BuildContext string
	Pull         bool

	KeepAliveCmd []string
	MemoryBytes  int64
	NanoCPUs     int64
	PidsLimit    int64

	// SeccompProfilePath is read once per container creation.
	SeccompProfilePath string
}

// Registry keeps exactly one long-lived container per role. Every submission
// shares it; isolation comes from the per-submission workspace directory.
type Registry struct {
	engine     Engine
	specs      map[Role]EnvironmentSpec
	mountSrc   string
	mountPoint string
	logger     *zerolog.Logger

	group   singleflight.Group
	mu      sync.RWMutex
	handles map[Role]string
}

// NewRegistry binds mountSrc (the host workspace root) to mountPoint in every
// container it creates.
func NewRegistry(engine Engine, mountSrc, mountPoint string, specs []EnvironmentSpec, logger *zerolog.Logger) *Registry {
	r := &Registry{
		engine:     engine,
		specs:      make(map[Role]EnvironmentSpec, len(specs)),
		mountSrc:   mountSrc,
		mountPoint: mountPoint,
		logger:     logger,
		handles:    make(map[Role]string),
	}
	for _, s := range specs {
		r.specs[s.Role] = s
	}
	return r
}

// Ensure returns the id of the running container for role, creating or
// starting it when needed. Concurrent callers share one attempt.
func (r *Registry) Ensure(ctx context.Context, role Role) (string, error) {
	v, err, _ := r.group.Do(string(role), func() (any, error) {
		start := time.Now()
		id, err := r.ensure(ctx, role)
		metrics.EnvironmentEnsureDuration.WithLabelValues(string(role)).Observe(float64(time.Since(start).Milliseconds()))
		if err != nil {
			metrics.EnvironmentFailures.WithLabelValues(string(role)).Inc()
			return "", err
		}
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Get returns the cached container id without contacting the engine.
func (r *Registry) Get(role Role) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.handles[role]
	if !ok {
		return "", fmt.Errorf("%s: %w", role, ErrNotEnsured)
	}
	return id, nil
}

// EnsureAll brings up every configured role concurrently.
func (r *Registry) EnsureAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for role := range r.specs {
		role := role
		g.Go(func() error {
			_, err := r.Ensure(ctx, role)
			return err
		})
	}
	return g.Wait()
}

func (r *Registry) ensure(ctx context.Context, role Role) (string, error) {
	spec, ok := r.specs[role]
	if !ok {
		return "", &EnvironmentError{Role: role, Op: "lookup", Err: ErrUnknownRole}
	}
	log := r.logger.With().Str("role", string(role)).Str("container", spec.Container).Logger()

	state, err := r.engine.FindContainer(ctx, spec.Container)
	if err != nil {
		return "", &EnvironmentError{Role: role, Op: "find container", Err: err}
	}
	if state == nil {
		state, err = r.create(ctx, spec)
		if err != nil {
			return "", err
		}
		log.Info().Str("id", state.ID).Msg("environment container created")
	}

	if !state.Running {
		if err := r.engine.StartContainer(ctx, state.ID); err != nil {
			return "", &EnvironmentError{Role: role, Op: "start container", Err: err}
		}
		log.Info().Str("id", state.ID).Msg("environment container started")
	}

	r.mu.Lock()
	r.handles[role] = state.ID
	r.mu.Unlock()
	return state.ID, nil
}

func (r *Registry) create(ctx context.Context, spec EnvironmentSpec) (*ContainerState, error) {
	if err := r.provisionImage(ctx, spec); err != nil {
		return nil, err
	}

	var seccomp string
	if spec.SeccompProfilePath != "" {
		raw, err := os.ReadFile(spec.SeccompProfilePath)
		if err != nil {
			return nil, &EnvironmentError{Role: spec.Role, Op: "load seccomp profile", Err: err}
		}
		seccomp = string(raw)
	}

	id, err := r.engine.CreateContainer(ctx, CreateSpec{
		Name:           spec.Container,
		Image:          spec.Image,
		Cmd:            spec.KeepAliveCmd,
		Binds:          []string{r.mountSrc + ":" + r.mountPoint},
		MemoryBytes:    spec.MemoryBytes,
		NanoCPUs:       spec.NanoCPUs,
		PidsLimit:      spec.PidsLimit,
		Tmpfs:          map[string]string{"/tmp": "rw,exec,nosuid,size=64m,mode=1777"},
		SeccompProfile: seccomp,
	})
	if err == nil {
		return &ContainerState{ID: id}, nil
	}
	if !errdefs.IsConflict(err) {
		return nil, &EnvironmentError{Role: spec.Role, Op: "create container", Err: err}
	}

	// another process won the race for the name
	state, ferr := r.engine.FindContainer(ctx, spec.Container)
	if ferr != nil {
		return nil, &EnvironmentError{Role: spec.Role, Op: "find container", Err: ferr}
	}
	if state == nil {
		return nil, &EnvironmentError{Role: spec.Role, Op: "create container", Err: err}
	}
	return state, nil
}

func (r *Registry) provisionImage(ctx context.Context, spec EnvironmentSpec) error {
	exists, err := r.engine.ImageExists(ctx, spec.Image)
	if err != nil {
		return &EnvironmentError{Role: spec.Role, Op: "list images", Err: err}
	}
	if exists {
		return nil
	}

	switch {
	case spec.BuildContext != "":
		err = r.engine.BuildImage(ctx, spec.Image, spec.BuildContext)
	case spec.Pull:
		err = r.engine.PullImage(ctx, spec.Image)
	default:
		err = fmt.Errorf("%s: %w", spec.Image, ErrImageAbsent)
	}
	if err != nil {
		return &EnvironmentError{Role: spec.Role, Op: "provision image", Err: err}
	}
	return nil
}
