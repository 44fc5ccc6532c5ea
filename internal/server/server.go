package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/itstheanurag/codesandbox/internal/api"
	"github.com/itstheanurag/codesandbox/internal/compiler"
	config "github.com/itstheanurag/codesandbox/internal/config"
	"github.com/itstheanurag/codesandbox/internal/database"
	"github.com/itstheanurag/codesandbox/internal/dispatch"
	"github.com/itstheanurag/codesandbox/internal/executor"
	"github.com/itstheanurag/codesandbox/internal/languages"
	"github.com/itstheanurag/codesandbox/internal/limiter"
	"github.com/itstheanurag/codesandbox/internal/queue"
	"github.com/itstheanurag/codesandbox/internal/sandbox"
	"github.com/itstheanurag/codesandbox/internal/worker"
	"github.com/itstheanurag/codesandbox/internal/workspace"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const limiterIdle = 5 * time.Minute

type Server struct {
	conf        *config.Config
	logger      *zerolog.Logger
	httpServer  *http.Server
	db          *database.Database
	engine      *sandbox.DockerEngine
	envs        *sandbox.Registry
	queue       *queue.Manager
	workers     []*worker.Worker
	rateLimiter *limiter.RateLimiter
	cancelFunc  context.CancelFunc
}

// Core is the submission pipeline without any transport around it.
type Core struct {
	Executor     *executor.Executor
	Environments *sandbox.Registry
	Engine       *sandbox.DockerEngine
}

// EnvironmentSpecs turns the sandbox config into registry specs.
func EnvironmentSpecs(conf config.SandboxConfig) []sandbox.EnvironmentSpec {
	spec := func(role sandbox.Role, env config.EnvironmentConfig) sandbox.EnvironmentSpec {
		return sandbox.EnvironmentSpec{
			Role:               role,
			Image:              env.Image,
			Container:          env.Container,
			BuildContext:       env.BuildContext,
			Pull:               env.Pull,
			KeepAliveCmd:       []string{"sleep", "infinity"},
			MemoryBytes:        env.MemoryMB << 20,
			NanoCPUs:           int64(env.CPUs * 1e9),
			PidsLimit:          env.PidsLimit,
			SeccompProfilePath: env.Seccomp,
		}
	}
	return []sandbox.EnvironmentSpec{
		spec(sandbox.RoleCompile, conf.Compile),
		spec(sandbox.RoleExecute, conf.Execute),
	}
}

// NewCore connects to Docker and assembles the pipeline.
func NewCore(conf *config.Config, logger *zerolog.Logger) (*Core, error) {
	workspaces, err := workspace.NewManager(conf.Sandbox.WorkspaceRoot, conf.Sandbox.MountPoint, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare workspace root: %w", err)
	}

	engine, err := sandbox.NewDockerEngine(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	envs := sandbox.NewRegistry(engine, workspaces.Root(), workspaces.RunnerRoot(), EnvironmentSpecs(conf.Sandbox), logger)
	comp := compiler.New(envs, engine, logger,
		compiler.WithTimeout(time.Duration(conf.Sandbox.CompileTimeoutMs)*time.Millisecond))
	disp := dispatch.New(engine, conf.Sandbox.RunnerPath,
		time.Duration(conf.Sandbox.DispatchGraceMs)*time.Millisecond, logger)

	exec := executor.NewExecutor(languages.NewRegistry(), workspaces, envs, comp, disp, logger,
		executor.WithLimitCeilings(conf.Sandbox.MaxTimeLimitMs, conf.Sandbox.MaxMemoryMB<<20))

	return &Core{
		Executor:     exec,
		Environments: envs,
		Engine:       engine,
	}, nil
}

func New(
	conf *config.Config,
	logger *zerolog.Logger,
) (*Server, error) {

	var db *database.Database
	if conf.Db.Enabled {
		var err error
		db, err = database.New(conf, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	core, err := NewCore(conf, logger)
	if err != nil {
		return nil, err
	}

	q := queue.NewManager(conf.Server.QueueCapacity)
	rl := limiter.NewRateLimiter(conf.Server.GlobalRPS, conf.Server.ClientRPS, conf.Server.ClientBurst, conf.Server.MaxInFlight)
	rl.SetTrustProxy(conf.Server.TrustProxy)

	handler := api.NewHandler(q, languages.NewRegistry(), time.Duration(conf.Server.WriteTimeout)*time.Second)
	if db != nil {
		handler.SetHistory(db)
	}

	mux := http.NewServeMux()

	// health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/languages", handler.Languages)
	mux.HandleFunc("/debug", rl.Middleware(handler.Debug))
	mux.HandleFunc("/debug/cases", rl.Middleware(handler.DebugCases))
	mux.HandleFunc("/judge", rl.Middleware(handler.Judge))
	mux.HandleFunc("/judgements", handler.Judgements)

	httpServer := &http.Server{
		Addr:         ":" + conf.Server.Port,
		Handler:      mux,
		ReadTimeout:  time.Duration(conf.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(conf.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(conf.Server.IdleTimeout) * time.Second,
	}

	var recorder worker.Recorder
	if db != nil {
		recorder = db
	}
	workers := make([]*worker.Worker, conf.Server.Workers)
	for i := range workers {
		workers[i] = worker.NewWorker(i, core.Executor, q, recorder, logger)
	}

	s := &Server{
		conf:        conf,
		logger:      logger,
		httpServer:  httpServer,
		db:          db,
		engine:      core.Engine,
		envs:        core.Environments,
		queue:       q,
		workers:     workers,
		rateLimiter: rl,
	}

	return s, nil
}

func (s *Server) Start() error {
	s.logger.Info().
		Str("port", s.conf.Server.Port).
		Msg("starting HTTP server")

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelFunc = cancel

	// both shared environments must be up before accepting submissions
	if err := s.envs.EnsureAll(ctx); err != nil {
		return fmt.Errorf("failed to bootstrap environments: %w", err)
	}

	if s.db != nil {
		if err := s.db.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	s.rateLimiter.StartCleanup(ctx, limiterIdle)
	for _, w := range s.workers {
		go w.Start(ctx)
	}

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")

	if s.cancelFunc != nil {
		s.cancelFunc()
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	if s.db != nil {
		s.db.Close()
	}
	if err := s.engine.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to close docker client")
	}

	return nil
}
