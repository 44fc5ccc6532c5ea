package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Server  ServerConfig  `toml:"server"`
	Db      DbConfig      `toml:"db"`
	Sandbox SandboxConfig `toml:"sandbox"`
	Log     LogConfig     `toml:"log"`
}

type ServerConfig struct {
	Port          string  `toml:"port"`
	ReadTimeout   int     `toml:"read_timeout"`
	WriteTimeout  int     `toml:"write_timeout"`
	IdleTimeout   int     `toml:"idle_timeout"`
	Workers       int     `toml:"workers"`
	QueueCapacity int     `toml:"queue_capacity"`
	GlobalRPS     float64 `toml:"global_rps"`
	ClientRPS     float64 `toml:"client_rps"`
	ClientBurst   int     `toml:"client_burst"`
	MaxInFlight   int     `toml:"max_in_flight"`

	// TrustProxy keys rate limits on X-Forwarded-For; enable only behind a proxy that sets it.
	TrustProxy bool `toml:"trust_proxy"`
}

type DbConfig struct {
	Enabled  bool   `toml:"enabled"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Name     string `toml:"name"`
	SSLMode  string `toml:"ssl_mode"`
}

type EnvironmentConfig struct {
	Image        string  `toml:"image"`
	Container    string  `toml:"container"`
	BuildContext string  `toml:"build_context"`
	Pull         bool    `toml:"pull"`
	MemoryMB     int64   `toml:"memory_mb"`
	CPUs         float64 `toml:"cpus"`
	PidsLimit    int64   `toml:"pids_limit"`
	Seccomp      string  `toml:"seccomp"`
}

type SandboxConfig struct {
	WorkspaceRoot    string            `toml:"workspace_root"`
	MountPoint       string            `toml:"mount_point"`
	RunnerPath       string            `toml:"runner_path"`
	CompileTimeoutMs int64             `toml:"compile_timeout_ms"`
	DispatchGraceMs  int64             `toml:"dispatch_grace_ms"`
	MaxTimeLimitMs   int64             `toml:"max_time_limit_ms"`
	MaxMemoryMB      int64             `toml:"max_memory_limit_mb"`
	Compile          EnvironmentConfig `toml:"compile"`
	Execute          EnvironmentConfig `toml:"execute"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Pretty bool   `toml:"pretty"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          "8080",
			ReadTimeout:   10,
			WriteTimeout:  60,
			IdleTimeout:   120,
			Workers:       5,
			QueueCapacity: 100,
			GlobalRPS:     100,
			ClientRPS:     10,
			ClientBurst:   20,
			MaxInFlight:   50,
		},
		Db: DbConfig{
			Host:    "localhost",
			Port:    5432,
			User:    "postgres",
			Name:    "codesandbox",
			SSLMode: "disable",
		},
		Sandbox: SandboxConfig{
			WorkspaceRoot:    "/var/lib/codesandbox/workspaces",
			MountPoint:       "/codeStore",
			RunnerPath:       "/execute_core/execute_core",
			CompileTimeoutMs: 30000,
			DispatchGraceMs:  5000,
			MaxTimeLimitMs:   10000,
			MaxMemoryMB:      1024,
			Compile: EnvironmentConfig{
				Image:        "codesandbox/compile_env:1.0",
				Container:    "codesandbox_compile",
				BuildContext: "deploy/compile_env",
				MemoryMB:     512,
				CPUs:         1,
				PidsLimit:    128,
			},
			Execute: EnvironmentConfig{
				Image:        "codesandbox/sandbox:1.0",
				Container:    "codesandbox_execute",
				BuildContext: "deploy/sandbox",
				MemoryMB:     512,
				CPUs:         1,
				PidsLimit:    128,
				Seccomp:      "deploy/sandbox/seccomp.json",
			},
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}

// LoadConfig layers defaults, the TOML file at path (if any), a .env file in
// the working directory and finally the process environment.
func LoadConfig(path string) (*Config, error) {
	conf := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := toml.Unmarshal(raw, conf); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := applyEnv(conf); err != nil {
		return nil, err
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Server.Port == "":
		return errors.New("server port is required")
	case c.Server.Workers < 1:
		return errors.New("at least one worker is required")
	case c.Sandbox.WorkspaceRoot == "":
		return errors.New("sandbox workspace root is required")
	case !strings.HasPrefix(c.Sandbox.MountPoint, "/"):
		return fmt.Errorf("sandbox mount point %q must be absolute", c.Sandbox.MountPoint)
	case c.Sandbox.Compile.Container == "" || c.Sandbox.Execute.Container == "":
		return errors.New("both environment containers must be named")
	case c.Sandbox.Compile.Container == c.Sandbox.Execute.Container:
		return errors.New("compile and execute environments must use different containers")
	case c.Sandbox.MaxTimeLimitMs <= 0 || c.Sandbox.MaxMemoryMB <= 0:
		return errors.New("sandbox limit ceilings must be positive")
	}
	return nil
}

func applyEnv(c *Config) error {
	strs := map[string]*string{
		"SERVER_PORT":             &c.Server.Port,
		"DB_HOST":                 &c.Db.Host,
		"DB_USER":                 &c.Db.User,
		"DB_PASSWORD":             &c.Db.Password,
		"DB_NAME":                 &c.Db.Name,
		"DB_SSLMODE":              &c.Db.SSLMode,
		"SANDBOX_WORKSPACE_ROOT":  &c.Sandbox.WorkspaceRoot,
		"SANDBOX_MOUNT_POINT":     &c.Sandbox.MountPoint,
		"SANDBOX_RUNNER_PATH":     &c.Sandbox.RunnerPath,
		"SANDBOX_COMPILE_IMAGE":   &c.Sandbox.Compile.Image,
		"SANDBOX_EXECUTE_IMAGE":   &c.Sandbox.Execute.Image,
		"SANDBOX_COMPILE_CONTEXT": &c.Sandbox.Compile.BuildContext,
		"SANDBOX_EXECUTE_CONTEXT": &c.Sandbox.Execute.BuildContext,
		"SANDBOX_SECCOMP_PROFILE": &c.Sandbox.Execute.Seccomp,
		"LOG_LEVEL":               &c.Log.Level,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"SERVER_READ_TIMEOUT":  &c.Server.ReadTimeout,
		"SERVER_WRITE_TIMEOUT": &c.Server.WriteTimeout,
		"SERVER_IDLE_TIMEOUT":  &c.Server.IdleTimeout,
		"SERVER_WORKERS":       &c.Server.Workers,
		"DB_PORT":              &c.Db.Port,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = n
	}

	int64s := map[string]*int64{
		"SANDBOX_MAX_TIME_LIMIT_MS":   &c.Sandbox.MaxTimeLimitMs,
		"SANDBOX_MAX_MEMORY_LIMIT_MB": &c.Sandbox.MaxMemoryMB,
	}
	for key, dst := range int64s {
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = n
	}

	bools := map[string]*bool{
		"DB_ENABLED":         &c.Db.Enabled,
		"SERVER_TRUST_PROXY": &c.Server.TrustProxy,
	}
	for key, dst := range bools {
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = b
	}
	return nil
}
