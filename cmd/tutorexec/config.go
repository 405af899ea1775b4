package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"tutorexec/internal/domain/execution"
	"tutorexec/internal/runtime"
	"tutorexec/internal/runtime/docker"
	"tutorexec/internal/session"
	"tutorexec/internal/workspace"
)

const (
	backendDocker = "docker"
	backendNative = "native"

	defaultKafkaJobsTopic    = "jobs"
	defaultKafkaReportsTopic = "job-reports"
	defaultKafkaGroupID      = "tutorexec-worker"

	defaultMemoryLimit = 128 << 20
	defaultNanoCPUs    = 500_000_000
	defaultPidsLimit   = 64

	defaultReapInterval = time.Minute
)

type appConfig struct {
	Backend string `yaml:"backend"`

	Image     string            `yaml:"image"`
	Images    map[string]string `yaml:"images"`
	MountPath string            `yaml:"mount_path"`
	User      string            `yaml:"user"`

	MemoryLimitBytes int64   `yaml:"memory_limit_bytes"`
	CPUs             float64 `yaml:"cpus"`
	PidsLimit        int64   `yaml:"pids_limit"`

	Timeout          time.Duration `yaml:"timeout"`
	MaxTimeout       time.Duration `yaml:"max_timeout"`
	CompileTimeout   time.Duration `yaml:"compile_timeout"`
	MaxOutputBytes   int           `yaml:"max_output_bytes"`
	SessionRetention time.Duration `yaml:"session_retention"`

	WorkspaceRoot   string `yaml:"workspace_root"`
	WorkspacePrefix string `yaml:"workspace_prefix"`

	Commands map[string]runtime.CommandOverride `yaml:"commands"`

	KafkaBrokers []string `yaml:"kafka_brokers"`
	JobsTopic    string   `yaml:"jobs_topic"`
	ReportsTopic string   `yaml:"reports_topic"`
	GroupID      string   `yaml:"group_id"`
	JobsFile     string   `yaml:"jobs_file"`
	MaxJobs      int      `yaml:"max_jobs"`
	MaxParallel  int      `yaml:"max_parallel"`

	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

func defaultAppConfig() appConfig {
	return appConfig{
		Backend:          backendDocker,
		Image:            docker.DefaultImage,
		MountPath:        docker.DefaultMountPath,
		MemoryLimitBytes: defaultMemoryLimit,
		CPUs:             float64(defaultNanoCPUs) / 1e9,
		PidsLimit:        defaultPidsLimit,
		Timeout:          session.DefaultTimeout,
		MaxTimeout:       session.DefaultMaxTimeout,
		CompileTimeout:   session.DefaultCompileTimeout,
		MaxOutputBytes:   session.DefaultMaxOutputBytes,
		SessionRetention: session.DefaultRetention,
		WorkspacePrefix:  workspace.DefaultPrefix,
		JobsTopic:        defaultKafkaJobsTopic,
		ReportsTopic:     defaultKafkaReportsTopic,
		GroupID:          defaultKafkaGroupID,
		MaxParallel:      1,
		LogLevel:         "info",
		LogFormat:        "console",
	}
}

// loadAppConfig layers defaults, the optional YAML file named by
// TUTOREXEC_CONFIG and environment variables, in that order.
func loadAppConfig() (appConfig, error) {
	cfg := defaultAppConfig()

	if path := os.Getenv("TUTOREXEC_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return appConfig{}, fmt.Errorf("read config file: %w", err)
		}
		if err := decodeConfigFile(data, &cfg); err != nil {
			return appConfig{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return appConfig{}, err
	}
	return cfg, nil
}

func decodeConfigFile(data []byte, cfg *appConfig) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *appConfig) applyEnv() {
	c.Backend = envOrDefault("TUTOREXEC_BACKEND", c.Backend)
	c.Image = envOrDefault("SANDBOX_IMAGE", c.Image)
	c.MountPath = envOrDefault("SANDBOX_MOUNT_PATH", c.MountPath)
	c.User = envOrDefault("SANDBOX_USER", c.User)

	c.MemoryLimitBytes = parseBytes(os.Getenv("RUNNER_MEMORY_LIMIT"), c.MemoryLimitBytes)
	c.CPUs = parseCPUs(os.Getenv("RUNNER_CPUS"), c.CPUs)
	c.PidsLimit = parseBytes(os.Getenv("RUNNER_PIDS_LIMIT"), c.PidsLimit)

	c.Timeout = parseDuration(os.Getenv("RUNNER_TIME_LIMIT"), c.Timeout)
	c.MaxTimeout = parseDuration(os.Getenv("RUNNER_MAX_TIME_LIMIT"), c.MaxTimeout)
	c.CompileTimeout = parseDuration(os.Getenv("RUNNER_COMPILE_TIME_LIMIT"), c.CompileTimeout)
	c.MaxOutputBytes = int(parseBytes(os.Getenv("RUNNER_MAX_OUTPUT_BYTES"), int64(c.MaxOutputBytes)))
	c.SessionRetention = parseDuration(os.Getenv("SESSION_RETENTION"), c.SessionRetention)

	c.WorkspaceRoot = envOrDefault("WORKSPACE_ROOT", c.WorkspaceRoot)
	c.WorkspacePrefix = envOrDefault("WORKSPACE_PREFIX", c.WorkspacePrefix)

	for _, lang := range execution.Languages() {
		prefix := strings.ToUpper(string(lang)) + "_"
		if img := os.Getenv(prefix + "IMAGE"); img != "" {
			if c.Images == nil {
				c.Images = map[string]string{}
			}
			c.Images[string(lang)] = img
		}
		compile, run := os.Getenv(prefix+"COMPILE_CMD"), os.Getenv(prefix+"RUN_CMD")
		if compile == "" && run == "" {
			continue
		}
		if c.Commands == nil {
			c.Commands = map[string]runtime.CommandOverride{}
		}
		override := c.Commands[string(lang)]
		if compile != "" {
			override.Compile = compile
		}
		if run != "" {
			override.Run = run
		}
		c.Commands[string(lang)] = override
	}

	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		c.KafkaBrokers = parseBrokerList(raw)
	}
	c.JobsTopic = envOrDefault("KAFKA_TOPIC", c.JobsTopic)
	c.ReportsTopic = envOrDefault("KAFKA_RESULTS_TOPIC", c.ReportsTopic)
	c.GroupID = envOrDefault("KAFKA_GROUP_ID", c.GroupID)
	c.JobsFile = envOrDefault("JOBS_FILE", c.JobsFile)
	if raw := os.Getenv("JOBS_EXPECTED"); raw != "" {
		c.MaxJobs = parseMaxJobs(raw)
	}
	if raw := os.Getenv("RUNNER_MAX_PARALLEL"); raw != "" {
		c.MaxParallel = parseMaxParallel(raw)
	}

	c.MetricsAddr = envOrDefault("METRICS_ADDR", c.MetricsAddr)
	c.LogLevel = envOrDefault("LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOrDefault("LOG_FORMAT", c.LogFormat)
}

func (c appConfig) validate() error {
	switch c.Backend {
	case backendDocker, backendNative:
	default:
		return fmt.Errorf("unknown backend %q (want %s or %s)", c.Backend, backendDocker, backendNative)
	}
	if c.MaxTimeout > 0 && c.Timeout > c.MaxTimeout {
		return fmt.Errorf("timeout %s exceeds max timeout %s", c.Timeout, c.MaxTimeout)
	}
	if c.MaxParallel <= 0 {
		return fmt.Errorf("max_parallel must be positive, got %d", c.MaxParallel)
	}
	return nil
}

func (c appConfig) limits() execution.RunLimits {
	return execution.RunLimits{
		MemoryLimitBytes: c.MemoryLimitBytes,
		NanoCPUs:         int64(c.CPUs * 1e9),
		PidsLimit:        c.PidsLimit,
	}.Normalize()
}

func (c appConfig) sessionConfig() session.Config {
	return session.Config{
		Limits:         c.limits(),
		DefaultTimeout: c.Timeout,
		MaxTimeout:     c.MaxTimeout,
		CompileTimeout: c.CompileTimeout,
		MaxOutputBytes: c.MaxOutputBytes,
	}
}

func (c appConfig) dockerConfig() (docker.Config, error) {
	images := make(map[execution.Language]string, len(c.Images))
	for raw, img := range c.Images {
		lang, err := execution.ParseLanguage(raw)
		if err != nil {
			return docker.Config{}, fmt.Errorf("images: %w", err)
		}
		images[lang] = img
	}
	return docker.Config{
		Image:         c.Image,
		Images:        images,
		MountPath:     c.MountPath,
		User:          c.User,
		DefaultLimits: c.limits(),
	}, nil
}

func (c appConfig) workspaceConfig() workspace.Config {
	cfg := workspace.Config{Root: c.WorkspaceRoot, Prefix: c.WorkspacePrefix}
	if c.Backend == backendDocker {
		// The sandbox user inside the container is not the host owner.
		cfg.DirMode = 0o777
	}
	return cfg
}

func (c appConfig) registry() (*runtime.Registry, error) {
	overrides := make(map[execution.Language]runtime.CommandOverride, len(c.Commands))
	for raw, override := range c.Commands {
		lang, err := execution.ParseLanguage(raw)
		if err != nil {
			return nil, fmt.Errorf("commands: %w", err)
		}
		overrides[lang] = override
	}
	profiles, err := runtime.ApplyOverrides(runtime.DefaultProfiles(), overrides)
	if err != nil {
		return nil, err
	}
	return runtime.NewRegistry(profiles...)
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseBrokerList(raw string) []string {
	fields := strings.Split(raw, ",")
	brokers := make([]string, 0, len(fields))
	for _, field := range fields {
		if trimmed := strings.TrimSpace(field); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	return brokers
}

func parseMaxJobs(raw string) int {
	if raw == "" {
		return 0
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	if value < 0 {
		return 0
	}
	return value
}

func parseMaxParallel(raw string) int {
	if raw == "" {
		return 1
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return 1
	}
	return value
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

func parseBytes(raw string, fallback int64) int64 {
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

func parseCPUs(raw string, fallback float64) float64 {
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
