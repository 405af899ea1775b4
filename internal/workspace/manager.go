package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"tutorexec/internal/metrics"
)

const (
	DefaultPrefix  = "coding_tutor_"
	DefaultDirMode = os.FileMode(0o755)
	fileMode       = os.FileMode(0o644)
)

var ErrInvalidFilename = errors.New("invalid workspace filename")

// Config controls where workspaces are created.
type Config struct {
	// Root is the parent directory; empty means os.TempDir().
	Root   string
	Prefix string
	// DirMode is applied to each workspace after creation. Container backends
	// running as an unprivileged user need a world-writable directory.
	DirMode os.FileMode
}

// Manager hands out exclusive, ephemeral directories.
type Manager struct {
	root    string
	prefix  string
	dirMode os.FileMode
	logger  zerolog.Logger

	removeAll func(string) error
}

func NewManager(cfg Config, logger zerolog.Logger) (*Manager, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.DirMode == 0 {
		cfg.DirMode = DefaultDirMode
	}
	if strings.ContainsAny(cfg.Prefix, `/\`) {
		return nil, fmt.Errorf("workspace prefix %q must not contain path separators", cfg.Prefix)
	}
	if cfg.Root != "" {
		if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
			return nil, fmt.Errorf("create workspace root: %w", err)
		}
	}
	return &Manager{
		root:    cfg.Root,
		prefix:  cfg.Prefix,
		dirMode:   cfg.DirMode,
		logger:    logger.With().Str("component", "workspace").Logger(),
		removeAll: os.RemoveAll,
	}, nil
}

// Acquire creates a new empty directory with a unique name.
func (m *Manager) Acquire() (*Workspace, error) {
	dir, err := os.MkdirTemp(m.root, m.prefix)
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	// MkdirTemp creates 0700 regardless of umask.
	if err := os.Chmod(dir, m.dirMode); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("chmod workspace: %w", err)
	}

	m.logger.Debug().Str("workspace", dir).Msg("workspace acquired")
	return &Workspace{path: dir, logger: m.logger, removeAll: m.removeAll}, nil
}

// Workspace is a directory owned by exactly one session.
type Workspace struct {
	path      string
	logger    zerolog.Logger
	removeAll func(string) error

	once     sync.Once
	released bool
	mu       sync.Mutex
}

func (w *Workspace) Path() string {
	return w.path
}

// Materialize writes content as a UTF-8 file named name. Invalid UTF-8
// sequences are replaced with U+FFFD.
func (w *Workspace) Materialize(name, content string) (string, error) {
	if err := validateFilename(name); err != nil {
		return "", err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.released {
		return "", fmt.Errorf("materialize %s: workspace already released", name)
	}

	target := filepath.Join(w.path, name)
	if err := os.WriteFile(target, []byte(strings.ToValidUTF8(content, "�")), fileMode); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return target, nil
}

// Release removes the directory tree. It never fails: removal errors are
// logged and swallowed. Calls after the first are no-ops.
func (w *Workspace) Release() {
	w.once.Do(func() {
		w.mu.Lock()
		w.released = true
		w.mu.Unlock()

		if err := w.removeAll(w.path); err != nil {
			metrics.CleanupFailures.WithLabelValues("workspace").Inc()
			w.logger.Warn().Err(err).Str("workspace", w.path).Msg("failed to remove workspace")
			return
		}
		w.logger.Debug().Str("workspace", w.path).Msg("workspace released")
	})
}

func validateFilename(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	}
	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	}
	return nil
}
