// Package config loads the daemon configuration from a JSON file and the
// environment.
package config

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"kvfs/pkg/vfs"
)

// EnvConfig names the variable that overrides the configuration path.
const EnvConfig = "KVFS_CONFIG"

var (
	ErrMountPath   = errors.New("config: mount path must be absolute and below /")
	ErrMissingHost = errors.New("config: mount needs a host directory")
	ErrInvalidSize = errors.New("config: size must be positive")
)

// Mount attaches a host directory to the namespace.
type Mount struct {
	Path     string `json:"path"`
	HostDir  string `json:"host_dir"`
	ReadOnly bool   `json:"read_only"`
}

// RAMDisk is a block device created under /dev.
type RAMDisk struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

type Config struct {
	LogLevel string `json:"log_level"`

	// RootCapacity bounds the bytes stored in the root volume. Zero means
	// unbounded.
	RootCapacity int64 `json:"root_capacity"`

	RAMDisks []RAMDisk `json:"ram_disks"`
	Mounts   []Mount   `json:"mounts"`

	// FuseMountPoint is the host directory the namespace is served at.
	// Empty disables FUSE.
	FuseMountPoint string `json:"fuse_mount_point"`
	FuseReadOnly   bool   `json:"fuse_read_only"`

	// MaxFiles is the descriptor table size of each process.
	MaxFiles int `json:"max_files"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		MaxFiles: 256,
	}
}

// Read loads the configuration at path, or at $KVFS_CONFIG when set, over
// the defaults and applies environment overrides. An empty path with no
// $KVFS_CONFIG yields the defaults.
func Read(path string) (*Config, error) {
	if env := os.Getenv(EnvConfig); env != "" {
		path = env
	}

	cfg := Default()
	if path != "" {
		contents, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "config: read")
		}
		if err := json.Unmarshal(contents, cfg); err != nil {
			return nil, errors.Wrapf(err, "config: decode %s", path)
		}
		log.Debugf("[CONFIG] loaded %s", path)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("KVFS_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("KVFS_FUSE_MOUNT"); v != "" {
		c.FuseMountPoint = v
	}
	if v := os.Getenv("KVFS_ROOT_CAPACITY"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return errors.Wrap(err, "config: KVFS_ROOT_CAPACITY")
		}
		c.RootCapacity = n
	}
	if v := os.Getenv("KVFS_MAX_FILES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, "config: KVFS_MAX_FILES")
		}
		c.MaxFiles = n
	}
	return nil
}

// Validate checks the configuration for values the daemon cannot use.
func (c *Config) Validate() error {
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "config: log_level")
	}
	if c.RootCapacity < 0 {
		return errors.Wrap(ErrInvalidSize, "root_capacity")
	}
	if c.MaxFiles <= 0 {
		return errors.Wrap(ErrInvalidSize, "max_files")
	}
	for _, d := range c.RAMDisks {
		if err := vfs.ValidateName(d.Name); err != nil {
			return errors.Wrapf(err, "config: ram disk %q", d.Name)
		}
		if d.Size <= 0 {
			return errors.Wrapf(ErrInvalidSize, "ram disk %s", d.Name)
		}
	}
	for _, m := range c.Mounts {
		if !vfs.IsAbs(m.Path) || vfs.Clean(m.Path) == "/" {
			return errors.Wrap(ErrMountPath, m.Path)
		}
		if m.HostDir == "" {
			return errors.Wrap(ErrMissingHost, m.Path)
		}
	}
	return nil
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() log.Level {
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}
