package cmn

import (
	"fmt"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Config encapsulates the process-level configuration: temp
// directory, lock-attempt bound, PMGD allocator count, HTTP proxy,
// object-store endpoint override, and the log-level selector. It is
// loaded once at startup and swapped atomically on reload.
type Config struct {
	Net      NetConfig     `yaml:"net"`
	Storage  StorageConfig `yaml:"storage"`
	Lock     LockConfig    `yaml:"lock"`
	Proxy    ProxyConfig   `yaml:"proxy"`
	UDF      UDFConfig     `yaml:"udf"`
	LogLevel string        `yaml:"log_level"`
}

type NetConfig struct {
	Listen      string `yaml:"listen"`       // client frame protocol
	AdminListen string `yaml:"admin_listen"` // prometheus metrics, empty disables
}

// UDFConfig locates the local user-defined-function worker's
// request-reply socket; empty disables userOp.
type UDFConfig struct {
	SocketPath string `yaml:"socket_path"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

type StorageConfig struct {
	RootDir       string `yaml:"root_dir"`
	TempDir       string `yaml:"temp_dir"`
	AllocatorCnt  int    `yaml:"pmgd_allocators"`
	ObjectStore   ObjectStoreConfig `yaml:"object_store"`
}

type ObjectStoreConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	EndpointOverride string `yaml:"endpoint_override"` // used instead of the default AWS endpoint when set
	Region          string `yaml:"region"`
}

type LockConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
}

type ProxyConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Scheme string `yaml:"scheme"`
}

// Validator is implemented by *Config; the sections themselves carry no
// Validate method. Config.Validate fills in defaults and returns the first
// problem it finds.
type Validator interface {
	Validate() error
}

func (c *Config) Validate() error {
	if c.Storage.RootDir == "" {
		return fmt.Errorf("cmn: storage.root_dir must be set")
	}
	if c.Storage.TempDir == "" {
		c.Storage.TempDir = c.Storage.RootDir + "/tmp"
	}
	if c.Lock.MaxAttempts <= 0 {
		c.Lock.MaxAttempts = DefaultMaxLockAttempts
	}
	if c.Storage.AllocatorCnt <= 0 {
		c.Storage.AllocatorCnt = 1
	}
	if c.Net.Listen == "" {
		c.Net.Listen = ":55555"
	}
	return nil
}

const DefaultMaxLockAttempts = 10

// owner holds the installed config: one pointer, no mutex needed for
// readers, a plain overwrite for the rare reload path.
var owner atomic.Pointer[Config]

// Load reads and validates a YAML config file, then installs it as the
// process-global Config. Environment variables take precedence over the
// file when set.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cmn: reading config %s: %w", path, err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("cmn: parsing config %s: %w", path, err)
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	owner.Store(cfg)
	return cfg, nil
}

// GetConfig returns the currently installed global Config. Callers that
// need testability without the global should construct and thread a
// *Config explicitly instead (see internal/vdmsrv for the no-singleton
// variant).
func GetConfig() *Config { return owner.Load() }

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VDMS_TEMP_DIR"); v != "" {
		cfg.Storage.TempDir = v
	}
	if v := os.Getenv("VDMS_MAX_LOCK_ATTEMPTS"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			cfg.Lock.MaxAttempts = n
		}
	}
	if v := os.Getenv("VDMS_PMGD_ALLOCATORS"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			cfg.Storage.AllocatorCnt = n
		}
	}
	if v := os.Getenv("VDMS_HTTP_PROXY_HOST"); v != "" {
		cfg.Proxy.Host = v
	}
	if v := os.Getenv("VDMS_HTTP_PROXY_PORT"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			cfg.Proxy.Port = n
		}
	}
	if v := os.Getenv("VDMS_HTTP_PROXY_SCHEME"); v != "" {
		cfg.Proxy.Scheme = v
	}
	if v := os.Getenv("VDMS_OBJECT_STORE_ENDPOINT"); v != "" {
		cfg.Storage.ObjectStore.EndpointOverride = v
	}
	if v := os.Getenv("VDMS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}
