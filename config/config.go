package config

import (
	"os"
	"sync"

	"emperror.dev/errors"
	"github.com/creasty/defaults"
	"gopkg.in/yaml.v2"
)

var (
	mu      sync.RWMutex
	_config *Configuration
)

type Configuration struct {
	// Determines if the application should be running in debug mode. When set
	// additional diagnostic output is written by the logger.
	Debug bool `default:"false" yaml:"debug"`

	System SystemConfiguration `yaml:"system"`
}

// SystemConfiguration defines where sandbox data lives on the host and how
// aggressively idle sandbox handles are released.
type SystemConfiguration struct {
	// Directory under which every origin sandbox is stored.
	RootDirectory string `default:"/var/lib/veilfs" yaml:"root_directory"`

	// Name of the SQLite file holding the origin directory mappings and the
	// persisted usage counters. The file is created directly under the root
	// directory.
	OriginDatabaseName string `default:"origins.db" yaml:"origin_database"`

	// Name of the per-sandbox SQLite file holding the virtual directory tree.
	// One such file exists inside every (origin, storage type) directory.
	DirectoryDatabaseName string `default:"paths.db" yaml:"directory_database"`

	// The number of seconds a sandbox handle may sit unused before a call to
	// CloseIdle is allowed to release it.
	SandboxIdleSeconds int `default:"300" yaml:"sandbox_idle"`

	// Number of workers used when recomputing the usage of a sandbox by
	// statting every backing file it references.
	UsageScanWorkers int `default:"4" yaml:"usage_scan_workers"`
}

// NewAtPath builds a configuration struct using the default values and, when
// path is not empty, the YAML document stored there. This function does not
// modify the currently stored global configuration.
func NewAtPath(path string) (*Configuration, error) {
	var c Configuration
	if err := defaults.Set(&c); err != nil {
		return nil, errors.Wrap(err, "config: could not set default values")
	}
	if path == "" {
		return &c, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "config: could not read file")
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, errors.Wrap(err, "config: could not decode file")
	}
	return &c, nil
}

// Set the global configuration instance.
func Set(c *Configuration) {
	mu.Lock()
	_config = c
	mu.Unlock()
}

// Get returns a copy of the global configuration instance. Any changes made
// to the returned value are not persisted back, use Set for that.
func Get() *Configuration {
	mu.RLock()
	defer mu.RUnlock()
	if _config == nil {
		c, err := NewAtPath("")
		if err != nil {
			panic(errors.Wrap(err, "config: failed to build default configuration"))
		}
		return c
	}
	c := *_config
	return &c
}
