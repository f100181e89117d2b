// Package config loads, resolves and validates the server configuration.
//
// The configuration is one YAML document. String values may use the
// <prefix>:<rest> indirection resolved through a Resolvers registry, so
// secrets can point at the environment instead of living in the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	units "github.com/docker/go-units"
	"github.com/go-openapi/swag"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap/zapcore"
	yaml "gopkg.in/yaml.v2"

	"github.com/treelinehq/treeline/pkg/config/status"
	"github.com/treelinehq/treeline/pkg/tlogger"
)

const (
	// DefaultListenAddress is the port clients connect to.
	DefaultListenAddress = ":36462"

	// DefaultMaxContentSize caps one file's content in a push.
	DefaultMaxContentSize = ByteSize(1 << 20)

	// DefaultNamespace prefixes all coordination keys in etcd.
	DefaultNamespace = "treeline"

	// DefaultSessionTTLSeconds is the leadership lease TTL.
	DefaultSessionTTLSeconds = 15

	// DefaultMirrorInterval is how often mirror schedules are checked.
	DefaultMirrorInterval = Duration(time.Minute)

	nodeIDFile = "node-id"
)

// ReplicationMethod selects how nodes share the command log.
type ReplicationMethod string

const (
	// ReplicationNone runs a single node against a local log.
	ReplicationNone ReplicationMethod = "none"

	// ReplicationEtcd replicates the log through an etcd cluster.
	ReplicationEtcd ReplicationMethod = "etcd"
)

// ByteSize is a byte count accepting human-friendly YAML ("1MiB", "512kB"
// or a plain number).
type ByteSize int64

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw interface{}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	switch value := raw.(type) {
	case int:
		*b = ByteSize(value)
	case int64:
		*b = ByteSize(value)
	case string:
		size, err := units.RAMInBytes(value)
		if err != nil {
			return fmt.Errorf("invalid byte size %q: %w", value, err)
		}
		*b = ByteSize(size)
	default:
		return fmt.Errorf("invalid byte size %v", raw)
	}
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (b ByteSize) MarshalYAML() (interface{}, error) {
	return units.BytesSize(float64(b)), nil
}

// Int64 returns the size in bytes.
func (b ByteSize) Int64() int64 {
	return int64(b)
}

// Duration accepts time.Duration YAML syntax ("1m", "30s").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ReplicationConfig selects and parameterizes the command log backend.
type ReplicationConfig struct {
	Method            ReplicationMethod `json:"method" yaml:"method"`
	Namespace         string            `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Endpoints         []string          `json:"endpoints,omitempty" yaml:"endpoints,omitempty"`
	Username          string            `json:"username,omitempty" yaml:"username,omitempty"`
	Password          string            `json:"password,omitempty" yaml:"password,omitempty"`
	SessionTTLSeconds int               `json:"sessionTTLSeconds,omitempty" yaml:"sessionTTLSeconds,omitempty"`
	_                 struct{}
}

// MirrorConfig parameterizes the mirror scheduler.
type MirrorConfig struct {
	Enabled       bool     `json:"enabled" yaml:"enabled"`
	CheckInterval Duration `json:"checkInterval,omitempty" yaml:"checkInterval,omitempty"`
	_             struct{}
}

// Config is the server configuration document.
type Config struct {
	NodeID         string            `json:"nodeID,omitempty" yaml:"nodeID,omitempty"`
	ListenAddress  string            `json:"listenAddress,omitempty" yaml:"listenAddress,omitempty"`
	DataDir        string            `json:"dataDir" yaml:"dataDir"`
	Zone           string            `json:"zone,omitempty" yaml:"zone,omitempty"`
	MaxContentSize ByteSize          `json:"maxContentSize,omitempty" yaml:"maxContentSize,omitempty"`
	LogLevel       string            `json:"logLevel,omitempty" yaml:"logLevel,omitempty"`
	Replication    ReplicationConfig `json:"replication,omitempty" yaml:"replication,omitempty"`
	Mirror         MirrorConfig      `json:"mirror,omitempty" yaml:"mirror,omitempty"`
	_              struct{}
}

// Default returns the configuration a bare file overrides.
func Default() Config {
	return Config{
		ListenAddress:  DefaultListenAddress,
		MaxContentSize: DefaultMaxContentSize,
		LogLevel:       tlogger.LogLevelInfo,
		Replication: ReplicationConfig{
			Method:            ReplicationNone,
			Namespace:         DefaultNamespace,
			SessionTTLSeconds: DefaultSessionTTLSeconds,
		},
		Mirror: MirrorConfig{
			CheckInterval: DefaultMirrorInterval,
		},
	}
}

// Load reads, resolves and validates a YAML configuration file. A nil
// resolver registry gets the built-in one.
func Load(pth string, resolvers *Resolvers) (*Config, error) {
	buf, err := os.ReadFile(pth)
	if err != nil {
		return nil, err
	}
	return Parse(buf, resolvers)
}

// Parse overlays a YAML document on the defaults, resolves prefixed
// values and validates the result.
func Parse(buf []byte, resolvers *Resolvers) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(buf, &c); err != nil {
		return nil, status.ErrInvalidConfig.Wrap(err)
	}
	if err := c.Resolve(resolvers); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Resolve rewrites the fields that accept <prefix>:<rest> indirection.
func (c *Config) Resolve(resolvers *Resolvers) error {
	if resolvers == nil {
		resolvers = NewResolvers()
	}
	for _, field := range []struct {
		target   *string
		property string
	}{
		{&c.Zone, "zone"},
		{&c.Replication.Username, "replication.username"},
		{&c.Replication.Password, "replication.password"},
	} {
		resolved, err := resolvers.ConvertValue(*field.target, field.property)
		if err != nil {
			return err
		}
		*field.target = resolved
	}
	return nil
}

// Validate reports the first offending field.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return status.ErrInvalidConfig.WrapMessage("dataDir is required")
	}
	if _, _, err := swag.SplitHostPort(c.ListenAddress); err != nil {
		return status.ErrInvalidConfig.WrapMessage("listenAddress %q: %w", c.ListenAddress, err)
	}
	if c.MaxContentSize <= 0 {
		return status.ErrInvalidConfig.WrapMessage("maxContentSize must be positive, got %d", c.MaxContentSize)
	}
	if c.LogLevel != tlogger.LogLevelNone {
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
			return status.ErrInvalidConfig.WrapMessage("logLevel %q: %w", c.LogLevel, err)
		}
	}

	switch c.Replication.Method {
	case ReplicationNone:
	case ReplicationEtcd:
		if len(c.Replication.Endpoints) == 0 {
			return status.ErrInvalidConfig.WrapMessage("replication.endpoints is required with the etcd method")
		}
		if c.Replication.Namespace == "" {
			return status.ErrInvalidConfig.WrapMessage("replication.namespace is required with the etcd method")
		}
		if c.Replication.SessionTTLSeconds <= 0 {
			return status.ErrInvalidConfig.WrapMessage("replication.sessionTTLSeconds must be positive")
		}
	default:
		return status.ErrInvalidConfig.WrapMessage("replication.method %q is not one of none, etcd", c.Replication.Method)
	}

	if c.Mirror.Enabled && c.Mirror.CheckInterval <= 0 {
		return status.ErrInvalidConfig.WrapMessage("mirror.checkInterval must be positive when mirroring is enabled")
	}
	return nil
}

// EnsureNodeID returns the configured node identity, minting and
// persisting one under the data directory on first boot so the node keeps
// its identity across restarts.
func (c *Config) EnsureNodeID(fs afero.Fs) (string, error) {
	if c.NodeID != "" {
		return c.NodeID, nil
	}

	pth := filepath.Join(c.DataDir, nodeIDFile)
	buf, err := afero.ReadFile(fs, pth)
	if err == nil {
		if id := strings.TrimSpace(string(buf)); id != "" {
			c.NodeID = id
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return "", err
	}

	id := uuid.NewString()
	if err = fs.MkdirAll(c.DataDir, 0700); err != nil {
		return "", err
	}
	if err = afero.WriteFile(fs, pth, []byte(id+"\n"), 0600); err != nil {
		return "", err
	}
	c.NodeID = id
	return id, nil
}
