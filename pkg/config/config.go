// Package config provides layered configuration for ecmcheck.
// Priority: defaults < system < user < project < env < flags
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ecmcheck/ecmcheck/pkg/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ECMCHECK_"

// Missing-collection policies.
const (
	PolicySkip  = "skip"
	PolicyAbort = "abort"
)

// Config holds all ecmcheck configuration.
type Config struct {
	Version int `yaml:"version"`

	Processor ProcessorConfig `yaml:"processor"`
	Cuts      CutsConfig      `yaml:"cuts"`
	Output    OutputConfig    `yaml:"output"`
	Publish   PublishConfig   `yaml:"publish"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
}

// ProcessorConfig controls event classification.
type ProcessorConfig struct {
	Name              string  `yaml:"name"`
	Collection        string  `yaml:"collection"`
	ECM               float64 `yaml:"ecm"`
	Heartbeat         int64   `yaml:"heartbeat"` // <= 0 disables
	MissingCollection string  `yaml:"missing_collection"`
}

// CutsConfig controls the cut table.
type CutsConfig struct {
	Capacity int `yaml:"capacity"`
}

// OutputConfig controls the dataset and histogram files.
type OutputConfig struct {
	Path        string `yaml:"path"`
	Format      string `yaml:"format"` // parquet | arrow | duckdb, empty = by extension
	Compression string `yaml:"compression"`
	BatchSize   int    `yaml:"batch_size"`
	XLSX        string `yaml:"xlsx"`
}

// PublishConfig controls uploading the output after the job.
type PublishConfig struct {
	S3 S3Config `yaml:"s3"`
}

// S3Config for the optional upload.
type S3Config struct {
	Enabled      bool   `yaml:"enabled"`
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// TelemetryConfig for optional tracing.
type TelemetryConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	Insecure   bool    `yaml:"insecure"`
	SampleRate float64 `yaml:"sample_rate"`
}

// LogConfig for the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console | json
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version: 1,
		Processor: ProcessorConfig{
			Name:              "EcmCheckProcessor",
			Collection:        "MCParticle",
			ECM:               500,
			Heartbeat:         1000,
			MissingCollection: PolicySkip,
		},
		Cuts: CutsConfig{
			Capacity: 20,
		},
		Output: OutputConfig{
			Path:        "output.root",
			Compression: "snappy",
			BatchSize:   1024,
		},
		Publish: PublishConfig{
			S3: S3Config{
				Region: "us-east-1",
			},
		},
		Telemetry: TelemetryConfig{
			Endpoint:   "localhost:4317",
			Insecure:   true,
			SampleRate: 1.0,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Processor.Collection == "" {
		return invalid("processor.collection", "must not be empty")
	}
	if c.Processor.ECM < 0 {
		return invalid("processor.ecm", "must not be negative")
	}
	switch c.Processor.MissingCollection {
	case PolicySkip, PolicyAbort:
	default:
		return invalid("processor.missing_collection", fmt.Sprintf("unknown policy %q", c.Processor.MissingCollection))
	}
	if c.Output.Path == "" {
		return invalid("output.path", "must not be empty")
	}
	if c.Publish.S3.Enabled && c.Publish.S3.Bucket == "" {
		return invalid("publish.s3.bucket", "required when publishing is enabled")
	}
	return nil
}

func invalid(key, msg string) error {
	return errors.New(errors.CodeInvalidConfig, fmt.Sprintf("%s: %s", key, msg)).WithContext("key", key)
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	paths  []string
}

// NewManager creates a new configuration manager.
func NewManager() *Manager {
	return &Manager{
		config: Default(),
	}
}

// Load loads configuration from the standard files, an optional explicit
// file, then the environment.
func (m *Manager) Load(explicit string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = Default()
	m.paths = nil

	for _, path := range configPaths() {
		if err := m.loadFile(path); err != nil {
			if !os.IsNotExist(err) {
				return err
			}
		} else {
			m.paths = append(m.paths, path)
		}
	}

	if explicit != "" {
		if err := m.loadFile(explicit); err != nil {
			if os.IsNotExist(err) {
				return errors.FileNotFound(explicit)
			}
			return err
		}
		m.paths = append(m.paths, explicit)
	}

	return m.loadEnv(os.LookupEnv)
}

func configPaths() []string {
	var paths []string

	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/ecmcheck/config.yaml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".ecmcheck", "config.yaml"))
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, "ecmcheck.yaml"))
	}

	return paths
}

func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var partial Config
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return errors.Wrapf(err, errors.CodeInvalidConfig, "failed to parse %s", path)
	}

	m.merge(&partial)
	return nil
}

// merge merges non-zero values from src into config.
func (m *Manager) merge(src *Config) {
	dst := m.config

	// Processor
	setString(&dst.Processor.Name, src.Processor.Name)
	setString(&dst.Processor.Collection, src.Processor.Collection)
	if src.Processor.ECM != 0 {
		dst.Processor.ECM = src.Processor.ECM
	}
	if src.Processor.Heartbeat != 0 {
		dst.Processor.Heartbeat = src.Processor.Heartbeat
	}
	setString(&dst.Processor.MissingCollection, src.Processor.MissingCollection)

	// Cuts
	if src.Cuts.Capacity != 0 {
		dst.Cuts.Capacity = src.Cuts.Capacity
	}

	// Output
	setString(&dst.Output.Path, src.Output.Path)
	setString(&dst.Output.Format, src.Output.Format)
	setString(&dst.Output.Compression, src.Output.Compression)
	if src.Output.BatchSize != 0 {
		dst.Output.BatchSize = src.Output.BatchSize
	}
	setString(&dst.Output.XLSX, src.Output.XLSX)

	// Publish
	if src.Publish.S3.Enabled {
		dst.Publish.S3.Enabled = true
	}
	setString(&dst.Publish.S3.Bucket, src.Publish.S3.Bucket)
	setString(&dst.Publish.S3.Prefix, src.Publish.S3.Prefix)
	setString(&dst.Publish.S3.Region, src.Publish.S3.Region)
	setString(&dst.Publish.S3.Endpoint, src.Publish.S3.Endpoint)
	if src.Publish.S3.UsePathStyle {
		dst.Publish.S3.UsePathStyle = true
	}

	// Telemetry
	if src.Telemetry.Enabled {
		dst.Telemetry.Enabled = true
	}
	setString(&dst.Telemetry.Endpoint, src.Telemetry.Endpoint)
	if src.Telemetry.SampleRate != 0 {
		dst.Telemetry.SampleRate = src.Telemetry.SampleRate
	}

	// Log
	setString(&dst.Log.Level, src.Log.Level)
	setString(&dst.Log.Format, src.Log.Format)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// loadEnv applies ECMCHECK_* overrides. The key is the YAML path with dots
// replaced by underscores, upper-cased: processor.ecm -> ECMCHECK_PROCESSOR_ECM.
func (m *Manager) loadEnv(lookup func(string) (string, bool)) error {
	for _, key := range Keys() {
		name := EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		v, ok := lookup(name)
		if !ok || v == "" {
			continue
		}
		if err := m.config.Set(key, v); err != nil {
			return errors.Wrapf(err, errors.CodeInvalidConfig, "invalid %s", name)
		}
	}
	return nil
}

// Keys returns every settable key.
func Keys() []string {
	return []string{
		"processor.name",
		"processor.collection",
		"processor.ecm",
		"processor.heartbeat",
		"processor.missing_collection",
		"cuts.capacity",
		"output.path",
		"output.format",
		"output.compression",
		"output.batch_size",
		"output.xlsx",
		"publish.s3.enabled",
		"publish.s3.bucket",
		"publish.s3.prefix",
		"publish.s3.region",
		"publish.s3.endpoint",
		"publish.s3.use_path_style",
		"telemetry.enabled",
		"telemetry.endpoint",
		"telemetry.insecure",
		"telemetry.sample_rate",
		"log.level",
		"log.format",
	}
}

// Set assigns a single key from its string form.
func (c *Config) Set(key, value string) error {
	var err error
	switch key {
	case "processor.name":
		c.Processor.Name = value
	case "processor.collection":
		c.Processor.Collection = value
	case "processor.ecm":
		c.Processor.ECM, err = strconv.ParseFloat(value, 64)
	case "processor.heartbeat":
		c.Processor.Heartbeat, err = strconv.ParseInt(value, 10, 64)
	case "processor.missing_collection":
		c.Processor.MissingCollection = strings.ToLower(value)
	case "cuts.capacity":
		c.Cuts.Capacity, err = strconv.Atoi(value)
	case "output.path":
		c.Output.Path = value
	case "output.format":
		c.Output.Format = strings.ToLower(value)
	case "output.compression":
		c.Output.Compression = strings.ToLower(value)
	case "output.batch_size":
		c.Output.BatchSize, err = strconv.Atoi(value)
	case "output.xlsx":
		c.Output.XLSX = value
	case "publish.s3.enabled":
		c.Publish.S3.Enabled, err = strconv.ParseBool(value)
	case "publish.s3.bucket":
		c.Publish.S3.Bucket = value
	case "publish.s3.prefix":
		c.Publish.S3.Prefix = value
	case "publish.s3.region":
		c.Publish.S3.Region = value
	case "publish.s3.endpoint":
		c.Publish.S3.Endpoint = value
	case "publish.s3.use_path_style":
		c.Publish.S3.UsePathStyle, err = strconv.ParseBool(value)
	case "telemetry.enabled":
		c.Telemetry.Enabled, err = strconv.ParseBool(value)
	case "telemetry.endpoint":
		c.Telemetry.Endpoint = value
	case "telemetry.insecure":
		c.Telemetry.Insecure, err = strconv.ParseBool(value)
	case "telemetry.sample_rate":
		c.Telemetry.SampleRate, err = strconv.ParseFloat(value, 64)
	case "log.level":
		c.Log.Level = value
	case "log.format":
		c.Log.Format = value
	default:
		return fmt.Errorf("unknown key %q", key)
	}
	return err
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}

// Marshal renders the current configuration as YAML.
func (m *Manager) Marshal() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return yaml.Marshal(m.config)
}

// Save writes the current config to path, or to the user config file when
// path is empty.
func (m *Manager) Save(path string) error {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		path = filepath.Join(home, ".ecmcheck", "config.yaml")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := m.Marshal()
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
