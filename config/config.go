// Package config holds the runtime configuration of the collector: arena
// sizing, growth policy and debug toggles. Configurations are loaded from
// YAML files; byte quantities accept human-readable strings like "4MB".
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/inhies/go-bytesize"
	"gopkg.in/yaml.v2"
)

// A Size is a byte quantity. In YAML it may be written as a plain integer or
// as a human-readable string ("512KB", "4MB").
type Size uint64

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Size) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw interface{}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case int:
		if v < 0 {
			return fmt.Errorf("config: negative size %d", v)
		}
		*s = Size(v)
	case string:
		parsed, err := bytesize.Parse(v)
		if err != nil {
			return fmt.Errorf("config: bad size %q: %w", v, err)
		}
		*s = Size(parsed)
	default:
		return fmt.Errorf("config: size must be an integer or a string, got %T", raw)
	}
	return nil
}

// String renders the size in human-readable form.
func (s Size) String() string {
	return bytesize.New(float64(s)).String()
}

// Config describes one collector instance.
type Config struct {
	// HeapSize is the initial heap size, including block metadata.
	HeapSize Size `yaml:"heap-size"`

	// MaxHeapSize bounds heap growth. The arena is reserved at this size up
	// front; the heap only commits into it as it grows.
	MaxHeapSize Size `yaml:"max-heap-size"`

	// GrowthPercent is how much the heap grows when a collection cannot
	// recover enough headroom, relative to the current heap size.
	GrowthPercent int `yaml:"growth-percent"`

	// StackSize is the default stack reservation for new tasks.
	StackSize Size `yaml:"stack-size"`

	// Asserts enables contract checking on the extension surface.
	// Violations fault the process instead of going unnoticed.
	Asserts bool `yaml:"asserts"`

	// Debug enables collector debug output.
	Debug bool `yaml:"debug"`
}

const (
	defaultHeapSize      = 1 << 20 // 1MB
	defaultMaxHeapSize   = 1 << 26 // 64MB
	defaultGrowthPercent = 100
	defaultStackSize     = 1 << 14 // 16KB
)

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		HeapSize:      defaultHeapSize,
		MaxHeapSize:   defaultMaxHeapSize,
		GrowthPercent: defaultGrowthPercent,
		StackSize:     defaultStackSize,
		Asserts:       true,
	}
}

// ApplyDefaults fills in zero fields with their default values.
func (c *Config) ApplyDefaults() {
	if c.HeapSize == 0 {
		c.HeapSize = defaultHeapSize
	}
	if c.MaxHeapSize == 0 {
		c.MaxHeapSize = c.HeapSize
		if c.MaxHeapSize < defaultMaxHeapSize {
			c.MaxHeapSize = defaultMaxHeapSize
		}
	}
	if c.GrowthPercent == 0 {
		c.GrowthPercent = defaultGrowthPercent
	}
	if c.StackSize == 0 {
		c.StackSize = defaultStackSize
	}
}

// Validation errors.
var (
	ErrHeapTooSmall = errors.New("config: heap size too small")
	ErrMaxBelowInit = errors.New("config: max-heap-size below heap-size")
	ErrBadGrowth    = errors.New("config: growth-percent out of range")
	ErrUnaligned    = errors.New("config: heap sizes must be multiples of 4KB")
)

// minHeapSize leaves room for metadata plus at least a handful of blocks.
const minHeapSize = 4096

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.HeapSize < minHeapSize {
		return ErrHeapTooSmall
	}
	if c.MaxHeapSize < c.HeapSize {
		return ErrMaxBelowInit
	}
	if c.HeapSize%4096 != 0 || c.MaxHeapSize%4096 != 0 {
		return ErrUnaligned
	}
	if c.GrowthPercent < 1 || c.GrowthPercent > 1000 {
		return ErrBadGrowth
	}
	return nil
}

// Parse decodes a YAML configuration. Unknown fields are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Config{}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return Config{}, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(data)
}
