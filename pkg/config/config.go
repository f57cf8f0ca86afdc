// Package config loads and validates arbor settings from YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-arbor/pkg/arbor"
	"github.com/dd0wney/cluso-arbor/pkg/container"
	"github.com/dd0wney/cluso-arbor/pkg/export"
	"github.com/dd0wney/cluso-arbor/pkg/fields"
	"github.com/dd0wney/cluso-arbor/pkg/logging"
	"github.com/dd0wney/cluso-arbor/pkg/metrics"
)

// Config is the on-disk configuration.
type Config struct {
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`

	// BlockSize is the planter's scan block for text catalogs.
	BlockSize int `yaml:"block_size" validate:"min=0,max=67108864"`
	// Access selects tree or forest granularity for structured catalogs.
	Access       string `yaml:"access" validate:"omitempty,oneof=tree forest"`
	DefaultDType string `yaml:"default_dtype" validate:"omitempty,oneof=int64 float32 float64"`

	// GroupThreshold is the node count at which an export group is flushed.
	GroupThreshold int    `yaml:"group_threshold" validate:"min=0"`
	Codec          string `yaml:"codec" validate:"omitempty,oneof=none snappy zstd"`
	ChunkLen       int    `yaml:"chunk_len" validate:"min=0"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		LogLevel:       "info",
		BlockSize:      arbor.DefaultBlockSize,
		Access:         arbor.AccessTree,
		DefaultDType:   string(fields.Float32),
		GroupThreshold: export.DefaultGroupThreshold,
		Codec:          container.CodecSnappy.String(),
		ChunkLen:       container.DefaultChunkLen,
	}
}

// Load reads path over the defaults and validates the result. An empty
// path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	d := Default()
	c.LogLevel = DefaultOr(c.LogLevel, d.LogLevel)
	c.BlockSize = DefaultOr(c.BlockSize, d.BlockSize)
	c.Access = DefaultOr(c.Access, d.Access)
	c.DefaultDType = DefaultOr(c.DefaultDType, d.DefaultDType)
	c.GroupThreshold = DefaultOr(c.GroupThreshold, d.GroupThreshold)
	c.Codec = DefaultOr(c.Codec, d.Codec)
	c.ChunkLen = DefaultOr(c.ChunkLen, d.ChunkLen)
}

// Validate checks struct tags first, then the rules tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}

	return NewValidator("Config").
		Positive("BlockSize", c.BlockSize).
		Positive("GroupThreshold", c.GroupThreshold).
		When(c.ChunkLen != 0, func(v *Validator) {
			v.RangeInt("ChunkLen", c.ChunkLen, 1, 1<<24)
		}).
		Custom("BlockSize", func() error {
			// A marker line must fit in the first read of a block.
			if c.BlockSize < len("#tree ")+1 {
				return fmt.Errorf("%d bytes cannot hold a tree marker", c.BlockSize)
			}
			return nil
		}).
		Validate()
}

// Logger builds the JSON logger at the configured level.
func (c *Config) Logger() logging.Logger {
	return logging.NewJSONLogger(os.Stderr, logging.ParseLevel(c.LogLevel))
}

// ArborOptions returns the load options for these settings.
func (c *Config) ArborOptions(logger logging.Logger, reg *metrics.Registry) arbor.Options {
	return arbor.Options{
		Logger:       logger,
		Metrics:      reg,
		BlockSize:    c.BlockSize,
		Access:       c.Access,
		DefaultDType: fields.DType(c.DefaultDType),
	}
}

// ExportOptions returns the export options for these settings, writing to
// path.
func (c *Config) ExportOptions(path string, logger logging.Logger, reg *metrics.Registry) (export.Options, error) {
	codec, err := container.ParseCodec(c.Codec)
	if err != nil {
		return export.Options{}, err
	}
	return export.Options{
		Path:           path,
		GroupThreshold: c.GroupThreshold,
		Codec:          codec,
		ChunkLen:       c.ChunkLen,
		Logger:         logger,
		Metrics:        reg,
	}, nil
}
