// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package posixio

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultReadBufferMin is the read-ahead capacity for byte-mode reads.
	DefaultReadBufferMin = 8192
	// DefaultConvBufferMin is the capacity of the character buffer, and of
	// the read buffer when read conversion is active.
	DefaultConvBufferMin = 128 * 1024
	// DefaultWriteBufferMin is the write buffer capacity.
	DefaultWriteBufferMin = 8192
	// DefaultPipeBuf is the write chunk used when FWSplit is set.
	DefaultPipeBuf = 512
	// DefaultBufsiz is the growth increment of ReadAll.
	DefaultBufsiz = 1024
	// DefaultUngetLimit bounds how far UngetByte may grow the read buffer.
	DefaultUngetLimit = 1 << 20
	// DefaultFirstFakeFD is the first synthetic fileno.
	DefaultFirstFakeFD = 100000
)

// Config holds Host settings. The yaml form covers tunables only; FS and
// Logger are set in code.
type Config struct {
	ReadBufferMin   int    `yaml:"read_buffer_min"`
	ConvBufferMin   int    `yaml:"conv_buffer_min"`
	WriteBufferMin  int    `yaml:"write_buffer_min"`
	PipeBuf         int    `yaml:"pipe_buf"`
	Bufsiz          int    `yaml:"bufsiz"`
	UngetLimit      int    `yaml:"unget_limit"`
	FirstFakeFD     int    `yaml:"first_fake_fd"`
	DefaultExternal string `yaml:"default_external"`
	DefaultInternal string `yaml:"default_internal"`
	// Native selects OS descriptors (os.Pipe) over in-memory pipes.
	Native *bool `yaml:"native"`
	// WSplit enables PIPE_BUF chunking of unbuffered writes on every File.
	WSplit   bool   `yaml:"wsplit"`
	LogLevel string `yaml:"log_level"`

	FS     afero.Fs           `yaml:"-"`
	Logger logrus.FieldLogger `yaml:"-"`
}

// DefaultConfig returns a Config with every field at its default.
func DefaultConfig() *Config {
	return (&Config{}).withDefaults()
}

// LoadConfig reads a yaml configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes yaml configuration and fills in defaults.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.LogLevel != "" {
		if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
			return nil, fmt.Errorf("invalid log_level %q: %w", cfg.LogLevel, err)
		}
	}
	if cfg.DefaultExternal != "" {
		if _, err := LookupEncoding(cfg.DefaultExternal); err != nil {
			return nil, fmt.Errorf("invalid default_external: %w", err)
		}
	}
	if cfg.DefaultInternal != "" {
		if _, err := LookupEncoding(cfg.DefaultInternal); err != nil {
			return nil, fmt.Errorf("invalid default_internal: %w", err)
		}
	}
	return cfg.withDefaults(), nil
}

// withDefaults fills zero fields in place and returns c.
func (c *Config) withDefaults() *Config {
	if c.ReadBufferMin <= 0 {
		c.ReadBufferMin = DefaultReadBufferMin
	}
	if c.ConvBufferMin <= 0 {
		c.ConvBufferMin = DefaultConvBufferMin
	}
	if c.WriteBufferMin <= 0 {
		c.WriteBufferMin = DefaultWriteBufferMin
	}
	if c.PipeBuf <= 0 {
		c.PipeBuf = DefaultPipeBuf
	}
	if c.Bufsiz <= 0 {
		c.Bufsiz = DefaultBufsiz
	}
	if c.UngetLimit <= 0 {
		c.UngetLimit = DefaultUngetLimit
	}
	if c.FirstFakeFD <= 0 {
		c.FirstFakeFD = DefaultFirstFakeFD
	}
	if c.DefaultExternal == "" {
		c.DefaultExternal = "UTF-8"
	}
	if c.Native == nil {
		native := true
		c.Native = &native
	}
	if c.LogLevel == "" {
		c.LogLevel = "warn"
	}
	if c.FS == nil {
		c.FS = afero.NewOsFs()
	}
	if c.Logger == nil {
		c.Logger = newLogger(c.LogLevel)
	}
	return c
}

// IsNative reports whether OS descriptors are preferred.
func (c *Config) IsNative() bool { return c.Native == nil || *c.Native }
