// Package config is a thin wrapper over go-ucfg's YAML front-end. It
// exists so the rest of the module unpacks typed option structs without
// touching ucfg's API surface directly.
package config

import (
	"github.com/elastic/go-ucfg"
	"github.com/elastic/go-ucfg/yaml"

	"github.com/mel2oo/netshark/logger"
)

// Config wraps a parsed ucfg tree.
type Config struct {
	conf *ucfg.Config
}

// Options is the full CLI/engine configuration file shape.
type Options struct {
	Logger logger.Options `config:"logger"`
	Engine EngineOptions  `config:"engine"`
}

// EngineOptions bounds the engine's resource use: ChunkBytes is how large
// each Append chunk read from disk is. MaxBodyBytes is loaded from config
// but nothing reads it; HTTP exchange bodies are kept whole.
type EngineOptions struct {
	ChunkBytes   int `config:"chunkBytes"`
	MaxBodyBytes int `config:"maxBodyBytes"`
}

// DefaultOptions are used when no config file is given.
func DefaultOptions() Options {
	return Options{
		Logger: logger.Options{Stdout: true, Level: "info"},
		Engine: EngineOptions{
			ChunkBytes:   256 * 1024,
			MaxBodyBytes: 4 * 1024 * 1024,
		},
	}
}

func New(conf *ucfg.Config) *Config {
	return &Config{conf: conf}
}

// Has reports whether path s exists in the tree.
func (c *Config) Has(s string) bool {
	ok, err := c.conf.Has(s, -1)
	if err != nil {
		return false
	}
	return ok
}

// Child returns the subtree at s.
func (c *Config) Child(s string) (*Config, error) {
	content, err := c.conf.Child(s, -1)
	if err != nil {
		return nil, err
	}
	return &Config{conf: content}, nil
}

// Unpack fills a tagged struct from the whole tree.
func (c *Config) Unpack(to any) error {
	return c.conf.Unpack(to)
}

// UnpackChild fills a tagged struct from the subtree at s.
func (c *Config) UnpackChild(s string, to any) error {
	content, err := c.conf.Child(s, -1)
	if err != nil {
		return err
	}
	return content.Unpack(to)
}

// LoadPath parses the YAML file at path.
func LoadPath(path string) (*Config, error) {
	conf, err := yaml.NewConfigWithFile(path, ucfg.PathSep("."))
	if err != nil {
		return nil, err
	}
	return New(conf), nil
}

// LoadOptions reads path (when non-empty) over DefaultOptions.
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions()
	if path == "" {
		return opts, nil
	}
	cfg, err := LoadPath(path)
	if err != nil {
		return opts, err
	}
	if err := cfg.Unpack(&opts); err != nil {
		return opts, err
	}
	return opts, nil
}
