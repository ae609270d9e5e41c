// Package config loads the server and client configuration.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type (
	Config struct {
		HTTPAddr string       `yaml:"http_addr"`
		Mongo    MongoConfig  `yaml:"mongo"`
		Redis    RedisConfig  `yaml:"redis"`
		Index    IndexConfig  `yaml:"index"`
		Search   SearchConfig `yaml:"search"`
		Log      LogConfig    `yaml:"log"`
	}

	MongoConfig struct {
		URI      string `yaml:"uri"`
		Database string `yaml:"database"`
	}

	RedisConfig struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	}

	// IndexConfig selects the membership index. Mode is "exact" or "bloom";
	// ErrorRate and Capacity apply to bloom only.
	IndexConfig struct {
		Mode      string  `yaml:"mode"`
		Key       string  `yaml:"key"`
		ErrorRate float64 `yaml:"error_rate"`
		Capacity  int64   `yaml:"capacity"`
	}

	SearchConfig struct {
		Workers   int `yaml:"workers"`
		MaxRounds int `yaml:"max_rounds"`
	}

	LogConfig struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	}
)

func Default() *Config {
	return &Config{
		HTTPAddr: "localhost:9090",
		Mongo: MongoConfig{
			URI:      "mongodb://localhost:27017",
			Database: "mydb",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Index: IndexConfig{
			Mode:      "exact",
			Key:       "trace:tags",
			ErrorRate: 0.001,
			Capacity:  1_000_000,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http_addr is required"))
	}
	if c.Mongo.URI == "" || c.Mongo.Database == "" {
		errs = append(errs, errors.New("mongo.uri and mongo.database are required"))
	}
	if c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required"))
	}
	if c.Index.Key == "" {
		errs = append(errs, errors.New("index.key is required"))
	}
	switch c.Index.Mode {
	case "exact":
	case "bloom":
		if c.Index.ErrorRate <= 0 || c.Index.ErrorRate >= 1 {
			errs = append(errs, fmt.Errorf("index.error_rate %v out of (0, 1)", c.Index.ErrorRate))
		}
		if c.Index.Capacity <= 0 {
			errs = append(errs, errors.New("index.capacity must be positive"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown index.mode %q", c.Index.Mode))
	}
	if c.Search.Workers < 0 {
		errs = append(errs, errors.New("search.workers must not be negative"))
	}
	if c.Search.MaxRounds < 0 {
		errs = append(errs, errors.New("search.max_rounds must not be negative"))
	}
	return errors.Join(errs...)
}
