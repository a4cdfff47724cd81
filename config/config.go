// Package config loads the settings of a record file from YAML. JSON files
// load too, being valid YAML.
package config

import (
	"os"

	"go-recdb/pkg/metrics"
	"go-recdb/pkg/record"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	Storage record.Options `yaml:"storage"`
	Log     *LogConfig     `yaml:"log"`
	Metrics bool           `yaml:"metrics"`
}

func New() *AppConfig {
	return &AppConfig{
		Storage: record.DefaultOptions,
		Log:     NewLogConfig(),
	}
}

// Load reads the file at path over the defaults, so keys missing from the
// file keep their default values.
func Load(path string) (*AppConfig, error) {
	d, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config")
	}

	cfg := New()
	if err := yaml.Unmarshal(d, cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config %s", path)
	}
	if cfg.Log == nil {
		cfg.Log = NewLogConfig()
	}
	return cfg, nil
}

// RecordOptions returns the storage options with the configured logger
// attached and, when metrics are enabled, collectors registered on reg.
func (c *AppConfig) RecordOptions(reg prometheus.Registerer) (*record.Options, error) {
	opts := c.Storage

	l, err := c.Log.Apply()
	if err != nil {
		return nil, err
	}
	opts.Logger = l

	if c.Metrics {
		if opts.Metrics, err = metrics.New(reg); err != nil {
			return nil, errors.Wrap(err, "failed to register metrics")
		}
	}
	return &opts, nil
}
