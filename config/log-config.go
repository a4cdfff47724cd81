package config

import (
	"go-recdb/util/logger"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type LogConfig struct {
	Level string `yaml:"level"`
}

func NewLogConfig() *LogConfig {
	return &LogConfig{
		Level: logrus.InfoLevel.String(),
	}
}

// Apply sets the level of the shared logger and returns it.
func (c *LogConfig) Apply() (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return nil, errors.Wrap(err, "invalid log level")
	}
	logger.L.SetLevel(lvl)
	return logger.L, nil
}
