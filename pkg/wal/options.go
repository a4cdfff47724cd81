package wal

import (
	"go-recdb/pkg/metrics"

	"github.com/sirupsen/logrus"
)

type Options struct {
	Logger  logrus.FieldLogger `json:"-" yaml:"-"`
	Metrics *metrics.Metrics   `json:"-" yaml:"-"`
}

var DefaultOptions = Options{}
