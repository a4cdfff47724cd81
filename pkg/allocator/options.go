package allocator

import "github.com/sirupsen/logrus"

type Options struct {
	Logger logrus.FieldLogger `json:"-" yaml:"-"`
}

var DefaultOptions = Options{}
