package counter

import "go.uber.org/zap"

type Options struct {
	total  int
	desc   string
	logger *zap.Logger
	onAdd  func(done, total int)
}

type Option func(*Options)

func WithTotal(total int) Option {
	return func(o *Options) {
		o.total = total
	}
}

func WithDesc(desc string) Option {
	return func(o *Options) {
		o.desc = desc
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) {
		o.logger = logger
	}
}

// WithOnAdd is called after every Add with the new done count.
func WithOnAdd(fn func(done, total int)) Option {
	return func(o *Options) {
		o.onAdd = fn
	}
}
