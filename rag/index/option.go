package index

import (
	"time"

	"github.com/bigf625oot/Tiga-sub000/rag/index/textsplitter"
)

var (
	DefaultEntityTypes = []string{
		"人物", "组织", "地点", "事件", "产品", "技术", "概念", "时间", "文件", "其他"}
	DefaultConcurrency = 4
	DefaultExtractRate = 3.0
	DefaultMaxItems    = 30

	DefaultRetries     = 3
	DefaultBackoff     = 2 * time.Second
	DefaultHeadSize    = 5000
	DefaultSegmentSize = 20000
)

type ExtractOptions struct {
	EntityTypes []string
	Concurrency int
	Rate        float64
	MaxItems    int
	CacheDir    string
}

type ExtractOption func(o *ExtractOptions)

func defaultExtractOptions() *ExtractOptions {
	return &ExtractOptions{
		EntityTypes: DefaultEntityTypes,
		Concurrency: DefaultConcurrency,
		Rate:        DefaultExtractRate,
		MaxItems:    DefaultMaxItems,
	}
}

func WithEntityTypes(types []string) ExtractOption {
	return func(o *ExtractOptions) {
		if len(types) > 0 {
			o.EntityTypes = types
		}
	}
}

func WithConcurrency(concurrency int) ExtractOption {
	return func(o *ExtractOptions) {
		if concurrency > 0 {
			o.Concurrency = concurrency
		}
	}
}

func WithRate(rate float64) ExtractOption {
	return func(o *ExtractOptions) {
		if rate > 0 {
			o.Rate = rate
		}
	}
}

// WithCacheDir enables the on-disk extraction cache.
func WithCacheDir(dir string) ExtractOption {
	return func(o *ExtractOptions) {
		o.CacheDir = dir
	}
}

type WriterOptions struct {
	Splitter textsplitter.TextSplitter
	Retries  int
	Backoff  time.Duration
}

type WriterOption func(o *WriterOptions)

func WithSplitter(s textsplitter.TextSplitter) WriterOption {
	return func(o *WriterOptions) {
		o.Splitter = s
	}
}

func WithRetries(retries int, backoff time.Duration) WriterOption {
	return func(o *WriterOptions) {
		if retries > 0 {
			o.Retries = retries
		}
		if backoff >= 0 {
			o.Backoff = backoff
		}
	}
}

type ControllerOptions struct {
	HeadSize    int
	SegmentSize int
	TempDir     string
}

type ControllerOption func(o *ControllerOptions)

func WithSegments(head, size int) ControllerOption {
	return func(o *ControllerOptions) {
		if head > 0 {
			o.HeadSize = head
		}
		if size > 0 {
			o.SegmentSize = size
		}
	}
}

func WithTempDir(dir string) ControllerOption {
	return func(o *ControllerOptions) {
		o.TempDir = dir
	}
}
