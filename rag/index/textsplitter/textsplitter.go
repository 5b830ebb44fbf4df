package textsplitter

import (
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/pkoukk/tiktoken-go"
)

// TextSplitter is the standard interface for splitting texts.
type TextSplitter interface {
	SplitText(text string) ([]string, error)
}

type Strategy string

const (
	StrategyFixed    Strategy = "fixed"
	StrategySemantic Strategy = "semantic"
	StrategyMarkdown Strategy = "markdown"
)

// New builds the splitter for a configured strategy: "fixed" windows,
// "semantic" sentence packing or "markdown" heading sections. Fixed
// windows are measured in tokens when an encoding is set.
func New(strategy Strategy, opts ...Option) (TextSplitter, error) {
	options := DefaultOptions()
	for _, o := range opts {
		o(&options)
	}
	switch Strategy(strings.ToLower(string(strategy))) {
	case StrategyFixed, "":
		if options.EncodingName != "" {
			return NewTokenSplitter(opts...), nil
		}
		return NewFixed(opts...), nil
	case StrategySemantic:
		return NewSemantic(opts...), nil
	case StrategyMarkdown:
		return NewMarkdown(opts...), nil
	default:
		return nil, errors.Errorf("unknown chunk strategy %q", strategy)
	}
}

// lengthFunc measures text in tokens for a named encoding, otherwise in runes.
// An encoding that cannot be loaded falls back to runes.
func lengthFunc(encodingName string) func(string) int {
	if encodingName != "" {
		if tk, err := tiktoken.GetEncoding(encodingName); err == nil {
			return func(s string) int {
				return len(tk.Encode(s, nil, nil))
			}
		}
	}
	return utf8.RuneCountInString
}
