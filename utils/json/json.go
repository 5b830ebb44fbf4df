package json

import (
	"io"
	"strings"

	"github.com/bytedance/sonic"
)

// api keeps encoding/json semantics: sorted map keys, escaped HTML.
var api = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return api.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

func NewEncoder(w io.Writer) sonic.Encoder {
	return api.NewEncoder(w)
}

func NewDecoder(r io.Reader) sonic.Decoder {
	return api.NewDecoder(r)
}

func Valid(data []byte) bool {
	return api.Valid(data)
}

// TrimJsonString strips the wrappers models put around JSON: a leading
// <think>...</think> block, markdown fences, and any prose outside the
// outermost object or array.
func TrimJsonString(s string) string {
	if idx := strings.LastIndex(s, "</think>"); idx >= 0 {
		s = s[idx+len("</think>"):]
	}
	if start := strings.Index(s, "```json"); start >= 0 {
		s = s[start+len("```json"):]
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
	} else if start = strings.Index(s, "```"); start >= 0 {
		s = s[start+3:]
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
	}
	s = strings.TrimSpace(s)

	open := strings.IndexAny(s, "{[")
	if open < 0 {
		return s
	}
	closing := byte('}')
	if s[open] == '[' {
		closing = ']'
	}
	end := strings.LastIndexByte(s, closing)
	if end < open {
		return s[open:]
	}
	return s[open : end+1]
}
