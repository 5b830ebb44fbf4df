package index

import (
	"strings"
)

// Segment cuts text into a head of head runes followed by tail segments
// of size runes each. Concatenating the result yields text again.
func Segment(text string, head, size int) []string {
	if head <= 0 {
		head = DefaultHeadSize
	}
	if size <= 0 {
		size = DefaultSegmentSize
	}
	runes := []rune(text)
	if len(strings.TrimSpace(text)) == 0 {
		return nil
	}
	if len(runes) <= head {
		return []string{text}
	}
	out := []string{string(runes[:head])}
	for start := head; start < len(runes); start += size {
		end := min(start+size, len(runes))
		out = append(out, string(runes[start:end]))
	}
	return out
}
