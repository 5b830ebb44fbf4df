package blob

import (
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const KeyPrefix = "knowledge/"

// NewKey returns knowledge/{uuid}.{ext} for an uploaded file name.
func NewKey(filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if ext == "" {
		return KeyPrefix + uuid.NewString()
	}
	return KeyPrefix + uuid.NewString() + "." + ext
}
