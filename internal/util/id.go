package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a v7 UUID without dashes, optionally prefixed ("cmt_…").
// IDs from one process sort in creation order, which breaks ties between
// rows sharing a timestamp.
func NewID(prefix string) string {
	id := strings.ReplaceAll(uuid.Must(uuid.NewV7()).String(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
