package requestid

import (
	"strings"

	"github.com/google/uuid"
)

const Header = "X-Request-Id"

func New() string {
	return uuid.NewString()
}

// FromHeader returns the caller-supplied id or a fresh one. Ids longer than
// 128 bytes are replaced.
func FromHeader(value string) string {
	value = strings.TrimSpace(value)
	if value == "" || len(value) > 128 {
		return New()
	}
	return value
}
