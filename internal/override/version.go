package override

import (
	"strings"

	"github.com/google/uuid"
)

// newVersionID returns a full random UUID as 32 hex chars. Never
// truncated: short ids risk birthday-paradox collisions under load.
func newVersionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
