// ergosockets/common.go
package ergosockets

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// DefaultPayloadPreview is the number of runes kept when a message body is
// stored for logging.
const DefaultPayloadPreview = 100

// GenerateID creates a new random identifier for requests and messages.
func GenerateID() string {
	return uuid.NewString()
}

// TimeNow is a wrapper for time.Now, useful for testing if time needs to be mocked.
var TimeNow = time.Now

// Truncate shortens s to at most limit runes, appending "..." when cut.
// A limit <= 0 returns s unchanged.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "..."
}
