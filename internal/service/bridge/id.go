package bridge

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const sessionIDLayout = "20060102_150405"

var validSessionID = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// ValidSessionID reports whether a client supplied id can be used as a
// session id. Ids made only of dots are rejected since they name directories.
func ValidSessionID(id string) bool {
	if !validSessionID.MatchString(id) {
		return false
	}
	return strings.Trim(id, ".") != ""
}

// IDGenerator generates session ids of the form YYYYMMDD_HHMMSS_xxxxxxxx.
type IDGenerator struct {
	now func() time.Time
}

// NewIDGenerator creates a generator using the wall clock.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{now: time.Now}
}

// Next returns a new session id. The random suffix keeps ids unique for
// sessions opened within the same second.
func (g *IDGenerator) Next() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return g.now().Format(sessionIDLayout) + "_" + suffix
}
