package segment

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"time"
)

// NewID generates a textual segment identifier that sorts lexicographically
// in creation order: base-36 encodings of (month, day, hour, minute,
// nanosecond-within-the-minute, random uint32), joined with underscores.
// Month, day and hour always fit in one base-36 digit; minute and
// nanosecond are zero-padded to a fixed width so string order matches
// numeric order. The year is not encoded, so the order holds within one
// calendar year. Uniqueness across concurrently-created segments is
// probabilistic, carried entirely by the random suffix.
func NewID() string {
	now := time.Now()
	pad := func(v int64, width int) string {
		s := strconv.FormatInt(v, 36)
		return strings.Repeat("0", width-len(s)) + s
	}
	nanosInMinute := int64(now.Second())*int64(time.Second) + int64(now.Nanosecond())
	parts := []string{
		strconv.FormatInt(int64(now.Month()), 36),
		strconv.FormatInt(int64(now.Day()), 36),
		strconv.FormatInt(int64(now.Hour()), 36),
		pad(int64(now.Minute()), 2),
		pad(nanosInMinute, 7),
		strconv.FormatUint(uint64(rand.Uint32()), 36),
	}
	return strings.Join(parts, "_")
}
