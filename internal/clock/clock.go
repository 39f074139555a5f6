// Package clock converts UTC instants into a user's local wall-clock view.
//
// Local time is derived by shifting the instant by a fixed per-user offset in
// minutes and reading the shifted instant in UTC. No timezone database is
// consulted, so the math never depends on tzdata updates and deliberately
// ignores daylight-saving transitions.
package clock

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// isoDatePattern accepts YYYY-MM-DD and YYYY/MM/DD, with an optional
// time suffix which is ignored.
var isoDatePattern = regexp.MustCompile(`^(\d{4})[-/](\d{2})[-/](\d{2})`)

func shift(now time.Time, offsetMinutes int) time.Time {
	return now.UTC().Add(time.Duration(offsetMinutes) * time.Minute)
}

// LocalClock returns the user's wall-clock time as "HH:MM".
func LocalClock(now time.Time, offsetMinutes int) string {
	t := shift(now, offsetMinutes)
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// LocalDay returns the user's calendar day as a YYYYMMDD integer,
// advanced by deltaDays full days.
func LocalDay(now time.Time, offsetMinutes, deltaDays int) int {
	t := shift(now, offsetMinutes).AddDate(0, 0, deltaDays)
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}

// LocalDayOf normalizes a heterogeneous due-date value into a local YYYYMMDD
// under the same offset rule. Accepted encodings:
//   - time.Time
//   - unix epoch seconds or milliseconds (int64, float64, json.Number)
//   - "YYYY-MM-DD" / "YYYY/MM/DD" strings (optional time suffix ignored)
//
// The second return value is false when the value cannot be interpreted.
func LocalDayOf(value any, offsetMinutes int) (int, bool) {
	switch v := value.(type) {
	case time.Time:
		if v.IsZero() {
			return 0, false
		}
		return LocalDay(v, offsetMinutes, 0), true
	case int64:
		return epochDay(v, offsetMinutes)
	case int:
		return epochDay(int64(v), offsetMinutes)
	case float64:
		return epochDay(int64(v), offsetMinutes)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return epochDay(int64(f), offsetMinutes)
	case string:
		s := strings.TrimSpace(v)
		m := isoDatePattern.FindStringSubmatch(s)
		if m == nil {
			return 0, false
		}
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		d, _ := strconv.Atoi(m[3])
		if mo < 1 || mo > 12 || d < 1 || d > 31 {
			return 0, false
		}
		// A bare date string already names a local calendar day; the
		// offset does not move it.
		return y*10000 + mo*100 + d, true
	default:
		return 0, false
	}
}

// epochDay interprets n as unix seconds, or milliseconds when the magnitude
// is too large to be a plausible seconds value.
func epochDay(n int64, offsetMinutes int) (int, bool) {
	if n <= 0 {
		return 0, false
	}
	const msThreshold = int64(1) << 40 // ~2004 in millis, ~36000 AD in seconds
	var t time.Time
	if n >= msThreshold {
		t = time.UnixMilli(n)
	} else {
		t = time.Unix(n, 0)
	}
	return LocalDay(t, offsetMinutes, 0), true
}

// ParseHHMM splits an "HH:MM" label into minutes since midnight.
func ParseHHMM(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid HH:MM %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("HH:MM out of range %q", s)
	}
	return h*60 + m, nil
}

// WithinSlot reports whether nowHHMM falls inside the ±window minute band
// around targetHHMM. A malformed label never matches.
//
// Slots are reached at most once per day: the external tick fires every few
// minutes, and once the band has passed the slot is simply missed for that
// day. There is no retroactive firing.
func WithinSlot(nowHHMM, targetHHMM string, window int) bool {
	now, err := ParseHHMM(nowHHMM)
	if err != nil {
		return false
	}
	target, err := ParseHHMM(targetHHMM)
	if err != nil {
		return false
	}
	d := now - target
	if d < 0 {
		d = -d
	}
	return d <= window
}
