package ccda

import (
	"strings"
	"time"
)

// HL7 timestamp layouts used throughout the document.
const (
	hl7DateLayout     = "20060102"
	hl7DateTimeLayout = "20060102150405"
)

// Clock supplies the current instant.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in the local time zone.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always reports the same instant.
type FixedClock time.Time

// Now returns the fixed instant.
func (c FixedClock) Now() time.Time { return time.Time(c) }

// acceptedDateLayouts lists the input forms FormatDate understands, most
// specific first. Layouts without a zone are interpreted as wall-clock values
// and rendered unchanged.
var acceptedDateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-1-2",
	"2006/1/2",
	"1/2/2006",
	"20060102",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
	time.RFC1123Z,
	time.RFC1123,
}

// parseLooseDate tries each accepted layout in turn.
func parseLooseDate(input string) (time.Time, bool) {
	s := strings.TrimSpace(input)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range acceptedDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatDate renders input as YYYYMMDD. Input that cannot be parsed is
// replaced by the clock's current date.
func FormatDate(input string, clock Clock) string {
	t, ok := parseLooseDate(input)
	if !ok {
		t = now(clock)
	}
	return t.Format(hl7DateLayout)
}

// FormatDateTime renders t as YYYYMMDDHHMMSS on a 24-hour clock. The zero
// time is treated as invalid and replaced by the clock's current instant.
func FormatDateTime(t time.Time, clock Clock) string {
	if t.IsZero() {
		t = now(clock)
	}
	return t.Format(hl7DateTimeLayout)
}

func now(clock Clock) time.Time {
	if clock == nil {
		return time.Now()
	}
	return clock.Now()
}
