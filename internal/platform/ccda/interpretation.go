package ccda

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// InterpretationCode is an HL7 ObservationInterpretation code.
type InterpretationCode string

const (
	InterpretationNormal InterpretationCode = "N"
	InterpretationLow    InterpretationCode = "L"
	InterpretationHigh   InterpretationCode = "H"
)

// leadingNumber matches the longest decimal literal at the start of a string.
var leadingNumber = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)

// parseLeadingFloat parses the numeric prefix of s, ignoring leading
// whitespace and any trailing text ("5.7 %" parses as 5.7).
func parseLeadingFloat(s string) (float64, bool) {
	m := leadingNumber.FindString(strings.TrimLeft(s, " \t\r\n"))
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, false
	}
	// Out-of-range literals saturate to ±Inf or underflow to zero.
	return f, true
}

// Interpret classifies value against the closed reference interval
// [low, high]. A missing bound or any non-numeric input yields Normal.
func Interpret(value, low, high string) InterpretationCode {
	if low == "" || high == "" {
		return InterpretationNormal
	}
	v, ok := parseLeadingFloat(value)
	if !ok {
		return InterpretationNormal
	}
	lo, ok := parseLeadingFloat(low)
	if !ok {
		return InterpretationNormal
	}
	hi, ok := parseLeadingFloat(high)
	if !ok {
		return InterpretationNormal
	}

	switch {
	case v < lo:
		return InterpretationLow
	case v > hi:
		return InterpretationHigh
	default:
		return InterpretationNormal
	}
}
