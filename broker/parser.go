package broker

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Marker lines of the vendor report vocabulary. Counter dumps are
// line-oriented "[Key],value" pairs; error dumps are freeform "Key :value"
// lines. Everything else in a dump is ignored.
var (
	reSerialNumber   = regexp.MustCompile(`\[Serial Number\],(.+)`)
	reBlackCounter   = regexp.MustCompile(`\[Total Black Counter\],(.+)`)
	reColorCounter   = regexp.MustCompile(`\[Total Color Counter\],(.+)`)
	reTotalCounter   = regexp.MustCompile(`\[Total Counter\],(.+)`)
	reInstalledPlace = regexp.MustCompile(`Installed Place :(.+)`)
	reError          = regexp.MustCompile(`Error :(.+)`)

	reDigits = regexp.MustCompile(`^[0-9]+$`)
)

// maxFieldLen bounds free-text captures so corrupted input cannot smuggle
// runaway values into the database.
const maxFieldLen = 128

var (
	ErrUnrecognized     = errors.New("report text not recognized")
	ErrMalformedCounter = errors.New("malformed counter value")
)

// CounterReport conveys cumulative page counts for one device.
type CounterReport struct {
	SerialNumber string
	Black        int
	Color        int
}

// ErrorReport conveys a single fault occurrence. The installed-place value
// serves as the serial number in this report kind.
type ErrorReport struct {
	SerialNumber string
	Description  string
}

// ParsedReport is the tagged result of Parse: exactly one of Counter or
// Error is non-nil.
type ParsedReport struct {
	Counter *CounterReport
	Error   *ErrorReport
}

// Parse classifies raw report text. It is pure and side-effect free. Counter
// recognition takes precedence when a dump carries both marker families. A
// malformed counter value fails the whole counter report; nothing is
// partially extracted.
func Parse(body string) (*ParsedReport, error) {
	serial, hasSerial := matchField(reSerialNumber, body)
	if hasSerial {
		black, color, found, err := extractCounters(body)
		if err != nil {
			return nil, err
		}
		if found {
			return &ParsedReport{Counter: &CounterReport{
				SerialNumber: serial,
				Black:        black,
				Color:        color,
			}}, nil
		}
	}

	place, hasPlace := matchField(reInstalledPlace, body)
	desc, hasErr := matchField(reError, body)
	if hasPlace && hasErr {
		return &ParsedReport{Error: &ErrorReport{
			SerialNumber: place,
			Description:  desc,
		}}, nil
	}

	return nil, ErrUnrecognized
}

// ReportIdentifier extracts the device identifier used to name archived
// reports: the serial number, the installed place, or "unknown".
func ReportIdentifier(body string) string {
	if v, ok := matchField(reSerialNumber, body); ok && v != "" {
		return v
	}
	if v, ok := matchField(reInstalledPlace, body); ok && v != "" {
		return v
	}
	return "unknown"
}

// matchField captures the remainder of the first matching marker line,
// trimmed of surrounding whitespace. Over-long captures are treated as no
// match rather than truncated.
func matchField(re *regexp.Regexp, body string) (string, bool) {
	m := re.FindStringSubmatch(body)
	if m == nil {
		return "", false
	}
	v := strings.TrimSpace(m[1])
	if v == "" || len(v) > maxFieldLen {
		return "", false
	}
	return v, true
}

// extractCounters prefers the explicit black/color markers. Whenever the
// black marker is absent the combined total stands in for the black count,
// so both pure-monochrome dumps and dumps reporting only color plus total
// yield a usable sample.
func extractCounters(body string) (black, color int, found bool, err error) {
	blackStr, hasBlack := matchField(reBlackCounter, body)
	colorStr, hasColor := matchField(reColorCounter, body)
	if !hasBlack {
		blackStr, hasBlack = matchField(reTotalCounter, body)
	}
	if !hasBlack && !hasColor {
		return 0, 0, false, nil
	}
	if hasBlack {
		if black, err = parseCounterValue(blackStr); err != nil {
			return 0, 0, true, err
		}
	}
	if hasColor {
		if color, err = parseCounterValue(colorStr); err != nil {
			return 0, 0, true, err
		}
	}
	return black, color, true, nil
}

// parseCounterValue validates a fixed-width digit string as a non-negative
// integer. Leading zeros are the norm ("00185186").
func parseCounterValue(s string) (int, error) {
	if !reDigits.MatchString(s) {
		return 0, fmt.Errorf("%w: %q", ErrMalformedCounter, s)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedCounter, s)
	}
	return n, nil
}
