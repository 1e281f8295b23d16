package common

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// dateLayouts are tried in order by ParseTime. "02/01/2006" is the
// day-first form used by the settings file.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	time.DateOnly,
	"02/01/2006",
	"20060102",
}

// minUnixDigits keeps short digit strings such as compact dates from being
// read as unix seconds. Nine digits reach back to 1973-03-03.
const minUnixDigits = 9

// ParseTime accepts RFC3339, a zone-less ISO timestamp, YYYY-MM-DD,
// DD/MM/YYYY, YYYYMMDD or unix seconds (at least nine digits). Results are in UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty time value")
	}
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	if len(strings.TrimPrefix(s, "-")) < minUnixDigits {
		return time.Time{}, errInvalidTime
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errInvalidTime
}

var errInvalidTime = errors.New("invalid time format; use RFC3339, YYYY-MM-DD, DD/MM/YYYY, YYYYMMDD or unix seconds")
