package ris

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Date represents a calendar date used in selection filters
type Date struct {
	time.Time
}

// NewDate creates a new Date from a time.Time
func NewDate(t time.Time) Date {
	return Date{Time: t}
}

// ParseDate parses a filter date. Full ISO dates are the common case; a bare
// year-month or year widens the filter to the start of that period.
func ParseDate(s string) (Date, error) {
	var d Date
	if err := d.parse(s); err != nil {
		return Date{}, err
	}
	return d, nil
}

func (d *Date) parse(s string) error {
	if s == "" {
		return nil
	}

	formats := []string{
		"2006-01-02", // YYYY-MM-DD
		"2006-01",    // YYYY-MM
		"2006",       // YYYY
	}

	var err error
	for _, format := range formats {
		d.Time, err = time.ParseInLocation(format, s, time.Local)
		if err == nil {
			return nil
		}
	}

	return fmt.Errorf("invalid date format: %s", s)
}

// UnmarshalJSON implements the json.Unmarshaler interface
func (d *Date) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	return d.parse(s)
}

// MarshalJSON implements the json.Marshaler interface
func (d Date) MarshalJSON() ([]byte, error) {
	if d.Time.IsZero() {
		return json.Marshal("")
	}
	return json.Marshal(d.Format("2006-01-02"))
}

// String returns the date in YYYY-MM-DD format
func (d Date) String() string {
	return d.Format("2006-01-02")
}
