// Package dicomvr encodes native Go values into DICOM Value-Representation
// compliant strings. Only the VRs the worklist mapper emits are covered:
// DA (date), TM (time) and PN (person name), plus the patient sex code string.
package dicomvr

import (
	"fmt"
	"strings"
	"time"
)

// EncodeDate returns the DA encoding of t: exactly eight digits, YYYYMMDD,
// zero-padded, in the local wall-clock time of the installation. Scheduling
// times are facility-local, not UTC-normalized.
func EncodeDate(t time.Time) (string, error) {
	if t.IsZero() {
		return "", fmt.Errorf("cannot encode zero time as DA")
	}
	return t.Format("20060102"), nil
}

// EncodeTime returns the TM encoding of t: exactly six digits, HHMMSS,
// zero-padded, local time. Sub-second precision is truncated.
func EncodeTime(t time.Time) (string, error) {
	if t.IsZero() {
		return "", fmt.Errorf("cannot encode zero time as TM")
	}
	return t.Format("150405"), nil
}

// EncodePersonName collapses runs of internal whitespace to a single "^"
// separator and trims the ends.
//
// The whole input is treated as one PN component group; no attempt is made to
// split family/given/middle/prefix/suffix. This is a known simplification:
// the devices in this deployment expect the single-group convention, so a
// full PN grouping here would be a regression, not a fix.
func EncodePersonName(name string) string {
	return strings.Join(strings.Fields(name), "^")
}

// EncodeSex maps a free-form administrative sex value onto the DICOM code
// string. Matching is case-insensitive; anything that is not male/m or
// female/f degrades to "O" rather than failing the publish.
func EncodeSex(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "m", "male":
		return "M"
	case "f", "female":
		return "F"
	default:
		return "O"
	}
}
