package migration

import (
	"fmt"
	"regexp"
	"strings"
)

// markerPattern matches a whole "-- Up" or "-- Down" line, case-insensitive.
var markerPattern = regexp.MustCompile(`(?im)^[ \t]*--[ \t]*(up|down)[ \t]*\r?$`)

// Parse splits migration text into its up and down scripts.
//
// The up script is everything between the "-- Up" marker and the "-- Down"
// marker (or the end of the text). The down script is everything after the
// "-- Down" marker. Text before the "-- Up" marker is ignored, so a file can
// start with a comment header. Without an "-- Up" marker the text from the
// start is the up script.
//
// Both scripts are returned trimmed. A "-- Down" marker before the "-- Up"
// marker, or a repeated marker, returns ErrMalformedMarkers.
//
// Example:
//
//	up, down, err := Parse("-- Up\nCREATE TABLE t (id INTEGER);\n-- Down\nDROP TABLE t;")
//	// up   == "CREATE TABLE t (id INTEGER);"
//	// down == "DROP TABLE t;"
func Parse(text string) (up, down string, err error) {
	matches := markerPattern.FindAllStringSubmatchIndex(text, -1)

	upMarker, downMarker := -1, -1
	for i, m := range matches {
		switch strings.ToLower(text[m[2]:m[3]]) {
		case "up":
			if upMarker >= 0 {
				return "", "", fmt.Errorf("%w: duplicate -- Up marker", ErrMalformedMarkers)
			}
			if downMarker >= 0 {
				return "", "", fmt.Errorf("%w: -- Down marker precedes -- Up marker", ErrMalformedMarkers)
			}
			upMarker = i
		case "down":
			if downMarker >= 0 {
				return "", "", fmt.Errorf("%w: duplicate -- Down marker", ErrMalformedMarkers)
			}
			downMarker = i
		}
	}

	upStart, upEnd := 0, len(text)
	if upMarker >= 0 {
		upStart = matches[upMarker][1]
	}
	if downMarker >= 0 {
		upEnd = matches[downMarker][0]
		down = text[matches[downMarker][1]:]
	}

	return strings.TrimSpace(text[upStart:upEnd]), strings.TrimSpace(down), nil
}

// IsBlank reports whether a script holds nothing but whitespace and
// line comments. Blank scripts are skipped rather than executed.
func IsBlank(script string) bool {
	for _, line := range strings.Split(script, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		return false
	}
	return true
}
