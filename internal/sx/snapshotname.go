package sx

import (
	"regexp"
	"time"
)

// snapshotNamePattern matches sx-YYYYMMDD-hhmmss-utc. Lexicographic order on
// names matching this pattern is identical to chronological order, since
// every field is fixed-width and the UTC suffix is constant.
var snapshotNamePattern = regexp.MustCompile(`^sx-(\d{8})-(\d{6})-utc$`)

const snapshotNameLayout = "sx-20060102-150405-utc"

// EncodeSnapshotName renders a UTC instant, truncated to second resolution,
// as a snapshot name.
func EncodeSnapshotName(t time.Time) string {
	return t.UTC().Format(snapshotNameLayout)
}

// DecodeSnapshotName parses a snapshot name back into its UTC instant.
// Names that don't match the pattern return ok=false; they are not managed
// snapshots and must be left alone by the snapshot store.
func DecodeSnapshotName(name string) (t time.Time, ok bool) {
	if !snapshotNamePattern.MatchString(name) {
		return time.Time{}, false
	}
	parsed, err := time.Parse(snapshotNameLayout, name)
	if err != nil {
		return time.Time{}, false
	}
	return parsed.UTC(), true
}
