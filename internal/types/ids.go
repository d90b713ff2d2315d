// internal/types/ids.go
package types

import (
	"strconv"
	"time"
)

// sourceEpoch is the snowflake epoch of the source feed (2015-01-01 UTC).
var sourceEpoch = time.Date(2015, time.January, 1, 0, 0, 0, 0, time.UTC)

// IDSortKey orders external message and thread identifiers. Numeric IDs
// compare numerically; non-numeric IDs sort before numeric ones and fall
// back to lexicographic order. This is the universal tie-break for all ID
// comparisons in the forwarder.
type IDSortKey struct {
	Num int64
	Raw string
}

// SortKey builds the ordering key for an external ID.
func SortKey(id string) IDSortKey {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return IDSortKey{Num: n, Raw: id}
	}
	return IDSortKey{Num: 0, Raw: id}
}

// LessID reports whether a sorts before b under the ID ordering.
func LessID(a, b string) bool {
	ka, kb := SortKey(a), SortKey(b)
	if ka.Num != kb.Num {
		return ka.Num < kb.Num
	}
	return ka.Raw < kb.Raw
}

// SnowflakeFromTime converts a moment into the smallest snowflake issued at
// or after it, so time cutoffs and ID comparisons agree. Returns 0 for the
// zero time or moments before the source epoch.
func SnowflakeFromTime(moment time.Time) int64 {
	if moment.IsZero() {
		return 0
	}
	ms := moment.Sub(sourceEpoch).Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms << 22
}

// NumericID parses an ID as a snowflake, reporting whether it was numeric.
func NumericID(id string) (int64, bool) {
	n, err := strconv.ParseInt(id, 10, 64)
	return n, err == nil
}
