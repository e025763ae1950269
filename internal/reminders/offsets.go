package reminders

import (
	"slices"
	"strconv"
	"strings"
)

// DefaultOffset is used when the configured list is empty or unparseable.
const DefaultOffset = 7

// ParseOffsets turns "7,3,1" into distinct day offsets, largest first.
// Any unparseable entry discards the whole list.
func ParseOffsets(s string) []int {
	seen := map[int]bool{}
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return []int{DefaultOffset}
		}
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return []int{DefaultOffset}
	}
	slices.Sort(out)
	slices.Reverse(out)
	return out
}
