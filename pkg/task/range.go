package task

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseRange turns "3", "0-4" or "1,3,6-8" into task indexes below n.
// An empty spec selects every task.
func ParseRange(spec string, n int) ([]int, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		ids := make([]int, n)
		for i := range ids {
			ids[i] = i
		}
		return ids, nil
	}

	seen := map[int]bool{}
	var ids []int
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		lo, hi, isRange := strings.Cut(part, "-")
		start, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("invalid task index %q", part)
		}
		end := start
		if isRange {
			end, err = strconv.Atoi(strings.TrimSpace(hi))
			if err != nil {
				return nil, fmt.Errorf("invalid task range %q", part)
			}
		}
		if start > end {
			return nil, fmt.Errorf("invalid task range %q: start after end", part)
		}
		if start < 0 || end >= n {
			return nil, fmt.Errorf("task range %q out of bounds (available: 0-%d)", part, n-1)
		}
		for i := start; i <= end; i++ {
			if !seen[i] {
				seen[i] = true
				ids = append(ids, i)
			}
		}
	}
	return ids, nil
}

// Select returns the definitions at ids.
func Select(defs []*Definition, ids []int) []*Definition {
	out := make([]*Definition, 0, len(ids))
	for _, id := range ids {
		out = append(out, defs[id])
	}
	return out
}
