package util

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// ExpandRange turns "1-3,5,7-9" into [1 2 3 5 7 8 9]. The result is sorted
// and free of duplicates; an empty spec yields nil.
func ExpandRange(spec string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		start, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("invalid value %q in %q", lo, spec)
		}
		end := start
		if isRange {
			if end, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil {
				return nil, fmt.Errorf("invalid range end %q in %q", hi, spec)
			}
			if start > end {
				return nil, fmt.Errorf("range %s runs backwards", part)
			}
		}
		for i := start; i <= end; i++ {
			out = append(out, i)
		}
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// ExpandVLANRange is ExpandRange restricted to valid VLAN IDs.
func ExpandVLANRange(spec string) ([]int, error) {
	vids, err := ExpandRange(spec)
	if err != nil {
		return nil, err
	}
	for _, vid := range vids {
		if err := ValidateVLANID(vid); err != nil {
			return nil, err
		}
	}
	return vids, nil
}
