package util

import "strings"

// Slugify lowercases name and replaces every character NetBox does not accept
// in a slug with a hyphen. Runs of replaced characters collapse to one hyphen.
func Slugify(name string) string {
	result := make([]byte, 0, len(name))
	lastHyphen := false
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_' {
			result = append(result, c)
			lastHyphen = false
			continue
		}
		if !lastHyphen && len(result) > 0 {
			result = append(result, '-')
			lastHyphen = true
		}
	}
	return strings.TrimSuffix(string(result), "-")
}
