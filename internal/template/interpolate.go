// Package template renders named, parameterized notification templates.
package template

import "regexp"

var placeholderPattern = regexp.MustCompile(`\{\{([A-Za-z0-9_]+)\}\}`)

// Interpolate replaces every {{identifier}} occurrence in text with the
// matching value from vars. Placeholders with no matching key are left in
// the output verbatim. The function is total: it never fails, whatever
// the input.
func Interpolate(text string, vars map[string]string) string {
	if text == "" {
		return text
	}
	return placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		key := match[2 : len(match)-2]
		if val, ok := vars[key]; ok {
			return val
		}
		return match
	})
}
