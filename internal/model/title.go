package model

import "strings"

// NormalizeTitle lowercases and trims a title. Every title is normalized
// before it is stored or compared.
func NormalizeTitle(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}

// NormalizeTitles normalizes a list of titles, dropping blanks and duplicates
// while keeping the first-seen order.
func NormalizeTitles(titles []string) []string {
	seen := make(map[string]struct{}, len(titles))
	out := make([]string, 0, len(titles))
	for _, t := range titles {
		n := NormalizeTitle(t)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
