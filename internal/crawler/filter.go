package crawler

import (
	"net/url"
	"strings"
)

// Dedupe drops repeated URLs, keeping the first occurrence of each.
// Equality is exact and case-sensitive on the normalized string.
func Dedupe(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	unique := make([]string, 0, len(urls))

	for _, u := range urls {
		// Skip duplicates
		if seen[u] {
			continue
		}
		seen[u] = true
		unique = append(unique, u)
	}

	return unique
}

// HasSuffixFold reports whether the path of rawURL ends with ext, ignoring case
func HasSuffixFold(rawURL, ext string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.ToLower(parsed.Path), strings.ToLower(ext))
}

// looksLikeTarget applies the suffix rule to an href that failed to parse
func looksLikeTarget(href, ext string) bool {
	if i := strings.IndexAny(href, "?#"); i != -1 {
		href = href[:i]
	}
	return strings.HasSuffix(strings.ToLower(strings.TrimSpace(href)), strings.ToLower(ext))
}
