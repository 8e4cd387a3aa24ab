package util

import "strings"

// Slugify lowercases s and collapses every run of non-alphanumerics into a
// single dash.
func Slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	prev := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prev = false
		default:
			if !prev && b.Len() > 0 {
				b.WriteByte('-')
				prev = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// PageURL joins the site base with the page path and a trailing slash.
func PageURL(base string, segments ...string) string {
	var parts []string
	for _, seg := range segments {
		if seg = strings.Trim(seg, "/"); seg != "" {
			parts = append(parts, seg)
		}
	}
	base = strings.TrimRight(base, "/")
	if len(parts) == 0 {
		return base + "/"
	}
	return base + "/" + strings.Join(parts, "/") + "/"
}
