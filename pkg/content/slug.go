package content

import "strings"

// Slugify derives a slug from a title: lowercase with spaces as hyphens.
func Slugify(title string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(title)), " ", "-")
}
