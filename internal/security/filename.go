package security

import (
	"path"
	"strings"
)

// SanitizeFilename reduces an untrusted filename to a bare name safe to
// embed in artifact paths. Directory components and traversal sequences
// are stripped and reserved characters replaced; an empty result falls
// back to "document".
func SanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	if name == "/" || name == "." {
		return "document"
	}
	name = strings.ReplaceAll(name, "..", "")

	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ':', '|', '?', '*', '"', '<', '>':
			return '_'
		}
		if r < 0x20 {
			return '_'
		}
		return r
	}, name)

	cleaned = strings.Trim(cleaned, ". ")
	if cleaned == "" {
		return "document"
	}
	return cleaned
}
