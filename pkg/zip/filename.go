package zip

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// SanitizeFilename strips filesystem-hostile characters (path separators,
// control characters, glob and quote characters), collapses whitespace runs
// and returns fallback when nothing usable remains. Input is NFC-normalized
// first so decomposed Hangul and Latin sequences compare and render sanely.
func SanitizeFilename(name, fallback string) string {
	name = norm.NFC.String(name)
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '\'', '`', '<', '>', '|':
			return ' '
		}
		if r < 0x20 || r == 0x7f || unicode.Is(unicode.Cc, r) {
			return ' '
		}
		return r
	}, name)
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if cleaned == "" {
		return fallback
	}
	return cleaned
}

// ArchiveFilename derives the downloadable archive name from a package title
// and id: sanitized title (or "dccon"), "_<id>" when an id is known, ".zip".
func ArchiveFilename(title, packageID string) string {
	name := SanitizeFilename(title, "dccon")
	if packageID != "" {
		name += "_" + packageID
	}
	return name + ".zip"
}

// EntryName builds an archive member name: zero-padded sort index, sanitized
// item title and extension.
func EntryName(sort int, title, ext string) string {
	return fmt.Sprintf("%03d_%s.%s", sort, SanitizeFilename(title, "dccon"), ext)
}
