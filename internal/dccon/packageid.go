package dccon

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	idParamPattern = regexp.MustCompile(`(?i)(?:^|[^a-z0-9_])(?:package_idx|package_id|idx|no)=([0-9]+)`)
	schemePattern  = regexp.MustCompile(`(?i)^[a-z][a-z0-9+.-]*://`)
	digitsPattern  = regexp.MustCompile(`[0-9]{3,}`)
)

var knownIDParams = []string{"package_idx", "package_id", "idx", "no"}

// ExtractPackageID pulls a dccon package id out of arbitrary user input: a
// full shop URL, a fragment link, or freeform text containing the number.
// Resolution order: an explicit id query key anywhere in the string, then the
// parsed URL (fragment, known query parameters, path segments from the end),
// then the last bare run of three or more digits. Reports false when nothing
// matches.
func ExtractPackageID(input string) (string, bool) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", false
	}

	if m := idParamPattern.FindStringSubmatch(input); m != nil {
		return m[1], true
	}

	if id, ok := extractFromURL(input); ok {
		return id, true
	}

	return lastBareDigitRun(input)
}

func extractFromURL(input string) (string, bool) {
	candidate := input
	if !schemePattern.MatchString(candidate) {
		candidate = "https://" + candidate
	}
	u, err := url.Parse(candidate)
	if err != nil {
		return "", false
	}

	if frag := u.Fragment; len(frag) >= 3 && isDigits(frag) {
		return frag, true
	}

	query := u.Query()
	for _, name := range knownIDParams {
		if v := query.Get(name); v != "" && isDigits(v) {
			return v, true
		}
	}

	segments := strings.Split(u.Path, "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if seg := segments[i]; len(seg) >= 3 && isDigits(seg) {
			return seg, true
		}
	}
	return "", false
}

// lastBareDigitRun finds the rightmost run of 3+ digits that is not glued to
// a trailing letter, so "v2hash123abc" is not mistaken for an id.
func lastBareDigitRun(input string) (string, bool) {
	locs := digitsPattern.FindAllStringIndex(input, -1)
	for i := len(locs) - 1; i >= 0; i-- {
		start, end := locs[i][0], locs[i][1]
		if end < len(input) {
			next, _ := utf8.DecodeRuneInString(input[end:])
			if unicode.IsLetter(next) {
				continue
			}
		}
		return input[start:end], true
	}
	return "", false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
