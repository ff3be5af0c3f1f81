package extract

import (
	"regexp"
	"strings"
)

// urlPattern matches literal http/https URLs embedded in free text. The
// character class covers standard URL characters; trailing punctuation that
// commonly follows a URL in prose is trimmed afterwards.
var urlPattern = regexp.MustCompile(`https?://[A-Za-z0-9._~:/?#\[\]@!$&'()*+,;=%-]+`)

// trailingJunk lists characters stripped from the end of a matched URL. They
// are legal URL characters but in command or prose context almost always
// belong to the surrounding syntax.
const trailingJunk = ".,;:!?)]}'\""

// ExtractURLs returns every literal URL found in s, in order of appearance,
// deduplicated on the raw matched text.
func ExtractURLs(s string) []string {
	matches := urlPattern.FindAllString(s, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		m = strings.TrimRight(m, trailingJunk)
		if m == "" {
			continue
		}
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}
