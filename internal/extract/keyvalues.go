package extract

import (
	"regexp"
	"strings"
)

// Labeled fields look like "Invoice #: 12345". Keys are 3 to 31 chars of
// letters, spaces, or #, starting with a letter; values run to the next
// colon or line break, capped at 100 chars.
var keyValuePattern = regexp.MustCompile(`([A-Za-z][A-Za-z\s#]{2,30}):\s*([^\n:]{1,100})`)

const keyValueConfidence = 0.8

// ExtractKeyValues scans text for label: value pairs.
func ExtractKeyValues(text string) []KeyValuePair {
	pairs := []KeyValuePair{}

	for _, m := range keyValuePattern.FindAllStringSubmatch(text, -1) {
		pairs = append(pairs, KeyValuePair{
			Key:        strings.TrimSpace(m[1]),
			Value:      strings.TrimSpace(m[2]),
			Confidence: keyValueConfidence,
		})
	}

	return pairs
}
