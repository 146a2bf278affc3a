package extract

import "strings"

var docTypeKeywords = []struct {
	docType  string
	keywords []string
}{
	{"invoice", []string{"invoice", "bill to", "amount due", "total due"}},
	{"contract", []string{"contract", "agreement", "hereby agree", "terms and conditions"}},
	{"receipt", []string{"receipt", "paid", "transaction"}},
	{"resume", []string{"resume", "curriculum vitae", "work experience", "education"}},
	{"form", []string{"form", "application", "please fill"}},
}

// DetectDocumentType classifies a document by keyword matching over its
// text. Categories are checked in priority order and the first hit wins.
// Returns nil when no category matches.
func DetectDocumentType(text string) *string {
	lower := strings.ToLower(text)

	for _, entry := range docTypeKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				t := entry.docType
				return &t
			}
		}
	}

	return nil
}
