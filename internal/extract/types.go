package extract

// Extraction method names accepted by the processor.
const (
	MethodAuto       = "auto"
	MethodStructured = "structured"
	MethodOCR        = "ocr"
	MethodVision     = "vision"
)

// SignatureStatus classifies a detected signature region.
type SignatureStatus string

const (
	SignatureValid       SignatureStatus = "valid"
	SignatureNeedsReview SignatureStatus = "needs_review"
	SignatureInvalid     SignatureStatus = "invalid"
)

// SignatureLocation is a bounding box normalized to page dimensions.
type SignatureLocation struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// SignatureResult is one detected signature region.
type SignatureResult struct {
	ID         string            `json:"id"`
	Confidence float64           `json:"confidence"`
	Location   SignatureLocation `json:"location"`
	Status     SignatureStatus   `json:"status"`
	Page       *int              `json:"page"`
}

// KeyValuePair is a labeled field extracted from document text.
type KeyValuePair struct {
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Page       *int    `json:"page"`
}

// TableData is one extracted table.
type TableData struct {
	ID      string     `json:"id"`
	Rows    [][]string `json:"rows"`
	Headers []string   `json:"headers"`
	Page    *int       `json:"page"`
}

// HumanReviewItem flags a low-confidence extraction for manual checking.
type HumanReviewItem struct {
	Type       string  `json:"type"`
	ID         string  `json:"id"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
	Page       *int    `json:"page"`
}

// ExtractionResult is the complete output for one document.
type ExtractionResult struct {
	DocumentSource        string            `json:"document_source"`
	DocumentType          *string           `json:"document_type"`
	Pages                 int               `json:"pages"`
	ProcessedAt           string            `json:"processed_at"`
	ProcessingTimeSeconds float64           `json:"processing_time_seconds"`
	Text                  string            `json:"text"`
	TextByPage            []string          `json:"text_by_page"`
	KeyValues             []KeyValuePair    `json:"key_values"`
	Tables                []TableData       `json:"tables"`
	Signatures            []SignatureResult `json:"signatures"`
	HumanReviewRequired   bool              `json:"human_review_required"`
	HumanReviewItems      []HumanReviewItem `json:"human_review_items"`
	OverallConfidence     float64           `json:"overall_confidence"`
	Warnings              []string          `json:"warnings"`
}

// NewResult returns an ExtractionResult with empty collections so the
// serialized form always carries arrays, never nulls.
func NewResult(source string) *ExtractionResult {
	return &ExtractionResult{
		DocumentSource:   source,
		Pages:            1,
		KeyValues:        []KeyValuePair{},
		Tables:           []TableData{},
		Signatures:       []SignatureResult{},
		HumanReviewItems: []HumanReviewItem{},
		Warnings:         []string{},
	}
}

// Options controls which stages run and which extraction method is used.
type Options struct {
	Method            string
	ExtractTables     bool
	ExtractSignatures bool
	ExtractKeyValues  bool
}

// DefaultOptions returns the options used when a request specifies none.
func DefaultOptions() Options {
	return Options{
		Method:            MethodAuto,
		ExtractTables:     true,
		ExtractSignatures: true,
		ExtractKeyValues:  true,
	}
}

// ValidMethod reports whether m names a known extraction method.
func ValidMethod(m string) bool {
	switch m {
	case MethodAuto, MethodStructured, MethodOCR, MethodVision:
		return true
	}
	return false
}

// Methods lists the accepted extraction method names.
func Methods() []string {
	return []string{MethodAuto, MethodStructured, MethodOCR, MethodVision}
}
