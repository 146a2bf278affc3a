// Package export renders extraction results into downloadable files.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	apperrors "github.com/mohantyajitesh/docuextract-pro/internal/errors"
	"github.com/mohantyajitesh/docuextract-pro/internal/extract"
	"github.com/mohantyajitesh/docuextract-pro/internal/security"
)

// Supported export formats.
const (
	FormatJSON     = "json"
	FormatCSV      = "csv"
	FormatXLSX     = "xlsx"
	FormatMarkdown = "markdown"
)

var extensions = map[string]string{
	FormatJSON:     "json",
	FormatCSV:      "csv",
	FormatXLSX:     "xlsx",
	FormatMarkdown: "md",
}

// Options selects the format and the sections included in an export.
type Options struct {
	Format            string `json:"format"`
	IncludeText       bool   `json:"include_text"`
	IncludeTables     bool   `json:"include_tables"`
	IncludeKeyValues  bool   `json:"include_key_values"`
	IncludeSignatures bool   `json:"include_signatures"`
}

// DefaultOptions exports everything as JSON.
func DefaultOptions() Options {
	return Options{
		Format:            FormatJSON,
		IncludeText:       true,
		IncludeTables:     true,
		IncludeKeyValues:  true,
		IncludeSignatures: true,
	}
}

// Exporter writes rendered results into the output directory.
type Exporter struct {
	outputDir string
}

func NewExporter(outputDir string) *Exporter {
	return &Exporter{outputDir: outputDir}
}

// Export renders one result and writes it to
// <stem>_<timestamp>.<ext> in the output directory, returning the path.
func (e *Exporter) Export(result *extract.ExtractionResult, opts Options) (string, error) {
	if opts.Format == "" {
		opts.Format = FormatJSON
	}
	ext, ok := extensions[opts.Format]
	if !ok {
		return "", fmt.Errorf("%w: %q", apperrors.ErrUnsupportedFormat, opts.Format)
	}

	var data []byte
	var err error
	switch opts.Format {
	case FormatJSON:
		data, err = renderJSON(result, opts)
	case FormatCSV:
		data, err = renderCSV(result, opts)
	case FormatXLSX:
		data, err = renderXLSX(result, opts)
	case FormatMarkdown:
		data, err = renderMarkdown(result, opts)
	}
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(e.outputDir, 0755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s_%s.%s", stem(result.DocumentSource), time.Now().Format("20060102_150405"), ext)
	safe, err := security.ValidatePathInDir(name, e.outputDir)
	if err != nil {
		return "", fmt.Errorf("unsafe export filename %q: %w", name, err)
	}
	if err := os.WriteFile(safe.Path(), data, 0644); err != nil {
		return "", err
	}
	return safe.Path(), nil
}

// filtered returns a copy of the result with excluded sections blanked,
// so every renderer sees the same view.
func filtered(result *extract.ExtractionResult, opts Options) extract.ExtractionResult {
	out := *result
	if !opts.IncludeText {
		out.Text = ""
		out.TextByPage = nil
	}
	if !opts.IncludeKeyValues {
		out.KeyValues = []extract.KeyValuePair{}
	}
	if !opts.IncludeTables {
		out.Tables = []extract.TableData{}
	}
	if !opts.IncludeSignatures {
		out.Signatures = []extract.SignatureResult{}
	}
	return out
}

func renderJSON(result *extract.ExtractionResult, opts Options) ([]byte, error) {
	r := filtered(result, opts)
	return json.MarshalIndent(&r, "", "  ")
}

func renderCSV(result *extract.ExtractionResult, opts Options) ([]byte, error) {
	r := filtered(result, opts)
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if opts.IncludeKeyValues {
		w.Write([]string{"KEY-VALUE PAIRS"})
		w.Write([]string{"Key", "Value", "Confidence"})
		for _, kv := range r.KeyValues {
			w.Write([]string{kv.Key, kv.Value, formatConf(kv.Confidence)})
		}
		w.Flush()
		buf.WriteString("\n")
	}

	if opts.IncludeTables {
		for _, table := range r.Tables {
			w.Write([]string{"TABLE: " + table.ID})
			if len(table.Headers) > 0 {
				w.Write(table.Headers)
			}
			for _, row := range table.Rows {
				w.Write(row)
			}
			w.Flush()
			buf.WriteString("\n")
		}
	}

	if opts.IncludeSignatures {
		w.Write([]string{"SIGNATURES"})
		w.Write([]string{"ID", "Status", "Confidence", "Page"})
		for _, sig := range r.Signatures {
			w.Write([]string{sig.ID, string(sig.Status), formatConf(sig.Confidence), formatPage(sig.Page)})
		}
		w.Flush()
	}

	return buf.Bytes(), w.Error()
}

func renderMarkdown(result *extract.ExtractionResult, opts Options) ([]byte, error) {
	r := filtered(result, opts)
	var b strings.Builder

	fmt.Fprintf(&b, "# Extraction Result: %s\n\n", stem(r.DocumentSource))
	fmt.Fprintf(&b, "- Source: %s\n", r.DocumentSource)
	if r.DocumentType != nil {
		fmt.Fprintf(&b, "- Document type: %s\n", *r.DocumentType)
	}
	fmt.Fprintf(&b, "- Pages: %d\n", r.Pages)
	fmt.Fprintf(&b, "- Processed at: %s\n", r.ProcessedAt)
	fmt.Fprintf(&b, "- Processing time: %.2fs\n", r.ProcessingTimeSeconds)
	fmt.Fprintf(&b, "- Overall confidence: %.0f%%\n", r.OverallConfidence*100)
	fmt.Fprintf(&b, "- Human review required: %t\n", r.HumanReviewRequired)

	if opts.IncludeKeyValues && len(r.KeyValues) > 0 {
		b.WriteString("\n## Key-Value Pairs\n\n")
		for _, kv := range r.KeyValues {
			fmt.Fprintf(&b, "- **%s**: %s (confidence %.0f%%)\n", kv.Key, kv.Value, kv.Confidence*100)
		}
	}

	if opts.IncludeTables && len(r.Tables) > 0 {
		b.WriteString("\n## Tables\n")
		for _, table := range r.Tables {
			fmt.Fprintf(&b, "\n### %s", table.ID)
			if table.Page != nil {
				fmt.Fprintf(&b, " (page %d)", *table.Page)
			}
			b.WriteString("\n\n")
			writePipeTable(&b, table)
		}
	}

	if opts.IncludeSignatures && len(r.Signatures) > 0 {
		b.WriteString("\n## Signatures\n\n")
		for _, sig := range r.Signatures {
			fmt.Fprintf(&b, "- %s: %s (confidence %.0f%%", sig.ID, sig.Status, sig.Confidence*100)
			if sig.Page != nil {
				fmt.Fprintf(&b, ", page %d", *sig.Page)
			}
			b.WriteString(")\n")
		}
	}

	if opts.IncludeText && r.Text != "" {
		b.WriteString("\n## Text\n\n```\n")
		b.WriteString(r.Text)
		b.WriteString("\n```\n")
	}

	return []byte(b.String()), nil
}

// writePipeTable renders one markdown pipe table. Tables without header
// cells promote their first row to the header.
func writePipeTable(b *strings.Builder, table extract.TableData) {
	header := table.Headers
	rows := table.Rows
	if len(header) == 0 && len(rows) > 0 {
		header = rows[0]
		rows = rows[1:]
	}
	if len(header) == 0 {
		return
	}

	writePipeRow(b, header)
	sep := make([]string, len(header))
	for i := range sep {
		sep[i] = "---"
	}
	writePipeRow(b, sep)
	for _, row := range rows {
		writePipeRow(b, row)
	}
}

func writePipeRow(b *strings.Builder, cells []string) {
	b.WriteString("|")
	for _, cell := range cells {
		b.WriteString(" ")
		b.WriteString(strings.ReplaceAll(cell, "|", "\\|"))
		b.WriteString(" |")
	}
	b.WriteString("\n")
}

func renderXLSX(result *extract.ExtractionResult, opts Options) ([]byte, error) {
	r := filtered(result, opts)
	f := excelize.NewFile()
	defer f.Close()

	if opts.IncludeKeyValues {
		if err := writeKeyValueSheet(f, &r); err != nil {
			return nil, fmt.Errorf("failed to render xlsx: %w", err)
		}
	}
	if opts.IncludeTables {
		if err := writeTablesSheet(f, &r); err != nil {
			return nil, fmt.Errorf("failed to render xlsx: %w", err)
		}
	}
	if opts.IncludeSignatures {
		if err := writeSignaturesSheet(f, &r); err != nil {
			return nil, fmt.Errorf("failed to render xlsx: %w", err)
		}
	}
	if err := writeSummarySheet(f, &r); err != nil {
		return nil, fmt.Errorf("failed to render xlsx: %w", err)
	}

	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to render xlsx: %w", err)
	}
	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to render xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

func writeKeyValueSheet(f *excelize.File, r *extract.ExtractionResult) error {
	const sheet = "Key-Value Pairs"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	if err := setRow(f, sheet, 1, "Key", "Value", "Confidence", "Page"); err != nil {
		return err
	}
	for i, kv := range r.KeyValues {
		if err := setRow(f, sheet, i+2, kv.Key, kv.Value, kv.Confidence, pageCell(kv.Page)); err != nil {
			return err
		}
	}
	return nil
}

func writeTablesSheet(f *excelize.File, r *extract.ExtractionResult) error {
	const sheet = "Tables"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	row := 1
	for _, table := range r.Tables {
		title := "Table: " + table.ID
		if table.Page != nil {
			title = fmt.Sprintf("Table: %s (Page %d)", table.ID, *table.Page)
		}
		if err := setRow(f, sheet, row, title); err != nil {
			return err
		}
		row++
		if len(table.Headers) > 0 {
			if err := setRow(f, sheet, row, toCells(table.Headers)...); err != nil {
				return err
			}
			row++
		}
		for _, cells := range table.Rows {
			if err := setRow(f, sheet, row, toCells(cells)...); err != nil {
				return err
			}
			row++
		}
		row++ // blank row between tables
	}
	return nil
}

func writeSignaturesSheet(f *excelize.File, r *extract.ExtractionResult) error {
	const sheet = "Signatures"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	if err := setRow(f, sheet, 1, "ID", "Status", "Confidence", "Page", "Location"); err != nil {
		return err
	}
	for i, sig := range r.Signatures {
		loc := fmt.Sprintf("left=%.2f top=%.2f width=%.2f height=%.2f",
			sig.Location.Left, sig.Location.Top, sig.Location.Width, sig.Location.Height)
		if err := setRow(f, sheet, i+2, sig.ID, string(sig.Status), sig.Confidence, pageCell(sig.Page), loc); err != nil {
			return err
		}
	}
	return nil
}

func writeSummarySheet(f *excelize.File, r *extract.ExtractionResult) error {
	const sheet = "Summary"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	docType := ""
	if r.DocumentType != nil {
		docType = *r.DocumentType
	}
	rows := [][]any{
		{"Source", r.DocumentSource},
		{"Document type", docType},
		{"Pages", r.Pages},
		{"Processed at", r.ProcessedAt},
		{"Processing time (s)", r.ProcessingTimeSeconds},
		{"Key-values", len(r.KeyValues)},
		{"Tables", len(r.Tables)},
		{"Signatures", len(r.Signatures)},
		{"Human review required", r.HumanReviewRequired},
		{"Overall confidence", r.OverallConfidence},
	}
	for i, cells := range rows {
		if err := setRow(f, sheet, i+1, cells...); err != nil {
			return err
		}
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values ...any) error {
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return err
		}
	}
	return nil
}

func toCells(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func pageCell(p *int) any {
	if p == nil {
		return ""
	}
	return *p
}

func formatConf(c float64) string {
	return strconv.FormatFloat(c, 'f', 2, 64)
}

func formatPage(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}

// stem derives the artifact name prefix from the document source. The
// source is client-supplied, so it is sanitized before use.
func stem(source string) string {
	base := security.SanitizeFilename(source)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
