package extract

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// StructuredPage is the machine-readable text of one PDF page plus the
// positioned rows used for table candidate detection.
type StructuredPage struct {
	Text string
	Rows []PositionedRow
}

// PositionedRow is one horizontal band of text grouped into cells.
type PositionedRow struct {
	Y     float64
	Cells []PositionedCell
}

// PositionedCell is contiguous text starting at a horizontal position.
type PositionedCell struct {
	X    float64
	Text string
}

const (
	// Fragment gaps below this many points glue directly, above it a
	// space is inserted, and beyond structuredColGap a new cell starts.
	fragmentSpaceGap = 1.5
	structuredColGap = 18.0
)

// ExtractStructured parses embedded PDF text without rasterizing. Pages
// with no machine-readable content yield empty entries.
func ExtractStructured(path string) (pages []StructuredPage, err error) {
	// The parser panics on some malformed files
	defer func() {
		if rec := recover(); rec != nil {
			pages = nil
			err = fmt.Errorf("pdf parse panic: %v", rec)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	pages = make([]StructuredPage, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			pages = append(pages, StructuredPage{})
			continue
		}

		page := StructuredPage{}
		if text, err := p.GetPlainText(nil); err == nil {
			page.Text = strings.TrimSpace(text)
		}
		if rows, err := p.GetTextByRow(); err == nil {
			page.Rows = positionedRows(rows)
		}
		if page.Text == "" && len(page.Rows) > 0 {
			page.Text = textFromRows(page.Rows)
		}

		pages = append(pages, page)
	}

	return pages, nil
}

func positionedRows(rows pdf.Rows) []PositionedRow {
	out := make([]PositionedRow, 0, len(rows))

	for _, row := range rows {
		pr := PositionedRow{Y: float64(row.Position)}
		var prevEnd float64

		for _, frag := range row.Content {
			if strings.TrimSpace(frag.S) == "" {
				continue
			}

			gap := frag.X - prevEnd
			last := len(pr.Cells) - 1
			switch {
			case last < 0 || gap > structuredColGap:
				pr.Cells = append(pr.Cells, PositionedCell{X: frag.X, Text: frag.S})
			case gap > fragmentSpaceGap:
				pr.Cells[last].Text += " " + frag.S
			default:
				pr.Cells[last].Text += frag.S
			}
			prevEnd = frag.X + frag.W
		}

		for i := range pr.Cells {
			pr.Cells[i].Text = strings.TrimSpace(pr.Cells[i].Text)
		}
		if len(pr.Cells) > 0 {
			out = append(out, pr)
		}
	}

	return out
}

func textFromRows(rows []PositionedRow) string {
	var sb strings.Builder
	for i, row := range rows {
		if i > 0 {
			sb.WriteByte('\n')
		}
		for j, cell := range row.Cells {
			if j > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(cell.Text)
		}
	}
	return sb.String()
}
