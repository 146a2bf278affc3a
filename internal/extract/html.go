package extract

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var blankLines = regexp.MustCompile(`\n{3,}`)
var lineSpaces = regexp.MustCompile(`[ \t]+`)

// HTMLDocument is the extraction output for an HTML input: readable text
// plus any <table> elements as table candidates.
type HTMLDocument struct {
	Text   string
	Tables []DetectedTable
}

// ExtractHTML parses an HTML file into plain text and tables.
func ExtractHTML(path string) (*HTMLDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc.Find("script, style, nav, header, footer, aside").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	out := &HTMLDocument{Tables: []DetectedTable{}}

	body := doc.Find("body").First()
	if body.Length() == 0 {
		out.Text = cleanHTMLText(doc.Text())
	} else {
		out.Text = cleanHTMLText(body.Text())
	}

	doc.Find("table").Each(func(i int, table *goquery.Selection) {
		if t, ok := tableFromSelection(table, i+1); ok {
			out.Tables = append(out.Tables, t)
		}
	})

	return out, nil
}

func tableFromSelection(table *goquery.Selection, n int) (DetectedTable, bool) {
	var headers []string
	rows := [][]string{}

	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		var cells []string
		headerRow := true
		tr.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
			cells = append(cells, strings.TrimSpace(cell.Text()))
			if !cell.Is("th") {
				headerRow = false
			}
		})
		if len(cells) == 0 {
			return
		}
		if headerRow && headers == nil && len(rows) == 0 {
			headers = cells
			return
		}
		rows = append(rows, cells)
	})

	if len(rows) == 0 && headers == nil {
		return DetectedTable{}, false
	}

	return DetectedTable{
		TableData: TableData{
			ID:      fmt.Sprintf("table_%d", n),
			Rows:    rows,
			Headers: headers,
		},
		Confidence: structuredTableConfidence,
	}, true
}

func cleanHTMLText(text string) string {
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		kept = append(kept, strings.TrimSpace(lineSpaces.ReplaceAllString(line, " ")))
	}
	joined := strings.Join(kept, "\n")
	joined = blankLines.ReplaceAllString(joined, "\n\n")
	return strings.TrimSpace(joined)
}
